package lockfile

import (
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// OpenerAdapter opens lock files for the use cases
type OpenerAdapter struct{}

// NewOpenerAdapter creates a new lock file opener
func NewOpenerAdapter() *OpenerAdapter {
	return &OpenerAdapter{}
}

// Open loads the lock file at path. Exclusive opens fail with
// domain.ErrLockHeld while another process holds the file.
func (o *OpenerAdapter) Open(path string, exclusive bool) (usecase.LockStore, error) {
	store, err := Open(path, Options{Exclusive: exclusive})
	if err != nil {
		return nil, err
	}
	return store, nil
}

var _ usecase.LockOpener = (*OpenerAdapter)(nil)
