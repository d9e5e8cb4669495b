package usecase

import (
	"context"

	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// ShowUnitParams contains parameters for looking up a deployed unit
type ShowUnitParams struct {
	Name string
}

// ShowUnit reads one unit's lock entry for the selected network
type ShowUnit struct {
	cfg   *config.RuntimeConfig
	locks LockOpener
}

// NewShowUnit creates a new ShowUnit use case
func NewShowUnit(cfg *config.RuntimeConfig, locks LockOpener) *ShowUnit {
	return &ShowUnit{cfg: cfg, locks: locks}
}

// Run returns the lock entry, or an error wrapping domain.ErrNotFound
func (s *ShowUnit) Run(ctx context.Context, params ShowUnitParams) (*models.LockEntry, error) {
	profile, err := requireProfile(s.cfg)
	if err != nil {
		return nil, err
	}
	store, err := s.locks.Open(profile.LockFile, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	entry, ok := store.Get(profile.Name, params.Name)
	if !ok {
		known := lo.Map(store.Entries(profile.Name), func(e models.LockEntry, _ int) string { return e.Name })
		return nil, notInLock(params.Name, known)
	}
	return &entry, nil
}

// ListUnitsParams contains parameters for listing lock entries
type ListUnitsParams struct {
	AllNetworks bool // every network in the lock file instead of the selected one
}

// NetworkUnits groups the lock entries of one network
type NetworkUnits struct {
	Network string
	Entries []models.LockEntry
}

// ListUnits lists lock entries
type ListUnits struct {
	cfg   *config.RuntimeConfig
	locks LockOpener
}

// NewListUnits creates a new ListUnits use case
func NewListUnits(cfg *config.RuntimeConfig, locks LockOpener) *ListUnits {
	return &ListUnits{cfg: cfg, locks: locks}
}

// Run returns the entries grouped per network, networks sorted
func (l *ListUnits) Run(ctx context.Context, params ListUnitsParams) ([]NetworkUnits, error) {
	profile, err := requireProfile(l.cfg)
	if err != nil {
		return nil, err
	}
	store, err := l.locks.Open(profile.LockFile, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	networks := []string{profile.Name}
	if params.AllNetworks {
		networks = store.Networks()
	}

	out := make([]NetworkUnits, 0, len(networks))
	for _, n := range networks {
		out = append(out, NetworkUnits{Network: n, Entries: store.Entries(n)})
	}
	return out, nil
}
