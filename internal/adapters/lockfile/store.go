// Package lockfile persists deployment results per network in a JSON lock file.
package lockfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// Options controls how a lock file is opened
type Options struct {
	// Exclusive takes an advisory lock on "<path>.lock" for the lifetime of
	// the store. Opening fails with domain.ErrLockHeld if another process
	// holds it.
	Exclusive bool
}

// Store is the in-memory view of a lock file. Every Put is flushed to disk
// before it returns.
type Store struct {
	path    string
	mu      sync.RWMutex
	entries map[string]map[string]models.LockEntry
	flock   *flock.Flock
}

// Open loads the lock file at path. A missing file yields an empty store.
func Open(path string, opts Options) (*Store, error) {
	s := &Store{
		path:    path,
		entries: make(map[string]map[string]models.LockEntry),
	}

	if opts.Exclusive {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		fl := flock.New(path + ".lock")
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}
		if !locked {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrLockHeld)
		}
		s.flock = fl
	}

	if err := s.load(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	var raw map[string]map[string]models.LockEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return &domain.LockCorruptError{Path: s.path, Err: err}
	}
	if dec.More() {
		return &domain.LockCorruptError{Path: s.path, Err: errors.New("trailing data after lock object")}
	}
	if raw == nil {
		return &domain.LockCorruptError{Path: s.path, Err: errors.New("lock file does not contain an object")}
	}

	for network, units := range raw {
		if network == "" {
			return &domain.LockCorruptError{Path: s.path, Err: errors.New("empty network name")}
		}
		for name, entry := range units {
			// Entries written by older tools only carry address and abi
			if entry.Name == "" {
				entry.Name = name
			}
			if entry.Name != name {
				return &domain.LockCorruptError{
					Path: s.path,
					Err:  fmt.Errorf("%s/%s: entry is named %q", network, name, entry.Name),
				}
			}
			if err := entry.Validate(); err != nil {
				return &domain.LockCorruptError{Path: s.path, Err: fmt.Errorf("%s/%s: %w", network, name, err)}
			}
			units[name] = entry
		}
		s.entries[network] = units
	}
	return nil
}

// Path returns the lock file path
func (s *Store) Path() string {
	return s.path
}

// Get returns the entry for a unit on a network
func (s *Store) Get(network, name string) (models.LockEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[network][name]
	return entry, ok
}

// Put replaces the entry for a unit on a network and flushes the lock file.
// On error the in-memory state is unchanged.
func (s *Store) Put(network, name string, entry models.LockEntry) error {
	entry.Name = name
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid lock entry %s/%s: %w", network, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneLocked()
	if next[network] == nil {
		next[network] = make(map[string]models.LockEntry)
	}
	next[network][name] = entry

	if err := s.flush(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Entries returns the entries of a network sorted by unit name
func (s *Store) Entries(network string) []models.LockEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LockEntry, 0, len(s.entries[network]))
	for _, e := range s.entries[network] {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b models.LockEntry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Networks returns the networks present in the lock file, sorted
func (s *Store) Networks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// ResetNetwork removes every entry of a network and flushes the lock file
func (s *Store) ResetNetwork(network string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[network]; !ok {
		return nil
	}
	next := s.cloneLocked()
	delete(next, network)
	if err := s.flush(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Close releases the advisory lock, if held
func (s *Store) Close() error {
	if s.flock == nil {
		return nil
	}
	err := s.flock.Unlock()
	s.flock = nil
	return err
}

func (s *Store) cloneLocked() map[string]map[string]models.LockEntry {
	out := make(map[string]map[string]models.LockEntry, len(s.entries))
	for network, units := range s.entries {
		m := make(map[string]models.LockEntry, len(units))
		for k, v := range units {
			m[k] = v
		}
		out[network] = m
	}
	return out
}

// flush writes state to a temp file in the lock directory, syncs it and
// renames it over the lock file
func (s *Store) flush(state map[string]map[string]models.LockEntry) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode lock file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set lock file mode: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace lock file: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open lock directory: %w", err)
	}
	defer d.Close()
	// Some filesystems do not support syncing directories
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("failed to sync lock directory: %w", err)
	}
	return nil
}
