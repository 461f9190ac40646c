// Package statestore persists the observer flags of the middleware in a
// small JSON document that survives restarts.
//
// The document is rewritten whole on every Set. Writes go to a temporary
// file in the same directory which is synced and renamed over the target,
// so a crash leaves either the previous or the new document on disk.
// A missing or unreadable document is treated as empty state.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KeyRelaysEnabled gates the relay monitor loop.
const KeyRelaysEnabled = "reles_consultar"

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Logger is the logging interface used by the Store.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Store is a mutex-guarded flag document backed by a JSON file.
type Store struct {
	mu     sync.Mutex
	path   string
	data   map[string]any
	logger Logger
}

// New loads the document at path. It never fails: a missing file yields
// empty state and a corrupt one is logged and ignored.
func New(path string, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Store{path: path, logger: logger}
	s.data = s.load()
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() map[string]any {
	data := make(map[string]any)

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return data
	}
	if err != nil {
		s.logger.Warn("state file unreadable, starting empty", "path", s.path, "error", err)
		return data
	}
	if len(raw) == 0 {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("state file corrupt, starting empty", "path", s.path, "error", err)
		return make(map[string]any)
	}
	return data
}

// Get returns the flag stored under key, false when absent or not a bool.
func (s *Store) Get(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, _ := s.data[key].(bool) //nolint:errcheck // Non-bool values read as false
	return v
}

// Set stores value under key and persists the document before returning.
// On a persistence error the in-memory value is rolled back.
func (s *Store) Set(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = value
	if err := s.save(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// RelaysEnabled reports whether relay polling is enabled.
func (s *Store) RelaysEnabled() bool {
	return s.Get(KeyRelaysEnabled)
}

// SetRelaysEnabled enables or disables relay polling.
func (s *Store) SetRelaysEnabled(enabled bool) error {
	return s.Set(KeyRelaysEnabled, enabled)
}

// save writes the document atomically. Caller holds s.mu.
func (s *Store) save() error {
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()        //nolint:errcheck // Already failing
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck // Already failing
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("setting state file permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // Best effort cleanup
		return fmt.Errorf("persisting state file: %w", err)
	}

	// Sync the directory so the rename itself survives a power loss.
	if d, err := os.Open(dir); err == nil {
		d.Sync()  //nolint:errcheck // Not supported on every filesystem
		d.Close() //nolint:errcheck // Read-only handle
	}
	return nil
}
