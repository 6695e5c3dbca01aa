package config

import (
	"errors"
	"sync/atomic"
)

// ErrNoConfig is returned by a Store that has never been populated.
var ErrNoConfig = errors.New("no configuration loaded")

// Source provides the current configuration snapshot. Admission components
// call Snapshot on every operation so that reloads take effect immediately.
type Source interface {
	Snapshot() (*Config, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (*Config, error)

// Snapshot calls f.
func (f SourceFunc) Snapshot() (*Config, error) {
	return f()
}

// Static returns a Source that always yields cfg.
func Static(cfg *Config) Source {
	return SourceFunc(func() (*Config, error) {
		if cfg == nil {
			return nil, ErrNoConfig
		}
		return cfg, nil
	})
}

// Store holds the active configuration and allows it to be swapped
// atomically. It is safe for concurrent use.
type Store struct {
	current atomic.Pointer[Config]
	version atomic.Uint64
}

// NewStore creates a Store holding cfg. cfg may be nil.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	if cfg != nil {
		s.Set(cfg)
	}
	return s
}

// Snapshot returns the active configuration.
func (s *Store) Snapshot() (*Config, error) {
	cfg := s.current.Load()
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return cfg, nil
}

// Set replaces the active configuration.
func (s *Store) Set(cfg *Config) {
	s.current.Store(cfg)
	s.version.Add(1)
}

// Version returns the number of times the configuration has been set.
func (s *Store) Version() uint64 {
	return s.version.Load()
}
