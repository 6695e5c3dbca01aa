package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	states map[string]*LedgerState
	closed bool
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{states: make(map[string]*LedgerState)}
}

// Save stores a copy of state.
func (m *MemoryBackend) Save(ctx context.Context, state *LedgerState) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	if state.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	cp := copyState(state)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.states[state.Name] = cp
	return nil
}

// Load returns a copy of the named snapshot, or nil.
func (m *MemoryBackend) Load(ctx context.Context, name string) (*LedgerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	state, ok := m.states[name]
	if !ok {
		return nil, nil
	}
	return copyState(state), nil
}

// Delete removes the named snapshot.
func (m *MemoryBackend) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.states, name)
	return nil
}

// Cleanup removes snapshots last updated before olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	var n int
	for name, state := range m.states {
		if state.UpdatedAt.Before(olderThan) {
			delete(m.states, name)
			n++
		}
	}
	return n, nil
}

// Close marks the backend closed. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.states = nil
	return nil
}

func copyState(s *LedgerState) *LedgerState {
	cp := *s
	cp.Snapshot.Tokens = append(cp.Snapshot.Tokens[:0:0], s.Snapshot.Tokens...)
	return &cp
}
