package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/query"
)

// MemoryStore implements evidence.Store in memory. It is intended for tests
// and for deployments that only need the admin API view of recent entries.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*evidence.Entry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Write stores a copy of entry.
func (s *MemoryStore) Write(ctx context.Context, entry *evidence.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return evidence.NewStorageError("memory", "write", ErrSinkClosed)
	}
	s.entries = append(s.entries, entry.Clone())
	return nil
}

// Query returns matching entries, newest first.
func (s *MemoryStore) Query(ctx context.Context, in *evidence.Query) ([]*evidence.Entry, error) {
	q := &evidence.Query{}
	if in != nil {
		*q = *in
	}
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	query.ApplyDefaults(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := query.Apply(s.newestFirst(), q)
	for i, e := range matched {
		matched[i] = e.Clone()
	}
	return matched, nil
}

// Count returns the number of matching entries, ignoring pagination.
func (s *MemoryStore) Count(ctx context.Context, q *evidence.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.entries {
		if query.Matches(e, q) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes entries older than cutoff.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return deleted, nil
}

// Close marks the store closed. Stored entries remain readable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// newestFirst orders by timestamp descending, keeping insertion order
// (reversed) for equal timestamps.
func (s *MemoryStore) newestFirst() []*evidence.Entry {
	out := make([]*evidence.Entry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
