package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/evidence"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores returns every queryable backend under test.
func stores(t *testing.T) map[string]evidence.Store {
	return map[string]evidence.Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteTestStore(t),
	}
}

func seed(t *testing.T, s evidence.Store, base time.Time) {
	t.Helper()
	entries := []*evidence.Entry{
		{ID: "e1", Timestamp: base, RequestID: "r1", Tool: "send_payment", Result: evidence.ResultSuccess, TransactionHash: "0xAAA"},
		{ID: "e2", Timestamp: base.Add(time.Minute), RequestID: "r2", Tool: "swap", Result: evidence.ResultRejected, RejectionReason: "rate"},
		{ID: "e3", Timestamp: base.Add(2 * time.Minute), RequestID: "r1", Tool: "send_payment", Result: evidence.ResultFailure, ErrorMessage: "boom"},
		{ID: "e4", Timestamp: base.Add(3 * time.Minute), RequestID: "r3", Tool: "send_payment", Result: evidence.ResultSuccess,
			Arguments: map[string]any{"nested": map[string]any{"n": 1.5}}},
	}
	for _, e := range entries {
		if err := s.Write(context.Background(), e); err != nil {
			t.Fatalf("Write(%s) failed: %v", e.ID, err)
		}
	}
}

func TestStores_Query(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	since := base.Add(time.Minute)
	until := base.Add(3 * time.Minute)

	tests := []struct {
		name  string
		query *evidence.Query
		want  []string
	}{
		{"all newest first", &evidence.Query{}, []string{"e4", "e3", "e2", "e1"}},
		{"nil query", nil, []string{"e4", "e3", "e2", "e1"}},
		{"by request", &evidence.Query{RequestID: "r1"}, []string{"e3", "e1"}},
		{"by tool", &evidence.Query{Tool: "swap"}, []string{"e2"}},
		{"by result", &evidence.Query{Result: evidence.ResultSuccess}, []string{"e4", "e1"}},
		{"by tx hash any case", &evidence.Query{TransactionHash: "0xaaa"}, []string{"e1"}},
		{"time window", &evidence.Query{Since: &since, Until: &until}, []string{"e3", "e2"}},
		{"limit", &evidence.Query{Limit: 2}, []string{"e4", "e3"}},
		{"offset", &evidence.Query{Limit: 2, Offset: 1}, []string{"e3", "e2"}},
	}

	for name, s := range stores(t) {
		seed(t, s, base)
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				got, err := s.Query(context.Background(), tt.query)
				if err != nil {
					t.Fatalf("Query() failed: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("Expected %v, got %d entries", tt.want, len(got))
				}
				for i, e := range got {
					if e.ID != tt.want[i] {
						t.Errorf("Position %d: expected %s, got %s", i, tt.want[i], e.ID)
					}
				}
			})
		}
	}
}

func TestStores_RoundTripPayload(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 123456789, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, base)
			got, err := s.Query(context.Background(), &evidence.Query{RequestID: "r3"})
			if err != nil || len(got) != 1 {
				t.Fatalf("Query() = %d, %v", len(got), err)
			}
			nested, ok := got[0].Arguments["nested"].(map[string]any)
			if !ok || nested["n"] != 1.5 {
				t.Errorf("Expected nested arguments preserved, got %v", got[0].Arguments)
			}
			if !got[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
				t.Errorf("Expected nanosecond timestamp preserved, got %v", got[0].Timestamp)
			}
		})
	}
}

func TestStores_InvalidQuery(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Query(context.Background(), &evidence.Query{Limit: -1})
			var qe *evidence.QueryError
			if !errors.As(err, &qe) {
				t.Errorf("Expected *QueryError, got %v", err)
			}
		})
	}
}

func TestStores_CountAndDelete(t *testing.T) {
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, base)
			ctx := context.Background()

			n, err := s.Count(ctx, &evidence.Query{Tool: "send_payment"})
			if err != nil || n != 3 {
				t.Errorf("Expected 3 send_payment entries, got %d, %v", n, err)
			}

			deleted, err := s.DeleteBefore(ctx, base.Add(2*time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if deleted != 2 {
				t.Errorf("Expected 2 deleted, got %d", deleted)
			}

			n, _ = s.Count(ctx, nil)
			if n != 2 {
				t.Errorf("Expected 2 remaining, got %d", n)
			}
		})
	}
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	s := newSQLiteTestStore(t)
	e := &evidence.Entry{ID: "dup", Timestamp: time.Now(), Tool: "t", Result: evidence.ResultSuccess}

	if err := s.Write(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	err := s.Write(context.Background(), e)
	var se *evidence.StorageError
	if !errors.As(err, &se) || se.Backend != "sqlite" {
		t.Errorf("Expected sqlite StorageError for duplicate id, got %v", err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Write(context.Background(), &evidence.Entry{ID: "keep", Timestamp: time.Now(), Tool: "t", Result: evidence.ResultSuccess})
	s.Close()

	s, err = NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()

	n, _ := s.Count(context.Background(), nil)
	if n != 1 {
		t.Errorf("Expected entry persisted across reopen, got %d", n)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	err := s.Write(context.Background(), &evidence.Entry{ID: "x"})
	if !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected ErrSinkClosed, got %v", err)
	}
}
