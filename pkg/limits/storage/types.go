package storage

import (
	"context"
	"errors"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/spending"
)

// DefaultLedgerName is the snapshot name used for the process ledger.
const DefaultLedgerName = "spending"

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("storage backend closed")

// Backend defines the interface for ledger persistence.
// Implementations must be thread-safe.
type Backend interface {
	// Save persists a ledger snapshot, replacing any previous one with the
	// same name.
	Save(ctx context.Context, state *LedgerState) error

	// Load retrieves the snapshot with the given name.
	// Returns nil if none exists.
	Load(ctx context.Context, name string) (*LedgerState, error)

	// Delete removes the snapshot with the given name. No-op if absent.
	Delete(ctx context.Context, name string) error

	// Cleanup removes snapshots not updated since olderThan and returns the
	// number removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// LedgerState is a persisted spending ledger.
type LedgerState struct {
	// Name identifies the ledger.
	Name string

	// Snapshot is the ledger contents.
	Snapshot spending.Snapshot

	// UpdatedAt is when the snapshot was last saved.
	UpdatedAt time.Time
}
