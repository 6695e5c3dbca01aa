// Package storage persists the spending ledger across restarts.
//
// # Overview
//
// Daily spending counters live in memory in the spending manager. Without
// persistence a restart would silently reset today's quota. A Backend stores
// named ledger snapshots and a Persister moves them between the manager and
// the backend:
//
//   - Memory: in-process storage (default, no persistence)
//   - SQLite: file-based persistence via modernc.org/sqlite
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("data/limits.db")
//	persister := storage.NewPersister(backend, mgr, storage.PersisterConfig{
//	    Interval: time.Minute,
//	})
//	if _, err := persister.Restore(ctx); err != nil {
//	    return err
//	}
//	go persister.Run(ctx) // saves on every tick and once more on shutdown
//
// Snapshots from a previous day are ignored on restore.
//
// # Thread Safety
//
// All backends are safe for concurrent use.
package storage
