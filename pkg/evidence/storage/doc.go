// Package storage provides durable sinks and stores for audit entries.
//
// # Backends
//
//   - File: append-only JSON lines, one entry per line (default sink)
//   - SQLite: indexed store with query, count, and retention support
//   - Redis: stream sink using XADD with an approximate MAXLEN cap
//   - Memory: in-memory store for tests and sink-less deployments
//
// BreakerSink wraps any sink with a circuit breaker so a failing backend
// fails fast instead of adding write latency to every admission decision.
//
// # SQLite Backend
//
// The SQLite backend provides durable storage with:
//
//   - WAL mode for concurrent reads/writes
//   - A prepared insert statement
//   - Indexes on timestamp, request id, tool, and transaction hash
//   - Busy timeout for handling locks
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore(&storage.SQLiteConfig{
//	    Path:    "data/audit.db",
//	    WALMode: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	sink := storage.NewBreakerSink(store, storage.BreakerConfig{
//	    MaxFailures: 5,
//	    OpenTimeout: 30 * time.Second,
//	})
//
// # Choosing a Sink
//
// Open builds the configured sink from the audit section of the config
// file, wrapping it in a breaker when max_failures is set.
package storage
