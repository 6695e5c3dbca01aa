package storage

import (
	"context"
	"fmt"
	"slices"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/query"
)

// ChainHead returns the hash of the newest entry already in the sink, so a
// new process can continue the hash chain. It returns "" for an empty or
// write-only sink.
func ChainHead(ctx context.Context, cfg *config.AuditConfig, opened *Opened) (string, error) {
	var newest []*evidence.Entry
	var err error

	switch {
	case cfg.Sink == SinkFile:
		return LastHash(cfg.LogPath)
	case opened.Store != nil:
		newest, err = opened.Store.Query(ctx, &evidence.Query{Limit: 1})
	case opened.recent != nil:
		newest, err = opened.recent(ctx, 1)
	default:
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chain head: %w", err)
	}
	if len(newest) == 0 {
		return "", nil
	}
	return newest[0].Hash, nil
}

// ReadAll returns every entry in the sink selected by cfg, oldest first.
// It opens its own connection and does not go through a circuit breaker.
func ReadAll(ctx context.Context, cfg *config.AuditConfig) ([]*evidence.Entry, error) {
	switch cfg.Sink {
	case SinkFile:
		return ReadFile(cfg.LogPath)
	case SinkSQLite:
		sc := DefaultSQLiteConfig()
		sc.Path = cfg.SQLite.Path
		sc.WALMode = cfg.SQLite.WALMode
		store, err := NewSQLiteStore(sc)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return readStore(ctx, store)
	case SinkRedis:
		rs, err := NewRedisSink(ctx, RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
		})
		if err != nil {
			return nil, err
		}
		defer rs.Close()
		entries, err := rs.Recent(ctx, 0)
		if err != nil {
			return nil, err
		}
		slices.Reverse(entries)
		return entries, nil
	case SinkNone, "":
		return nil, fmt.Errorf("audit sink is %q, nothing to read", SinkNone)
	}
	return nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
}

// readStore pages through store and returns its entries oldest first.
func readStore(ctx context.Context, store evidence.Store) ([]*evidence.Entry, error) {
	var all []*evidence.Entry
	for offset := 0; ; offset += query.MaxLimit {
		page, err := store.Query(ctx, &evidence.Query{Limit: query.MaxLimit, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < query.MaxLimit {
			break
		}
	}
	slices.Reverse(all)
	return all, nil
}
