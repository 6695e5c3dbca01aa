package storage

import (
	"context"
	"fmt"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/evidence"
)

// Sink names accepted in audit.sink.
const (
	SinkNone   = "none"
	SinkFile   = "file"
	SinkSQLite = "sqlite"
	SinkRedis  = "redis"
)

// Opened is the result of Open.
type Opened struct {
	// Sink receives every logged entry. Nil when the sink is "none".
	Sink evidence.Sink

	// Store is set when the backend can be queried and pruned.
	Store evidence.Store

	// Breaker is set when writes go through a circuit breaker.
	Breaker *BreakerSink

	// recent reads the newest entries of sinks that are not a Store.
	recent func(ctx context.Context, n int64) ([]*evidence.Entry, error)
}

// Open builds the sink selected by cfg.Sink. When cfg.Breaker.MaxFailures
// is non-zero the sink is wrapped in a BreakerSink.
func Open(ctx context.Context, cfg *config.AuditConfig, onBreakerChange func(from, to string)) (*Opened, error) {
	var (
		sink   evidence.Sink
		store  evidence.Store
		recent func(ctx context.Context, n int64) ([]*evidence.Entry, error)
	)

	switch cfg.Sink {
	case SinkNone, "":
		return &Opened{}, nil
	case SinkFile:
		fs, err := NewFileSink(cfg.LogPath)
		if err != nil {
			return nil, err
		}
		sink = fs
	case SinkSQLite:
		sc := DefaultSQLiteConfig()
		sc.Path = cfg.SQLite.Path
		sc.WALMode = cfg.SQLite.WALMode
		if cfg.SQLite.BusyTimeout > 0 {
			sc.BusyTimeout = cfg.SQLite.BusyTimeout
		}
		ss, err := NewSQLiteStore(sc)
		if err != nil {
			return nil, err
		}
		sink, store = ss, ss
	case SinkRedis:
		rs, err := NewRedisSink(ctx, RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
		if err != nil {
			return nil, err
		}
		sink, recent = rs, rs.Recent
	default:
		return nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}

	opened := &Opened{Sink: sink, Store: store, recent: recent}
	if cfg.Breaker.MaxFailures > 0 {
		opened.Breaker = NewBreakerSink(sink, BreakerConfig{
			Name:          "audit-" + cfg.Sink,
			MaxFailures:   cfg.Breaker.MaxFailures,
			OpenTimeout:   cfg.Breaker.OpenTimeout,
			OnStateChange: onBreakerChange,
		})
		opened.Sink = opened.Breaker
	}
	return opened, nil
}
