package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/gatekeeper/pkg/allowlist"
	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/evidence/recorder"
	"mercator-hq/gatekeeper/pkg/evidence/retention"
	"mercator-hq/gatekeeper/pkg/evidence/storage"
	"mercator-hq/gatekeeper/pkg/limits"
	"mercator-hq/gatekeeper/pkg/limits/ratelimit"
	"mercator-hq/gatekeeper/pkg/limits/spending"
	ledgerstore "mercator-hq/gatekeeper/pkg/limits/storage"
	"mercator-hq/gatekeeper/pkg/security"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// appMode selects which collaborators newApp starts.
type appMode int

const (
	// modeServe opens the audit sink and starts background workers.
	modeServe appMode = iota

	// modeOneShot restores the ledger for a single in-process decision and
	// keeps audit entries in memory.
	modeOneShot
)

// app holds the wired admission components of one process.
type app struct {
	cfg      *config.Config
	store    *config.Store
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *limits.Metrics

	spending  *spending.Manager
	rates     *ratelimit.Limiter
	allowlist *allowlist.Manager
	audit     *recorder.AuditLogger
	layer     *security.Layer
	health    *health.Checker
	tracer    *tracing.Tracer

	sink      *storage.Opened
	ledger    ledgerstore.Backend
	persister *ledgerstore.Persister
	pruner    *retention.Pruner
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, mode appMode) (a *app, err error) {
	a = &app{
		cfg:    cfg,
		store:  config.NewStore(cfg),
		logger: logger,
		health: health.New(0),
		sink:   &storage.Opened{},
	}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.Telemetry.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = limits.NewMetrics(a.registry)
	}

	a.spending = spending.New(a.store, spending.WithLogger(logger))
	a.rates = ratelimit.New(a.store, ratelimit.WithLogger(logger))
	a.allowlist = allowlist.New(a.store, allowlist.WithLogger(logger))
	a.metrics.RegisterAllowlistReloads(func() float64 { return float64(a.allowlist.Reloads()) })
	a.metrics.RegisterRateLimitKeys(func() float64 { return float64(a.rates.Keys()) })
	a.health.Register("config", health.ConfigCheck(a.store))

	if err := a.openLedger(ctx); err != nil {
		return nil, err
	}
	if mode == modeServe && cfg.Audit.Enabled {
		if err := a.openAuditSink(ctx); err != nil {
			return nil, err
		}
	}

	var head string
	if a.sink.Sink != nil {
		if head, err = storage.ChainHead(ctx, &cfg.Audit, a.sink); err != nil {
			logger.Warn("starting a new audit hash chain", "error", err)
			head = ""
		}
	}
	a.audit = recorder.New(recorder.Config{
		Enabled:  a.sink.Sink != nil,
		Capacity: cfg.Audit.BufferSize,
		LogPath:  cfg.Audit.LogPath,
	}, a.sink.Sink,
		recorder.WithLogger(logger),
		recorder.WithChainHead(head),
		recorder.WithOnSinkError(func(error) { a.metrics.RecordSinkFailure() }),
	)

	if mode == modeServe {
		a.tracer, err = tracing.New(cfg.Telemetry.Tracing, Version)
		if err != nil {
			return nil, cli.NewConfigError("telemetry.tracing", err.Error())
		}
	}

	deps := security.Deps{
		Spending:  a.spending,
		Rates:     a.rates,
		Allowlist: a.allowlist,
		Audit:     a.audit,
		Metrics:   a.metrics,
		Logger:    logger,
	}
	if a.tracer != nil {
		deps.Tracer = a.tracer.Tracer()
	}
	if a.layer, err = security.New(deps); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openLedger(ctx context.Context) error {
	sc := a.cfg.LimitsStorage
	switch sc.Backend {
	case "sqlite":
		backend, err := ledgerstore.NewSQLiteBackendWithConfig(ledgerstore.SQLiteBackendConfig{
			DBPath:      sc.SQLite.Path,
			BusyTimeout: sc.SQLite.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open spending ledger: %w", err)
		}
		a.ledger = backend
		a.health.Register("ledger", health.PingCheck(backend.Ping))
	default:
		a.ledger = ledgerstore.NewMemoryBackend()
	}

	a.persister = ledgerstore.NewPersister(a.ledger, a.spending, ledgerstore.PersisterConfig{
		Interval: sc.SnapshotInterval,
		Logger:   a.logger,
	})
	if _, err := a.persister.Restore(ctx); err != nil {
		return err
	}
	return nil
}

func (a *app) openAuditSink(ctx context.Context) error {
	opened, err := storage.Open(ctx, &a.cfg.Audit, func(from, to string) {
		a.logger.Warn("audit sink circuit breaker changed state", "from", from, "to", to)
	})
	if err != nil {
		return fmt.Errorf("failed to open audit sink: %w", err)
	}
	a.sink = opened

	if opened.Breaker != nil {
		a.health.Register("audit_sink", health.BreakerCheck(opened.Breaker.State))
	}
	if pinger, ok := opened.Store.(interface{ Ping(context.Context) error }); ok {
		a.health.Register("audit_store", health.PingCheck(pinger.Ping))
	}

	rc := a.cfg.Audit.Retention
	if opened.Store != nil && (rc.Days > 0 || rc.MaxRecords > 0) {
		a.pruner = retention.NewPruner(opened.Store, &retention.Config{
			RetentionDays: rc.Days,
			PruneSchedule: rc.Schedule,
			ArchivePath:   rc.ArchivePath,
			MaxRecords:    int64(rc.MaxRecords),
		})
	}
	return nil
}

// gatherer returns the metrics registry, or nil when metrics are disabled.
func (a *app) gatherer() prometheus.Gatherer {
	if a.registry == nil {
		return nil
	}
	return a.registry
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	} else if a.sink.Sink != nil {
		errs = append(errs, a.sink.Sink.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
