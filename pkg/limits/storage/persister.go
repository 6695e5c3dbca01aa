package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/spending"
)

// Ledger is the part of the spending manager a Persister needs.
type Ledger interface {
	Snapshot() spending.Snapshot
	Restore(spending.Snapshot) bool
}

// PersisterConfig configures a Persister.
type PersisterConfig struct {
	// Name is the snapshot name. Default: DefaultLedgerName.
	Name string

	// Interval is how often Run saves. Default: 1 minute.
	Interval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Persister saves and restores a spending ledger through a Backend.
type Persister struct {
	backend  Backend
	ledger   Ledger
	name     string
	interval time.Duration
	logger   *slog.Logger
}

// NewPersister creates a Persister.
func NewPersister(backend Backend, ledger Ledger, cfg PersisterConfig) *Persister {
	if cfg.Name == "" {
		cfg.Name = DefaultLedgerName
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Persister{
		backend:  backend,
		ledger:   ledger,
		name:     cfg.Name,
		interval: cfg.Interval,
		logger:   cfg.Logger.With("component", "limits.storage"),
	}
}

// Restore loads the stored snapshot into the ledger. It reports whether a
// snapshot for the current day was applied.
func (p *Persister) Restore(ctx context.Context) (bool, error) {
	state, err := p.backend.Load(ctx, p.name)
	if err != nil {
		return false, fmt.Errorf("failed to load ledger %q: %w", p.name, err)
	}
	if state == nil {
		return false, nil
	}

	applied := p.ledger.Restore(state.Snapshot)
	if applied {
		p.logger.Info("spending ledger restored",
			"day", state.Snapshot.Day,
			"tokens", len(state.Snapshot.Tokens),
			"total", state.Snapshot.Total.Amount.String(),
		)
	}
	return applied, nil
}

// Save writes the current ledger to the backend.
func (p *Persister) Save(ctx context.Context) error {
	state := &LedgerState{
		Name:      p.name,
		Snapshot:  p.ledger.Snapshot(),
		UpdatedAt: time.Now(),
	}
	if err := p.backend.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save ledger %q: %w", p.name, err)
	}
	return nil
}

// Run saves on every interval until ctx is cancelled, then saves once more.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Save(ctx); err != nil {
				p.logger.Error("periodic ledger save failed", "error", err)
			}
		case <-ctx.Done():
			// Use a fresh context so the final save is not cancelled.
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Save(saveCtx); err != nil {
				p.logger.Error("final ledger save failed", "error", err)
			}
			cancel()
			return
		}
	}
}
