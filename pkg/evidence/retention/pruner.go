package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/export"
	"mercator-hq/gatekeeper/pkg/evidence/query"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to retain audit entries.
	// 0 means keep entries forever (no age pruning).
	RetentionDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// ArchivePath, when set, is the directory entries are exported to as
	// JSON before they are deleted.
	ArchivePath string

	// MaxRecords is the maximum number of entries to keep.
	// 0 means unlimited.
	MaxRecords int64
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 30,
		PruneSchedule: "0 3 * * *",
	}
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithClock sets the clock used to compute the age cutoff.
func WithClock(clock admission.Clock) Option {
	return func(p *Pruner) {
		p.now = clock
	}
}

// Pruner enforces retention policies on an audit store.
type Pruner struct {
	store     evidence.Store
	config    *Config
	now       admission.Clock
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(store evidence.Store, config *Config, opts ...Option) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Pruner{
		store:  store,
		config: config,
		now:    admission.SystemClock,
		logger: slog.Default().With("component", "evidence.retention"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.scheduler = NewScheduler(p)
	return p
}

// Prune deletes entries older than the retention period, then the oldest
// entries beyond MaxRecords. Returns the total number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var totalDeleted int64

	if p.config.RetentionDays > 0 {
		cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
		deleted, err := p.deleteBefore(ctx, cutoff, "age")
		if err != nil {
			return totalDeleted, evidence.NewRetentionError(p.config.RetentionDays, fmt.Errorf("prune by age failed: %w", err))
		}
		totalDeleted += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return totalDeleted, evidence.NewRetentionError(p.config.RetentionDays, fmt.Errorf("prune by count failed: %w", err))
		}
		totalDeleted += deleted
	}

	if totalDeleted == 0 {
		p.logger.Debug("no audit entries pruned",
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	} else {
		p.logger.Info("audit pruning completed",
			"total_deleted", totalDeleted,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	}
	return totalDeleted, nil
}

// pruneByCount finds the newest entry that falls beyond MaxRecords and
// deletes it together with everything older.
func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.store.Count(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	if count <= p.config.MaxRecords {
		p.logger.Debug("entry count within limit",
			"current", count,
			"max", p.config.MaxRecords,
		)
		return 0, nil
	}

	boundary, err := p.store.Query(ctx, &evidence.Query{Offset: int(p.config.MaxRecords), Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to find pruning boundary: %w", err)
	}
	if len(boundary) == 0 {
		return 0, nil
	}

	// Everything at or before the boundary entry goes.
	cutoff := boundary[0].Timestamp.Add(time.Nanosecond)
	return p.deleteBefore(ctx, cutoff, "count")
}

func (p *Pruner) deleteBefore(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	p.logger.Debug("pruning audit entries",
		"reason", reason,
		"cutoff_time", cutoff,
	)

	if p.config.ArchivePath != "" {
		if err := p.archive(ctx, cutoff); err != nil {
			return 0, err
		}
	}

	deleted, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.logger.Info("pruned audit entries",
			"reason", reason,
			"deleted_count", deleted,
		)
	}
	return deleted, nil
}

// archive exports every entry older than cutoff to a JSON file.
func (p *Pruner) archive(ctx context.Context, cutoff time.Time) error {
	var entries []*evidence.Entry
	for offset := 0; ; offset += query.MaxLimit {
		page, err := p.store.Query(ctx, &evidence.Query{Until: &cutoff, Limit: query.MaxLimit, Offset: offset})
		if err != nil {
			return fmt.Errorf("failed to query entries for archiving: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < query.MaxLimit {
			break
		}
	}
	if len(entries) == 0 {
		p.logger.Debug("no entries to archive")
		return nil
	}

	if err := os.MkdirAll(p.config.ArchivePath, 0o750); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	archiveFile := filepath.Join(p.config.ArchivePath,
		fmt.Sprintf("audit-%s.json", p.now().UTC().Format("2006-01-02-150405")))
	f, err := os.Create(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	if err := export.NewJSONExporter(true).Export(ctx, entries, f); err != nil {
		return fmt.Errorf("failed to export entries to archive: %w", err)
	}

	p.logger.Info("audit entries archived",
		"archive_file", archiveFile,
		"entry_count", len(entries),
	)
	return nil
}

// Start starts the automatic pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the automatic pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
