package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/evidence"
	"mercator-hq/gatekeeper/pkg/evidence/export"
	"mercator-hq/gatekeeper/pkg/evidence/query"
	"mercator-hq/gatekeeper/pkg/evidence/recorder"
	"mercator-hq/gatekeeper/pkg/evidence/retention"
	"mercator-hq/gatekeeper/pkg/evidence/storage"
)

func newAuditCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the durable audit log",
		Long: `Read, verify, export, and prune the audit log written by "gatekeeper run".

The sink is taken from the audit section of the configuration. The "none"
sink keeps entries in memory only and cannot be inspected from here.`,
	}

	cmd.AddCommand(
		newAuditTailCmd(root),
		newAuditVerifyCmd(root),
		newAuditExportCmd(root),
		newAuditPruneCmd(root),
	)
	return cmd
}

func newAuditTailCmd(root *rootOptions) *cobra.Command {
	var (
		n      int
		format string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be positive, got %d", n)
			}
			exporter, err := export.ForFormat(format)
			if err != nil {
				return err
			}
			entries, err := readNewestFirst(cmd, root)
			if err != nil {
				return err
			}
			if len(entries) > n {
				entries = entries[:n]
			}
			return exporter.Export(cmd.Context(), entries, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json, jsonl, csv")
	return cmd
}

func newAuditVerifyCmd(root *rootOptions) *cobra.Command {
	var progress bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		Long: `Recompute every entry hash and check that each entry links to the one
before it. Any edit, insertion, or deletion inside the log is reported with
the position of the first broken entry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			entries, err := storage.ReadAll(cmd.Context(), &cfg.Audit)
			if err != nil {
				return cli.NewCommandError("audit verify", err)
			}

			var onEntry func(int)
			var reporter cli.ProgressReporter
			if progress {
				reporter = cli.NewProgressReporter(cmd.ErrOrStderr(), "verifying")
				reporter.Start(int64(len(entries)))
				onEntry = func(done int) { reporter.Update(int64(done)) }
			}

			if err := recorder.VerifyChainProgress(entries, onEntry); err != nil {
				if reporter != nil {
					reporter.Error(err)
				}
				return cli.NewCommandError("audit verify", err)
			}
			if reporter != nil {
				reporter.Finish()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Hash chain verified: %d entries\n", len(entries))
			return nil
		},
	}

	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar on stderr")
	return cmd
}

type exportOptions struct {
	format    string
	output    string
	since     string
	until     string
	tool      string
	requestID string
	result    string
	limit     int
}

func newAuditExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries",
		Long: `Export audit entries matching the given filters, newest first.

Examples:
  # Every rejected call since the start of October as CSV
  gatekeeper audit export --result rejected --since 2026-10-01T00:00:00Z --format csv

  # One request's entries to a file
  gatekeeper audit export --request-id req-42 --output req-42.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditExport(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "json", "output format: json, jsonl, csv, table")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&opts.since, "since", "", "only entries at or after this RFC 3339 time")
	cmd.Flags().StringVar(&opts.until, "until", "", "only entries before this RFC 3339 time")
	cmd.Flags().StringVar(&opts.tool, "tool", "", "only entries for this tool")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "only entries for this request")
	cmd.Flags().StringVar(&opts.result, "result", "", "only entries with this result: success, failure, rejected")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of entries (0 for all)")
	return cmd
}

func runAuditExport(cmd *cobra.Command, root *rootOptions, opts *exportOptions) error {
	q, err := opts.query()
	if err != nil {
		return err
	}
	if err := query.Validate(q); err != nil {
		return err
	}
	exporter, err := export.ForFormat(opts.format)
	if err != nil {
		return err
	}

	entries, err := readNewestFirst(cmd, root)
	if err != nil {
		return err
	}
	entries = query.Apply(entries, q)

	var w io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := exporter.Export(cmd.Context(), entries, w); err != nil {
		return cli.NewCommandError("audit export", err)
	}
	if opts.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d entries to %s\n", len(entries), opts.output)
	}
	return nil
}

func (o *exportOptions) query() (*evidence.Query, error) {
	q := &evidence.Query{
		Tool:      o.tool,
		RequestID: o.requestID,
		Result:    evidence.Result(o.result),
		Limit:     o.limit,
	}
	if o.since != "" {
		t, err := time.Parse(time.RFC3339, o.since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since: %w", err)
		}
		q.Since = &t
	}
	if o.until != "" {
		t, err := time.Parse(time.RFC3339, o.until)
		if err != nil {
			return nil, fmt.Errorf("invalid --until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

func newAuditPruneCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy once",
		Long: `Delete sqlite audit records older than audit.retention.days and beyond
audit.retention.max_records, archiving them first when
audit.retention.archive_path is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Audit.Sink != storage.SinkSQLite {
				return fmt.Errorf("pruning requires the %q audit sink, configured sink is %q", storage.SinkSQLite, cfg.Audit.Sink)
			}
			if _, err := newLogger(cfg, cmd.ErrOrStderr()); err != nil {
				return err
			}

			ctx := cmd.Context()
			opened, err := storage.Open(ctx, &cfg.Audit, nil)
			if err != nil {
				return cli.NewCommandError("audit prune", err)
			}
			defer opened.Sink.Close()
			if opened.Store == nil {
				return errors.New("audit sink cannot be pruned")
			}

			rc := cfg.Audit.Retention
			pruner := retention.NewPruner(opened.Store, &retention.Config{
				RetentionDays: rc.Days,
				ArchivePath:   rc.ArchivePath,
				MaxRecords:    int64(rc.MaxRecords),
			})
			deleted, err := pruner.Prune(ctx)
			if err != nil {
				return cli.NewCommandError("audit prune", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d entries\n", deleted)
			return nil
		},
	}
}

// readNewestFirst loads every entry of the configured sink, newest first.
func readNewestFirst(cmd *cobra.Command, root *rootOptions) ([]*evidence.Entry, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	entries, err := storage.ReadAll(cmd.Context(), &cfg.Audit)
	if err != nil {
		return nil, cli.NewCommandError("audit", err)
	}
	slices.Reverse(entries)
	return entries, nil
}
