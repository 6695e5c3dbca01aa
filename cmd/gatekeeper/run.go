package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/server"
)

type runOptions struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	noWatch       bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gatekeeper admin server",
		Long: `Start the gatekeeper admin server with the specified configuration.

The server exposes health, metrics, audit, and dry-run admission endpoints.
While running, the configuration file is watched and reloaded on change,
the spending ledger is snapshotted periodically, and audit retention runs
on its cron schedule.

Examples:
  # Start with a config file
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Override listen address
  gatekeeper run --listen 0.0.0.0:9464

  # Validate config without starting server
  gatekeeper run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.listenAddress, "listen", "l", "", "override listen address")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate config without starting server")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func runServer(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if opts.listenAddress != "" {
		cfg.Server.ListenAddress = opts.listenAddress
	}
	if opts.logLevel != "" {
		cfg.Telemetry.Logging.Level = opts.logLevel
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.NotifyContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger, modeServe)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
	}()

	srv, err := server.New(cfg.Server, server.Deps{
		Layer:       a.layer,
		Health:      a.health,
		Tracer:      a.tracer,
		Logger:      logger,
		Version:     Version,
		Commit:      GitCommit,
		Gatherer:    a.gatherer(),
		MetricsPath: cfg.Telemetry.Metrics.Path,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		a.persister.Run(gctx)
		return nil
	})

	if root.configPath != "" && !opts.noWatch {
		watcher, err := config.NewWatcher(root.configPath, a.store, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		watcher.OnReload(func(*config.Config) {
			if err := a.allowlist.Reload(); err != nil {
				logger.Error("allowlist rebuild failed after reload", "error", err)
			}
		})
		g.Go(func() error { return watcher.Watch(gctx) })
	}

	if a.pruner != nil {
		if err := a.pruner.Start(gctx); err != nil {
			logger.Warn("failed to start retention scheduler", "error", err)
		} else if next := a.pruner.NextPruning(); next != nil {
			logger.Info("audit retention scheduled", "next_pruning", next)
		}
	}

	printBanner(cmd, root, cfg)

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, root *rootOptions, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Gatekeeper v%s\n", Version)
	if root.configPath != "" {
		fmt.Fprintf(out, "✓ Configuration loaded from %s\n", root.configPath)
	} else {
		fmt.Fprintln(out, "✓ Configuration loaded from environment")
	}
	fmt.Fprintf(out, "✓ Audit sink: %s\n", cfg.Audit.Sink)
	fmt.Fprintf(out, "✓ Spending ledger: %s\n", cfg.LimitsStorage.Backend)
	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	fmt.Fprintf(out, "✓ Admin server: %s://%s\n", scheme, cfg.Server.ListenAddress)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
