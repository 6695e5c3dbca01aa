package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/security/secrets"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
)

// rootOptions are the global flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - payment admission control for agent wallets",
		Long: `Gatekeeper decides whether a payment may proceed before it is executed.

It enforces:
  - Per-token and aggregate daily spending ceilings
  - Sliding-window rate limits on tool calls, high-risk operations, and
    payments to the same recipient
  - Recipient allowlists or blocklists

Every tool call is recorded in a hash-chained audit log.

Without --config, configuration comes from defaults and GATEKEEPER_*
environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newAuditCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := newRootCmd().Execute()
	if err != nil {
		var rejected *cli.RejectedError
		if !errors.As(err, &rejected) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return cli.ExitCode(err)
}

// loadConfig reads the configuration file, or defaults plus environment when
// no file was given, and resolves ${secret:name} references.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.LoadConfigWithEnvOverrides(o.configPath)
	}
	if err != nil {
		return nil, cli.NewConfigError(o.configPath, err.Error())
	}

	resolver, err := secrets.FromConfig(cfg.Secrets)
	if err != nil {
		return nil, cli.NewConfigError("secrets.dir", err.Error())
	}
	if err := resolver.ResolveConfig(context.Background(), cfg); err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	if o.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, w))
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}
