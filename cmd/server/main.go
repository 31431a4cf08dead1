// Package main is the entry point for the flagchain server and its admin
// commands.
//
// The serve bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool.
//  3. Build the flag cache (otter in memory, Redis, or none) and the evaluator.
//  4. Subscribe to flag change notifications to keep the cache fresh.
//  5. Start the HTTP server with API key auth on /v1/.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/matt-riley/flagchain/internal/config"
	"github.com/matt-riley/flagchain/internal/logging"

	// Time window flags resolve IANA zones on hosts without zoneinfo.
	_ "time/tzdata"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// rootFlags override the matching environment settings when set.
type rootFlags struct {
	LogLevel  string
	LogFormat string
}

func (f *rootFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug,info,warn,error); overrides LOG_LEVEL")
	fs.StringVar(&f.LogFormat, "log-format", "", "Log format (json,text); overrides LOG_FORMAT")
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "flagchain",
		Short: "Feature flag evaluation service",
		Long: `flagchain evaluates feature flags through an ordered chain of rules:
user and tenant overrides, expiration, schedules, time windows, status,
attribute targeting and deterministic percentage rollouts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCommand(flags),
		newMigrateCommand(flags),
		newSeedCommand(flags),
		newAPIKeyCommand(flags),
	)

	return root
}

// loadRuntime loads the environment configuration, applies flag overrides
// and installs the resulting logger as the slog default.
func loadRuntime(cmd *cobra.Command, flags *rootFlags) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = flags.LogFormat
	}

	log := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	slog.SetDefault(log)

	return cfg, log, nil
}

func connectPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}
