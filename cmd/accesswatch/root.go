package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbocsi/accesswatch/config"
	"github.com/mbocsi/accesswatch/logging"
	"github.com/mbocsi/accesswatch/store"
	"github.com/spf13/cobra"
)

var (
	// Loaded by the root command before any subcommand runs.
	cfg *config.Config

	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "accesswatch",
	Short: "Access-control monitoring dashboard backend",
	Long: `accesswatch serves the access-control dashboard API and pushes change
notifications to connected dashboards over a WebSocket channel.

Configuration comes from environment variables (optionally a .env file);
flags override them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides LOG_FORMAT)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFormat != "" {
		c.LogFormat = logFormat
	}
	cfg = c

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return nil
}

// openRepository connects to Postgres when DATABASE_URL is set and falls
// back to an in-memory store otherwise.
func openRepository(ctx context.Context) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(nil), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := store.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.Migrate(connectCtx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store.NewPostgres(pool, nil), nil
}
