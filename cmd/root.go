// Package cmd defines the CLI commands for the scraperd executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/venturescope/scraperd/internal/app"
	"github.com/venturescope/scraperd/internal/config"
	"github.com/venturescope/scraperd/internal/pipeline"
	"github.com/venturescope/scraperd/internal/server"
)

var cfgFile string

// appKeyType keys the App in the command context.
type appKeyType struct{}

var appKey appKeyType

// App is the slice of *app.App the commands use. An interface so
// tests can inject a fake.
type App interface {
	Logger() *zap.Logger
	Runner() *pipeline.Runner
	Scheduler() *pipeline.Scheduler
	Server() *server.Server
	Migrate(ctx context.Context) error
	Close()
}

// newApp is the application factory, a variable so tests can replace
// it.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraperd",
		Short: "Change-tracked scraping of venture portfolio data",
		Long: `scraperd acquires portfolio, team, and funding-deal data from
configured venture sites, normalizes it, and persists it with full
change tracking. Run once, on a schedule, or apply schema migrations.`,

		// Build and inject the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env-only when omitted)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
