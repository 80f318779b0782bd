// Package cmd defines and implements the CLI commands for the bestseller-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/JakeFAU/bestseller-crawler/internal/api"
	"github.com/JakeFAU/bestseller-crawler/internal/app"
	"github.com/JakeFAU/bestseller-crawler/internal/config"
	"github.com/JakeFAU/bestseller-crawler/internal/logging"
	"github.com/JakeFAU/bestseller-crawler/internal/trigger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close() error
	Logger() *zap.Logger
	Runner() *trigger.Runner
	Server() *api.Server
	Scheduler() (*trigger.Scheduler, error)
}

// session bundles what PersistentPreRunE builds for a subcommand.
type session struct {
	cfg config.Config
	app App
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "bestseller-crawler",
		Short: "Crawls a paginated bestseller listing and persists the ranking.",
		Long: `bestseller-crawler walks the configured bestseller listing, extracts every
detail page with bounded concurrency, and replaces the stored ranking in one
transaction. Use "run" for a single refresh or "serve" for the cron trigger
and admin API.`,
		SilenceUsage: true,

		// Build the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &session{cfg: cfg, app: appInstance}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// close releases the application services. Subcommands defer it so cleanup
// happens on failure too.
func (s *session) close() {
	logger := s.app.Logger()
	logger.Info("shutting down application services")
	if err := s.app.Close(); err != nil {
		logger.Warn("error closing application services", zap.Error(err))
	}
	_ = logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

func resolveSession(ctx context.Context) (*session, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	s, ok := ctx.Value(appKey).(*session)
	if !ok || s == nil || s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
