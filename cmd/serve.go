package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// newServeCmd creates the 'serve' subcommand: cron trigger plus admin API.
func newServeCmd() *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the admin API and fires runs on the cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCommand(cmd, runOnStart)
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "trigger one run as soon as the server is up")
	return cmd
}

func serveCommand(cmd *cobra.Command, runOnStart bool) error {
	s, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()
	logger := s.app.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := s.app.Scheduler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.app.Server().Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	} else {
		logger.Info("cron trigger disabled")
	}
	if runOnStart {
		g.Go(func() error {
			report, err := s.app.Runner().RunOnce(gctx)
			if err != nil {
				logger.Error("startup run failed", zap.String("run_id", report.ID), zap.Error(err))
				return nil
			}
			logger.Info("startup run succeeded", zap.String("run_id", report.ID), zap.Int("retained", report.Retained))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
