package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires Runner.RunOnce on a six-field cron schedule.
type Scheduler struct {
	runner   *Runner
	schedule string
	logger   *zap.Logger
	cron     *cron.Cron
	runCtx   context.Context
}

// NewScheduler validates the schedule and registers the job. Nothing fires
// until Run is called.
func NewScheduler(runner *Runner, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger{logger: logger.Named("cron")}),
	)
	if _, err := s.cron.AddFunc(schedule, s.fire); err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is done. Scheduled runs use
// ctx, so they are cancelled on shutdown; Run waits for them to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.cron.Start()
	s.logger.Info("cron trigger started", zap.String("schedule", s.schedule))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("cron trigger stopped")
	return nil
}

func (s *Scheduler) fire() {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := s.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("scheduled run skipped, previous run still active")
	case err != nil:
		s.logger.Error("scheduled run failed", zap.String("run_id", report.ID), zap.Error(err))
	default:
		s.logger.Info("scheduled run succeeded",
			zap.String("run_id", report.ID),
			zap.Int("retained", report.Retained),
		)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
