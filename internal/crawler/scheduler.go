package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/metrics"
	"github.com/JakeFAU/bestseller-crawler/internal/queue/memory"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SchedulerConfig bounds extraction concurrency and dispatch pacing.
type SchedulerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	PacingDelay time.Duration `mapstructure:"pacing_delay"`
}

// Validate checks the scheduler settings.
func (c SchedulerConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("crawler.concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.PacingDelay < 0 {
		return fmt.Errorf("crawler.pacing_delay must be >= 0, got %s", c.PacingDelay)
	}
	return nil
}

// Scheduler runs one extraction task per link on a fixed pool of workers.
type Scheduler struct {
	fetcher Fetcher
	cfg     SchedulerConfig
	logger  *zap.Logger
}

// NewScheduler builds a Scheduler.
func NewScheduler(fetcher Fetcher, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{fetcher: fetcher, cfg: cfg, logger: logger}, nil
}

// Run attempts every link exactly once and hands each TaskOutcome to collect.
// collect is called from worker goroutines and must be safe for concurrent
// use. Run returns after every task has resolved.
func (s *Scheduler) Run(ctx context.Context, links []SourceLink, collect func(TaskOutcome)) {
	if len(links) == 0 {
		return
	}
	queue := memory.NewQueue[SourceLink](len(links))
	for _, link := range links {
		// Capacity equals len(links), so this never blocks.
		if err := queue.Enqueue(context.WithoutCancel(ctx), link); err != nil {
			s.logger.Error("enqueue link failed", zap.Int("rank", link.Rank), zap.Error(err))
			collect(TaskOutcome{Link: link, Err: err})
		}
	}
	queue.Close()

	var pacer *rate.Limiter
	if s.cfg.PacingDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(s.cfg.PacingDelay), 1)
	}

	workers := min(s.cfg.Concurrency, len(links))
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			s.work(ctx, workerID, queue, pacer, collect)
		}(i)
	}
	wg.Wait()
}

func (s *Scheduler) work(
	ctx context.Context,
	workerID int,
	queue *memory.Queue[SourceLink],
	pacer *rate.Limiter,
	collect func(TaskOutcome),
) {
	for {
		// The queue is closed and pre-filled, so Dequeue only fails once drained.
		link, err := queue.Dequeue(context.WithoutCancel(ctx))
		if err != nil {
			return
		}
		if pacer != nil {
			start := time.Now()
			if err := pacer.Wait(ctx); err != nil {
				s.resolve(collect, TaskOutcome{Link: link, Err: fmt.Errorf("pacing: %w", err)}, workerID)
				continue
			}
			metrics.ObservePacingDelay(time.Since(start))
		}
		s.resolve(collect, s.runTask(ctx, link), workerID)
	}
}

func (s *Scheduler) runTask(ctx context.Context, link SourceLink) (outcome TaskOutcome) {
	outcome.Link = link
	metrics.IncTasksInFlight()
	defer metrics.DecTasksInFlight()
	defer func() {
		if rec := recover(); rec != nil {
			outcome = TaskOutcome{Link: link, Err: fmt.Errorf("task panic: %v", rec)}
		}
	}()
	result, ok, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		return TaskOutcome{Link: link, Err: err}
	}
	if ok {
		result.Rank = link.Rank
	}
	return TaskOutcome{Link: link, Result: result, OK: ok}
}

func (s *Scheduler) resolve(collect func(TaskOutcome), outcome TaskOutcome, workerID int) {
	switch {
	case outcome.Err != nil:
		metrics.ObserveTask(metrics.TaskError)
		s.logger.Error("extraction task failed",
			zap.Int("worker_id", workerID),
			zap.Int("rank", outcome.Link.Rank),
			zap.String("url", outcome.Link.URL),
			zap.Error(outcome.Err),
		)
		outcome.OK = false
	case outcome.OK:
		metrics.ObserveTask(metrics.TaskRetained)
	default:
		metrics.ObserveTask(metrics.TaskAbsent)
	}
	collect(outcome)
}
