// Package trigger starts pipeline runs, either on a cron schedule or on demand,
// and never lets two runs overlap.
package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Pipeline is the unit of work a Runner executes.
type Pipeline interface {
	Run(ctx context.Context) (crawler.RunReport, error)
}

// LastRun captures the most recent completed run.
type LastRun struct {
	Report crawler.RunReport `json:"report"`
	Error  string            `json:"error,omitempty"`
}

// Runner serializes pipeline runs.
type Runner struct {
	pipeline Pipeline
	logger   *zap.Logger
	running  atomic.Bool

	mu   sync.RWMutex
	last *LastRun
}

// NewRunner constructs a Runner.
func NewRunner(pipeline Pipeline, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{pipeline: pipeline, logger: logger}
}

// RunOnce executes the pipeline unless a run is already active.
func (r *Runner) RunOnce(ctx context.Context) (crawler.RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return crawler.RunReport{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	report, err := r.pipeline.Run(ctx)
	last := &LastRun{Report: report}
	if err != nil {
		last.Error = err.Error()
	}
	r.mu.Lock()
	r.last = last
	r.mu.Unlock()
	return report, err
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Last returns the most recent completed run, if any.
func (r *Runner) Last() (LastRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return LastRun{}, false
	}
	return *r.last, true
}
