package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/bestseller-crawler/internal/metrics"
	"go.uber.org/zap"
)

// Run statuses recorded in metrics.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// PipelineConfig controls post-extraction behavior.
type PipelineConfig struct {
	// MinResults is the fewest retained results a run may hand off.
	MinResults     int    `mapstructure:"min_results"`
	SnapshotPrefix string `mapstructure:"snapshot_prefix"`
	Topic          string `mapstructure:"topic"`
}

// Pipeline runs discovery, extraction, aggregation and the persistence
// handoff for one ranking refresh.
type Pipeline struct {
	discoverer LinkDiscoverer
	pages      PageRange
	scheduler  *Scheduler
	store      RankingStore
	blobStore  BlobStore
	publisher  Publisher
	ids        IDGenerator
	clock      Clock
	cfg        PipelineConfig
	logger     *zap.Logger
}

// NewPipeline wires a Pipeline. blobStore and publisher may be nil.
func NewPipeline(
	discoverer LinkDiscoverer,
	pages PageRange,
	scheduler *Scheduler,
	store RankingStore,
	blobStore BlobStore,
	publisher Publisher,
	ids IDGenerator,
	clock Clock,
	cfg PipelineConfig,
	logger *zap.Logger,
) (*Pipeline, error) {
	switch {
	case discoverer == nil:
		return nil, errors.New("discoverer is required")
	case scheduler == nil:
		return nil, errors.New("scheduler is required")
	case store == nil:
		return nil, errors.New("ranking store is required")
	case ids == nil:
		return nil, errors.New("id generator is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if err := pages.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinResults < 0 {
		return nil, fmt.Errorf("pipeline.min_results must be >= 0, got %d", cfg.MinResults)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		discoverer: discoverer,
		pages:      pages,
		scheduler:  scheduler,
		store:      store,
		blobStore:  blobStore,
		publisher:  publisher,
		ids:        ids,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run executes one refresh. It either hands the complete rank-ordered
// outcome to the store exactly once, or returns an error without calling the
// store at all.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return RunReport{}, fmt.Errorf("generate run id: %w", err)
	}
	report := RunReport{ID: runID, StartedAt: p.clock.Now()}
	logger := p.logger.With(zap.String("run_id", runID))

	report, err = p.run(ctx, report, logger)
	report.FinishedAt = p.clock.Now()
	duration := report.FinishedAt.Sub(report.StartedAt)
	if err != nil {
		metrics.ObserveRun(RunFailed, duration)
		logger.Error("pipeline run failed", zap.Duration("duration", duration), zap.Error(err))
		return report, err
	}
	metrics.ObserveRun(RunSucceeded, duration)
	metrics.SetResultsRetained(report.Retained)
	logger.Info("pipeline run completed",
		zap.Int("discovered", report.Discovered),
		zap.Int("retained", report.Retained),
		zap.Int("dropped", report.Dropped),
		zap.Duration("duration", duration),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, report RunReport, logger *zap.Logger) (RunReport, error) {
	links, err := p.discoverer.Discover(ctx, p.pages)
	if err != nil {
		return report, fmt.Errorf("discover links: %w", err)
	}
	report.Discovered = len(links)
	metrics.SetLinksDiscovered(len(links))
	logger.Info("links discovered", zap.Int("count", len(links)))

	agg := NewAggregator(logger)
	p.scheduler.Run(ctx, links, agg.Add)
	outcome := agg.Outcome()
	report.Retained = len(outcome)
	report.Dropped = agg.Dropped()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted before handoff: %w", err)
	}
	if len(outcome) < p.cfg.MinResults {
		return report, fmt.Errorf("%w: retained %d of %d, need %d",
			ErrInsufficientResults, len(outcome), len(links), p.cfg.MinResults)
	}

	if err := p.store.SaveBestsellers(ctx, ToBookRecords(outcome)); err != nil {
		return report, fmt.Errorf("%w: %w", ErrHandoff, err)
	}

	report.SnapshotURI = p.archive(ctx, report.ID, outcome, logger)
	p.notify(ctx, report, logger)
	return report, nil
}

func (p *Pipeline) archive(ctx context.Context, runID string, outcome CrawlOutcome, logger *zap.Logger) string {
	if p.blobStore == nil {
		return ""
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		logger.Warn("encode snapshot failed", zap.Error(err))
		return ""
	}
	key := path.Join(strings.Trim(p.cfg.SnapshotPrefix, "/"), runID+".json")
	uri, err := p.blobStore.PutObject(ctx, key, "application/json", bytes.NewReader(data))
	if err != nil {
		logger.Warn("write snapshot failed", zap.String("path", key), zap.Error(err))
		return ""
	}
	logger.Debug("snapshot written", zap.String("uri", uri))
	return uri
}

func (p *Pipeline) notify(ctx context.Context, report RunReport, logger *zap.Logger) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	event := RefreshEvent{
		RunID:       report.ID,
		Count:       report.Retained,
		SnapshotURI: report.SnapshotURI,
		FinishedAt:  p.clock.Now(),
	}
	msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish refresh event failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("refresh event published", zap.String("message_id", msgID))
}
