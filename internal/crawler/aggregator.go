package crawler

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Aggregator collects task outcomes from concurrent workers, keeping at most
// one result per rank.
type Aggregator struct {
	mu      sync.Mutex
	results map[int]ExtractionResult
	dropped int
	logger  *zap.Logger
}

// NewAggregator builds an empty Aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		results: make(map[int]ExtractionResult),
		logger:  logger,
	}
}

// Add records an outcome. Absent outcomes are counted as dropped; a second
// result for a rank already held is ignored.
func (a *Aggregator) Add(outcome TaskOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !outcome.OK || outcome.Err != nil || !outcome.Result.Usable() {
		a.dropped++
		return
	}
	rank := outcome.Link.Rank
	if _, exists := a.results[rank]; exists {
		a.logger.Warn("duplicate result for rank ignored", zap.Int("rank", rank), zap.String("url", outcome.Link.URL))
		return
	}
	result := outcome.Result
	result.Rank = rank
	a.results[rank] = result
}

// Dropped returns the number of absent outcomes seen so far.
func (a *Aggregator) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Outcome returns the retained results sorted ascending by rank.
func (a *Aggregator) Outcome() CrawlOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(CrawlOutcome, 0, len(a.results))
	for _, r := range a.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
