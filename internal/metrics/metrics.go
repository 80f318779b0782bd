// Package metrics exposes Prometheus collectors for the bestseller pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt results.
const (
	AttemptSuccess   = "success"
	AttemptTransient = "transient"
	AttemptPermanent = "permanent"
)

// Task outcomes.
const (
	TaskRetained = "retained"
	TaskAbsent   = "absent"
	TaskError    = "error"
)

var (
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	linksDiscovered            prometheus.Gauge
	resultsRetained            prometheus.Gauge
	fetchAttemptsTotal         *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	tasksInFlight              prometheus.Gauge
	pacingDelaySeconds         prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bestseller_runs_total",
				Help: "Total number of pipeline runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bestseller_run_duration_seconds",
				Help:    "Histogram of pipeline run durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
		)

		linksDiscovered = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bestseller_links_discovered",
				Help: "Detail links discovered by the most recent run.",
			},
		)

		resultsRetained = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bestseller_results_retained",
				Help: "Results retained by the most recent successful run.",
			},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bestseller_fetch_attempts_total",
				Help: "Total number of page fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bestseller_tasks_total",
				Help: "Total number of extraction tasks resolved, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		tasksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bestseller_tasks_in_flight",
				Help: "Number of extraction tasks currently executing.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bestseller_pacing_delay_seconds",
				Help:    "Histogram of time spent waiting on the dispatch pacer.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRun records a finished pipeline run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// SetLinksDiscovered records the size of the most recent discovery.
func SetLinksDiscovered(n int) {
	Init()
	linksDiscovered.Set(float64(n))
}

// SetResultsRetained records the size of the most recent handoff.
func SetResultsRetained(n int) {
	Init()
	resultsRetained.Set(float64(n))
}

// ObserveFetchAttempt increments the attempt counter for the given result.
func ObserveFetchAttempt(rawURL, result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObserveTask increments the task counter for the given outcome.
func ObserveTask(outcome string) {
	Init()
	tasksTotal.WithLabelValues(outcome).Inc()
}

// IncTasksInFlight increments the in-flight task gauge.
func IncTasksInFlight() {
	Init()
	tasksInFlight.Inc()
}

// DecTasksInFlight decrements the in-flight task gauge.
func DecTasksInFlight() {
	Init()
	tasksInFlight.Dec()
}

// ObservePacingDelay records how long a worker waited on the pacer.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
