// Package metrics defines the Prometheus metric collectors used by the
// matcher and indexer services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MatchRequestsTotal   *prometheus.CounterVec
	MatchLatency         *prometheus.HistogramVec
	MatchCandidates      prometheus.Histogram
	MatchResultSize      *prometheus.HistogramVec
	GridUpdatesTotal     *prometheus.CounterVec
	GridWriteFailures    *prometheus.CounterVec
	PoolWorkers          prometheus.Gauge
	PoolBusyWorkers      prometheus.Gauge
	PoolQueueDepth       prometheus.Gauge
	PoolWorkerCrashes    prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MatchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_requests_total",
				Help: "Total match computations by outcome (ok, error, crashed, timeout).",
			},
			[]string{"outcome"},
		),
		MatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_stage_latency_seconds",
				Help:    "Latency of each match resolution stage in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"stage"},
		),
		MatchCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "match_candidates",
				Help:    "Size of the candidate universe per match computation.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		MatchResultSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_result_size",
				Help:    "Number of matched persons per direction.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"direction"},
		),
		GridUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grid_updates_total",
				Help: "Grid set reconciliations by category and kind (relocation, in_place, presence, removal).",
			},
			[]string{"category", "kind"},
		),
		GridWriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grid_write_failures_total",
				Help: "Grid set pipelines that failed after retries, by operation (add, remove).",
			},
			[]string{"op"},
		),
		PoolWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "match_pool_workers",
				Help: "Number of match workers alive.",
			},
		),
		PoolBusyWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "match_pool_busy_workers",
				Help: "Number of match workers executing a task.",
			},
		),
		PoolQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "match_pool_queue_depth",
				Help: "Number of match tasks waiting for a worker.",
			},
		),
		PoolWorkerCrashes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_pool_worker_crashes_total",
				Help: "Total number of match workers replaced after a crash.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.MatchRequestsTotal,
		m.MatchLatency,
		m.MatchCandidates,
		m.MatchResultSize,
		m.GridUpdatesTotal,
		m.GridWriteFailures,
		m.PoolWorkers,
		m.PoolBusyWorkers,
		m.PoolQueueDepth,
		m.PoolWorkerCrashes,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
