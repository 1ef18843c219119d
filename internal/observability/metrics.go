package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// workerBuckets spans short trims up to half-hour recordings.
var workerBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	pipelineRunsTotal   *prometheus.CounterVec
	pipelineDuration    *prometheus.HistogramVec
	workerDuration      *prometheus.HistogramVec
	normalizeFallbacks  prometheus.Counter
	activeRuns          prometheus.GaugeFunc
}

// NewMetrics registers everything on a private registry. activeRuns may be
// nil.
func NewMetrics(activeRuns func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transkript_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transkript_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		pipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transkript_pipeline_runs_total",
				Help: "Pipeline runs by outcome.",
			},
			[]string{"outcome"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transkript_pipeline_run_duration_seconds",
				Help:    "End-to-end pipeline run duration in seconds.",
				Buckets: workerBuckets,
			},
			[]string{"outcome"},
		),
		workerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transkript_worker_duration_seconds",
				Help:    "Worker process wall time in seconds.",
				Buckets: workerBuckets,
			},
			[]string{"status"},
		),
		normalizeFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transkript_normalize_fallback_total",
				Help: "Runs that fed the original upload to the worker because normalization failed.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.pipelineRunsTotal,
		m.pipelineDuration,
		m.workerDuration,
		m.normalizeFallbacks,
	)

	if activeRuns != nil {
		m.activeRuns = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "transkript_worker_active_runs",
				Help: "Worker processes currently running.",
			},
			func() float64 { return float64(activeRuns()) },
		)
		registry.MustRegister(m.activeRuns)
	}

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObservePipelineRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.pipelineRunsTotal.WithLabelValues(outcome).Inc()
	m.pipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveWorker records one worker process. status is "ok", "failed" or
// "timeout".
func (m *Metrics) ObserveWorker(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.workerDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) IncNormalizeFallback() {
	if m == nil {
		return
	}
	m.normalizeFallbacks.Inc()
}
