// Package metrics exposes Prometheus metrics for tool calls, the worker pool
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/quantcore/internal/work"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quantcore"

// Metrics holds all Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	jobsQueued   *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobWait      *prometheus.HistogramVec
	verdicts     *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates and registers the metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_queued_total",
				Help:      "Total number of tool-call jobs submitted to the worker pool",
			},
			[]string{"kind"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Total number of tool-call jobs finished, by outcome",
			},
			[]string{"kind", "outcome"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Tool-call execution time in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		jobWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_queue_wait_seconds",
				Help:      "Time a job waited for a worker slot",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compliance_verdicts_total",
				Help:      "Total number of compliance checks, by ruleset and overall status",
			},
			[]string{"ruleset", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being served",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsQueued,
		m.jobsFinished,
		m.jobDuration,
		m.jobWait,
		m.verdicts,
		m.httpRequests,
		m.httpDuration,
		m.httpInFlight,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TrackPool registers gauges that read the pool's load on every scrape
func (m *Metrics) TrackPool(pool *work.Pool) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_capacity",
			Help:      "Global worker pool capacity",
		}, func() float64 { return float64(pool.Capacity()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_running",
			Help:      "Jobs currently running",
		}, func() float64 { return float64(pool.Snapshot().Running) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_queued",
			Help:      "Jobs waiting for a worker slot",
		}, func() float64 { return float64(pool.Snapshot().Queued) }),
	)
}

// JobQueued implements work.Observer
func (m *Metrics) JobQueued(job work.Job) {
	m.jobsQueued.WithLabelValues(job.Kind).Inc()
}

// JobStarted implements work.Observer
func (m *Metrics) JobStarted(job work.Job, waited time.Duration) {
	m.jobWait.WithLabelValues(job.Kind).Observe(waited.Seconds())
}

// JobFinished implements work.Observer
func (m *Metrics) JobFinished(job work.Job, outcome work.Outcome, took time.Duration) {
	m.jobsFinished.WithLabelValues(job.Kind, string(outcome)).Inc()
	if outcome == work.OutcomeSuccess {
		m.jobDuration.WithLabelValues(job.Kind).Observe(took.Seconds())
	}
}

// RecordVerdict counts a compliance verdict
func (m *Metrics) RecordVerdict(ruleset, status string) {
	m.verdicts.WithLabelValues(ruleset, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latencies by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

var _ work.Observer = (*Metrics)(nil)
