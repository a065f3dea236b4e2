// Package metrics exposes engine counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector of one engine instance on its own registry
type Metrics struct {
	registry *prometheus.Registry

	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	dispatchTasks   prometheus.Histogram
	dispatchLatency prometheus.Histogram
	taskFailures    prometheus.Counter
	computations    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// New registers the engine collectors on a fresh registry (plus Go and process collectors)
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_cache_hits_total",
			Help: "Statistical substrate cache hits by layer.",
		}, []string{"layer"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_cache_misses_total",
			Help: "Statistical substrate cache misses by layer.",
		}, []string{"layer"}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_dispatches_total",
			Help: "Coordinator dispatches by execution mode.",
		}, []string{"mode"}),
		dispatchTasks: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_dispatch_tasks",
			Help:    "Number of tasks per coordinator dispatch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		dispatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskengine_dispatch_duration_seconds",
			Help:    "Wall time of coordinator dispatches.",
			Buckets: prometheus.DefBuckets,
		}),
		taskFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "riskengine_task_failures_total",
			Help: "Failed coordinator tasks.",
		}),
		computations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskengine_computation_duration_seconds",
			Help:    "Engine operation latency by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "riskengine_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riskengine_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the underlying registry (for tests and custom exporters)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CacheHit implements cache.Recorder
func (m *Metrics) CacheHit(layer string) {
	m.cacheHits.WithLabelValues(layer).Inc()
}

// CacheMiss implements cache.Recorder
func (m *Metrics) CacheMiss(layer string) {
	m.cacheMisses.WithLabelValues(layer).Inc()
}

// DispatchCompleted implements work.Observer
func (m *Metrics) DispatchCompleted(tasks int, parallel bool, failed int, elapsed time.Duration) {
	mode := "inline"
	if parallel {
		mode = "parallel"
	}
	m.dispatches.WithLabelValues(mode).Inc()
	m.dispatchTasks.Observe(float64(tasks))
	m.dispatchLatency.Observe(elapsed.Seconds())
	m.taskFailures.Add(float64(failed))
}

// ObserveComputation records one engine operation; outcome is "ok" or an error kind
func (m *Metrics) ObserveComputation(operation, outcome string, elapsed time.Duration) {
	m.computations.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency keyed by the chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
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
		m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
