package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionLoadsTotal    *prometheus.CounterVec
	SessionStartsTotal   prometheus.Counter
	SessionFlushesTotal  *prometheus.CounterVec
	SessionFlushDuration prometheus.Histogram
	SessionsPending      prometheus.Gauge
	SessionsExpiredTotal prometheus.Counter

	// Access control metrics
	ACLDecisionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// creates unregistered collectors, which is what tests use.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SessionLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_session_loads_total",
				Help: "Session loads by outcome (hit, cached, absent, invalid, expired, error)",
			},
			[]string{"result"},
		),
		SessionStartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_session_starts_total",
				Help: "Total number of sessions started",
			},
		),
		SessionFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_session_flushes_total",
				Help: "Debounced session writes by outcome",
			},
			[]string{"status"},
		),
		SessionFlushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turnstile_session_flush_duration_seconds",
				Help:    "Duration of debounced session writes",
				Buckets: prometheus.DefBuckets,
			},
		),
		SessionsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "turnstile_sessions_pending",
				Help: "Sessions with a scheduled write",
			},
		),
		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_sessions_expired_total",
				Help: "Sessions removed by the expiry sweep",
			},
		),

		ACLDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_acl_decisions_total",
				Help: "Access control decisions by result",
			},
			[]string{"result"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cache_hits_total",
				Help: "Cache hits by key family",
			},
			[]string{"family"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cache_misses_total",
				Help: "Cache misses by key family",
			},
			[]string{"family"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cache_invalidations_total",
				Help: "Invalidation messages received by topic",
			},
			[]string{"topic"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.SessionLoadsTotal,
			m.SessionStartsTotal,
			m.SessionFlushesTotal,
			m.SessionFlushDuration,
			m.SessionsPending,
			m.SessionsExpiredTotal,
			m.ACLDecisionsTotal,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheInvalidationsTotal,
		)
	}

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The path label uses the matched mux route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
