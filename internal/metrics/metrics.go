// Package metrics provides Prometheus instrumentation for the flagchain server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only flagchain metrics appear on the /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the flagchain server.
// It satisfies the evaluator's Recorder interface.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	EvaluationsTotal      *prometheus.CounterVec
	CacheLookupsTotal     *prometheus.CounterVec
	CacheInvalidations    prometheus.Counter
	RepositoryErrorsTotal *prometheus.CounterVec
	AutoProvisionsTotal   *prometheus.CounterVec
	AuthFailuresTotal     prometheus.Counter
}

// New creates and registers all flagchain metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagchain_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagchain_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagchain_flag_evaluations_total",
			Help: "Total number of flag evaluations by deciding handler.",
		}, []string{"handler", "result"}),

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagchain_cache_lookups_total",
			Help: "Total number of flag definition cache lookups.",
		}, []string{"result"}),

		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagchain_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered cache invalidations.",
		}),

		RepositoryErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagchain_repository_errors_total",
			Help: "Total number of failed flag repository calls.",
		}, []string{"operation"}),

		AutoProvisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagchain_auto_provisions_total",
			Help: "Total number of auto-provision attempts for unknown flags.",
		}, []string{"outcome"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagchain_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EvaluationsTotal,
		m.CacheLookupsTotal,
		m.CacheInvalidations,
		m.RepositoryErrorsTotal,
		m.AutoProvisionsTotal,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and latency. Requests are labelled by
// the matched mux pattern so path parameters do not explode cardinality.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(rec.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RecordEvaluation increments the evaluation counter for the deciding handler.
func (m *Metrics) RecordEvaluation(handler string, enabled bool) {
	m.EvaluationsTotal.WithLabelValues(handler, strconv.FormatBool(enabled)).Inc()
}

// RecordCacheLookup counts a cache hit, miss or error.
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRepositoryError(operation string) {
	m.RepositoryErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordAutoProvision(outcome string) {
	m.AutoProvisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheInvalidation counts a NOTIFY-triggered cache eviction.
func (m *Metrics) RecordCacheInvalidation() {
	m.CacheInvalidations.Inc()
}

// IncAuthFailures increments the authentication failure counter.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
