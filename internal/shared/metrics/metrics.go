package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Billing events
	EventsProcessed *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	SweepRuns       prometheus.Counter

	// Quota
	QuotaChecks     *prometheus.CounterVec
	QuotaIncrements prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "In-flight HTTP requests.",
		}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_events_processed_total",
			Help: "Billing events processed by type.",
		}, []string{"type"}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_events_failed_total",
			Help: "Billing events that failed processing by type.",
		}, []string{"type"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_events_skipped_total",
			Help: "Billing events skipped as duplicate or stale by reason.",
		}, []string{"reason"}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_event_sweep_runs_total",
			Help: "Retry sweep executions.",
		}),
		QuotaChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Quota limit checks by outcome.",
		}, []string{"outcome"}),
		QuotaIncrements: factory.NewCounter(prometheus.CounterOpts{
			Name: "quota_increments_total",
			Help: "Quota counter increments.",
		}),
	}
}

// Registry returns the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
