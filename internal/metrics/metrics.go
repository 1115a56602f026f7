// Package metrics exposes Prometheus counters and gauges for the
// admission path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Metrics holds the Prometheus collectors for the admission controller.
type Metrics struct {
	AdmittedTotal    prometheus.Counter
	ScreenedTotal    prometheus.Counter
	DeniedTotal      prometheus.Counter
	BlockedTotal     prometheus.Counter
	TrackedBuckets   prometheus.Gauge
	DashboardClients prometheus.Gauge
	AdjustmentsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.AdmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_guard_requests_admitted_total",
		Help: "Total number of requests admitted by the rate limiter.",
	})
	m.ScreenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_guard_requests_screened_total",
		Help: "Total number of requests flagged by the pattern screener.",
	})
	m.DeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_guard_requests_denied_total",
		Help: "Total number of requests denied for depleting their token bucket.",
	})
	m.BlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "admission_guard_requests_blocked_total",
		Help: "Total number of requests rejected while an existing block window was active.",
	})
	m.TrackedBuckets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "admission_guard_tracked_buckets",
		Help: "Current number of per-IP buckets tracked by the registry.",
	})
	m.DashboardClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "admission_guard_dashboard_clients",
		Help: "Current number of connected live-dashboard WebSocket clients.",
	})
	m.AdjustmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_guard_adjustments_total",
		Help: "Total number of post-response token adjustments, by kind.",
	}, []string{"kind"}) // "refund" or "penalty"

	m.registry.MustRegister(
		m.AdmittedTotal,
		m.ScreenedTotal,
		m.DeniedTotal,
		m.BlockedTotal,
		m.TrackedBuckets,
		m.DashboardClients,
		m.AdjustmentsTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// RecordAdmission increments the counter matching decision and screening
// outcome for one admitted-or-rejected request.
func (m *Metrics) RecordAdmission(decisionAdmitted, wasScreened, wasBlocked bool) {
	if wasScreened {
		m.ScreenedTotal.Inc()
	}
	switch {
	case decisionAdmitted:
		m.AdmittedTotal.Inc()
	case wasBlocked:
		m.BlockedTotal.Inc()
	default:
		m.DeniedTotal.Inc()
	}
}

// RecordAdjustment increments the refund or penalty counter.
func (m *Metrics) RecordAdjustment(kind string) {
	m.AdjustmentsTotal.WithLabelValues(kind).Inc()
}

// Handler returns a rate-limited HTTP handler for the /metrics endpoint.
// The limiter guards the scrape endpoint itself against abuse; it is
// independent of, and never shares state with, the per-IP token buckets
// the admission path maintains.
func (m *Metrics) Handler(perSecond float64) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "metrics scrape rate exceeded", http.StatusTooManyRequests)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// pollInterval is how often a caller should refresh TrackedBuckets from a
// BucketRegistry.Len(), since the gauge isn't wired to push updates on its
// own.
const pollInterval = 15 * time.Second

// PollInterval returns the recommended refresh cadence for TrackedBuckets.
func PollInterval() time.Duration { return pollInterval }
