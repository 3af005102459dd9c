// Package metrics exposes the broker's Prometheus collectors, grouped by
// the component that owns them: allocator, reconciler, cleanup reclaimer,
// and the HTTP transport.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SandboxesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_sandboxes_total",
			Help: "Total number of sandbox rows by status",
		},
		[]string{"status"},
	)

	AllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_allocations_total",
			Help: "Total allocate() outcomes by result",
		},
		[]string{"result"}, // new, idempotent, no_capacity
	)

	AllocationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_allocation_latency_seconds",
			Help:    "Time taken to run the k-candidates allocation algorithm",
			Buckets: prometheus.DefBuckets,
		},
	)

	AllocationCandidatesTried = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_allocation_candidates_tried",
			Help:    "Number of candidates attempted before success or exhaustion",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 15, 20},
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconciliation_cycles_total",
			Help: "Total number of sync reconciler ticks completed",
		},
	)

	ReconciliationSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconciliation_skipped_total",
			Help: "Total number of sync reconciler ticks skipped (previous tick still running)",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_reconciliation_duration_seconds",
			Help:    "Time taken for a sync reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_reconciliation_changes_total",
			Help: "Rows inserted, refreshed, or pruned per reconciliation cycle",
		},
		[]string{"change"}, // inserted, refreshed, pruned, deleted, orphaned
	)

	UpstreamErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_upstream_errors_total",
			Help: "Total transport failures fetching the upstream inventory",
		},
	)

	CleanupCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_cleanup_cycles_total",
			Help: "Total number of cleanup reclaimer ticks completed",
		},
	)

	CleanupReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_cleanup_reclaimed_total",
			Help: "Total expired leases returned to available",
		},
	)

	CleanupEscalatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_cleanup_escalated_total",
			Help: "Total stuck pending_deletion rows promoted to deletion_failed",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_http_requests_total",
			Help: "Total HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		SandboxesTotal,
		AllocationsTotal,
		AllocationLatency,
		AllocationCandidatesTried,
		ReconciliationCyclesTotal,
		ReconciliationSkippedTotal,
		ReconciliationDuration,
		ReconciliationChangesTotal,
		UpstreamErrorsTotal,
		CleanupCyclesTotal,
		CleanupReclaimedTotal,
		CleanupEscalatedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
