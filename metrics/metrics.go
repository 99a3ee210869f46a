// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the lifecycle engine's domain counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	recordsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_records_created_total",
			Help: "Total number of lifecycle records created",
		},
		[]string{"family"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_total",
			Help: "Total number of lifecycle actions applied",
		},
		[]string{"family", "action"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_decisions_total",
			Help: "Total number of workflow step decisions",
		},
		[]string{"family", "phase", "decision"},
	)

	stopWorkTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_stop_work_total",
			Help: "Total number of stop-work interrupts",
		},
		[]string{"family"},
	)
)

func init() {
	prometheus.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		recordsCreatedTotal,
		transitionsTotal,
		decisionsTotal,
		stopWorkTotal,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one API request.
func ObserveRequest(method, path, status string, seconds float64) {
	apiRequestsTotal.WithLabelValues(method, path, status).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordCreated counts a new lifecycle record.
func RecordCreated(family string) {
	recordsCreatedTotal.WithLabelValues(family).Inc()
}

// Transition counts a successful lifecycle action.
func Transition(family, action string) {
	transitionsTotal.WithLabelValues(family, action).Inc()
}

// Decision counts a workflow step decision.
func Decision(family, phase, decision string) {
	decisionsTotal.WithLabelValues(family, phase, decision).Inc()
}

// StopWork counts a stop-work interrupt.
func StopWork(family string) {
	stopWorkTotal.WithLabelValues(family).Inc()
}
