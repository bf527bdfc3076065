package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Optimistic mutation outcomes.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeReconciled = "reconciled"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
	OutcomeDiscarded  = "discarded"
)

var (
	// RequestLatency records API request latency by method, route and status.
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "areahood_client_request_duration_seconds",
		Help:    "API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// ForcedLogouts counts session teardowns triggered by 401/403 responses.
	ForcedLogouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "areahood_client_forced_logouts_total",
		Help: "Total number of sessions torn down after an authorization failure",
	}, []string{"status"})

	// OptimisticOutcomes counts optimistic mutations by action and outcome.
	OptimisticOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "areahood_client_optimistic_outcomes_total",
		Help: "Optimistic mutations by action and outcome",
	}, []string{"action", "outcome"})

	// SessionStoreErrors counts session persistence errors by backend and operation.
	SessionStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "areahood_session_store_errors_total",
		Help: "Total number of session persistence errors",
	}, []string{"backend", "operation"})

	// RealtimeEvents counts realtime feed events by type.
	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "areahood_realtime_events_total",
		Help: "Realtime feed events received by type",
	}, []string{"event_type"})
)

// ObserveRequest records the latency of an API request.
// status 0 means the request never produced a response.
func ObserveRequest(method, route string, status int, start time.Time) {
	RequestLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}

// TrackRequest returns a function that records request latency when called (e.g. defer).
func TrackRequest(method, route string) func(status int) {
	start := time.Now()
	return func(status int) {
		ObserveRequest(method, route, status, start)
	}
}

// RecordOutcome increments the optimistic outcome counter.
func RecordOutcome(action, outcome string) {
	OptimisticOutcomes.WithLabelValues(action, outcome).Inc()
}
