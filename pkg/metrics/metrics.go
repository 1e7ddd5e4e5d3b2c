package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kernel", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kernel", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kernel", Name: "document_operations_total", Help: "Document service operations by name and outcome."},
		[]string{"op", "outcome"},
	)
	ChangesRegistered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kernel", Name: "changes_registered_total", Help: "Change records appended to the feed by type."},
		[]string{"type"},
	)
	SequenceConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "kernel", Name: "sequence_conflicts_total", Help: "Lost compare-and-swap attempts on sequence counters."},
		[]string{"label"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentOperations)
	reg.MustRegister(ChangesRegistered)
	reg.MustRegister(SequenceConflicts)
}
