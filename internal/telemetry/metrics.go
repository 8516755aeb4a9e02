package telemetry

import "github.com/prometheus/client_golang/prometheus"

var (
	// OutcomesTotal counts decided reconciliation outcomes by status.
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_outcomes_total",
			Help: "Reconciliation outcomes by terminal status.",
		},
		[]string{"status"},
	)

	// ClaimConflictsTotal counts collections lost to a concurrent claim
	// between scoring and commit.
	ClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_claim_conflicts_total",
			Help: "Collection claims lost to a concurrent reconciliation.",
		},
	)

	// ReplaysTotal counts deliveries short-circuited by the idempotency check.
	ReplaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_replays_total",
			Help: "Payment event deliveries answered from the ledger.",
		},
	)

	// PipelineDuration observes end-to-end reconciliation latency.
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciliation_pipeline_duration_seconds",
			Help:    "Duration of one reconciliation pipeline invocation.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(OutcomesTotal, ClaimConflictsTotal, ReplaysTotal, PipelineDuration)
}
