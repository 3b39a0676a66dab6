// Package queue maintains the per-course waiting sets. This file defines the
// Prometheus collectors for queue health. Labels are bounded by the number of
// active courses, which keeps cardinality low enough for per-course panels.
package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	// queueDepth tracks the number of waiting tickets per course.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticket_queue_depth",
			Help: "Number of tickets currently waiting, per course.",
		},
		[]string{"course"},
	)

	// enqueueTotal counts tickets entering the waiting set (create + release).
	enqueueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_queue_enqueues_total",
			Help: "Total tickets enqueued, per course.",
		},
		[]string{"course"},
	)

	// claimWins counts successful claims; claimConflicts counts claims that
	// lost the race or targeted a ticket no longer waiting. Their ratio is a
	// direct view of TA contention on the queue.
	claimWins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_queue_claims_total",
			Help: "Total successful ticket claims, per course.",
		},
		[]string{"course"},
	)
	claimConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_queue_claim_conflicts_total",
			Help: "Total claims rejected because the ticket was not waiting, per course.",
		},
		[]string{"course"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, enqueueTotal, claimWins, claimConflicts)
}
