package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsbus_events_emitted_total",
		Help: "Total number of events durably logged, labelled by namespace.",
	}, []string{"namespace"})

	Sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsbus_sweeps_total",
		Help: "Total number of dispatch sweeps run.",
	})

	EventsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsbus_events_claimed_total",
		Help: "Total number of pending events exclusively claimed.",
	})

	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsbus_claim_conflicts_total",
		Help: "Total number of claims lost to a concurrent sweep.",
	})

	HandlerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsbus_handler_invocations_total",
		Help: "Total number of handler invocations, labelled by handler and status.",
	}, []string{"handler", "status"})

	EventsParked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsbus_events_parked_total",
		Help: "Total number of events parked after a handler failure.",
	})

	EventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opsbus_events_archived_total",
		Help: "Total number of event records moved into archive partitions.",
	})

	EventsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opsbus_events_replayed_total",
		Help: "Total number of historical events replayed, labelled by mode.",
	}, []string{"mode"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opsbus_sweep_duration_ms",
		Help:    "Duration of one full dispatch sweep in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})

	PendingDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opsbus_queue_pending_depth",
		Help: "Number of pending events observed at the start of the last sweep.",
	})
)
