package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchOutcomeCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaign",
			Name:      "dispatch_total",
			Help:      "Campaign dispatch attempts by outcome.",
		},
		[]string{"outcome"}, // sent, already_sent, recovered, recovered_short, provider_failed, commit_pending, guard_rejected, locked
	)

	dispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campaign",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a single campaign dispatch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name"},
	)

	recipientsExcludedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaign",
			Name:      "recipients_excluded_total",
			Help:      "Candidates removed by each exclusion source.",
		},
		[]string{"source"},
	)

	draftsCreatedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campaign",
			Name:      "drafts_created_total",
			Help:      "Draft batch records created.",
		},
	)

	reconciliationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaign",
			Name:      "reconciliations_total",
			Help:      "Delivery status reports applied, by outcome.",
		},
		[]string{"outcome"}, // applied, orphan, error, unresolved
	)

	schedulerPollCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaign",
			Name:      "scheduler_dispatches_total",
			Help:      "Scheduled campaigns handled by the poller.",
		},
		[]string{"status"}, // success, retry, failed
	)
)
