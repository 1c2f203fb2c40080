// Package telemetry holds the Prometheus collectors shared across txmirror.
// Collectors register with the default registry on package init.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsTotal counts inbound notifications by classified action
	// and outcome ("processed", "unknown_account", "error").
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_notifications_total",
		Help: "Inbound notifications by action and outcome",
	}, []string{"action", "outcome"})

	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_jobs_enqueued_total",
		Help: "Jobs accepted by the dispatch queue",
	}, []string{"kind"})

	JobsCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_jobs_coalesced_total",
		Help: "Jobs merged into one already queued for the same account",
	}, []string{"kind"})

	JobsParkedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_jobs_parked_total",
		Help: "Jobs held back because their account already had a job running",
	}, []string{"kind"})

	JobsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_jobs_dropped_total",
		Help: "Jobs rejected because the queue was full",
	}, []string{"kind"})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_jobs_failed_total",
		Help: "Jobs whose handler returned an error or panicked",
	}, []string{"kind"})

	DeadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txmirror_dead_letters_total",
		Help: "Failed jobs written to the dead-letter store",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "txmirror_queue_depth",
		Help: "Jobs waiting in the dispatch queue",
	})

	SyncPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txmirror_sync_pages_total",
		Help: "Delta pages applied to the mirror",
	})

	RecordsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txmirror_records_upserted_total",
		Help: "Records written by the upsert step",
	})

	RecordsTombstonedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_records_tombstoned_total",
		Help: "Records soft-deleted, by path (sync or notification)",
	}, []string{"path"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txmirror_sync_duration_seconds",
		Help:    "Duration of one sync worker invocation",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"kind", "result"})

	SourceRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "txmirror_source_retries_total",
		Help: "Retries of transient source failures",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txmirror_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txmirror_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)
