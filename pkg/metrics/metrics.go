// Package metrics provides Prometheus metrics for the sync engine:
// throughput, retries, checkpoints, and fetch latency, labeled per stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsSynced counts records delivered to the sink.
	RecordsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_records_synced_total",
			Help: "Total number of records delivered to the sink",
		},
		[]string{"stream"},
	)

	// RecordsSkipped counts records dropped by per-record error policy.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_records_skipped_total",
			Help: "Total number of records skipped after normalization failures",
		},
		[]string{"stream"},
	)

	// PagesFetched counts successfully fetched pages.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_pages_fetched_total",
			Help: "Total number of pages fetched from the source",
		},
		[]string{"stream"},
	)

	// RetryAttempts counts transient fetch failures that were retried.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_fetch_retries_total",
			Help: "Total number of transient fetch failures",
		},
		[]string{"stream"},
	)

	// CheckpointsWritten counts durable cursor checkpoints.
	CheckpointsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_checkpoints_total",
			Help: "Total number of cursor checkpoints written",
		},
		[]string{"stream"},
	)

	// StreamFailures counts streams aborted by error type.
	StreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drift_stream_failures_total",
			Help: "Total number of aborted stream syncs",
		},
		[]string{"stream", "error_type"},
	)

	// FetchLatency observes per-page fetch duration in seconds.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drift_fetch_duration_seconds",
			Help:    "Per-page fetch latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"stream"},
	)
)
