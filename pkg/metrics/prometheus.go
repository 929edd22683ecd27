package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlake_ingestion_runs_total",
			Help: "Total number of finalized ingestion runs by terminal status",
		},
		[]string{"status"},
	)

	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventlake_ingestion_rows_total",
			Help: "Total number of processed rows by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventlake_ingestion_run_duration_seconds",
			Help:    "Duration of one ingestion run from open to finalize",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"status"},
	)

	BatchInsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventlake_batch_insert_duration_seconds",
			Help:    "Duration of one batch insert into raw_events",
			Buckets: prometheus.DefBuckets,
		},
	)

	StaleRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventlake_stale_running_runs",
			Help: "Number of runs stuck in the running state past the stale threshold",
		},
	)
)
