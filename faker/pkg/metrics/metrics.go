package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tsfaker_build_info",
			Help: "Build information of the fake row generator",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsfaker_runs_total",
			Help: "Total number of generation runs by final status",
		},
		[]string{"status", "dry_run"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tsfaker_run_duration_seconds",
			Help:    "Duration of generation runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27 minutes
		},
	)

	EntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsfaker_entities_total",
			Help: "Total number of processed entities by outcome",
		},
		[]string{"outcome"},
	)

	EntityDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tsfaker_entity_duration_seconds",
			Help:    "Time spent generating the rows of one entity",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
	)

	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsfaker_rows_total",
			Help: "Total number of generated rows",
		},
		[]string{"provider", "mode"},
	)

	ColumnFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsfaker_column_failures_total",
			Help: "Total number of column values that could not be synthesized",
		},
		[]string{"column"},
	)

	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsfaker_store_operations_total",
			Help: "Total number of column store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsfaker_store_operation_duration_seconds",
			Help:    "Duration of column store operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
		[]string{"backend", "operation"},
	)

	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsfaker_store_retries_total",
			Help: "Total number of retried column store operations",
		},
		[]string{"backend", "operation"},
	)
)
