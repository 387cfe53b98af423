// Package metrics holds the prometheus collectors of the pipeline and the
// health server that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_pipeline_stage_runs_total",
		Help: "Stage runs by outcome (succeeded, noop, failed)",
	}, []string{"stage", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flight_pipeline_stage_duration_seconds",
		Help:    "Wall time of a stage run",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_pipeline_rows_written_total",
		Help: "Rows written per target table",
	}, []string{"table"})

	RowsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_normalizer_rows_dropped_total",
		Help: "State vectors dropped for a null icao24, longitude or latitude",
	})

	CastErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_normalizer_cast_errors_total",
		Help: "Tuple fields degraded to null after a failed cast",
	}, []string{"field"})

	FilesUnreadable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_normalizer_files_unreadable_total",
		Help: "Raw snapshot reads that failed and will be retried",
	})

	FilesCorrupt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_normalizer_files_corrupt_total",
		Help: "Raw snapshot files that could not be parsed and were marked consumed",
	})

	JoinGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_loader_join_gaps_total",
		Help: "State vectors excluded from the fact table for a missing dimension match",
	}, []string{"dimension"})

	UpstreamRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flight_ingestor_rate_limit_remaining",
		Help: "Last X-Rate-Limit-Remaining value reported by the upstream API",
	})
)
