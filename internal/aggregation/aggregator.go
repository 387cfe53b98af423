// Package aggregation derives the KPI marts from the gold star schema.
// Every table here can be recomputed from facts and dimensions alone.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/metrics"
)

// Store rebuilds the KPI marts from facts and dimensions. Each call is
// atomic: readers see either the old or the new table contents.
type Store interface {
	// RebuildHourlyKPI recomputes one date partition and returns the
	// number of facts rolled up and hourly rows written.
	RebuildHourlyKPI(ctx context.Context, date time.Time) (facts int64, rows int, err error)
	RebuildAircraftActivity(ctx context.Context) (int, error)
	RebuildLatestPositions(ctx context.Context) (int, error)
}

var (
	_ Store = (*database.PostgresStore)(nil)
	_ Store = (*MemoryMarts)(nil)
)

// Result summarizes one aggregation.
type Result struct {
	WindowDate    time.Time
	FactsInWindow int64
	HourlyRows    int
	ActivityRows  int
	LatestRows    int
}

// Aggregator rebuilds the marts.
type Aggregator struct {
	store  Store
	logger *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(store Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Run overwrites the hourly partition of windowDate and rebuilds the two
// full-history summaries. Partitions of other dates are left as they are.
func (a *Aggregator) Run(ctx context.Context, windowDate time.Time) (*Result, error) {
	date := database.DateOf(windowDate)
	res := &Result{WindowDate: date}

	facts, hourly, err := a.store.RebuildHourlyKPI(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to overwrite hourly partition %s: %w", date.Format("2006-01-02"), err)
	}
	res.FactsInWindow = facts
	res.HourlyRows = hourly

	if res.ActivityRows, err = a.store.RebuildAircraftActivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to rebuild aircraft activity: %w", err)
	}
	if res.LatestRows, err = a.store.RebuildLatestPositions(ctx); err != nil {
		return nil, fmt.Errorf("failed to rebuild latest positions: %w", err)
	}

	metrics.RowsWritten.WithLabelValues("mart_kpi_hourly").Add(float64(res.HourlyRows))
	metrics.RowsWritten.WithLabelValues("mart_kpi_aircraft_activity").Add(float64(res.ActivityRows))
	metrics.RowsWritten.WithLabelValues("mart_kpi_aircraft_latest_position").Add(float64(res.LatestRows))

	a.logger.Info("marts rebuilt",
		zap.String("window_date", date.Format("2006-01-02")),
		zap.Int64("facts_in_window", res.FactsInWindow),
		zap.Int("hourly_rows", res.HourlyRows),
		zap.Int("activity_rows", res.ActivityRows),
		zap.Int("latest_rows", res.LatestRows))

	return res, nil
}
