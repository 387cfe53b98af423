package aggregation

import (
	"context"
	"time"

	"github.com/smukkama/flight-analytics/internal/database"
)

// MemorySource is the fact and mart access of the in-memory store.
type MemorySource interface {
	FactsForDate(ctx context.Context, date time.Time) ([]database.FactView, error)
	AllFacts(ctx context.Context) ([]database.FactView, error)
	OverwriteHourlyKPI(ctx context.Context, date time.Time, rows []database.HourlyKPI) error
	ReplaceAircraftActivity(ctx context.Context, rows []database.AircraftActivity) error
	ReplaceLatestPositions(ctx context.Context, rows []database.LatestPosition) error
}

var _ MemorySource = (*database.MemStore)(nil)

// MemoryMarts computes the marts in Go over a store that cannot run the
// rollups itself.
type MemoryMarts struct {
	src MemorySource
}

// NewMemoryMarts wraps src.
func NewMemoryMarts(src MemorySource) *MemoryMarts {
	return &MemoryMarts{src: src}
}

func (m *MemoryMarts) RebuildHourlyKPI(ctx context.Context, date time.Time) (int64, int, error) {
	facts, err := m.src.FactsForDate(ctx, date)
	if err != nil {
		return 0, 0, err
	}
	rows := HourlyRollup(date, facts)
	if err := m.src.OverwriteHourlyKPI(ctx, date, rows); err != nil {
		return 0, 0, err
	}
	return int64(len(facts)), len(rows), nil
}

func (m *MemoryMarts) RebuildAircraftActivity(ctx context.Context) (int, error) {
	facts, err := m.src.AllFacts(ctx)
	if err != nil {
		return 0, err
	}
	rows := AircraftActivitySummary(facts)
	return len(rows), m.src.ReplaceAircraftActivity(ctx, rows)
}

func (m *MemoryMarts) RebuildLatestPositions(ctx context.Context) (int, error) {
	facts, err := m.src.AllFacts(ctx)
	if err != nil {
		return 0, err
	}
	rows := LatestPositions(facts)
	return len(rows), m.src.ReplaceLatestPositions(ctx, rows)
}
