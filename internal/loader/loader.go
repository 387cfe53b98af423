// Package loader maintains the gold star schema: the insert-only aircraft
// and time dimensions and the flight snapshot fact table.
package loader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/metrics"
)

// Source yields silver state vectors past the loader checkpoint.
type Source interface {
	LoadCheckpoint(ctx context.Context) (int64, error)
	StateVectorsAfter(ctx context.Context, afterID int64) ([]database.StateVector, error)
}

// Dimensions are natural to surrogate key maps with insert-only merges.
type Dimensions interface {
	MergeAircraft(ctx context.Context, rows []database.AircraftSource) (int, error)
	MergeTimes(ctx context.Context, rows []database.DimTime) (int, error)
	AircraftKeys(ctx context.Context, icao24s []string) (map[string]int64, error)
	TimeKeys(ctx context.Context, epochs []int64) (map[int64]int64, error)
}

// FactSink appends facts and moves the checkpoint in one commit.
type FactSink interface {
	AppendFacts(ctx context.Context, facts []database.FactFlightSnapshot, checkpoint int64) error
}

// Store is everything the loader touches.
type Store interface {
	Source
	Dimensions
	FactSink
}

var (
	_ Store = (*database.MemStore)(nil)
	_ Store = (*database.PostgresStore)(nil)
)

// Result summarizes one load.
type Result struct {
	StateVectorsRead int
	AircraftInserted int
	TimesInserted    int
	FactsWritten     int
	JoinGaps         int
	Checkpoint       int64
}

// Loader runs the two dimension merges and the fact insert, in that order.
type Loader struct {
	store  Store
	logger *zap.Logger
}

// NewLoader creates a loader.
func NewLoader(store Store, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// Run loads every state vector normalized since the last checkpoint.
func (l *Loader) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	checkpoint, err := l.store.LoadCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read loader checkpoint: %w", err)
	}
	rows, err := l.store.StateVectorsAfter(ctx, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to read state vectors: %w", err)
	}

	res := &Result{StateVectorsRead: len(rows), Checkpoint: checkpoint}
	if len(rows) == 0 {
		l.logger.Info("no new state vectors", zap.Int64("checkpoint", checkpoint))
		return res, nil
	}

	aircraft, icaos := aircraftSources(rows)
	if res.AircraftInserted, err = l.store.MergeAircraft(ctx, aircraft); err != nil {
		return nil, fmt.Errorf("failed to merge aircraft dimension: %w", err)
	}

	times, epochs := timeSources(rows)
	if res.TimesInserted, err = l.store.MergeTimes(ctx, times); err != nil {
		return nil, fmt.Errorf("failed to merge time dimension: %w", err)
	}

	// Keys are read only after both merges have landed so rows seen for
	// the first time in this batch still join.
	aircraftKeys, err := l.store.AircraftKeys(ctx, icaos)
	if err != nil {
		return nil, fmt.Errorf("failed to look up aircraft keys: %w", err)
	}
	timeKeys, err := l.store.TimeKeys(ctx, epochs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up time keys: %w", err)
	}

	facts := make([]database.FactFlightSnapshot, 0, len(rows))
	var maxID int64
	for _, row := range rows {
		if row.ID > maxID {
			maxID = row.ID
		}

		aircraftKey, ok := aircraftKeys[row.ICAO24]
		if !ok {
			res.JoinGaps++
			metrics.JoinGaps.WithLabelValues("aircraft").Inc()
			continue
		}
		if row.LastContact == nil {
			res.JoinGaps++
			metrics.JoinGaps.WithLabelValues("time").Inc()
			continue
		}
		timeKey, ok := timeKeys[*row.LastContact]
		if !ok {
			res.JoinGaps++
			metrics.JoinGaps.WithLabelValues("time").Inc()
			continue
		}

		facts = append(facts, database.FactFlightSnapshot{
			AircraftKey:   aircraftKey,
			TimeKey:       timeKey,
			Longitude:     row.Longitude,
			Latitude:      row.Latitude,
			GeoAltitude:   row.GeoAltitude,
			Velocity:      row.Velocity,
			VerticalRate:  row.VerticalRate,
			OnGround:      row.OnGround,
			IngestionTime: row.IngestionTime,
		})
	}

	if err := l.store.AppendFacts(ctx, facts, maxID); err != nil {
		return nil, fmt.Errorf("failed to append facts: %w", err)
	}
	res.FactsWritten = len(facts)
	res.Checkpoint = maxID

	metrics.RowsWritten.WithLabelValues("gold_dim_aircraft").Add(float64(res.AircraftInserted))
	metrics.RowsWritten.WithLabelValues("gold_dim_time").Add(float64(res.TimesInserted))
	metrics.RowsWritten.WithLabelValues("gold_fact_flight_snapshot").Add(float64(res.FactsWritten))

	l.logger.Info("star schema loaded",
		zap.Int("state_vectors", res.StateVectorsRead),
		zap.Int("aircraft_inserted", res.AircraftInserted),
		zap.Int("times_inserted", res.TimesInserted),
		zap.Int("facts_written", res.FactsWritten),
		zap.Int("join_gaps", res.JoinGaps),
		zap.Int64("checkpoint", res.Checkpoint),
		zap.Duration("duration", time.Since(start)))

	return res, nil
}

// aircraftSources returns one candidate per ICAO24, first sighting wins.
func aircraftSources(rows []database.StateVector) ([]database.AircraftSource, []string) {
	seen := make(map[string]struct{})
	var sources []database.AircraftSource
	var icaos []string
	for _, row := range rows {
		if _, ok := seen[row.ICAO24]; ok {
			continue
		}
		seen[row.ICAO24] = struct{}{}
		sources = append(sources, database.AircraftSource{ICAO24: row.ICAO24, OriginCountry: row.OriginCountry})
		icaos = append(icaos, row.ICAO24)
	}
	return sources, icaos
}

// timeSources returns the distinct last_contact seconds of rows.
func timeSources(rows []database.StateVector) ([]database.DimTime, []int64) {
	seen := make(map[int64]struct{})
	var times []database.DimTime
	var epochs []int64
	for _, row := range rows {
		if row.LastContact == nil {
			continue
		}
		epoch := *row.LastContact
		if _, ok := seen[epoch]; ok {
			continue
		}
		seen[epoch] = struct{}{}
		times = append(times, database.NewDimTime(epoch))
		epochs = append(epochs, epoch)
	}
	return times, epochs
}
