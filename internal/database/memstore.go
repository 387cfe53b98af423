package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process table engine with the same primitives as
// PostgresStore. Every call is atomic under one mutex. It backs the
// PIPELINE_STORE=memory dry-run mode and the stage fixtures in tests.
type MemStore struct {
	mu sync.Mutex

	stateVectors []StateVector
	nextVectorID int64
	ledger       []LedgerEntry

	aircraft     []DimAircraft
	aircraftByID map[string]int
	nextAircraft int64
	times        []DimTime
	timesByEpoch map[int64]int
	nextTime     int64
	facts        []FactFlightSnapshot
	loaderMark   int64

	hourly   []HourlyKPI
	activity []AircraftActivity
	latest   []LatestPosition
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		aircraftByID: make(map[string]int),
		timesByEpoch: make(map[int64]int),
	}
}

// AppendStateVectors appends rows, assigning increasing ids.
func (m *MemStore) AppendStateVectors(ctx context.Context, rows []StateVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		m.nextVectorID++
		row.ID = m.nextVectorID
		m.stateVectors = append(m.stateVectors, row)
	}
	return nil
}

// Contains reports whether sourceFile has ever been ledger-marked.
func (m *MemStore) Contains(ctx context.Context, sourceFile string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.ledger {
		if e.SourceFile == sourceFile {
			return true, nil
		}
	}
	return false, nil
}

// AppendAll appends one ledger entry per file. Uniqueness is the caller's
// contract (anti-join before append), as with the Postgres ledger.
func (m *MemStore) AppendAll(ctx context.Context, sourceFiles []string, processedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range sourceFiles {
		m.ledger = append(m.ledger, LedgerEntry{SourceFile: f, ProcessedAt: processedAt})
	}
	return nil
}

// LoadCheckpoint returns the id of the last state vector loaded into facts.
func (m *MemStore) LoadCheckpoint(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaderMark, nil
}

// StateVectorsAfter returns state vectors with id > afterID in id order.
func (m *MemStore) StateVectorsAfter(ctx context.Context, afterID int64) ([]StateVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StateVector
	for _, row := range m.stateVectors {
		if row.ID > afterID {
			out = append(out, row)
		}
	}
	return out, nil
}

// MergeAircraft inserts sources whose ICAO24 is unknown and leaves known
// aircraft untouched. Returns the number of rows inserted.
func (m *MemStore) MergeAircraft(ctx context.Context, rows []AircraftSource) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, src := range rows {
		if _, ok := m.aircraftByID[src.ICAO24]; ok {
			continue
		}
		m.nextAircraft++
		m.aircraftByID[src.ICAO24] = len(m.aircraft)
		m.aircraft = append(m.aircraft, DimAircraft{
			Key:           m.nextAircraft,
			ICAO24:        src.ICAO24,
			OriginCountry: src.OriginCountry,
		})
		inserted++
	}
	return inserted, nil
}

// MergeTimes inserts unknown event times (insert-only).
func (m *MemStore) MergeTimes(ctx context.Context, rows []DimTime) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, row := range rows {
		epoch := row.EventTime.Unix()
		if _, ok := m.timesByEpoch[epoch]; ok {
			continue
		}
		m.nextTime++
		row.Key = m.nextTime
		m.timesByEpoch[epoch] = len(m.times)
		m.times = append(m.times, row)
		inserted++
	}
	return inserted, nil
}

// AircraftKeys maps the requested ICAO24 codes to surrogate keys. Unknown
// codes are absent from the result.
func (m *MemStore) AircraftKeys(ctx context.Context, icao24s []string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make(map[string]int64, len(icao24s))
	for _, id := range icao24s {
		if idx, ok := m.aircraftByID[id]; ok {
			keys[id] = m.aircraft[idx].Key
		}
	}
	return keys, nil
}

// TimeKeys maps epoch seconds to time dimension keys.
func (m *MemStore) TimeKeys(ctx context.Context, epochs []int64) (map[int64]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make(map[int64]int64, len(epochs))
	for _, e := range epochs {
		if idx, ok := m.timesByEpoch[e]; ok {
			keys[e] = m.times[idx].Key
		}
	}
	return keys, nil
}

// AppendFacts appends facts and advances the loader checkpoint together.
func (m *MemStore) AppendFacts(ctx context.Context, facts []FactFlightSnapshot, checkpoint int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.facts = append(m.facts, facts...)
	if checkpoint > m.loaderMark {
		m.loaderMark = checkpoint
	}
	return nil
}

// FactsForDate returns facts whose time dimension falls on date.
func (m *MemStore) FactsForDate(ctx context.Context, date time.Time) ([]FactView, error) {
	date = DateOf(date)
	return m.factViews(ctx, func(t DimTime) bool { return t.FlightDate.Equal(date) })
}

// AllFacts returns every fact joined to its dimensions.
func (m *MemStore) AllFacts(ctx context.Context) ([]FactView, error) {
	return m.factViews(ctx, func(DimTime) bool { return true })
}

func (m *MemStore) factViews(ctx context.Context, keep func(DimTime) bool) ([]FactView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	aircraft := make(map[int64]string, len(m.aircraft))
	for _, a := range m.aircraft {
		aircraft[a.Key] = a.ICAO24
	}
	times := make(map[int64]DimTime, len(m.times))
	for _, t := range m.times {
		times[t.Key] = t
	}

	var out []FactView
	for _, f := range m.facts {
		icao, ok := aircraft[f.AircraftKey]
		if !ok {
			continue
		}
		t, ok := times[f.TimeKey]
		if !ok || !keep(t) {
			continue
		}
		out = append(out, FactView{
			FactFlightSnapshot: f,
			ICAO24:             icao,
			FlightDate:         t.FlightDate,
			Hour:               t.Hour,
		})
	}
	return out, nil
}

// OverwriteHourlyKPI replaces the rows of the date partition only.
func (m *MemStore) OverwriteHourlyKPI(ctx context.Context, date time.Time, rows []HourlyKPI) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	date = DateOf(date)
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.hourly[:0:0]
	for _, row := range m.hourly {
		if !row.FlightDate.Equal(date) {
			kept = append(kept, row)
		}
	}
	m.hourly = append(kept, rows...)
	return nil
}

// ReplaceAircraftActivity rebuilds the activity table.
func (m *MemStore) ReplaceAircraftActivity(ctx context.Context, rows []AircraftActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append([]AircraftActivity(nil), rows...)
	return nil
}

// ReplaceLatestPositions rebuilds the latest position table.
func (m *MemStore) ReplaceLatestPositions(ctx context.Context, rows []LatestPosition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = append([]LatestPosition(nil), rows...)
	return nil
}

// StateVectors returns a copy of the silver rows in append order.
func (m *MemStore) StateVectors() []StateVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StateVector(nil), m.stateVectors...)
}

// Ledger returns a copy of the file ledger.
func (m *MemStore) Ledger() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerEntry(nil), m.ledger...)
}

// Aircraft returns the aircraft dimension in key order.
func (m *MemStore) Aircraft() []DimAircraft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DimAircraft(nil), m.aircraft...)
}

// Times returns the time dimension in key order.
func (m *MemStore) Times() []DimTime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DimTime(nil), m.times...)
}

// Facts returns a copy of the fact table.
func (m *MemStore) Facts() []FactFlightSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FactFlightSnapshot(nil), m.facts...)
}

// HourlyKPIs returns the rollup sorted by (date, hour).
func (m *MemStore) HourlyKPIs() []HourlyKPI {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]HourlyKPI(nil), m.hourly...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FlightDate.Equal(out[j].FlightDate) {
			return out[i].FlightDate.Before(out[j].FlightDate)
		}
		return out[i].Hour < out[j].Hour
	})
	return out
}

// AircraftActivity returns the activity mart.
func (m *MemStore) AircraftActivity() []AircraftActivity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AircraftActivity(nil), m.activity...)
}

// LatestPositions returns the latest position mart.
func (m *MemStore) LatestPositions() []LatestPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LatestPosition(nil), m.latest...)
}
