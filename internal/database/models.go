package database

import (
	"time"
)

// StateVector is one flattened, cast and validated aircraft observation
// (silver_state_vectors). ICAO24, Longitude and Latitude are never empty
// once persisted.
type StateVector struct {
	ID             int64 // assigned by the store on append
	ICAO24         string
	Callsign       *string
	OriginCountry  *string
	TimePosition   *int64
	LastContact    *int64
	Longitude      float64
	Latitude       float64
	BaroAltitude   *float64
	OnGround       *bool
	Velocity       *float64
	Heading        *float64
	VerticalRate   *float64
	Sensors        *string
	GeoAltitude    *float64
	Squawk         *string
	SPI            *bool
	PositionSource *int32
	IngestionTime  time.Time
	SourceFile     string
}

// LedgerEntry records one raw snapshot file consumed by the normalizer.
type LedgerEntry struct {
	SourceFile  string
	ProcessedAt time.Time
}

// AircraftSource is a candidate row for the aircraft dimension.
type AircraftSource struct {
	ICAO24        string
	OriginCountry *string
}

// DimAircraft is one row of the aircraft dimension. Key is assigned on
// first sighting and never changes.
type DimAircraft struct {
	Key           int64
	ICAO24        string
	OriginCountry *string
}

// DimTime is one row of the time dimension at second granularity.
type DimTime struct {
	Key        int64
	EventTime  time.Time
	FlightDate time.Time
	Year       int
	Month      int
	Day        int
	Hour       int
}

// NewDimTime decomposes an epoch second into its calendar attributes (UTC).
func NewDimTime(epoch int64) DimTime {
	t := time.Unix(epoch, 0).UTC()
	return DimTime{
		EventTime:  t,
		FlightDate: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		Year:       t.Year(),
		Month:      int(t.Month()),
		Day:        t.Day(),
		Hour:       t.Hour(),
	}
}

// FactFlightSnapshot is one fact row per joined state vector.
type FactFlightSnapshot struct {
	AircraftKey   int64
	TimeKey       int64
	Longitude     float64
	Latitude      float64
	GeoAltitude   *float64
	Velocity      *float64
	VerticalRate  *float64
	OnGround      *bool
	IngestionTime time.Time
}

// FactView is a fact row joined back to its dimensions, the shape the
// aggregator reads.
type FactView struct {
	FactFlightSnapshot
	ICAO24     string
	FlightDate time.Time
	Hour       int
}

// HourlyKPI is one row of mart_kpi_hourly, partitioned by FlightDate.
type HourlyKPI struct {
	FlightDate      time.Time
	Hour            int
	TotalFlights    int64
	AvgVelocity     *float64
	AvgAltitude     *float64
	FlightsOnGround int64
	FlightsInAir    int64
}

// AircraftActivity is one row of mart_kpi_aircraft_activity.
type AircraftActivity struct {
	ICAO24        string
	SnapshotCount int64
	AvgVelocity   *float64
	MaxAltitude   *float64
}

// LatestPosition is one row of mart_kpi_aircraft_latest_position.
type LatestPosition struct {
	ICAO24        string
	Longitude     float64
	Latitude      float64
	GeoAltitude   *float64
	Velocity      *float64
	IngestionTime time.Time
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
