package aggregation

import (
	"sort"

	"github.com/smukkama/flight-analytics/internal/database"
)

type activityBucket struct {
	count    int64
	velocity mean
	maxAlt   *float64
}

// AircraftActivitySummary computes per-aircraft snapshot count, mean
// velocity and max geo altitude over all facts.
func AircraftActivitySummary(facts []database.FactView) []database.AircraftActivity {
	buckets := make(map[string]*activityBucket)
	for _, f := range facts {
		b, ok := buckets[f.ICAO24]
		if !ok {
			b = &activityBucket{}
			buckets[f.ICAO24] = b
		}
		b.count++
		b.velocity.add(f.Velocity)
		if f.GeoAltitude != nil && (b.maxAlt == nil || *f.GeoAltitude > *b.maxAlt) {
			alt := *f.GeoAltitude
			b.maxAlt = &alt
		}
	}

	rows := make([]database.AircraftActivity, 0, len(buckets))
	for icao, b := range buckets {
		rows = append(rows, database.AircraftActivity{
			ICAO24:        icao,
			SnapshotCount: b.count,
			AvgVelocity:   b.velocity.value(),
			MaxAltitude:   b.maxAlt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ICAO24 < rows[j].ICAO24 })
	return rows
}

// LatestPositions picks, per aircraft, the fact with the greatest
// ingestion time. Among facts tied on that time the first one in scan
// order is kept; callers must not rely on which.
func LatestPositions(facts []database.FactView) []database.LatestPosition {
	latest := make(map[string]database.FactView)
	for _, f := range facts {
		cur, ok := latest[f.ICAO24]
		if !ok || f.IngestionTime.After(cur.IngestionTime) {
			latest[f.ICAO24] = f
		}
	}

	rows := make([]database.LatestPosition, 0, len(latest))
	for icao, f := range latest {
		rows = append(rows, database.LatestPosition{
			ICAO24:        icao,
			Longitude:     f.Longitude,
			Latitude:      f.Latitude,
			GeoAltitude:   f.GeoAltitude,
			Velocity:      f.Velocity,
			IngestionTime: f.IngestionTime,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ICAO24 < rows[j].ICAO24 })
	return rows
}
