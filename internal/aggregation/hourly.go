package aggregation

import (
	"sort"
	"time"

	"github.com/smukkama/flight-analytics/internal/database"
)

// mean accumulates an average over non-null samples.
type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

type hourBucket struct {
	total    int64
	velocity mean
	altitude mean
	onGround int64
	inAir    int64
}

// HourlyRollup groups the facts of date by hour. Facts of other dates are
// ignored. A null on_ground counts as neither on ground nor in air.
func HourlyRollup(date time.Time, facts []database.FactView) []database.HourlyKPI {
	date = database.DateOf(date)

	buckets := make(map[int]*hourBucket)
	for _, f := range facts {
		if !f.FlightDate.Equal(date) {
			continue
		}
		b, ok := buckets[f.Hour]
		if !ok {
			b = &hourBucket{}
			buckets[f.Hour] = b
		}
		b.total++
		b.velocity.add(f.Velocity)
		b.altitude.add(f.GeoAltitude)
		if f.OnGround != nil {
			if *f.OnGround {
				b.onGround++
			} else {
				b.inAir++
			}
		}
	}

	rows := make([]database.HourlyKPI, 0, len(buckets))
	for hour, b := range buckets {
		rows = append(rows, database.HourlyKPI{
			FlightDate:      date,
			Hour:            hour,
			TotalFlights:    b.total,
			AvgVelocity:     b.velocity.value(),
			AvgAltitude:     b.altitude.value(),
			FlightsOnGround: b.onGround,
			FlightsInAir:    b.inAir,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Hour < rows[j].Hour })
	return rows
}
