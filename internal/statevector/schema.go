// Package statevector decodes the positional 17 element state tuples of
// the OpenSky API through a static schema table.
package statevector

import (
	"github.com/smukkama/flight-analytics/internal/database"
)

// Kind is the target type of a tuple position.
type Kind int

const (
	KindString Kind = iota
	KindTrimmedString
	KindInt64
	KindInt32
	KindFloat64
	KindBool
	KindJSONText
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindTrimmedString:
		return "trimmed string"
	case KindInt64:
		return "int64"
	case KindInt32:
		return "int32"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindJSONText:
		return "json text"
	default:
		return "unknown"
	}
}

// Field describes one tuple position. Required fields that are null after
// casting make the whole row invalid.
type Field struct {
	Name     string
	Index    int
	Kind     Kind
	Required bool

	set func(v *database.StateVector, value any)
}

// TupleLen is the number of positions in an upstream state tuple.
const TupleLen = 17

var schema = []Field{
	{Name: "icao24", Index: 0, Kind: KindString, Required: true,
		set: func(v *database.StateVector, x any) { v.ICAO24 = x.(string) }},
	{Name: "callsign", Index: 1, Kind: KindTrimmedString,
		set: func(v *database.StateVector, x any) { v.Callsign = ptr(x.(string)) }},
	{Name: "origin_country", Index: 2, Kind: KindString,
		set: func(v *database.StateVector, x any) { v.OriginCountry = ptr(x.(string)) }},
	{Name: "time_position", Index: 3, Kind: KindInt64,
		set: func(v *database.StateVector, x any) { v.TimePosition = ptr(x.(int64)) }},
	{Name: "last_contact", Index: 4, Kind: KindInt64,
		set: func(v *database.StateVector, x any) { v.LastContact = ptr(x.(int64)) }},
	{Name: "longitude", Index: 5, Kind: KindFloat64, Required: true,
		set: func(v *database.StateVector, x any) { v.Longitude = x.(float64) }},
	{Name: "latitude", Index: 6, Kind: KindFloat64, Required: true,
		set: func(v *database.StateVector, x any) { v.Latitude = x.(float64) }},
	{Name: "baro_altitude", Index: 7, Kind: KindFloat64,
		set: func(v *database.StateVector, x any) { v.BaroAltitude = ptr(x.(float64)) }},
	{Name: "on_ground", Index: 8, Kind: KindBool,
		set: func(v *database.StateVector, x any) { v.OnGround = ptr(x.(bool)) }},
	{Name: "velocity", Index: 9, Kind: KindFloat64,
		set: func(v *database.StateVector, x any) { v.Velocity = ptr(x.(float64)) }},
	{Name: "heading", Index: 10, Kind: KindFloat64,
		set: func(v *database.StateVector, x any) { v.Heading = ptr(x.(float64)) }},
	{Name: "vertical_rate", Index: 11, Kind: KindFloat64,
		set: func(v *database.StateVector, x any) { v.VerticalRate = ptr(x.(float64)) }},
	{Name: "sensors", Index: 12, Kind: KindJSONText,
		set: func(v *database.StateVector, x any) { v.Sensors = ptr(x.(string)) }},
	{Name: "geo_altitude", Index: 13, Kind: KindFloat64,
		set: func(v *database.StateVector, x any) { v.GeoAltitude = ptr(x.(float64)) }},
	{Name: "squawk", Index: 14, Kind: KindString,
		set: func(v *database.StateVector, x any) { v.Squawk = ptr(x.(string)) }},
	{Name: "spi", Index: 15, Kind: KindBool,
		set: func(v *database.StateVector, x any) { v.SPI = ptr(x.(bool)) }},
	{Name: "position_source", Index: 16, Kind: KindInt32,
		set: func(v *database.StateVector, x any) { v.PositionSource = ptr(x.(int32)) }},
}

// Fields returns the decoding table in index order.
func Fields() []Field {
	out := make([]Field, len(schema))
	copy(out, schema)
	return out
}

func ptr[T any](v T) *T { return &v }
