package statevector

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_CoverEveryTuplePosition(t *testing.T) {
	fields := Fields()
	require.Len(t, fields, TupleLen)

	var required []string
	for i, f := range fields {
		assert.Equal(t, i, f.Index, "field %s out of order", f.Name)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	assert.Equal(t, []string{"icao24", "longitude", "latitude"}, required)
}

func TestDecode_FullTuple(t *testing.T) {
	raw := json.RawMessage(`["a1","CALL1 ","IN",100,200,68.5,10.0,null,false,250.0,90.0,0.0,null,1000.0,null,false,0]`)

	d, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, d.Valid())
	assert.Empty(t, d.CastErrors)

	v := d.Vector
	assert.Equal(t, "a1", v.ICAO24)
	require.NotNil(t, v.Callsign)
	assert.Equal(t, "CALL1", *v.Callsign)
	assert.Equal(t, "IN", *v.OriginCountry)
	assert.Equal(t, int64(100), *v.TimePosition)
	assert.Equal(t, int64(200), *v.LastContact)
	assert.Equal(t, 68.5, v.Longitude)
	assert.Equal(t, 10.0, v.Latitude)
	assert.Nil(t, v.BaroAltitude)
	assert.False(t, *v.OnGround)
	assert.Equal(t, 250.0, *v.Velocity)
	assert.Equal(t, 90.0, *v.Heading)
	assert.Equal(t, 0.0, *v.VerticalRate)
	assert.Nil(t, v.Sensors)
	assert.Equal(t, 1000.0, *v.GeoAltitude)
	assert.Nil(t, v.Squawk)
	assert.False(t, *v.SPI)
	assert.Equal(t, int32(0), *v.PositionSource)
}

func TestDecode_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		missing []string
	}{
		{"null icao24", `[null,"X","IN",1,2,70,12]`, []string{"icao24"}},
		{"empty icao24", `["","X","IN",1,2,70,12]`, []string{"icao24"}},
		{"null longitude", `["abc","X","IN",1,2,null,12]`, []string{"longitude"}},
		{"short tuple", `["abc","X","IN",1,2,70]`, []string{"latitude"}},
		{"empty tuple", `[]`, []string{"icao24", "longitude", "latitude"}},
		{"uncastable latitude", `["abc","X","IN",1,2,70,"north"]`, []string{"latitude"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.False(t, d.Valid())
			assert.Equal(t, tt.missing, d.Missing)
		})
	}
}

func TestDecode_CastFailureDegradesToNull(t *testing.T) {
	raw := json.RawMessage(`["abc","  ","IN","soon",2,70,12,"high",true,true,null,null,[1,2],null,"7700","yes",5e9]`)

	d, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, d.Valid())

	v := d.Vector
	assert.Nil(t, v.Callsign, "blank callsign is null")
	assert.Nil(t, v.TimePosition)
	assert.Equal(t, int64(2), *v.LastContact)
	assert.Nil(t, v.BaroAltitude)
	assert.True(t, *v.OnGround)
	assert.Nil(t, v.Velocity, "bool does not cast to double")
	assert.Equal(t, "[1,2]", *v.Sensors)
	assert.Equal(t, "7700", *v.Squawk)
	assert.True(t, *v.SPI)
	assert.Nil(t, v.PositionSource, "out of int32 range")

	var names []string
	for _, ce := range d.CastErrors {
		names = append(names, ce.Field)
	}
	assert.Equal(t, []string{"time_position", "baro_altitude", "velocity", "position_source"}, names)
}

func TestDecode_StringEncodedNumbers(t *testing.T) {
	d, err := Decode(json.RawMessage(`["abc",null,null,"100"," 200 ","68.5","10.25",null,"0",null,null,null,null,null,4321,null,"1.9"]`))
	require.NoError(t, err)
	require.True(t, d.Valid())

	v := d.Vector
	assert.Equal(t, int64(100), *v.TimePosition)
	assert.Equal(t, int64(200), *v.LastContact)
	assert.Equal(t, 68.5, v.Longitude)
	assert.Equal(t, 10.25, v.Latitude)
	assert.False(t, *v.OnGround)
	assert.Equal(t, "4321", *v.Squawk)
	assert.Equal(t, int32(1), *v.PositionSource, "fractions truncate")
}

func TestDecode_NotATuple(t *testing.T) {
	for _, raw := range []string{`{"icao24":"abc"}`, `"abc"`, `null`} {
		_, err := Decode(json.RawMessage(raw))
		assert.True(t, errors.Is(err, ErrNotATuple), "%s: got %v", raw, err)
	}
}

func TestCastBool_NumericAndText(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want bool
	}{
		{json.Number("0"), false},
		{json.Number("2"), true},
		{"TRUE", true},
		{"f", false},
	} {
		got, err := castBool(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}

	_, err := castBool("maybe")
	assert.Error(t, err)
}
