package statevector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smukkama/flight-analytics/internal/database"
)

// ErrNotATuple is returned when a states element is not a JSON array.
var ErrNotATuple = errors.New("state is not an array")

// Decoded is one cast state tuple. Vector carries zero values for required
// fields listed in Missing; such rows must not be persisted.
type Decoded struct {
	Vector     database.StateVector
	Missing    []string
	CastErrors []CastError
}

// Valid reports whether every required field survived casting.
func (d *Decoded) Valid() bool { return len(d.Missing) == 0 }

// Decode maps a raw tuple onto a StateVector by position. Positions
// beyond the tuple length are null; extra positions are ignored.
func Decode(raw json.RawMessage) (*Decoded, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tuple []any
	if err := dec.Decode(&tuple); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotATuple
		}
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if tuple == nil {
		return nil, ErrNotATuple
	}
	return decodeValues(tuple), nil
}

func decodeValues(tuple []any) *Decoded {
	d := &Decoded{}
	for _, f := range schema {
		var raw any
		if f.Index < len(tuple) {
			raw = tuple[f.Index]
		}

		value, err := cast(f.Kind, raw)
		if err != nil {
			d.CastErrors = append(d.CastErrors, CastError{Field: f.Name, Index: f.Index, Value: raw, Err: err})
			value = nil
		}
		if f.Required && (value == nil || value == "") {
			d.Missing = append(d.Missing, f.Name)
			continue
		}
		if value != nil {
			f.set(&d.Vector, value)
		}
	}
	return d
}
