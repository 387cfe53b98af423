package statevector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var errIncompatible = errors.New("incompatible source type")

// CastError reports a tuple position whose value could not be coerced to
// the field type. The field is stored as null.
type CastError struct {
	Field string
	Index int
	Value any
	Err   error
}

func (e CastError) Error() string {
	return fmt.Sprintf("cast %s (index %d) from %v: %v", e.Field, e.Index, e.Value, e.Err)
}

func (e CastError) Unwrap() error { return e.Err }

// cast coerces a decoded JSON value (nil, bool, string, json.Number,
// []any, map[string]any) into kind. A nil result with nil error is a null.
func cast(kind Kind, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case KindString:
		return castString(value)
	case KindTrimmedString:
		s, err := castString(value)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		return s, nil
	case KindFloat64:
		return castFloat(value)
	case KindInt64:
		return castInt(value, math.MinInt64, math.MaxInt64)
	case KindInt32:
		n, err := castInt(value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case KindBool:
		return castBool(value)
	case KindJSONText:
		return castJSONText(value)
	}
	return nil, fmt.Errorf("unsupported kind %v", kind)
}

func castString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", errIncompatible
}

func castFloat(value any) (float64, error) {
	var s string
	switch v := value.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0, errIncompatible
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return f, nil
}

// castInt accepts integral and fractional numbers; fractions truncate
// toward zero.
func castInt(value any, lo, hi int64) (int64, error) {
	var s string
	switch v := value.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0, errIncompatible
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < lo || n > hi {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	f = math.Trunc(f)
	if math.IsNaN(f) || f < float64(lo) || f > float64(hi) {
		return 0, fmt.Errorf("value %q out of range", s)
	}
	return int64(f), nil
}

func castBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	}
	return false, errIncompatible
}

// castJSONText renders arrays and objects as compact JSON and scalars as
// their string form.
func castJSONText(value any) (string, error) {
	switch value.(type) {
	case []any, map[string]any:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(value); err != nil {
			return "", err
		}
		return strings.TrimRight(buf.String(), "\n"), nil
	}
	return castString(value)
}
