package app

import (
	"fmt"
	"time"
)

// ParseWindow parses a -date flag value (YYYY-MM-DD, UTC). An empty value
// means today.
func ParseWindow(value string, now time.Time) (time.Time, error) {
	if value == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -date %q (want YYYY-MM-DD): %w", value, err)
	}
	return t, nil
}
