// Package rawstore persists verbatim upstream snapshots in a date
// partitioned layout: {root}/year=YYYY/month=MM/day=DD/opensky_HHMMSS.json.
package rawstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPrefixNotFound is returned by List when the partition does not exist.
	ErrPrefixNotFound = errors.New("raw store prefix does not exist")
	// ErrExists is returned by Write when the target file is already present.
	ErrExists = errors.New("raw snapshot already exists")
)

// Store is the raw snapshot layer. Keys are slash separated and relative
// to the store root.
type Store interface {
	Write(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// DayPrefix returns the partition prefix holding snapshots captured on t's
// UTC date.
func DayPrefix(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d", t.Year(), int(t.Month()), t.Day())
}

// SnapshotKey returns the key for a snapshot captured at t. Keys are
// unique per capture second.
func SnapshotKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/opensky_%s.json", DayPrefix(t), t.Format("150405"))
}
