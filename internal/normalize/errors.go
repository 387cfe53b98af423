package normalize

import (
	"errors"
	"fmt"
)

var (
	// ErrRawStoreUnavailable is returned when the window's partition does
	// not exist at all.
	ErrRawStoreUnavailable = errors.New("raw store unavailable")

	// ErrEmptyRawData is returned when the partition exists but holds no
	// usable snapshot files.
	ErrEmptyRawData = errors.New("no usable raw data")
)

// PartialCommitError reports that the row append and the ledger append
// did not both land. The run is safe to retry: files that were not
// ledger-marked are reprocessed, possibly duplicating their rows.
type PartialCommitError struct {
	RowsCommitted bool
	Err           error
}

func (e *PartialCommitError) Error() string {
	if e.RowsCommitted {
		return fmt.Sprintf("partial commit: rows appended, ledger append failed: %v", e.Err)
	}
	return fmt.Sprintf("partial commit: row append failed: %v", e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
