// Package normalize turns raw snapshot files into silver state vectors,
// processing every file exactly once through the file ledger.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/metrics"
	"github.com/smukkama/flight-analytics/internal/opensky"
	"github.com/smukkama/flight-analytics/internal/rawstore"
	"github.com/smukkama/flight-analytics/internal/statevector"
)

// Ledger is the append-only record of consumed raw files. It does no
// locking of its own; callers serialize normalizer runs.
type Ledger interface {
	Contains(ctx context.Context, sourceFile string) (bool, error)
	AppendAll(ctx context.Context, sourceFiles []string, processedAt time.Time) error
}

// Sink receives validated state vectors.
type Sink interface {
	AppendStateVectors(ctx context.Context, rows []database.StateVector) error
}

var (
	_ Ledger = (*database.MemStore)(nil)
	_ Ledger = (*database.PostgresStore)(nil)
	_ Sink   = (*database.MemStore)(nil)
	_ Sink   = (*database.PostgresStore)(nil)
)

// Result summarizes one normalizer run.
type Result struct {
	RowsWritten    int
	FilesSkipped   int
	FilesProcessed int
	// FilesCorrupt could be read but not parsed. Raw snapshots never
	// change, so they are ledger-marked with no rows.
	FilesCorrupt int
	// FilesUnreadable failed to read and are retried on the next run.
	FilesUnreadable int
	RowsDropped     int
	CastErrors      int
}

// NoNewData reports the steady-state case where every discovered file was
// already in the ledger.
func (r *Result) NoNewData() bool {
	return r.FilesProcessed == 0 && r.FilesCorrupt == 0 && r.FilesUnreadable == 0
}

// corruptError marks a snapshot whose bytes cannot be parsed.
type corruptError struct{ err error }

func (e *corruptError) Error() string { return e.err.Error() }
func (e *corruptError) Unwrap() error { return e.err }

// Normalizer flattens, casts and validates raw snapshots.
type Normalizer struct {
	raw    rawstore.Store
	ledger Ledger
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewNormalizer creates a normalizer.
func NewNormalizer(raw rawstore.Store, ledger Ledger, sink Sink, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		raw:    raw,
		ledger: ledger,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Run processes the files of window's UTC day that are not yet in the
// ledger.
func (n *Normalizer) Run(ctx context.Context, window time.Time) (*Result, error) {
	prefix := rawstore.DayPrefix(window)

	candidates, err := n.discover(ctx, prefix)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	var newFiles []string
	for _, key := range candidates {
		seen, err := n.ledger.Contains(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check ledger for %s: %w", key, err)
		}
		if seen {
			res.FilesSkipped++
			continue
		}
		newFiles = append(newFiles, key)
	}

	if len(newFiles) == 0 {
		n.logger.Info("no new raw files",
			zap.String("prefix", prefix),
			zap.Int("files_skipped", res.FilesSkipped))
		return res, nil
	}

	ingestionTime := n.now().UTC()
	var rows []database.StateVector
	var readable, corrupt []string
	for _, key := range newFiles {
		fileRows, err := n.flatten(ctx, key, ingestionTime, res)
		var ce *corruptError
		switch {
		case errors.As(err, &ce):
			corrupt = append(corrupt, key)
			metrics.FilesCorrupt.Inc()
			n.logger.Warn("corrupt raw file, marking as consumed", zap.String("file", key), zap.Error(err))
			continue
		case err != nil:
			res.FilesUnreadable++
			metrics.FilesUnreadable.Inc()
			n.logger.Warn("unreadable raw file, will retry", zap.String("file", key), zap.Error(err))
			continue
		}
		readable = append(readable, key)
		rows = append(rows, fileRows...)
	}
	res.FilesCorrupt = len(corrupt)
	consumed := append(append([]string(nil), readable...), corrupt...)

	if len(readable) == 0 && res.FilesSkipped == 0 {
		if len(corrupt) > 0 {
			if err := n.ledger.AppendAll(ctx, corrupt, n.now().UTC()); err != nil {
				return nil, fmt.Errorf("failed to mark corrupt files: %w", err)
			}
		}
		return nil, fmt.Errorf("%w: none of the %d new files under %s is usable", ErrEmptyRawData, len(newFiles), prefix)
	}

	if len(rows) > 0 {
		if err := n.sink.AppendStateVectors(ctx, rows); err != nil {
			return nil, &PartialCommitError{Err: err}
		}
	}
	if len(consumed) > 0 {
		if err := n.ledger.AppendAll(ctx, consumed, n.now().UTC()); err != nil {
			return nil, &PartialCommitError{RowsCommitted: len(rows) > 0, Err: err}
		}
	}

	res.RowsWritten = len(rows)
	res.FilesProcessed = len(readable)
	metrics.RowsWritten.WithLabelValues("silver_state_vectors").Add(float64(res.RowsWritten))
	metrics.RowsDropped.Add(float64(res.RowsDropped))

	n.logger.Info("normalized raw files",
		zap.String("prefix", prefix),
		zap.Int("files_processed", res.FilesProcessed),
		zap.Int("files_skipped", res.FilesSkipped),
		zap.Int("files_corrupt", res.FilesCorrupt),
		zap.Int("files_unreadable", res.FilesUnreadable),
		zap.Int("rows_written", res.RowsWritten),
		zap.Int("rows_dropped", res.RowsDropped),
		zap.Int("cast_errors", res.CastErrors))

	return res, nil
}

// discover lists the eligible files under prefix, distinct and sorted.
func (n *Normalizer) discover(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.raw.List(ctx, prefix)
	if err != nil {
		if errors.Is(err, rawstore.ErrPrefixNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrRawStoreUnavailable, prefix, err)
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	seen := make(map[string]struct{}, len(keys))
	var candidates []string
	for _, key := range keys {
		if path.Ext(key) != ".json" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, key)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no snapshot files under %s", ErrEmptyRawData, prefix)
	}
	return candidates, nil
}

// flatten expands one snapshot file into validated rows. Files that are
// read but cannot be parsed fail with a *corruptError; bad tuples only
// count as drops.
func (n *Normalizer) flatten(ctx context.Context, key string, ingestionTime time.Time, res *Result) ([]database.StateVector, error) {
	body, err := n.raw.Read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		return nil, &corruptError{errors.New("snapshot is not a JSON object")}
	}

	var envelope opensky.StatesResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &corruptError{fmt.Errorf("decode: %w", err)}
	}

	rows := make([]database.StateVector, 0, len(envelope.States))
	for _, raw := range envelope.States {
		d, err := statevector.Decode(raw)
		if err != nil {
			res.RowsDropped++
			continue
		}
		for _, ce := range d.CastErrors {
			metrics.CastErrors.WithLabelValues(ce.Field).Inc()
		}
		res.CastErrors += len(d.CastErrors)
		if !d.Valid() {
			res.RowsDropped++
			continue
		}

		row := d.Vector
		row.IngestionTime = ingestionTime
		row.SourceFile = key
		rows = append(rows, row)
	}
	return rows, nil
}
