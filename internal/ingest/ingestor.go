// Package ingest captures one upstream snapshot per run into the raw store.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/metrics"
	"github.com/smukkama/flight-analytics/internal/opensky"
	"github.com/smukkama/flight-analytics/internal/rawstore"
)

// Fetcher returns one verbatim upstream snapshot.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*opensky.Snapshot, error)
}

// UpstreamError wraps any token or API failure. Nothing is written when
// it is returned.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Result describes the file written by a run.
type Result struct {
	Key        string
	Bytes      int
	States     int
	CapturedAt time.Time
}

// Ingestor writes exactly one raw snapshot per successful run.
type Ingestor struct {
	fetcher Fetcher
	store   rawstore.Store
	logger  *zap.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(fetcher Fetcher, store rawstore.Store, logger *zap.Logger) *Ingestor {
	return &Ingestor{fetcher: fetcher, store: store, logger: logger}
}

// Run fetches a snapshot and stores it under its capture-time key.
func (i *Ingestor) Run(ctx context.Context) (*Result, error) {
	snap, err := i.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	key := rawstore.SnapshotKey(snap.CapturedAt)
	if err := i.store.Write(ctx, key, snap.Body); err != nil {
		return nil, fmt.Errorf("failed to write raw snapshot: %w", err)
	}

	if remaining, err := strconv.ParseFloat(snap.RateLimitRemaining, 64); err == nil {
		metrics.UpstreamRateLimitRemaining.Set(remaining)
	}

	i.logger.Info("raw snapshot stored",
		zap.String("key", key),
		zap.Int("states", snap.StateCount),
		zap.Int("bytes", len(snap.Body)))

	return &Result{
		Key:        key,
		Bytes:      len(snap.Body),
		States:     snap.StateCount,
		CapturedAt: snap.CapturedAt,
	}, nil
}
