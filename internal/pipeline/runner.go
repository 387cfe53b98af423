// Package pipeline runs the four stages under a run lock, records their
// outcome in metrics and publishes a stage event after every run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/aggregation"
	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/ingest"
	"github.com/smukkama/flight-analytics/internal/loader"
	"github.com/smukkama/flight-analytics/internal/logging"
	"github.com/smukkama/flight-analytics/internal/metrics"
	"github.com/smukkama/flight-analytics/internal/normalize"
	"github.com/smukkama/flight-analytics/internal/protocol"
	"github.com/smukkama/flight-analytics/internal/runlock"
)

type Ingestor interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

type Normalizer interface {
	Run(ctx context.Context, window time.Time) (*normalize.Result, error)
}

type Loader interface {
	Run(ctx context.Context) (*loader.Result, error)
}

type Aggregator interface {
	Run(ctx context.Context, windowDate time.Time) (*aggregation.Result, error)
}

// Locker serializes runs of the same stage.
type Locker interface {
	// Acquire returns a lease context that ends when the lock is lost;
	// the stage body runs under it.
	Acquire(ctx context.Context, stage, runID string) (context.Context, runlock.Release, error)
}

// Publisher delivers encoded stage events keyed by stage.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Stages bundles the stage implementations. Nil stages cannot be run.
type Stages struct {
	Ingestor   Ingestor
	Normalizer Normalizer
	Loader     Loader
	Aggregator Aggregator
}

// Runner wraps every stage run with locking, logging, metrics and events.
type Runner struct {
	stages    Stages
	locker    Locker
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	newRunID  func() string

	mu       sync.Mutex
	statuses map[string]metrics.StageStatus
}

// NewRunner creates a runner. publisher may be nil to disable events.
func NewRunner(stages Stages, locker Locker, publisher Publisher, logger *zap.Logger) *Runner {
	return &Runner{
		stages:    stages,
		locker:    locker,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newRunID:  uuid.NewString,
		statuses:  make(map[string]metrics.StageStatus),
	}
}

// outcome is what a stage body reports back to runStage.
type outcome struct {
	counts map[string]int64
	noop   bool
}

// RunIngest captures one snapshot.
func (r *Runner) RunIngest(ctx context.Context) (*ingest.Result, error) {
	return r.ingest(ctx, r.newRunID())
}

// RunNormalize normalizes the unprocessed files of window's day.
func (r *Runner) RunNormalize(ctx context.Context, window time.Time) (*normalize.Result, error) {
	return r.normalize(ctx, r.newRunID(), window)
}

// RunLoad loads new state vectors into the star schema.
func (r *Runner) RunLoad(ctx context.Context) (*loader.Result, error) {
	return r.load(ctx, r.newRunID())
}

// RunAggregate rebuilds the marts for windowDate.
func (r *Runner) RunAggregate(ctx context.Context, windowDate time.Time) (*aggregation.Result, error) {
	return r.aggregate(ctx, r.newRunID(), windowDate)
}

// RunCycle runs ingest, normalize, load and aggregate under one run id.
// The first failing stage ends the cycle.
func (r *Runner) RunCycle(ctx context.Context) error {
	runID := r.newRunID()

	snap, err := r.ingest(ctx, runID)
	if err != nil {
		return err
	}
	if _, err := r.normalize(ctx, runID, snap.CapturedAt); err != nil {
		return err
	}
	if _, err := r.load(ctx, runID); err != nil {
		return err
	}
	if _, err := r.aggregate(ctx, runID, snap.CapturedAt); err != nil {
		return err
	}
	return nil
}

func (r *Runner) ingest(ctx context.Context, runID string) (*ingest.Result, error) {
	if r.stages.Ingestor == nil {
		return nil, fmt.Errorf("%s stage is not configured", protocol.StageIngest)
	}
	var res *ingest.Result
	err := r.runStage(ctx, protocol.StageIngest, runID, "", func(ctx context.Context) (outcome, error) {
		var err error
		if res, err = r.stages.Ingestor.Run(ctx); err != nil {
			return outcome{}, err
		}
		return outcome{counts: map[string]int64{
			"bytes":  int64(res.Bytes),
			"states": int64(res.States),
		}}, nil
	})
	return res, err
}

func (r *Runner) normalize(ctx context.Context, runID string, window time.Time) (*normalize.Result, error) {
	if r.stages.Normalizer == nil {
		return nil, fmt.Errorf("%s stage is not configured", protocol.StageNormalize)
	}
	var res *normalize.Result
	err := r.runStage(ctx, protocol.StageNormalize, runID, windowLabel(window), func(ctx context.Context) (outcome, error) {
		var err error
		if res, err = r.stages.Normalizer.Run(ctx, window); err != nil {
			return outcome{}, err
		}
		return outcome{
			noop: res.NoNewData(),
			counts: map[string]int64{
				"rows_written":     int64(res.RowsWritten),
				"rows_dropped":     int64(res.RowsDropped),
				"cast_errors":      int64(res.CastErrors),
				"files_processed":  int64(res.FilesProcessed),
				"files_skipped":    int64(res.FilesSkipped),
				"files_corrupt":    int64(res.FilesCorrupt),
				"files_unreadable": int64(res.FilesUnreadable),
			},
		}, nil
	})
	return res, err
}

func (r *Runner) load(ctx context.Context, runID string) (*loader.Result, error) {
	if r.stages.Loader == nil {
		return nil, fmt.Errorf("%s stage is not configured", protocol.StageLoad)
	}
	var res *loader.Result
	err := r.runStage(ctx, protocol.StageLoad, runID, "", func(ctx context.Context) (outcome, error) {
		var err error
		if res, err = r.stages.Loader.Run(ctx); err != nil {
			return outcome{}, err
		}
		return outcome{
			noop: res.StateVectorsRead == 0,
			counts: map[string]int64{
				"state_vectors":     int64(res.StateVectorsRead),
				"aircraft_inserted": int64(res.AircraftInserted),
				"times_inserted":    int64(res.TimesInserted),
				"facts_written":     int64(res.FactsWritten),
				"join_gaps":         int64(res.JoinGaps),
			},
		}, nil
	})
	return res, err
}

func (r *Runner) aggregate(ctx context.Context, runID string, windowDate time.Time) (*aggregation.Result, error) {
	if r.stages.Aggregator == nil {
		return nil, fmt.Errorf("%s stage is not configured", protocol.StageAggregate)
	}
	var res *aggregation.Result
	err := r.runStage(ctx, protocol.StageAggregate, runID, windowLabel(windowDate), func(ctx context.Context) (outcome, error) {
		var err error
		if res, err = r.stages.Aggregator.Run(ctx, windowDate); err != nil {
			return outcome{}, err
		}
		return outcome{counts: map[string]int64{
			"facts_in_window": res.FactsInWindow,
			"hourly_rows":     int64(res.HourlyRows),
			"activity_rows":   int64(res.ActivityRows),
			"latest_rows":     int64(res.LatestRows),
		}}, nil
	})
	return res, err
}

func (r *Runner) runStage(ctx context.Context, stage, runID, window string, body func(context.Context) (outcome, error)) error {
	log := logging.ForStage(r.logger, stage, runID)
	event := &protocol.StageEvent{
		RunID:     runID,
		Stage:     stage,
		Window:    window,
		StartedAt: r.now().UTC(),
	}

	out, err := r.locked(ctx, stage, runID, body)
	event.FinishedAt = r.now().UTC()
	event.Counts = out.counts

	switch {
	case err != nil:
		event.Status = protocol.StatusFailed
		event.Error = err.Error()
		log.Error("stage failed", zap.Error(err), zap.Duration("duration", event.Duration()))
	case out.noop:
		event.Status = protocol.StatusNoOp
		log.Info("stage had nothing to do", zap.Duration("duration", event.Duration()))
	default:
		event.Status = protocol.StatusSucceeded
		log.Info("stage succeeded", zap.Duration("duration", event.Duration()))
	}

	metrics.StageRuns.WithLabelValues(stage, event.Status).Inc()
	metrics.StageDuration.WithLabelValues(stage).Observe(event.Duration().Seconds())
	r.record(event)
	r.publish(ctx, log, event)
	return err
}

func (r *Runner) locked(ctx context.Context, stage, runID string, body func(context.Context) (outcome, error)) (outcome, error) {
	lease, release, err := r.locker.Acquire(ctx, stage, runID)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to acquire %s lock: %w", stage, err)
	}
	defer func() {
		// Release even when ctx was cancelled mid-run.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(relCtx); err != nil {
			r.logger.Warn("failed to release stage lock", zap.String("stage", stage), zap.Error(err))
		}
	}()
	out, err := body(lease)
	if err != nil && errors.Is(context.Cause(lease), runlock.ErrLost) {
		return out, fmt.Errorf("%s: %w: %v", stage, runlock.ErrLost, err)
	}
	return out, err
}

func (r *Runner) record(event *protocol.StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[event.Stage] = metrics.StageStatus{
		Stage:      event.Stage,
		Status:     event.Status,
		RunID:      event.RunID,
		FinishedAt: event.FinishedAt,
		Error:      event.Error,
	}
}

func (r *Runner) publish(ctx context.Context, log *zap.Logger, event *protocol.StageEvent) {
	if r.publisher == nil {
		return
	}
	data, err := protocol.EncodeStageEvent(event)
	if err != nil {
		log.Warn("failed to encode stage event", zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, event.Stage, data); err != nil {
		log.Warn("failed to publish stage event", zap.Error(err))
	}
}

// StageStatuses returns the last outcome per stage, sorted by stage name.
func (r *Runner) StageStatuses() []metrics.StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]metrics.StageStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

var _ metrics.StatusSource = (*Runner)(nil)

func windowLabel(t time.Time) string {
	return database.DateOf(t).Format("2006-01-02")
}
