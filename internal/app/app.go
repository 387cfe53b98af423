// Package app assembles the pipeline from configuration for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/aggregation"
	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/ingest"
	"github.com/smukkama/flight-analytics/internal/loader"
	"github.com/smukkama/flight-analytics/internal/logging"
	"github.com/smukkama/flight-analytics/internal/normalize"
	"github.com/smukkama/flight-analytics/internal/opensky"
	"github.com/smukkama/flight-analytics/internal/pipeline"
	"github.com/smukkama/flight-analytics/internal/queue"
	"github.com/smukkama/flight-analytics/internal/rawstore"
	"github.com/smukkama/flight-analytics/internal/runlock"
	"github.com/smukkama/flight-analytics/pkg/config"
)

// tableStore is the union of the stage storage contracts.
type tableStore interface {
	normalize.Ledger
	normalize.Sink
	loader.Store
}

// App holds the wired pipeline and everything that must be closed.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Runner *pipeline.Runner

	// Memory is set when PIPELINE_STORE=memory.
	Memory *database.MemStore

	closers []func() error
}

// LoadConfigAndLogger is the common preamble of every binary.
func LoadConfigAndLogger(service string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.With(zap.String("service", service)), nil
}

// New connects the configured backends and builds the runner.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, marts, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var locker pipeline.Locker
	var publisher pipeline.Publisher
	if cfg.Pipeline.StoreDriver == config.StoreDriverMemory {
		locker = runlock.NewLocalLocker()
		logger.Info("memory store: using in-process locks, stage events disabled")
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		locker = runlock.NewRedisLocker(rdb, cfg.Pipeline.LockTTL)

		producer := queue.NewProducer(cfg.Kafka)
		a.closers = append(a.closers, producer.Close)
		publisher = producer
	}

	raw := rawstore.NewFSStore(cfg.RawStore.Root)
	client := opensky.NewClient(cfg.OpenSky, logger.Named("opensky"))

	stages := pipeline.Stages{
		Ingestor:   ingest.NewIngestor(client, raw, logger.Named(stageIngest)),
		Normalizer: normalize.NewNormalizer(raw, store, store, logger.Named(stageNormalize)),
		Loader:     loader.NewLoader(store, logger.Named(stageLoad)),
		Aggregator: aggregation.NewAggregator(marts, logger.Named(stageAggregate)),
	}
	a.Runner = pipeline.NewRunner(stages, locker, publisher, logger)
	return a, nil
}

const (
	stageIngest    = "ingestor"
	stageNormalize = "normalizer"
	stageLoad      = "loader"
	stageAggregate = "aggregator"
)

// openStore returns the table store and the mart builder over it. The
// memory store has its marts computed in Go; Postgres rolls up in SQL.
func (a *App) openStore(ctx context.Context) (tableStore, aggregation.Store, error) {
	if a.Config.Pipeline.StoreDriver == config.StoreDriverMemory {
		a.Memory = database.NewMemStore()
		return a.Memory, aggregation.NewMemoryMarts(a.Memory), nil
	}

	db, err := database.Connect(ctx, a.Config.Database.ConnectionString())
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.Logger.Info("connected to database",
		zap.String("host", a.Config.Database.Host),
		zap.String("dbname", a.Config.Database.DBName))
	pg := database.NewPostgresStore(db)
	return pg, pg, nil
}

// Summary logs table sizes of the memory store, for dry runs.
func (a *App) Summary() {
	if a.Memory == nil {
		return
	}
	a.Logger.Info("memory store contents",
		zap.Int("state_vectors", len(a.Memory.StateVectors())),
		zap.Int("ledger", len(a.Memory.Ledger())),
		zap.Int("dim_aircraft", len(a.Memory.Aircraft())),
		zap.Int("dim_time", len(a.Memory.Times())),
		zap.Int("facts", len(a.Memory.Facts())),
		zap.Int("kpi_hourly", len(a.Memory.HourlyKPIs())),
		zap.Int("kpi_activity", len(a.Memory.AircraftActivity())),
		zap.Int("kpi_latest", len(a.Memory.LatestPositions())))
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
