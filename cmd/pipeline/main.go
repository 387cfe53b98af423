package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/app"
	"github.com/smukkama/flight-analytics/internal/metrics"
	"github.com/smukkama/flight-analytics/internal/scheduler"
)

func main() {
	cfg, logger, err := app.LoadConfigAndLogger("pipeline")
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	sched := scheduler.New(logger.Named("scheduler"))

	health := metrics.NewHealthServer("flight-pipeline", cfg.Metrics.Port, a.Runner, logger)
	health.SetNextRun(func() (time.Time, bool) { return sched.NextRun("cycle") })
	go func() {
		if err := health.Start(); err != nil {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	err = sched.Schedule(&scheduler.Job{
		Name:      "cycle",
		Interval:  cfg.Pipeline.Interval,
		Offset:    cfg.Pipeline.Offset,
		Immediate: true,
		Run: func(ctx context.Context) {
			if err := a.Runner.RunCycle(ctx); err != nil {
				// Already logged and published by the runner; the next
				// tick retries.
				logger.Warn("cycle ended early", zap.Error(err))
			}
			a.Summary()
		},
	})
	if err != nil {
		logger.Fatal("failed to schedule cycle", zap.Error(err))
	}

	logger.Info("pipeline running",
		zap.Duration("interval", cfg.Pipeline.Interval),
		zap.Duration("offset", cfg.Pipeline.Offset),
		zap.String("store", cfg.Pipeline.StoreDriver))

	sched.Run(ctx)

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", zap.Error(err))
	}
}
