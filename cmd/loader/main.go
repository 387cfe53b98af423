package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/app"
)

func main() {
	cfg, logger, err := app.LoadConfigAndLogger("loader")
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

	res, err := a.Runner.RunLoad(ctx)
	if err != nil {
		a.Close()
		logger.Fatal("load failed", zap.Error(err))
	}
	logger.Info("load finished",
		zap.Int("facts_written", res.FactsWritten),
		zap.Int("join_gaps", res.JoinGaps))
}
