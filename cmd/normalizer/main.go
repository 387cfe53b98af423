package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/app"
)

func main() {
	date := flag.String("date", "", "partition to normalize, YYYY-MM-DD (default: today, UTC)")
	flag.Parse()

	cfg, logger, err := app.LoadConfigAndLogger("normalizer")
	if err != nil {
		log.Fatalf("%v", err)
	}
	window, err := app.ParseWindow(*date, time.Now())
	if err != nil {
		logger.Fatal("bad flags", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	res, err := a.Runner.RunNormalize(ctx, window)
	if err != nil {
		a.Close()
		logger.Fatal("normalize failed", zap.Error(err))
	}
	if res.NoNewData() {
		logger.Info("no new raw files", zap.Int("files_skipped", res.FilesSkipped))
		return
	}
	logger.Info("normalize finished",
		zap.Int("rows_written", res.RowsWritten),
		zap.Int("files_processed", res.FilesProcessed))
}
