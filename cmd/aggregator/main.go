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
	date := flag.String("date", "", "hourly partition to rebuild, YYYY-MM-DD (default: today, UTC)")
	flag.Parse()

	cfg, logger, err := app.LoadConfigAndLogger("aggregator")
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

	res, err := a.Runner.RunAggregate(ctx, window)
	if err != nil {
		a.Close()
		logger.Fatal("aggregate failed", zap.Error(err))
	}
	logger.Info("aggregate finished",
		zap.String("window_date", res.WindowDate.Format("2006-01-02")),
		zap.Int("hourly_rows", res.HourlyRows))
}
