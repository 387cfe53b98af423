package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/app"
	"github.com/smukkama/flight-analytics/internal/database"
	"github.com/smukkama/flight-analytics/internal/queue"
)

func main() {
	createTopic := flag.Bool("create-topic", false, "also create the stage events Kafka topic")
	partitions := flag.Int("partitions", 4, "partitions of the events topic")
	flag.Parse()

	cfg, logger, err := app.LoadConfigAndLogger("migrate")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, cfg.Pipeline.MigrationsDir, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	if *createTopic {
		if err := queue.CreateTopic(ctx, cfg.Kafka, *partitions, 1); err != nil {
			logger.Fatal("failed to create topic", zap.Error(err))
		}
		logger.Info("events topic ready",
			zap.String("topic", cfg.Kafka.TopicEvents),
			zap.Int("partitions", *partitions))
	}
}
