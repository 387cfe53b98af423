package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/app"
	"github.com/smukkama/flight-analytics/internal/notification"
	"github.com/smukkama/flight-analytics/internal/protocol"
	"github.com/smukkama/flight-analytics/internal/queue"
)

func main() {
	cfg, logger, err := app.LoadConfigAndLogger("notifier")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer logger.Sync()

	notifier := notification.NewEmailNotifier(&cfg.SMTP, logger)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		logger.Warn("notifications will be logged only", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka, "flight-notifier", queue.FromLatest)
	defer consumer.Close()

	handler := func(ctx context.Context, msg kafka.Message) error {
		event, err := protocol.DecodeStageEvent(msg.Value)
		if err != nil {
			// Undecodable events are skipped, not retried.
			logger.Warn("failed to decode stage event", zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		sent, err := notifier.NotifyStageEvent(event)
		if err != nil {
			return err
		}
		if sent {
			logger.Info("failure notification sent",
				zap.String("stage", event.Stage),
				zap.String("run_id", event.RunID))
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("notifier running", zap.String("topic", cfg.Kafka.TopicEvents))
	if err := queue.NewDispatcher(consumer, handler, logger).Run(ctx); err != nil {
		logger.Error("dispatcher stopped", zap.Error(err))
	}
	logger.Info("shutting down gracefully")
}
