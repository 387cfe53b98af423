package queue

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageSource is the consuming half of a Kafka client.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Handler processes one message. A nil error commits the offset.
type Handler func(ctx context.Context, msg kafka.Message) error

// Dispatcher feeds messages to a handler one at a time and commits each
// offset only after the handler succeeded. A failed message is retried
// until it succeeds; later messages are not fetched meanwhile, so the
// committed offset never passes an unhandled message.
type Dispatcher struct {
	source     MessageSource
	handler    Handler
	logger     *zap.Logger
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(source MessageSource, handler Handler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:     source,
		handler:    handler,
		logger:     logger,
		backoff:    time.Second,
		maxBackoff: time.Minute,
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("consumer error", zap.Error(err))
			if !d.sleep(ctx) {
				return nil
			}
			continue
		}

		d.logger.Debug("consumed message",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))

		if !d.handle(ctx, msg) {
			return nil
		}

		if err := d.source.Commit(ctx, msg); err != nil {
			d.logger.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle runs the handler on msg until it succeeds. It returns false if
// ctx ended first.
func (d *Dispatcher) handle(ctx context.Context, msg kafka.Message) bool {
	wait := d.backoff
	for attempt := 1; ; attempt++ {
		err := d.handler(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return false
		}
		d.logger.Error("failed to handle message, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err))
		if !d.sleepFor(ctx, wait) {
			return false
		}
		if wait *= 2; wait > d.maxBackoff {
			wait = d.maxBackoff
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context) bool {
	return d.sleepFor(ctx, d.backoff)
}

func (d *Dispatcher) sleepFor(ctx context.Context, wait time.Duration) bool {
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
