// Package queue carries pipeline stage events over Kafka.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/flight-analytics/pkg/config"
)

// Producer publishes stage events to the events topic, keyed by stage so
// the events of one stage stay ordered on one partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a synchronous producer for cfg.TopicEvents.
func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.TopicEvents,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			// One event per stage run; don't wait for a batch to fill.
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish writes one event and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartOffset picks where a consumer group with no committed offset begins.
type StartOffset int64

const (
	// FromLatest skips events published before the group first joined.
	FromLatest StartOffset = StartOffset(kafka.LastOffset)
	// FromEarliest replays the retained history.
	FromEarliest StartOffset = StartOffset(kafka.FirstOffset)
)

// Consumer reads the events topic as part of a consumer group. Offsets are
// committed only through Commit.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins groupID on cfg.TopicEvents.
func NewConsumer(cfg config.KafkaConfig, groupID string, start StartOffset) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.TopicEvents,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1e6,
			MaxWait:        time.Second,
			CommitInterval: 0,
			StartOffset:    int64(start),
		}),
	}
}

// Consume blocks for the next message without committing it.
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit marks msg and everything before it on its partition as handled.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// CreateTopic creates the events topic through the cluster controller. An
// existing topic is not an error, so migrations can be rerun.
func CreateTopic(ctx context.Context, cfg config.KafkaConfig, partitions, replicationFactor int) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no Kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.TopicEvents,
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", cfg.TopicEvents, err)
	}
	return nil
}
