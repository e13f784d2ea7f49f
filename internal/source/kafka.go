package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/neo4j/graphql-sub030/internal/core/logging"
)

// KafkaConfig selects the topic carrying change events.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Kafka consumes change events from a Kafka topic as part of a consumer
// group.
type Kafka struct {
	reader *kafka.Reader
	logger *logrus.Entry
}

// NewKafka creates a reader for cfg. Brokers are contacted lazily.
func NewKafka(cfg KafkaConfig, logger logrus.FieldLogger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka source requires brokers and a topic")
	}
	entry := logging.Component(logger, "source.kafka")
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	entry.Infof("brokers=%v topic=%s group=%s", cfg.Brokers, cfg.Topic, cfg.GroupID)
	return &Kafka{reader: reader, logger: entry}, nil
}

// Run reads messages until ctx is cancelled.
func (k *Kafka) Run(ctx context.Context, h Handler) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to read from kafka: %w", err)
		}
		entry := k.logger.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})
		if err := handle(ctx, "kafka.message", msg.Value, h, entry); err != nil {
			return err
		}
	}
}

// Close closes the reader, committing nothing further.
func (k *Kafka) Close() error {
	return k.reader.Close()
}
