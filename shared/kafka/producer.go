// shared/kafka/producer.go
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Writer defines the subset of segmentio kafka.Writer we need. This makes the producer testable.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaProducer is a thin wrapper around a kafka writer. It satisfies
// events.Publisher.
type KafkaProducer struct {
	writer Writer
	logger *zap.Logger
}

// NewKafkaProducer creates a KafkaProducer that writes to the provided broker/topic.
func NewKafkaProducer(brokerURL, topic string, logger *zap.Logger) *KafkaProducer {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokerURL),
		Topic:        topic,
		Balancer:     &skafka.Hash{}, // same key, same partition: per-payment ordering
		RequiredAcks: skafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	return NewKafkaProducerWithWriter(w, logger)
}

// NewKafkaProducerWithWriter allows injecting a test writer.
func NewKafkaProducerWithWriter(w Writer, logger *zap.Logger) *KafkaProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaProducer{writer: w, logger: logger.Named("kafka")}
}

// Publish marshals the value to JSON and writes a kafka message with the given key.
func (p *KafkaProducer) Publish(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: marshal value: %w", err)
	}
	msg := skafka.Message{Key: []byte(key), Value: b, Time: time.Now().UTC()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
