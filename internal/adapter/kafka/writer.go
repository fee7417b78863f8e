// Package kafka publishes region documents to a Kafka topic. Messages are
// keyed by object key, so on a compacted topic the latest run's document
// replaces the previous one.
package kafka

import (
	"context"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/covid-data-etl/internal/domain"
)

const driverName = "kafka"

// messageWriter is the subset of *kafkago.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer implements pipeline.Store on a Kafka topic.
type Writer struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter creates a Kafka producer for topic. The hash balancer keeps every
// version of a key on one partition.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, topic: topic, logger: logger, now: time.Now}
}

// Put publishes body under key and waits for the broker acknowledgement.
func (w *Writer) Put(ctx context.Context, key string, body []byte) error {
	msg := documentMessage(key, body, w.now())
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return &domain.StoreError{Key: key, Driver: driverName, Err: err}
	}
	w.logger.Debug("published document", "topic", w.topic, "key", key, "bytes", len(body))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// documentMessage wraps a serialized record in a Kafka message.
func documentMessage(key string, body []byte, at time.Time) kafkago.Message {
	return kafkago.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "content_type", Value: []byte("application/json")},
			{Key: "processed_at", Value: []byte(at.UTC().Format(time.RFC3339))},
		},
	}
}
