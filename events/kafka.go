// Package events publishes ingestion notifications to Kafka.
package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pillbox-tech/pillbox/core"
	"github.com/pillbox-tech/pillbox/core/logger"
)

// KafkaNotifier implements core.Notifier on top of a Kafka topic. Messages
// are keyed with resource and operation so that consumers keep per-resource
// ordering.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier returns a notifier publishing to the given topic.
// The topic must exist.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Notify implements core.Notifier. Publishing is fire-and-forget: a failed
// write is logged but never fails the request that triggered it.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().Errorln("events: publish", resource, operation, "failed:", err.Error())
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
