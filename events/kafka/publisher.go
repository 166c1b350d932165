// Package kafka publishes wallet domain events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const defaultTopic = "wallet_operations"

// Publisher writes JSON-encoded events to a single topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    defaultTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish marshals the event and writes it, keyed by the event's Go type so
// consumers can route without decoding the payload.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%T", event)),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
