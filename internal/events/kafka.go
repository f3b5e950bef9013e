package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"vidgen/internal/domain"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON to the events topic. Messages are keyed by
// job id so one job's events stay in one partition, in order.
type Kafka struct {
	writer messageWriter
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (k *Kafka) Publish(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.EventJobID()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.EventType())},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", ev.EventType(), err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
