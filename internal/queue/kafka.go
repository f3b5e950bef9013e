package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"vidgen/internal/domain"
)

// KafkaOptions configures the consumer-group queue.
type KafkaOptions struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  zerolog.Logger
}

// Kafka consumes job requests from a topic with manual commits. Ack commits
// the offset; Nack drops the group session so the uncommitted message is
// fetched again. A consumer group commits offsets in order, so at most one
// delivery is open at a time; further Receive calls wait for it to settle.
type Kafka struct {
	opts   KafkaOptions
	logger zerolog.Logger

	mu       sync.Mutex
	reader   *kafka.Reader
	attempts map[string]int
	closed   bool

	slot chan struct{}
}

func NewKafka(opts KafkaOptions) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if opts.Topic == "" || opts.GroupID == "" {
		return nil, errors.New("kafka topic and group id are required")
	}
	return &Kafka{
		opts:     opts,
		logger:   opts.Logger,
		attempts: make(map[string]int),
		slot:     make(chan struct{}, 1),
	}, nil
}

func (k *Kafka) newReader() *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.opts.Brokers,
		GroupID:        k.opts.GroupID,
		Topic:          k.opts.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

func (k *Kafka) currentReader() (*kafka.Reader, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	if k.reader == nil {
		k.reader = k.newReader()
	}
	return k.reader, nil
}

func (k *Kafka) release() {
	select {
	case <-k.slot:
	default:
	}
}

func (k *Kafka) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case k.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	reader, err := k.currentReader()
	if err != nil {
		k.release()
		return nil, err
	}
	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		k.release()
		k.mu.Lock()
		closed := k.closed
		k.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	key := fmt.Sprintf("%d:%d", msg.Partition, msg.Offset)
	k.mu.Lock()
	k.attempts[key]++
	attempt := k.attempts[key]
	k.mu.Unlock()

	ack := func(ctx context.Context) error {
		defer k.settle(key, true)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %s: %w", key, err)
		}
		return nil
	}
	nack := func(ctx context.Context) error {
		defer k.settle(key, false)
		return k.rewind()
	}
	return NewDelivery(msg.Value, attempt, ack, nack), nil
}

func (k *Kafka) settle(key string, committed bool) {
	k.mu.Lock()
	if committed {
		delete(k.attempts, key)
	}
	k.mu.Unlock()
	k.release()
}

// rewind closes the reader; the next Receive rejoins the group at the last
// committed offset.
func (k *Kafka) rewind() error {
	k.mu.Lock()
	reader := k.reader
	k.reader = nil
	k.mu.Unlock()
	if reader == nil {
		return nil
	}
	if err := reader.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	k.closed = true
	reader := k.reader
	k.reader = nil
	k.mu.Unlock()
	if reader != nil {
		return reader.Close()
	}
	return nil
}

// KafkaSink publishes job requests keyed by job id.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (s *KafkaSink) Enqueue(ctx context.Context, req domain.JobRequest) error {
	raw, err := Encode(req)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(req.ID), Value: raw}); err != nil {
		return fmt.Errorf("publish job %s: %w", req.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
