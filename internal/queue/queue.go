// Package queue carries job requests from submitters to workers. Every
// backend offers at-least-once delivery: a delivery that is not acked is
// presented again.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vidgen/internal/domain"
)

var (
	// ErrClosed is returned by Receive once the source is closed.
	ErrClosed = errors.New("queue closed")
	// ErrSettled is returned when a delivery is acked or nacked twice.
	ErrSettled = errors.New("delivery already settled")
)

// Source hands out deliveries one at a time. Receive blocks until a message
// is available or ctx is done.
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}

// Sink accepts new job requests.
type Sink interface {
	Enqueue(ctx context.Context, req domain.JobRequest) error
}

// Delivery is one presentation of a queued message.
type Delivery struct {
	// Request is the decoded message. When DecodeErr is set only ID may be
	// populated, recovered from the raw payload.
	Request   domain.JobRequest
	DecodeErr error
	Raw       []byte
	// Attempt counts presentations of this message, starting at 1. Zero
	// means the backend cannot tell.
	Attempt int

	once sync.Once
	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// NewDelivery decodes raw and binds the settle callbacks.
func NewDelivery(raw []byte, attempt int, ack, nack func(ctx context.Context) error) *Delivery {
	req, err := Decode(raw)
	return &Delivery{
		Request:   req,
		DecodeErr: err,
		Raw:       raw,
		Attempt:   attempt,
		ack:       ack,
		nack:      nack,
	}
}

// Ack removes the message from the queue.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.settle(ctx, d.ack)
}

// Nack returns the message to the queue for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	return d.settle(ctx, d.nack)
}

func (d *Delivery) settle(ctx context.Context, fn func(context.Context) error) error {
	err := ErrSettled
	d.once.Do(func() {
		err = nil
		if fn != nil {
			err = fn(ctx)
		}
	})
	return err
}

// Encode serialises a request with the wire field names.
func Encode(req domain.JobRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode job request: %w", err)
	}
	return data, nil
}

// Decode parses a wire message. On failure it still tries to recover the job
// id so the caller can report the failure against it.
func Decode(raw []byte) (domain.JobRequest, error) {
	var req domain.JobRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&req); err != nil {
		return domain.JobRequest{ID: recoverID(raw)}, fmt.Errorf("%w: %v", domain.ErrUndecodableInput, err)
	}
	return req, nil
}

func recoverID(raw []byte) string {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	field, ok := probe["videoId"]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(field, &id); err != nil {
		return ""
	}
	return strings.TrimSpace(id)
}

// keepAlive calls extend every interval until the returned stop func runs.
// Backends use it to hold a lease while a long job is running.
func keepAlive(interval time.Duration, extend func(ctx context.Context) error, onErr func(error)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := extend(ctx); err != nil && ctx.Err() == nil && onErr != nil {
					onErr(err)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// withStop runs stop before fn.
func withStop(stop func(), fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stop()
		return fn(ctx)
	}
}
