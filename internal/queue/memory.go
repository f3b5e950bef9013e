package queue

import (
	"context"
	"sync"

	"vidgen/internal/domain"
)

type memoryMessage struct {
	id       string
	raw      []byte
	attempts int
	leased   bool
}

// Memory is an in-process queue for local runs and tests.
type Memory struct {
	mu       sync.Mutex
	pending  []*memoryMessage
	inFlight int
	acked    [][]byte
	closed   bool
	byID     map[string]*memoryMessage

	notify    chan struct{}
	closeOnce sync.Once
}

func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1), byID: make(map[string]*memoryMessage)}
}

// Enqueue queues req. A second request with the same job id replaces the
// pending one and is dropped while the first is being processed.
func (m *Memory) Enqueue(ctx context.Context, req domain.JobRequest) error {
	raw, err := Encode(req)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if prev, ok := m.byID[req.ID]; ok && !m.closed {
		if !prev.leased {
			prev.raw = raw
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.enqueue(&memoryMessage{id: req.ID, raw: raw})
}

// EnqueueRaw queues an arbitrary payload, including malformed ones.
func (m *Memory) EnqueueRaw(ctx context.Context, raw []byte) error {
	return m.enqueue(&memoryMessage{raw: append([]byte(nil), raw...)})
}

func (m *Memory) enqueue(msg *memoryMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.pending = append(m.pending, msg)
	if msg.id != "" {
		m.byID[msg.id] = msg
	}
	m.mu.Unlock()
	m.wake()
	return nil
}

func (m *Memory) wake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Receive(ctx context.Context) (*Delivery, error) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			msg := m.pending[0]
			m.pending = m.pending[1:]
			msg.attempts++
			msg.leased = true
			m.inFlight++
			more := len(m.pending) > 0
			m.mu.Unlock()
			if more {
				m.wake()
			}
			return m.delivery(msg), nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *Memory) delivery(msg *memoryMessage) *Delivery {
	ack := func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.inFlight--
		m.acked = append(m.acked, msg.raw)
		if msg.id != "" {
			delete(m.byID, msg.id)
		}
		return nil
	}
	nack := func(ctx context.Context) error {
		m.mu.Lock()
		m.inFlight--
		msg.leased = false
		m.pending = append([]*memoryMessage{msg}, m.pending...)
		m.mu.Unlock()
		m.wake()
		return nil
	}
	return NewDelivery(msg.raw, msg.attempts, ack, nack)
}

// Close stops Receive once the pending messages are drained.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closed = true
		close(m.notify)
	})
	return nil
}

// Stats reports pending, in-flight and acked counts.
func (m *Memory) Stats() (pending, inFlight, acked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), m.inFlight, len(m.acked)
}
