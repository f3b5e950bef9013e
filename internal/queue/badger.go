package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

var errNoMessage = errors.New("no message available")

// badgerRecord is the stored form of a queued message.
type badgerRecord struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// BadgerOptions configures the embedded queue.
type BadgerOptions struct {
	Name              string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Logger            zerolog.Logger
}

// Badger is a persistent visibility-timeout queue stored in an embedded
// badger database. A received message is hidden until it is acked, nacked
// or its visibility expires; while a delivery is open its visibility is
// extended in the background.
type Badger struct {
	db         *badger.DB
	name       string
	visibility time.Duration
	poll       time.Duration
	logger     zerolog.Logger

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// OpenBadgerDB opens (or creates) a badger database at dir. An empty dir
// opens an in-memory database.
func OpenBadgerDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func NewBadger(db *badger.DB, opts BadgerOptions) (*Badger, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if opts.Name == "" {
		opts.Name = "video-jobs"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Badger{
		db:         db,
		name:       opts.Name,
		visibility: opts.VisibilityTimeout,
		poll:       opts.PollInterval,
		logger:     opts.Logger,
		notify:     make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}, nil
}

// Enqueue stores req keyed by its job id. Enqueuing the same id again
// replaces a pending message; a message held by an open delivery is left
// alone so one job id never runs twice at once.
func (b *Badger) Enqueue(ctx context.Context, req domain.JobRequest) error {
	raw, err := Encode(req)
	if err != nil {
		return err
	}
	return b.EnqueueRaw(ctx, req.ID, raw)
}

// EnqueueRaw stores an arbitrary payload under id, or a fresh id when empty.
func (b *Badger) EnqueueRaw(ctx context.Context, id string, raw []byte) error {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	rec := badgerRecord{ID: id, Payload: raw, EnqueuedAt: now, VisibleAt: now}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal queue record: %w", err)
	}
	leased := false
	err = b.db.Update(func(txn *badger.Txn) error {
		prev, err := b.load(txn, id)
		switch {
		case err == nil && prev.VisibleAt.After(now):
			leased = true
			return nil
		case err == nil:
			if err := txn.Delete(b.indexKey(prev.VisibleAt, id)); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(b.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(b.indexKey(rec.VisibleAt, id), []byte{})
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	if leased {
		b.logger.Info().Str("job_id", id).Msg("queue: job already in flight, enqueue ignored")
		return nil
	}
	b.wake()
	return nil
}

func (b *Badger) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Badger) Receive(ctx context.Context) (*Delivery, error) {
	timer := time.NewTimer(b.poll)
	defer timer.Stop()
	for {
		select {
		case <-b.closed:
			return nil, ErrClosed
		default:
		}

		rec, err := b.claim()
		if err == nil {
			return b.delivery(rec), nil
		}
		if !errors.Is(err, errNoMessage) {
			return nil, err
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.poll)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.closed:
			return nil, ErrClosed
		case <-b.notify:
		case <-timer.C:
		}
	}
}

// claim takes the oldest visible message and hides it for the visibility
// timeout.
func (b *Badger) claim() (badgerRecord, error) {
	var claimed badgerRecord
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := b.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			visibleAt, id, err := b.parseIndexKey(key)
			if err != nil {
				continue
			}
			if visibleAt.After(now) {
				break
			}
			rec, err := b.load(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			rec.ReceiveCount++
			rec.VisibleAt = now.Add(b.visibility)
			if err := b.store(txn, rec); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(b.indexKey(rec.VisibleAt, id), []byte{}); err != nil {
				return err
			}
			claimed = rec
			return nil
		}
		return errNoMessage
	})
	return claimed, err
}

func (b *Badger) delivery(rec badgerRecord) *Delivery {
	id := rec.ID
	stop := keepAlive(b.visibility/2, func(ctx context.Context) error {
		return b.setVisibility(id, time.Now().Add(b.visibility))
	}, func(err error) {
		b.logger.Warn().Err(err).Str("job_id", id).Msg("queue: extend visibility failed")
	})
	ack := withStop(stop, func(ctx context.Context) error { return b.remove(id) })
	nack := withStop(stop, func(ctx context.Context) error {
		if err := b.setVisibility(id, time.Now()); err != nil {
			return err
		}
		b.wake()
		return nil
	})
	return NewDelivery(rec.Payload, rec.ReceiveCount, ack, nack)
}

func (b *Badger) remove(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		rec, err := b.load(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(b.indexKey(rec.VisibleAt, id)); err != nil {
			return err
		}
		return txn.Delete(b.msgKey(id))
	})
}

func (b *Badger) setVisibility(id string, at time.Time) error {
	return b.db.Update(func(txn *badger.Txn) error {
		rec, err := b.load(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(b.indexKey(rec.VisibleAt, id)); err != nil {
			return err
		}
		rec.VisibleAt = at
		if err := b.store(txn, rec); err != nil {
			return err
		}
		return txn.Set(b.indexKey(at, id), []byte{})
	})
}

// Depth counts stored messages, visible or not.
func (b *Badger) Depth() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := b.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close stops Receive. The database itself is owned by the caller.
func (b *Badger) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

func (b *Badger) load(txn *badger.Txn, id string) (badgerRecord, error) {
	var rec badgerRecord
	item, err := txn.Get(b.msgKey(id))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func (b *Badger) store(txn *badger.Txn, rec badgerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(b.msgKey(rec.ID), data)
}

func (b *Badger) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", b.name, id))
}

func (b *Badger) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", b.name))
}

// indexKey zero pads the timestamp so lexical order matches time order.
func (b *Badger) indexKey(visibleAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", b.name, visibleAt.UnixNano(), id))
}

func (b *Badger) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := b.indexPrefix()
	if len(key) <= len(prefix)+21 {
		return time.Time{}, "", errors.New("invalid index key")
	}
	suffix := string(key[len(prefix):])
	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
