package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// PostgresOptions configures the table-backed queue.
type PostgresOptions struct {
	Owner        string
	Lease        time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Postgres leases rows of video_jobs with FOR UPDATE SKIP LOCKED. Idle
// receivers wake on NOTIFY and fall back to polling.
type Postgres struct {
	sql    infra.SQLExecutor
	pool   *pgxpool.Pool
	owner  string
	lease  time.Duration
	poll   time.Duration
	logger zerolog.Logger

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	listening sync.Once
}

// NewPostgres builds the queue. pool may be nil, in which case receivers only
// poll.
func NewPostgres(sql infra.SQLExecutor, pool *pgxpool.Pool, opts PostgresOptions) (*Postgres, error) {
	if sql == nil {
		return nil, errors.New("sql executor is required")
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	if opts.Lease <= 0 {
		opts.Lease = 15 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Postgres{
		sql:    sql,
		pool:   pool,
		owner:  opts.Owner,
		lease:  opts.Lease,
		poll:   opts.PollInterval,
		logger: opts.Logger,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}, nil
}

func (p *Postgres) Enqueue(ctx context.Context, req domain.JobRequest) error {
	raw, err := Encode(req)
	if err != nil {
		return err
	}
	if _, err := p.sql.Exec(ctx, sqlinline.QEnqueueVideoJob, req.ID, raw); err != nil {
		return fmt.Errorf("enqueue %s: %w", req.ID, err)
	}
	return nil
}

func (p *Postgres) Receive(ctx context.Context) (*Delivery, error) {
	p.listening.Do(func() {
		if p.pool != nil {
			go p.listen()
		}
	})
	timer := time.NewTimer(p.poll)
	defer timer.Stop()
	for {
		select {
		case <-p.closed:
			return nil, ErrClosed
		default:
		}

		d, err := p.claim(ctx)
		if err == nil {
			return d, nil
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
		timer.Reset(p.poll)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.closed:
			return nil, ErrClosed
		case <-p.notify:
		case <-timer.C:
		}
	}
}

func (p *Postgres) claim(ctx context.Context) (*Delivery, error) {
	token := uuid.NewString()
	var (
		id       string
		payload  []byte
		attempts int
	)
	err := p.sql.QueryRow(ctx, sqlinline.QClaimVideoJob, token, p.owner, int(p.lease/time.Second)).Scan(&id, &payload, &attempts)
	if infra.IsNoRows(err) {
		return nil, errNoMessage
	}
	if err != nil {
		return nil, fmt.Errorf("claim video job: %w", err)
	}

	leaseSecs := int(p.lease / time.Second)
	stop := keepAlive(p.lease/3, func(ctx context.Context) error {
		_, err := p.sql.Exec(ctx, sqlinline.QExtendVideoJobLease, id, token, leaseSecs)
		return err
	}, func(err error) {
		p.logger.Warn().Err(err).Str("job_id", id).Msg("queue: extend lease failed")
	})
	ack := withStop(stop, func(ctx context.Context) error {
		_, err := p.sql.Exec(ctx, sqlinline.QAckVideoJob, id, token)
		return err
	})
	nack := withStop(stop, func(ctx context.Context) error {
		_, err := p.sql.Exec(ctx, sqlinline.QNackVideoJob, id, token)
		return err
	})
	return NewDelivery(payload, attempts, ack, nack), nil
}

// listen holds one connection in LISTEN mode and turns notifications into
// wake-ups. It reconnects until the queue is closed.
func (p *Postgres) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.closed
		cancel()
	}()

	for ctx.Err() == nil {
		if err := p.listenOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("queue: listen connection lost")
			select {
			case <-ctx.Done():
			case <-time.After(p.poll):
			}
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	pooled, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// a LISTEN session must not go back to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, sqlinline.QListenVideoJobs); err != nil {
		return err
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if n.Channel != sqlinline.VideoJobsChannel {
			continue
		}
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
}

// Depth reports queued and leased rows.
func (p *Postgres) Depth(ctx context.Context) (queued, leased int64, err error) {
	err = p.sql.QueryRow(ctx, sqlinline.QVideoJobDepth).Scan(&queued, &leased)
	return queued, leased, err
}

func (p *Postgres) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
