// Package intake pulls job deliveries off a queue, runs them through the
// pipeline and settles each delivery once the job reached a terminal state.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/queue"
)

// Runner executes one job to a terminal outcome. A non-nil error means the
// terminal event was not published and the delivery must be redelivered.
type Runner interface {
	Run(ctx context.Context, req domain.JobRequest) (domain.Outcome, error)
}

// Publisher emits the failure events the loop produces itself.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

const defaultReceiveBackoff = 2 * time.Second

// Loop is the intake loop. Concurrency receive/handle goroutines share one
// source; each handles one job end to end.
type Loop struct {
	Source      queue.Source
	Runner      Runner
	Publisher   Publisher
	Concurrency int
	// MaxAttempts caps redeliveries when the source reports attempts; zero
	// disables the cap.
	MaxAttempts    int
	ReceiveBackoff time.Duration
	Logger         zerolog.Logger
	Now            func() time.Time

	stats stats
}

// Run blocks until ctx is cancelled or the source is closed, then waits for
// in-flight jobs. Jobs run on a context detached from ctx so a shutdown
// signal never interrupts them.
func (l *Loop) Run(ctx context.Context) error {
	if l.Source == nil || l.Runner == nil || l.Publisher == nil {
		return errors.New("intake: source, runner and publisher are required")
	}
	workers := l.Concurrency
	if workers < 1 {
		workers = 1
	}

	l.Logger.Info().Int("concurrency", workers).Int("max_attempts", l.MaxAttempts).Msg("intake: started")
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			l.work(ctx, workerID)
		}(i)
	}
	wg.Wait()
	l.Logger.Info().Msg("intake: stopped")
	return nil
}

func (l *Loop) work(ctx context.Context, workerID int) {
	log := l.Logger.With().Int("worker_id", workerID).Logger()
	jobCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := l.Source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("intake: receive failed")
			if !sleep(ctx, l.backoff()) {
				return
			}
			continue
		}
		l.handle(jobCtx, log, d)
	}
}

func (l *Loop) handle(ctx context.Context, log zerolog.Logger, d *queue.Delivery) {
	jobID := d.Request.ID
	log = log.With().Str("job_id", jobID).Int("attempt", d.Attempt).Logger()
	l.stats.begin(jobID)

	switch {
	case d.DecodeErr != nil && jobID == "":
		log.Error().Err(d.DecodeErr).Int("bytes", len(d.Raw)).Msg("intake: dropping undecodable message")
		l.settle(ctx, log, d, true)
		l.stats.end(resultDropped)

	case d.DecodeErr != nil:
		err := domain.NewPipelineError(domain.KindPermanentInput, domain.PhasePending, d.DecodeErr)
		l.reject(ctx, log, d, err)

	case l.MaxAttempts > 0 && d.Attempt > l.MaxAttempts:
		err := domain.NewPipelineError(domain.KindTransientExternal, domain.PhasePending,
			fmt.Errorf("%w: attempt %d of %d", domain.ErrRedeliveryLimit, d.Attempt, l.MaxAttempts))
		l.reject(ctx, log, d, err)

	default:
		log.Info().Msg("intake: picked job")
		outcome, err := l.Runner.Run(ctx, d.Request)
		if err != nil {
			log.Error().Err(err).Msg("intake: job not terminal, returning to queue")
			l.settle(ctx, log, d, false)
			l.stats.end(resultRequeued)
			return
		}
		l.settle(ctx, log, d, true)
		if outcome.Succeeded() {
			l.stats.end(resultCompleted)
		} else {
			l.stats.end(resultFailed)
		}
	}
}

// reject publishes a failure event for a job that will not run and acks it.
func (l *Loop) reject(ctx context.Context, log zerolog.Logger, d *queue.Delivery, cause error) {
	f := domain.Failure{Phase: domain.PhasePending, Kind: domain.KindOf(cause), Reason: cause.Error()}
	ev := domain.NewFailureEvent(d.Request.ID, f, l.now())
	if err := l.Publisher.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Msg("intake: failure event not published, returning to queue")
		l.settle(ctx, log, d, false)
		l.stats.end(resultRequeued)
		return
	}
	log.Warn().Err(cause).Str("kind", string(f.Kind)).Msg("intake: job rejected")
	l.settle(ctx, log, d, true)
	l.stats.end(resultFailed)
}

func (l *Loop) settle(ctx context.Context, log zerolog.Logger, d *queue.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack(ctx)
	} else {
		err = d.Nack(ctx)
	}
	if err != nil {
		// the message comes back on its own; re-running is idempotent
		log.Warn().Err(err).Bool("ack", ack).Msg("intake: settle failed")
	}
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return l.stats.snapshot()
}

func (l *Loop) backoff() time.Duration {
	if l.ReceiveBackoff > 0 {
		return l.ReceiveBackoff
	}
	return defaultReceiveBackoff
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
