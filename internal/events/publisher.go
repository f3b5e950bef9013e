// Package events delivers pipeline lifecycle events to their consumers.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

// Publisher is satisfied by every sink in this package.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Multi publishes to every sink in order and joins their errors. A failure
// in one sink does not stop the others.
type Multi struct {
	sinks []Publisher
}

func NewMulti(sinks ...Publisher) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to the structured log.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.ProgressEvent:
		l.logger.Info().
			Str("event", string(e.Type)).
			Str("job_id", e.JobID).
			Str("phase", string(e.Phase)).
			Int("percentage", e.Percentage).
			Msg("events: published")
	case domain.CompletionEvent:
		l.logger.Info().
			Str("event", string(e.Type)).
			Str("job_id", e.JobID).
			Str("storage_url", e.StorageURL).
			Int("thumbnails", len(e.ThumbnailURLs)).
			Float64("size_mb", e.FileSizeMB).
			Msg("events: published")
	case domain.FailureEvent:
		l.logger.Warn().
			Str("event", string(e.Type)).
			Str("job_id", e.JobID).
			Str("phase", string(e.Phase)).
			Str("kind", string(e.ErrorKind)).
			Str("error", e.ErrorMessage).
			Msg("events: published")
	default:
		return fmt.Errorf("events: unsupported event %T", ev)
	}
	return nil
}

// Recorder keeps events in memory. The worker stats endpoint lists them.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	limit  int
}

// NewRecorder keeps at most limit events; zero keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Publish(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// ForJob returns the recorded events of one job in publish order.
func (r *Recorder) ForJob(jobID string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.EventJobID() == jobID {
			out = append(out, ev)
		}
	}
	return out
}
