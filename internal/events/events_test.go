package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"vidgen/internal/domain"
	"vidgen/internal/sqlinline"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, ev domain.Event) error { return f.err }

func TestMultiPublishesToAllSinksAndJoinsErrors(t *testing.T) {
	first := NewRecorder(0)
	last := NewRecorder(0)
	boom := errors.New("boom")
	multi := NewMulti(first, failingPublisher{err: boom}, last)

	ev := domain.NewProgressEvent("v1", domain.PhaseEncoding, 0, time.Now())
	err := multi.Publish(context.Background(), ev)
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(first.Events()) != 1 || len(last.Events()) != 1 {
		t.Fatalf("every sink should receive the event")
	}
}

func TestRecorderLimitKeepsNewest(t *testing.T) {
	rec := NewRecorder(2)
	for _, id := range []string{"a", "b", "c"} {
		_ = rec.Publish(context.Background(), domain.NewProgressEvent(id, domain.PhaseScriptGeneration, 0, time.Now()))
	}
	got := rec.Events()
	if len(got) != 2 || got[0].EventJobID() != "b" || got[1].EventJobID() != "c" {
		t.Fatalf("unexpected recorder contents %v", got)
	}
	if len(rec.ForJob("c")) != 1 {
		t.Fatalf("ForJob should filter by id")
	}
}

func TestLogPublisherAcceptsAllKinds(t *testing.T) {
	l := NewLog(zerolog.Nop())
	now := time.Now()
	evs := []domain.Event{
		domain.NewProgressEvent("v1", domain.PhaseRendering, 100, now),
		domain.NewCompletionEvent("v1", domain.Completion{VideoURL: "u"}, now),
		domain.NewFailureEvent("v1", domain.Failure{Phase: domain.PhaseRendering, Kind: domain.KindPhaseFailure}, now),
	}
	for _, ev := range evs {
		if err := l.Publish(context.Background(), ev); err != nil {
			t.Fatalf("Publish(%s): %v", ev.EventType(), err)
		}
	}
}

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestKafkaPublisherKeysByJobAndUsesWireNames(t *testing.T) {
	w := &captureWriter{}
	k := &Kafka{writer: w}

	ev := domain.NewCompletionEvent("v1", domain.Completion{
		VideoURL:      "https://bucket/videos/v1.mp4",
		ThumbnailURLs: []string{"t0", "t1", "t2"},
		SizeBytes:     1024 * 1024,
		Elapsed:       3 * time.Minute,
	}, time.UnixMilli(42))
	if err := k.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "v1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var body map[string]any
	if err := json.Unmarshal(w.msgs[0].Value, &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, field := range []string{"eventType", "videoId", "storageUrl", "thumbnailUrls", "fileSizeMb", "generationTimeMinutes", "timestamp"} {
		if _, ok := body[field]; !ok {
			t.Fatalf("missing wire field %q in %v", field, body)
		}
	}
	if body["eventType"] != "GENERATION_COMPLETED" {
		t.Fatalf("unexpected event type %v", body["eventType"])
	}
}

type recordingExecutor struct {
	query string
	args  []any
}

func (r *recordingExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	r.query, r.args = query, args
	return pgconn.CommandTag{}, nil
}

func (r *recordingExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (r *recordingExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestProjectorRoutesEventsToQueries(t *testing.T) {
	exec := &recordingExecutor{}
	p := NewProjector(exec)
	now := time.Now()

	if err := p.Publish(context.Background(), domain.NewProgressEvent("v1", domain.PhaseCompositing, 100, now)); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if exec.query != sqlinline.QProjectVideoProgress || exec.args[2] != 3 || exec.args[3] != 100 {
		t.Fatalf("unexpected progress projection %v", exec.args)
	}

	if err := p.Publish(context.Background(), domain.NewFailureEvent("v1", domain.Failure{Phase: domain.PhaseEncoding, Kind: domain.KindTransientExternal, Reason: "timeout"}, now)); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if exec.query != sqlinline.QProjectVideoFailed || exec.args[2] != "TRANSIENT_EXTERNAL" {
		t.Fatalf("unexpected failure projection %v", exec.args)
	}

	if err := p.Publish(context.Background(), domain.NewCompletionEvent("v1", domain.Completion{VideoURL: "u"}, now)); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if exec.query != sqlinline.QProjectVideoCompleted || exec.args[1] != "u" {
		t.Fatalf("unexpected completion projection %v", exec.args)
	}
}
