package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"vidgen/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	row   stubRow
	execs []execCall
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return pgconn.CommandTag{}, nil
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.row.query = query
	s.row.args = args
	return &s.row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	id       string
	payload  []byte
	attempts int
	err      error

	query string
	args  []any
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 3 {
		return errors.New("unexpected dest count")
	}
	*dest[0].(*string) = r.id
	*dest[1].(*[]byte) = r.payload
	*dest[2].(*int) = r.attempts
	return nil
}

func TestPostgresClaimAndAck(t *testing.T) {
	payload, _ := Encode(sampleRequest("v7"))
	exec := &stubExecutor{row: stubRow{id: "v7", payload: payload, attempts: 2}}
	q, err := NewPostgres(exec, nil, PostgresOptions{Owner: "worker-a", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}

	d, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.Request.ID != "v7" || d.Attempt != 2 {
		t.Fatalf("unexpected delivery %+v", d)
	}
	if exec.row.query != sqlinline.QClaimVideoJob {
		t.Fatalf("claim used unexpected query")
	}
	if exec.row.args[1] != "worker-a" {
		t.Fatalf("lease owner not passed: %v", exec.row.args)
	}
	token := exec.row.args[0]

	if err := d.Ack(context.Background()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	last := exec.execs[len(exec.execs)-1]
	if last.query != sqlinline.QAckVideoJob {
		t.Fatalf("ack used unexpected query")
	}
	if last.args[0] != "v7" || last.args[1] != token {
		t.Fatalf("ack must match the lease token, got %v", last.args)
	}
}

func TestPostgresNackReleasesLease(t *testing.T) {
	payload, _ := Encode(sampleRequest("v8"))
	exec := &stubExecutor{row: stubRow{id: "v8", payload: payload, attempts: 1}}
	q, _ := NewPostgres(exec, nil, PostgresOptions{Logger: zerolog.Nop()})

	d, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := d.Nack(context.Background()); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if got := exec.execs[len(exec.execs)-1].query; got != sqlinline.QNackVideoJob {
		t.Fatalf("nack used unexpected query")
	}
}

func TestPostgresReceiveWaitsOnEmptyQueue(t *testing.T) {
	exec := &stubExecutor{row: stubRow{err: pgx.ErrNoRows}}
	q, _ := NewPostgres(exec, nil, PostgresOptions{Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestPostgresEnqueueStoresWirePayload(t *testing.T) {
	exec := &stubExecutor{}
	q, _ := NewPostgres(exec, nil, PostgresOptions{Logger: zerolog.Nop()})

	if err := q.Enqueue(context.Background(), sampleRequest("v9")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	call := exec.execs[0]
	if call.query != sqlinline.QEnqueueVideoJob || call.args[0] != "v9" {
		t.Fatalf("unexpected enqueue call %+v", call)
	}
	req, err := Decode(call.args[1].([]byte))
	if err != nil || req.ID != "v9" {
		t.Fatalf("payload does not round trip: %v", err)
	}
}

func TestEnqueueConflictSkipsLiveLease(t *testing.T) {
	query := strings.Join(strings.Fields(sqlinline.QEnqueueVideoJob), " ")
	guard := "where video_jobs.status <> 'leased' or video_jobs.lease_expires_at < now() returning id"
	if !strings.Contains(query, guard) {
		t.Fatalf("re-enqueue must not reset a live lease:\n%s", sqlinline.QEnqueueVideoJob)
	}
}
