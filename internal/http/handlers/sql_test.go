package handlers

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeSQL answers queries from canned values keyed by query text.
type fakeSQL struct {
	mu    sync.Mutex
	rows  map[string][][]any
	errs  map[string]error
	calls []fakeCall
}

type fakeCall struct {
	query string
	args  []any
}

func newFakeSQL() *fakeSQL {
	return &fakeSQL{rows: map[string][][]any{}, errs: map[string]error{}}
}

func (f *fakeSQL) on(query string, rows ...[]any) *fakeSQL {
	f.rows[query] = rows
	return f
}

func (f *fakeSQL) fail(query string, err error) *fakeSQL {
	f.errs[query] = err
	return f
}

func (f *fakeSQL) record(query string, args []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{query: query, args: args})
}

func (f *fakeSQL) called(query string) []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeCall
	for _, c := range f.calls {
		if c.query == query {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.record(query, args)
	if err := f.errs[query]; err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.record(query, args)
	if err := f.errs[query]; err != nil {
		return errRow{err: err}
	}
	rows := f.rows[query]
	if len(rows) == 0 {
		return errRow{err: pgx.ErrNoRows}
	}
	return valueRow{values: rows[0]}
}

func (f *fakeSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.record(query, args)
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return &valueRows{rows: f.rows[query]}, nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type valueRow struct{ values []any }

func (r valueRow) Scan(dest ...any) error { return assign(dest, r.values) }

type valueRows struct {
	rows [][]any
	idx  int
}

func (r *valueRows) Close()                                       {}
func (r *valueRows) Err() error                                   { return nil }
func (r *valueRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *valueRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *valueRows) Values() ([]any, error)                       { return r.rows[r.idx-1], nil }
func (r *valueRows) RawValues() [][]byte                          { return nil }
func (r *valueRows) Conn() *pgx.Conn                              { return nil }

func (r *valueRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *valueRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return pgx.ErrNoRows
	}
	return assign(dest, r.rows[r.idx-1])
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: column %d: %s not assignable to %s", i, v.Type(), target.Type())
		}
		target.Set(v)
	}
	return nil
}
