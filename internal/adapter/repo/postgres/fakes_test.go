package postgres

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow scans its values positionally into the destinations.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("fakeRow: %d destinations for %d values", len(dest), len(r.vals))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

type call struct {
	sql  string
	args []any
}

// script answers statements in order of the substrings they contain.
type script struct {
	calls []call
	rows  map[string][]fakeRow
	execs map[string]pgconn.CommandTag
	fail  map[string]error
}

func newScript() *script {
	return &script{rows: map[string][]fakeRow{}, execs: map[string]pgconn.CommandTag{}, fail: map[string]error{}}
}

func (s *script) match(sql string) string {
	keys := make([]string, 0, len(s.rows)+len(s.execs)+len(s.fail))
	for k := range s.rows {
		keys = append(keys, k)
	}
	for k := range s.execs {
		keys = append(keys, k)
	}
	for k := range s.fail {
		keys = append(keys, k)
	}
	for _, k := range keys {
		if strings.Contains(sql, k) {
			return k
		}
	}
	return ""
}

func (s *script) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{sql, args})
	k := s.match(sql)
	if err, ok := s.fail[k]; ok {
		return pgconn.CommandTag{}, err
	}
	return s.execs[k], nil
}

func (s *script) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{sql, args})
	k := s.match(sql)
	queue := s.rows[k]
	if len(queue) == 0 {
		return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
	s.rows[k] = queue[1:]
	return queue[0]
}

func (s *script) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{sql, args})
	if err, ok := s.fail[s.match(sql)]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

// fakePool hands out one fakeTx backed by the same script.
type fakePool struct {
	*script
	tx *fakeTx
}

func newFakePool() *fakePool {
	s := newScript()
	return &fakePool{script: s, tx: &fakeTx{script: s}}
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { return p.tx, nil }

type fakeTx struct {
	pgx.Tx
	*script
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.script.Exec(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.script.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.script.Query(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
