// Package coretest provides an in-memory stand-in for a pgx pool so that the
// quality engine and its HTTP surface can be tested without PostgreSQL.
//
// Statements are routed to handlers by substring match in registration
// order. A statement with no handler fails loudly, so a test that forgets to
// script a query cannot silently pass.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Result is what a handler returns for one statement.
type Result struct {
	Rows [][]any // for Query; QueryRow uses Rows[0] and reports ErrNoRows when empty
	Tag  string  // for Exec, e.g. "UPDATE 1"
	Err  error
}

// Row is shorthand for a single-row result.
func Row(values ...any) Result { return Result{Rows: [][]any{values}} }

// NoRows makes QueryRow report pgx.ErrNoRows.
func NoRows() Result { return Result{} }

// Fail returns err for the statement.
func Fail(err error) Result { return Result{Err: err} }

// Tag is an Exec result.
func Tag(tag string) Result { return Result{Tag: tag} }

// HandlerFunc answers a statement given its bind arguments.
type HandlerFunc func(args []any) Result

// Call is one statement seen by the fake.
type Call struct {
	SQL  string
	Args []any
	InTx bool
	// Deadline reports whether the statement's context carried a deadline.
	Deadline bool
}

type handler struct {
	match string
	fn    HandlerFunc
}

// DB implements Exec, Query, QueryRow and BeginTx.
type DB struct {
	mu       sync.Mutex
	handlers []handler
	calls    []Call

	// BeginErr makes BeginTx fail.
	BeginErr error

	begins, commits, rollbacks int
	txOptions                  []pgx.TxOptions
}

// New returns an empty fake.
func New() *DB { return &DB{} }

// On registers fn for statements containing match.
func (f *DB) On(match string, fn HandlerFunc) *DB {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler{match: match, fn: fn})
	return f
}

// OnResult registers a fixed result for statements containing match.
func (f *DB) OnResult(match string, r Result) *DB {
	return f.On(match, func([]any) Result { return r })
}

func (f *DB) dispatch(ctx context.Context, sql string, args []any, inTx bool) (Result, bool) {
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	f.calls = append(f.calls, Call{SQL: sql, Args: args, InTx: inTx, Deadline: hasDeadline})
	var fn HandlerFunc
	for _, h := range f.handlers {
		if strings.Contains(sql, h.match) {
			fn = h.fn
			break
		}
	}
	f.mu.Unlock()

	if fn == nil {
		return Result{}, false
	}
	return fn(args), true
}

// Calls returns every statement seen so far.
func (f *DB) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsMatching returns statements containing substr.
func (f *DB) CallsMatching(substr string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if strings.Contains(c.SQL, substr) {
			out = append(out, c)
		}
	}
	return out
}

// TxCounts returns how many transactions (and savepoints) were begun,
// committed and rolled back.
func (f *DB) TxCounts() (begins, commits, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.commits, f.rollbacks
}

// TxOptions returns the options passed to each BeginTx.
func (f *DB) TxOptions() []pgx.TxOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pgx.TxOptions(nil), f.txOptions...)
}

func (f *DB) exec(ctx context.Context, sql string, args []any, inTx bool) (pgconn.CommandTag, error) {
	r, ok := f.dispatch(ctx, sql, args, inTx)
	if !ok {
		// Session settings and other side-effect statements succeed by default.
		return pgconn.NewCommandTag("OK"), nil
	}
	if r.Err != nil {
		return pgconn.CommandTag{}, r.Err
	}
	return pgconn.NewCommandTag(r.Tag), nil
}

func (f *DB) query(ctx context.Context, sql string, args []any, inTx bool) (pgx.Rows, error) {
	r, ok := f.dispatch(ctx, sql, args, inTx)
	if !ok {
		return nil, fmt.Errorf("coretest: no handler for query %q", sql)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &rows{data: r.Rows, idx: -1}, nil
}

func (f *DB) queryRow(ctx context.Context, sql string, args []any, inTx bool) pgx.Row {
	r, ok := f.dispatch(ctx, sql, args, inTx)
	if !ok {
		return &row{err: fmt.Errorf("coretest: no handler for query %q", sql)}
	}
	if r.Err != nil {
		return &row{err: r.Err}
	}
	if len(r.Rows) == 0 {
		return &row{err: pgx.ErrNoRows}
	}
	return &row{values: r.Rows[0]}
}

func (f *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.exec(ctx, sql, args, false)
}

func (f *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return f.query(ctx, sql, args, false)
}

func (f *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRow(ctx, sql, args, false)
}

func (f *DB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	f.begins++
	f.txOptions = append(f.txOptions, opts)
	return &Tx{db: f}, nil
}

// Tx routes statements back to its DB. Savepoints are modelled as nested Tx
// values. Methods not listed here panic through the nil embedded pgx.Tx.
type Tx struct {
	pgx.Tx
	db   *DB
	done bool
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.exec(ctx, sql, args, true)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.query(ctx, sql, args, true)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.queryRow(ctx, sql, args, true)
}

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.db.mu.Lock()
	t.db.begins++
	t.db.mu.Unlock()
	return &Tx{db: t.db}, nil
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type row struct {
	values []any
	err    error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignAll(r.values, dest)
}

type rows struct {
	data [][]any
	idx  int
	err  error
}

func (r *rows) Close()                                       {}
func (r *rows) Err() error                                   { return r.err }
func (r *rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rows) RawValues() [][]byte                          { return nil }
func (r *rows) Conn() *pgx.Conn                              { return nil }

func (r *rows) Next() bool {
	if r.err != nil {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return errors.New("coretest: Scan called without a current row")
	}
	if err := assignAll(r.data[r.idx], dest); err != nil {
		r.err = err
		return err
	}
	return nil
}

func (r *rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, errors.New("coretest: Values called without a current row")
	}
	return r.data[r.idx], nil
}

func assignAll(values, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("coretest: scan of %d values into %d destinations", len(values), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], values[i]); err != nil {
			return fmt.Errorf("coretest: column %d: %w", i, err)
		}
	}
	return nil
}

// assign copies v into the pointer dst, converting between compatible kinds
// (int into int64, string into a named string type).
func assign(dst, v any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a non-nil pointer", dst)
	}
	target := dv.Elem()
	if v == nil {
		target.SetZero()
		return nil
	}
	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case target.Kind() == reflect.Pointer && sv.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(sv)
		target.Set(p)
	case sv.Type().ConvertibleTo(target.Type()):
		target.Set(sv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, target.Type())
	}
	return nil
}
