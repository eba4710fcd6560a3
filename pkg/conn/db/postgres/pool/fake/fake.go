// Package fake provides in-memory Pool and Conn answering SQL with a scripted Responder.
package fake

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgproto3/v2"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/xtstore/pkg/conn/db/postgres/pool"
)

// A statement sent to FakeConn.
type Call struct {
	SQL  string
	Args []any

	// true when the call comes from ExecBatch. Each arguments of the batch are sent as a Call.
	Batch bool
}

// What FakeConn answers to a Call.
type Response struct {
	Columns []string
	Rows    [][]any

	// command tag, like "UPDATE 1".
	Tag string

	Err error
}

type Responder func(ctx context.Context, call Call) Response

// Respond with the same Response always.
func Always(resp Response) Responder {
	return func(context.Context, Call) Response { return resp }
}

// Respond in order. After exhausting them, it responds with the last one.
func Sequence(resps ...Response) Responder {
	mu := new(sync.Mutex)
	nth := 0
	return func(context.Context, Call) Response {
		mu.Lock()
		defer mu.Unlock()
		if len(resps) == 0 {
			return Response{}
		}
		r := resps[min(nth, len(resps)-1)]
		nth += 1
		return r
	}
}

type FakePool struct {
	mu sync.Mutex

	Responder Responder

	// error returned by next Acquire. It is reset after Acquire.
	NextAcquireErr error
	NextPing       error

	calls    []Call
	acquired int
	released int
	closed   bool
}

var _ kpool.Pool = &FakePool{}

func New(responder Responder) *FakePool {
	return &FakePool{Responder: responder}
}

func (p *FakePool) Acquire(ctx context.Context) (kpool.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.NextAcquireErr; err != nil {
		p.NextAcquireErr = nil
		return nil, err
	}
	if p.closed {
		return nil, errors.New("fake: pool is closed")
	}
	p.acquired += 1
	return &FakeConn{pool: p}, nil
}

func (p *FakePool) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.NextPing
	p.NextPing = nil
	return err
}

func (p *FakePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *FakePool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Calls sent to connections of this pool, in order.
func (p *FakePool) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call{}, p.calls...)
}

// how many connections are acquired and not released yet.
func (p *FakePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired - p.released
}

func (p *FakePool) respond(ctx context.Context, call Call) Response {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	r := p.Responder
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{Err: err}
	}
	if r == nil {
		return Response{}
	}
	return r(ctx, call)
}

type FakeConn struct {
	pool     *FakePool
	released bool
}

var _ kpool.Conn = &FakeConn{}

func (c *FakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	resp := c.pool.respond(ctx, Call{SQL: sql, Args: args})
	if resp.Err != nil {
		return nil, resp.Err
	}
	return pgconn.CommandTag(resp.Tag), nil
}

func (c *FakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	resp := c.pool.respond(ctx, Call{SQL: sql, Args: args})
	if resp.Err != nil {
		return nil, resp.Err
	}
	return NewRows(resp.Columns, resp.Rows...), nil
}

func (c *FakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	resp := c.pool.respond(ctx, Call{SQL: sql, Args: args})
	return &FakeRow{resp: resp}
}

func (c *FakeConn) ExecBatch(ctx context.Context, sql string, arguments [][]any) (int64, error) {
	affected := int64(0)
	for _, args := range arguments {
		resp := c.pool.respond(ctx, Call{SQL: sql, Args: args, Batch: true})
		if resp.Err != nil {
			return affected, resp.Err
		}
		affected += pgconn.CommandTag(resp.Tag).RowsAffected()
	}
	return affected, nil
}

func (c *FakeConn) Ping(context.Context) error {
	return nil
}

func (c *FakeConn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.released += 1
}

// pgx.Rows on memory.
type FakeRows struct {
	columns []string
	rows    [][]any
	cursor  int
	closed  bool
	err     error
}

var _ pgx.Rows = &FakeRows{}

func NewRows(columns []string, rows ...[]any) *FakeRows {
	return &FakeRows{columns: columns, rows: rows}
}

func (r *FakeRows) Close() {
	r.closed = true
}

func (r *FakeRows) Err() error {
	return r.err
}

func (r *FakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.CommandTag(fmt.Sprintf("SELECT %d", len(r.rows)))
}

func (r *FakeRows) FieldDescriptions() []pgproto3.FieldDescription {
	fds := make([]pgproto3.FieldDescription, len(r.columns))
	for i, c := range r.columns {
		fds[i] = pgproto3.FieldDescription{Name: []byte(c)}
	}
	return fds
}

func (r *FakeRows) Next() bool {
	if r.closed || len(r.rows) <= r.cursor {
		r.closed = true
		return false
	}
	r.cursor += 1
	return true
}

func (r *FakeRows) current() ([]any, error) {
	if r.cursor == 0 || len(r.rows) < r.cursor {
		return nil, errors.New("fake: no current row")
	}
	return r.rows[r.cursor-1], nil
}

func (r *FakeRows) Scan(dest ...any) error {
	row, err := r.current()
	if err != nil {
		return err
	}
	return scan(row, dest)
}

func (r *FakeRows) Values() ([]any, error) {
	row, err := r.current()
	if err != nil {
		return nil, err
	}
	return append([]any{}, row...), nil
}

func (r *FakeRows) RawValues() [][]byte {
	return nil
}

// pgx.Row on memory.
type FakeRow struct {
	resp Response
}

var _ pgx.Row = &FakeRow{}

func (r *FakeRow) Scan(dest ...any) error {
	if r.resp.Err != nil {
		return r.resp.Err
	}
	if len(r.resp.Rows) == 0 {
		return pgx.ErrNoRows
	}
	return scan(r.resp.Rows[0], dest)
}

func scan(row []any, dest []any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("fake: %d values for %d destinations", len(row), len(dest))
	}
	for i, d := range dest {
		if p, ok := d.(*any); ok {
			*p = row[i]
			continue
		}

		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("fake: destination #%d is not a pointer", i)
		}
		target := dv.Elem()
		if row[i] == nil {
			if k := target.Kind(); k != reflect.Pointer && k != reflect.Interface {
				return fmt.Errorf("fake: cannot scan NULL into %s", target.Type())
			}
			target.Set(reflect.Zero(target.Type()))
			continue
		}

		v := reflect.ValueOf(row[i])
		if target.Kind() == reflect.Pointer {
			p := reflect.New(target.Type().Elem())
			if !v.Type().ConvertibleTo(p.Elem().Type()) {
				return fmt.Errorf("fake: cannot scan %T into %s", row[i], target.Type())
			}
			p.Elem().Set(v.Convert(p.Elem().Type()))
			target.Set(p)
			continue
		}
		if !v.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("fake: cannot scan %T into %s", row[i], target.Type())
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}
