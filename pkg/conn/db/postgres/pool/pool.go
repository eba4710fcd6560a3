package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// something sending query with SQL.
//
// this is extracted interface from `pgxpool.Conn`.
// When you need more details, see them.
type Queryer interface {
	// sending SQL Command which does not have any result rows.
	//
	// for more detail, see `pgxpool.Conn.Exec`
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)

	// sending SQL Command which has result rows.
	//
	// for more detail, see `pgxpool.Conn.Query`
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// sending SQL Command which has just single result row.
	//
	// for more detail, see `pgxpool.Conn.QueryRow`
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// interface extracted from `*pgxpool.Conn`
//
// # note: this is subset
//
// When you need more methods only `*pgxpool.Conn` has, declare them.
type Conn interface {
	Queryer

	// sending a SQL Command once per arguments, in a single round trip.
	//
	// It returns the sum of affected rows.
	// For more detail, see `pgxpool.Conn.SendBatch`
	ExecBatch(ctx context.Context, sql string, arguments [][]any) (int64, error)

	Ping(ctx context.Context) error

	// give the connection back to the pool.
	Release()
}

// interface extracted from `*pgxpool.Pool`
//
// # note: this is subset
//
// When you need more methods only `*pgxpool.Pool` has, declare them.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error

	// close all connections in the pool.
	//
	// After Close, the Pool should not be used.
	Close()
}

// thin wrapper of pgxpool.Conn as Conn
type pgxPoolConn struct {
	base *pgxpool.Conn
}

var _ Conn = &pgxPoolConn{}

func (c *pgxPoolConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return c.base.Exec(ctx, sql, arguments...)
}
func (c *pgxPoolConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.base.Query(ctx, sql, args...)
}
func (c *pgxPoolConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.base.QueryRow(ctx, sql, args...)
}
func (c *pgxPoolConn) ExecBatch(ctx context.Context, sql string, arguments [][]any) (int64, error) {
	b := new(pgx.Batch)
	for _, args := range arguments {
		b.Queue(sql, args...)
	}

	br := c.base.SendBatch(ctx, b)
	affected := int64(0)
	for range arguments {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return affected, err
		}
		affected += tag.RowsAffected()
	}
	return affected, br.Close()
}
func (c *pgxPoolConn) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}
func (c *pgxPoolConn) Release() {
	c.base.Release()
}

type pgxPool struct {
	base *pgxpool.Pool
}

var _ Pool = &pgxPool{}

func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.base.Acquire(ctx)
	if conn == nil {
		return nil, err
	}
	return &pgxPoolConn{conn}, err
}
func (p *pgxPool) Ping(ctx context.Context) error {
	return p.base.Ping(ctx)
}
func (p *pgxPool) Close() {
	p.base.Close()
}

func Wrap(p *pgxpool.Pool) Pool {
	return &pgxPool{p}
}

// Connect opens a new pool to the database.
//
// # Args
//
// - ctx: context.
//
// - dsn: connection string. For detail, see `pgxpool.ParseConfig`.
//
// # Returns
//
// - Pool: connected pool. Statements on it are committed one by one (autocommit).
//
// - error
func Connect(ctx context.Context, dsn string) (Pool, error) {
	p, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return Wrap(p), nil
}
