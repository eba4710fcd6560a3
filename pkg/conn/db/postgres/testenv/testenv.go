// Package testenv provides databases for integration tests.
//
// Tests using this package are skipped unless XTSTORE_TEST_DATABASE is set to a connection string.
// The database is wiped for each test, so do not run such packages in parallel (use `go test -p 1`).
package testenv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	kpool "github.com/opst/xtstore/pkg/conn/db/postgres/pool"
	"github.com/opst/xtstore/pkg/utils"
)

const EnvDatabase = "XTSTORE_TEST_DATABASE"

// DSN returns the connection string for tests. If it is not given, t is skipped.
func DSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv(EnvDatabase)
	if dsn == "" {
		t.Skipf("%s is not set", EnvDatabase)
	}
	return dsn
}

// SchemaRepository returns path to the schema repository of this module.
func SchemaRepository(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	repo, err := utils.SearchFilePathtoUpward(wd, filepath.Join("schema", "postgres"))
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

// PoolBroaker is a interface to get a pool.
type PoolBroaker interface {
	// GetPool returns a pool connected to an empty schema.
	GetPool(ctx context.Context, t *testing.T) kpool.Pool
}

type options struct {
	setup func(context.Context, kpool.Pool) error
}

type Option func(*options) *options

// WithSetup runs setup on each pool after the schema is wiped.
func WithSetup(setup func(context.Context, kpool.Pool) error) Option {
	return func(o *options) *options {
		o.setup = setup
		return o
	}
}

type broaker struct {
	dsn  string
	opts *options
}

// NewPoolBroaker returns a PoolBroaker. If XTSTORE_TEST_DATABASE is not set, t is skipped.
func NewPoolBroaker(t *testing.T, opts ...Option) PoolBroaker {
	t.Helper()
	o := &options{}
	for _, opt := range opts {
		o = opt(o)
	}
	return &broaker{dsn: DSN(t), opts: o}
}

func (b *broaker) GetPool(ctx context.Context, t *testing.T) kpool.Pool {
	t.Helper()

	p, err := kpool.Connect(ctx, b.dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)

	Wipe(ctx, t, p)
	if b.opts.setup != nil {
		if err := b.opts.setup(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

// Wipe drops all tables in the current schema.
func Wipe(ctx context.Context, t *testing.T, p kpool.Pool) {
	t.Helper()

	conn, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("fail to clean-up tables: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
DO $$
DECLARE r record;
BEGIN
	FOR r IN SELECT tablename FROM pg_tables WHERE schemaname = current_schema() LOOP
		EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
	END LOOP;
END $$`); err != nil {
		t.Fatalf("fail to clean-up tables: %v", err)
	}
}
