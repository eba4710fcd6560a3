package postgres_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/conn/db/postgres/pool/fake"
	"github.com/opst/xtstore/pkg/conn/db/postgres/testenv"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	"github.com/opst/xtstore/pkg/domain/schema/db/postgres"
	"github.com/opst/xtstore/pkg/utils/try"
)

// repository writes files into a new schema repository.
func repository(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestPgSchema_Upgrade(t *testing.T) {
	type When struct {
		VersionInDB fake.Response
	}
	type Then struct {
		VersionBefore int
		Scripts       []string
	}

	files := map[string]string{
		"1/00_foo.sql": `CREATE TABLE "foo" ("_id" text)`,
		"1/01_bar.sql": `CREATE TABLE "bar" ("_id" text)`,
		"2/00_baz.sql": `CREATE TABLE "baz" ("_id" text)`,
		"README.md":    "not a version",
		"x/00.sql":     "not a version either",
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()
			scripts := []string{}
			p := fake.New(func(_ context.Context, call fake.Call) fake.Response {
				if strings.HasPrefix(call.SQL, `SELECT max("version")`) {
					return when.VersionInDB
				}
				scripts = append(scripts, call.SQL)
				return fake.Response{}
			})
			testee := postgres.New(
				executor.New(executor.Static(p), executor.Policy{MaxAttempts: 1}),
				repository(t, files),
			)

			got := try.To(testee.Version(ctx)).OrFatal(t)
			if got != then.VersionBefore {
				t.Errorf("version: got %d, want %d", got, then.VersionBefore)
			}
			if err := testee.Upgrade(ctx); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(then.Scripts, scripts); diff != "" {
				t.Errorf("scripts (-want +got):\n%s", diff)
			}
		}
	}

	v1 := `CREATE TABLE "foo" ("_id" text);
CREATE TABLE "bar" ("_id" text);
DELETE FROM "schema_version"; INSERT INTO "schema_version" ("version") VALUES (1);`
	v2 := `CREATE TABLE "baz" ("_id" text);
DELETE FROM "schema_version"; INSERT INTO "schema_version" ("version") VALUES (2);`

	t.Run("when schema_version is missing, it applies all versions", theory(
		When{VersionInDB: fake.Response{Err: &pgconn.PgError{Code: pgerrcode.UndefinedTable}}},
		Then{VersionBefore: 0, Scripts: []string{v1, v2}},
	))

	t.Run("when schema_version is empty, it applies all versions", theory(
		When{VersionInDB: fake.Response{Columns: []string{"max"}, Rows: [][]any{{nil}}}},
		Then{VersionBefore: 0, Scripts: []string{v1, v2}},
	))

	t.Run("it applies only newer versions", theory(
		When{VersionInDB: fake.Response{Columns: []string{"max"}, Rows: [][]any{{int32(1)}}}},
		Then{VersionBefore: 1, Scripts: []string{v2}},
	))

	t.Run("it does nothing for the latest database", theory(
		When{VersionInDB: fake.Response{Columns: []string{"max"}, Rows: [][]any{{int32(2)}}}},
		Then{VersionBefore: 2, Scripts: []string{}},
	))
}

func TestPgSchema_Context(t *testing.T) {
	ctx := context.Background()
	repo := repository(t, map[string]string{"1/00_foo.sql": `CREATE TABLE "foo" ("_id" text)`})

	version := func(v int32) *fake.FakePool {
		return fake.New(fake.Always(fake.Response{Columns: []string{"max"}, Rows: [][]any{{v}}}))
	}

	t.Run("it is not done when the database is latest", func(t *testing.T) {
		testee := postgres.New(executor.New(executor.Static(version(1)), executor.Policy{}), repo)
		sctx, cancel := testee.Context(ctx)
		defer cancel()
		if err := sctx.Err(); err != nil {
			t.Errorf("context is done: %v", context.Cause(sctx))
		}
	})

	t.Run("it is done when the database is outdated", func(t *testing.T) {
		testee := postgres.New(executor.New(executor.Static(version(0)), executor.Policy{}), repo)
		sctx, cancel := testee.Context(ctx)
		defer cancel()
		if sctx.Err() == nil {
			t.Error("context is not done")
		}
	})
}

func TestPgSchema_UpgradeRepository(t *testing.T) {
	ctx := context.Background()
	p := testenv.NewPoolBroaker(t).GetPool(ctx, t)
	exec := executor.New(executor.Static(p), executor.Policy{MaxAttempts: 1})

	testee := postgres.New(exec, testenv.SchemaRepository(t))
	if err := testee.Upgrade(ctx); err != nil {
		t.Fatal(err)
	}
	if v := try.To(testee.Version(ctx)).OrFatal(t); v < 1 {
		t.Errorf("version after upgrade: %d", v)
	}
	// upgrading twice is no-op.
	if err := testee.Upgrade(ctx); err != nil {
		t.Fatal(err)
	}

	reg := postgres.NewRegistry(exec, nil)
	for _, table := range []string{
		"workspaces", "job_info", "job_stats", "job_tags",
		"run_info", "run_stats", "hparams", "metrics", "run_tags",
		"node_info", "node_stats", "node_tags",
	} {
		cols := try.To(reg.ColumnsOf(ctx, table)).OrFatal(t)
		if cols["_id"] != kschema.TypeText || !cols.Has("workspace") {
			t.Errorf("table %s: unexpected columns %v", table, cols)
		}
	}
}
