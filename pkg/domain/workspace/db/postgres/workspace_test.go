package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
	domerr "github.com/opst/xtstore/pkg/domain/errors"
	"github.com/opst/xtstore/pkg/domain/internal/db/postgres/pgtest"
	kpgworkspace "github.com/opst/xtstore/pkg/domain/workspace/db/postgres"
	"github.com/opst/xtstore/pkg/utils/try"
)

func TestWorkspace_NextCounter(t *testing.T) {
	ctx := context.Background()

	t.Run("it increments the counter and returns the value before", func(t *testing.T) {
		rec := &pgtest.Recorder{Answer: func(executor.Statement) (executor.Result, error) {
			return executor.Result{Columns: []string{"?column?"}, Rows: [][]any{{int64(41)}}}, nil
		}}
		store, _ := pgtest.NewStore(t, rec, true)
		testee := kpgworkspace.New(store)

		got := try.To(testee.NextCounter(ctx, "ws1", domain.CounterJob)).OrFatal(t)
		if got != 41 {
			t.Errorf("counter: %d", got)
		}

		want := []executor.Statement{{
			Label: "next next_job_number",
			SQL:   `UPDATE "workspaces" SET "next_job_number" = "next_job_number" + 1 WHERE "_id" = $1 RETURNING "next_job_number" - 1`,
			Args:  []any{"ws1"},
			Fetch: executor.FetchOne,
		}}
		if diff := cmp.Diff(want, rec.Statements()); diff != "" {
			t.Errorf("statements (-want +got):\n%s", diff)
		}
	})

	t.Run("missing workspace", func(t *testing.T) {
		rec := &pgtest.Recorder{Answer: func(executor.Statement) (executor.Result, error) {
			return executor.Result{}, nil
		}}
		store, _ := pgtest.NewStore(t, rec, true)
		testee := kpgworkspace.New(store)

		if _, err := testee.NextCounter(ctx, "ws1", domain.CounterEnd); !errors.Is(err, domerr.ErrMissing) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown counter", func(t *testing.T) {
		rec := &pgtest.Recorder{}
		store, _ := pgtest.NewStore(t, rec, true)
		testee := kpgworkspace.New(store)

		if _, err := testee.NextCounter(ctx, "ws1", domain.Counter("next_secret")); !errors.Is(err, executor.ErrConfiguration) {
			t.Errorf("unexpected error: %v", err)
		}
		if n := len(rec.Statements()); n != 0 {
			t.Errorf("statements are executed: %d", n)
		}
	})
}

func TestWorkspace_Delete(t *testing.T) {
	ctx := context.Background()

	theory := func(workspaces int64, expected bool) func(*testing.T) {
		return func(t *testing.T) {
			rec := &pgtest.Recorder{Answer: func(st executor.Statement) (executor.Result, error) {
				if st.Label == "delete workspaces" {
					return executor.Result{RowsAffected: workspaces}, nil
				}
				return executor.Result{RowsAffected: 2}, nil
			}}
			store, _ := pgtest.NewStore(t, rec, true)
			testee := kpgworkspace.New(store)

			existed := try.To(testee.Delete(ctx, "ws1")).OrFatal(t)
			if existed != expected {
				t.Errorf("existed: %v", existed)
			}

			want := []string{
				"delete hparams", "delete metrics", "delete run_tags", "delete run_stats", "delete run_info",
				"delete node_tags", "delete node_stats", "delete node_info",
				"delete job_tags", "delete job_stats", "delete job_info",
				"delete workspaces",
			}
			if diff := cmp.Diff(want, rec.Labels()); diff != "" {
				t.Errorf("statements (-want +got):\n%s", diff)
			}
			for _, st := range rec.Statements() {
				if diff := cmp.Diff([]any{"ws1"}, st.Args); diff != "" {
					t.Errorf("args of %s (-want +got):\n%s", st.Label, diff)
				}
			}
		}
	}

	t.Run("existing workspace", theory(1, true))
	t.Run("missing workspace", theory(0, false))
}

func TestWorkspace_Create(t *testing.T) {
	rec := &pgtest.Recorder{}
	store, _ := pgtest.NewStore(t, rec, true)
	testee := kpgworkspace.New(store)

	if err := testee.Create(context.Background(), "ws1", "xtdb"); err != nil {
		t.Fatal(err)
	}
	want := []executor.Statement{{
		Label: "create workspace",
		SQL: `INSERT INTO "workspaces" ("_id", "workspace", "db_name") VALUES ($1, $1, $2)` +
			` ON CONFLICT ("_id") DO NOTHING`,
		Args: []any{"ws1", "xtdb"},
	}}
	if diff := cmp.Diff(want, rec.Statements()); diff != "" {
		t.Errorf("statements (-want +got):\n%s", diff)
	}
}

func TestWorkspace_SetCounters(t *testing.T) {
	rec := &pgtest.Recorder{}
	store, _ := pgtest.NewStore(t, rec, true)
	testee := kpgworkspace.New(store)

	if err := testee.SetCounters(context.Background(), "ws1", 10, 0); err != nil {
		t.Fatal(err)
	}
	st := rec.Statements()
	if len(st) != 1 {
		t.Fatalf("unexpected statements: %+v", st)
	}
	if want := `UPDATE "workspaces" SET "next_job_number" = $1 WHERE "_id" = $2`; st[0].SQL != want {
		t.Errorf("sql:\n- got : %s\n- want: %s", st[0].SQL, want)
	}
	if diff := cmp.Diff([]any{int64(10), "ws1"}, st[0].Args); diff != "" {
		t.Errorf("args (-want +got):\n%s", diff)
	}
}

func TestWorkspace_ListExperiments(t *testing.T) {
	rec := &pgtest.Recorder{Answer: func(executor.Statement) (executor.Result, error) {
		return executor.Result{
			Columns: []string{"exper_name"},
			Rows:    [][]any{{"exp-a"}, {"exp-b"}},
		}, nil
	}}
	store, _ := pgtest.NewStore(t, rec, true)
	testee := kpgworkspace.New(store)

	got := try.To(testee.ListExperiments(context.Background(), "ws1")).OrFatal(t)
	if diff := cmp.Diff([]string{"exp-a", "exp-b"}, got); diff != "" {
		t.Errorf("experiments (-want +got):\n%s", diff)
	}
}
