package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/conn/db/postgres/pool/fake"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	"github.com/opst/xtstore/pkg/domain/schema/db/postgres"
	"github.com/opst/xtstore/pkg/utils/try"
)

var alterPattern = regexp.MustCompile(`^ALTER TABLE "(\w+)" ADD COLUMN IF NOT EXISTS "([^"]+)" (.+)$`)

// catalog answers information_schema queries and ALTER TABLE statements on memory.
type catalog struct {
	mu     sync.Mutex
	tables map[string]kschema.Columns
	alters []string
}

func (c *catalog) respond(_ context.Context, call fake.Call) fake.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.Contains(call.SQL, `"information_schema"."columns"`) {
		table := call.Args[0].(string)
		names := []string{}
		for n := range c.tables[table] {
			names = append(names, n)
		}
		slices.Sort(names)
		rows := [][]any{}
		for _, n := range names {
			rows = append(rows, []any{n, c.tables[table][n]})
		}
		return fake.Response{Columns: []string{"column_name", "data_type"}, Rows: rows}
	}
	if m := alterPattern.FindStringSubmatch(call.SQL); m != nil {
		c.alters = append(c.alters, m[2]+" "+m[3])
		c.tables[m[1]][m[2]] = m[3]
		return fake.Response{Tag: "ALTER TABLE"}
	}
	return fake.Response{Err: errors.New("fake: unexpected sql: " + call.SQL)}
}

func (c *catalog) Alters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.alters...)
}

func newRegistry(c *catalog) *postgres.Registry {
	exec := executor.New(executor.Static(fake.New(c.respond)), executor.Policy{MaxAttempts: 1})
	return postgres.NewRegistry(exec, nil)
}

func bagCatalog() *catalog {
	return &catalog{tables: map[string]kschema.Columns{
		"hparams": {"_id": kschema.TypeText, "workspace": kschema.TypeText},
	}}
}

func TestRegistry_EnsureColumns(t *testing.T) {
	ctx := context.Background()

	t.Run("an unseen key adds a column once", func(t *testing.T) {
		c := bagCatalog()
		testee := newRegistry(c)

		added := try.To(testee.EnsureColumns(
			ctx, "hparams", map[string]any{"lr": 0.01, "optimizer": "adam", "_id": "ws1/run1"}, false,
		)).OrFatal(t)
		if diff := cmp.Diff([]string{"lr", "optimizer"}, added); diff != "" {
			t.Errorf("added (-want +got):\n%s", diff)
		}

		again := try.To(testee.EnsureColumns(
			ctx, "hparams", map[string]any{"lr": 0.02, "optimizer": "sgd"}, false,
		)).OrFatal(t)
		if len(again) != 0 {
			t.Errorf("columns are added again: %v", again)
		}

		want := []string{"lr double precision", "optimizer text"}
		if diff := cmp.Diff(want, c.Alters()); diff != "" {
			t.Errorf("alters (-want +got):\n%s", diff)
		}

		cols := try.To(testee.ColumnsOf(ctx, "hparams")).OrFatal(t)
		if !cols.Has("lr") || !cols.Has("optimizer") {
			t.Errorf("cache is not refreshed: %v", cols)
		}
	})

	t.Run("keys with nil value are not added", func(t *testing.T) {
		c := bagCatalog()
		testee := newRegistry(c)

		added := try.To(testee.EnsureColumns(ctx, "hparams", map[string]any{"seed": nil}, false)).OrFatal(t)
		if len(added) != 0 || len(c.Alters()) != 0 {
			t.Errorf("nil valued key is added: %v", c.Alters())
		}
	})

	t.Run("forceText types numbers as text", func(t *testing.T) {
		c := bagCatalog()
		testee := newRegistry(c)

		try.To(testee.EnsureColumns(ctx, "hparams", map[string]any{"epochs": 10}, true)).OrFatal(t)
		if diff := cmp.Diff([]string{"epochs text"}, c.Alters()); diff != "" {
			t.Errorf("alters (-want +got):\n%s", diff)
		}
	})

	t.Run("concurrent writers add a column once", func(t *testing.T) {
		c := bagCatalog()
		testee := newRegistry(c)

		wg := new(sync.WaitGroup)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := testee.EnsureColumns(ctx, "hparams", map[string]any{"lr": 0.1}, false); err != nil {
					t.Error(err)
				}
			}()
		}
		wg.Wait()

		if diff := cmp.Diff([]string{"lr double precision"}, c.Alters()); diff != "" {
			t.Errorf("alters (-want +got):\n%s", diff)
		}
	})
}

func TestRegistry_ColumnsOf(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown table is a configuration error", func(t *testing.T) {
		testee := newRegistry(bagCatalog())

		_, err := testee.ColumnsOf(ctx, "no_such_table")
		if !errors.As(err, new(pgerrors.UnknownTable)) {
			t.Errorf("unexpected error: %v", err)
		}
		if !errors.Is(err, executor.ErrConfiguration) {
			t.Errorf("error does not match ErrConfiguration: %v", err)
		}
	})

	t.Run("columns are cached until invalidated", func(t *testing.T) {
		c := bagCatalog()
		p := fake.New(c.respond)
		testee := postgres.NewRegistry(
			executor.New(executor.Static(p), executor.Policy{MaxAttempts: 1}), nil,
		)

		try.To(testee.ColumnsOf(ctx, "hparams")).OrFatal(t)
		try.To(testee.ColumnsOf(ctx, "hparams")).OrFatal(t)
		if n := len(p.Calls()); n != 1 {
			t.Errorf("queried %d times", n)
		}

		testee.Invalidate("hparams")
		try.To(testee.ColumnsOf(ctx, "hparams")).OrFatal(t)
		if n := len(p.Calls()); n != 2 {
			t.Errorf("queried %d times after invalidation", n)
		}
	})
}

func TestTypeOf(t *testing.T) {
	for name, tc := range map[string]struct {
		value     any
		forceText bool
		want      string
	}{
		"float":             {value: 0.5, want: kschema.TypeFloat},
		"int":               {value: 3, want: kschema.TypeFloat},
		"bool":              {value: true, want: kschema.TypeFloat},
		"string":            {value: "adam", want: kschema.TypeText},
		"forced float":      {value: 0.5, forceText: true, want: kschema.TypeText},
		"other is text too": {value: []int{1}, want: kschema.TypeText},
	} {
		t.Run(name, func(t *testing.T) {
			if got := postgres.TypeOf(tc.value, tc.forceText); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}
