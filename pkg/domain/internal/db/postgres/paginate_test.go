package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opst/xtstore/pkg/configs/store"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
	"github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	"github.com/opst/xtstore/pkg/utils/try"
)

var (
	chunkPattern  = regexp.MustCompile(` OFFSET (\d+) ROWS FETCH NEXT (\d+) ROWS ONLY$`)
	limitPattern  = regexp.MustCompile(` LIMIT (\d+)$`)
	offsetPattern = regexp.MustCompile(` OFFSET (\d+) ROWS$`)
)

// table answers queries of Select on memory, with n ordered rows.
type table struct {
	mu     sync.Mutex
	rows   [][]any
	labels []string
}

func newTable(n int) *table {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{"", fmt.Sprintf("ws1/run%03d", i)}
	}
	return &table{rows: rows}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func (tb *table) Execute(_ context.Context, st executor.Statement) (executor.Result, error) {
	tb.mu.Lock()
	tb.labels = append(tb.labels, strings.Fields(st.Label)[0])
	tb.mu.Unlock()

	cols := []string{"_run_info_", "_id"}
	slice := func(from, n int) executor.Result {
		from = min(from, len(tb.rows))
		to := len(tb.rows)
		if 0 <= n {
			to = min(from+n, to)
		}
		return executor.Result{Columns: cols, Rows: tb.rows[from:to]}
	}

	switch {
	case strings.HasPrefix(st.SQL, "SELECT count(*)"):
		return executor.Result{Columns: []string{"count"}, Rows: [][]any{{int64(len(tb.rows))}}}, nil
	case chunkPattern.MatchString(st.SQL):
		m := chunkPattern.FindStringSubmatch(st.SQL)
		return slice(atoi(m[1]), atoi(m[2])), nil
	case limitPattern.MatchString(st.SQL):
		return slice(0, atoi(limitPattern.FindStringSubmatch(st.SQL)[1])), nil
	case offsetPattern.MatchString(st.SQL):
		return slice(atoi(offsetPattern.FindStringSubmatch(st.SQL)[1]), -1), nil
	}
	return slice(0, -1), nil
}

// Labels returns the first words of labels of statements, like "count", "chunk" or "query".
func (tb *table) Labels() []string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]string{}, tb.labels...)
}

func config(chunkSize int, computeNode bool) *store.StoreConfig {
	return store.TrySeal(&store.StoreConfigMarshall{
		Database:    "postgres://localhost/xt",
		ComputeNode: computeNode,
		Query:       &store.QueryConfigMarshall{ChunkSize: chunkSize, MaxWorkers: 3},
	})
}

func ids(res executor.Result) []any {
	out := make([]any, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = r[1]
	}
	return out
}

func TestPaginator_Fetch(t *testing.T) {
	type When struct {
		Records     int
		ChunkSize   int
		ComputeNode bool
		Query       domain.Query
	}
	type Then struct {
		Statements []string
	}

	theory := func(when When, then Then) func(*testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()
			compiler := postgres.NewCompiler(newRegistry(), postgres.Runs)
			sel := try.To(compiler.Compile(ctx, "ws1", when.Query)).OrFatal(t)

			// reference: fetching at once
			whole := newTable(when.Records)
			want := ids(try.To(whole.Execute(ctx, executor.Statement{Label: "query", SQL: first(sel.SQL())})).OrFatal(t))

			tb := newTable(when.Records)
			testee := postgres.NewPaginator(tb, config(when.ChunkSize, when.ComputeNode), nil)

			progress := []int{}
			total := 0
			got := try.To(testee.Fetch(ctx, sel, func(done, n int) {
				progress = append(progress, done)
				total = n
			})).OrFatal(t)

			if diff := cmp.Diff(want, ids(got)); diff != "" {
				t.Errorf("rows (-want +got):\n%s", diff)
			}

			labels := tb.Labels()
			if diff := cmp.Diff(then.Statements, compact(labels)); diff != "" {
				t.Errorf("statements (-want +got):\n%s", diff)
			}

			chunks := 0
			for _, l := range labels {
				if l == "chunk" {
					chunks += 1
				}
			}
			if len(progress) != chunks || (0 < chunks && total != chunks) {
				t.Errorf("progress: %v / %d for %d chunks", progress, total, chunks)
			}
			for i, p := range progress {
				if p != i+1 {
					t.Errorf("progress is not increasing: %v", progress)
					break
				}
			}
		}
	}

	fields := map[string]any{"_id": 1}
	sort := []domain.SortKey{{Field: "run_num"}}

	t.Run("small page is fetched at once", theory(
		When{Records: 100, ChunkSize: 10, Query: domain.Query{Fields: fields, First: 10}},
		Then{Statements: []string{"query"}},
	))

	t.Run("pinned record is fetched at once", theory(
		When{Records: 100, ChunkSize: 10, Query: domain.Query{
			Fields: fields, Filter: map[string]any{"_id": "ws1/run001"},
		}},
		Then{Statements: []string{"query"}},
	))

	t.Run("compute node fetches at once", theory(
		When{Records: 100, ChunkSize: 10, ComputeNode: true, Query: domain.Query{Fields: fields}},
		Then{Statements: []string{"query"}},
	))

	t.Run("it counts, and fetches at once when the result fits in a chunk", theory(
		When{Records: 8, ChunkSize: 10, Query: domain.Query{Fields: fields, Sort: sort}},
		Then{Statements: []string{"count", "query"}},
	))

	t.Run("skip makes the result fit in a chunk", theory(
		When{Records: 25, ChunkSize: 10, Query: domain.Query{Fields: fields, Sort: sort, Skip: 20}},
		Then{Statements: []string{"count", "query"}},
	))

	t.Run("large result is fetched in chunks", theory(
		When{Records: 95, ChunkSize: 10, Query: domain.Query{Fields: fields, Sort: sort}},
		Then{Statements: []string{"count", "chunk"}},
	))

	t.Run("chunks respect skip and first", theory(
		When{Records: 95, ChunkSize: 10, Query: domain.Query{Fields: fields, Sort: sort, Skip: 7, First: 33}},
		Then{Statements: []string{"count", "chunk"}},
	))

	t.Run("result size multiple of chunk size", theory(
		When{Records: 40, ChunkSize: 10, Query: domain.Query{Fields: fields}},
		Then{Statements: []string{"count", "chunk"}},
	))
}

func TestPaginator_ChunkFailure(t *testing.T) {
	ctx := context.Background()
	compiler := postgres.NewCompiler(newRegistry(), postgres.Runs)
	sel := try.To(compiler.Compile(ctx, "ws1", domain.Query{Fields: map[string]any{"_id": 1}})).OrFatal(t)

	tb := newTable(100)
	expected := errors.New("fake: chunk failure")
	exec := execFunc(func(ctx context.Context, st executor.Statement) (executor.Result, error) {
		if strings.Contains(st.SQL, "OFFSET 30 ROWS") {
			return executor.Result{}, expected
		}
		return tb.Execute(ctx, st)
	})

	testee := postgres.NewPaginator(exec, config(10, false), nil)
	if _, err := testee.Fetch(ctx, sel, nil); !errors.Is(err, expected) {
		t.Errorf("unexpected error: %v", err)
	}
}

func first(sql string, _ []any) string {
	return sql
}

// compact drops consecutive duplicates.
func compact(labels []string) []string {
	out := []string{}
	for _, l := range labels {
		if len(out) == 0 || out[len(out)-1] != l {
			out = append(out, l)
		}
	}
	return out
}
