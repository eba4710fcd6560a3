package postgres

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v4"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

// Registry caches columns of tables. It is safe for concurrent use.
type Registry struct {
	exec   executor.Interface
	logger log.Logger

	mu      sync.RWMutex
	columns map[string]kschema.Columns

	// serializes growth, so one process adds a column once.
	grow sync.Mutex
}

var _ kschema.Registry = &Registry{}

func NewRegistry(exec executor.Interface, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		exec:    exec,
		logger:  logger,
		columns: map[string]kschema.Columns{},
	}
}

func (r *Registry) ColumnsOf(ctx context.Context, table string) (kschema.Columns, error) {
	r.mu.RLock()
	cols, ok := r.columns[table]
	r.mu.RUnlock()
	if ok {
		return cols, nil
	}
	return r.load(ctx, table)
}

// load queries columns of the table and caches them.
func (r *Registry) load(ctx context.Context, table string) (kschema.Columns, error) {
	res, err := r.exec.Execute(ctx, executor.Statement{
		Label: "columns of " + table,
		SQL: `SELECT "column_name", "data_type" FROM "information_schema"."columns"
WHERE "table_schema" = current_schema() AND "table_name" = $1`,
		Args:  []any{table},
		Fetch: executor.FetchAll,
	})
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if len(res.Rows) == 0 {
		return nil, pgerrors.UnknownTable{Table: table}
	}

	cols := make(kschema.Columns, len(res.Rows))
	for _, row := range res.Rows {
		name, _ := row[0].(string)
		typ, _ := row[1].(string)
		cols[name] = typ
	}

	r.mu.Lock()
	r.columns[table] = cols
	r.mu.Unlock()
	return cols, nil
}

func (r *Registry) EnsureColumns(ctx context.Context, table string, sample map[string]any, forceText bool) ([]string, error) {
	cols, err := r.ColumnsOf(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(missing(cols, sample)) == 0 {
		return nil, nil
	}

	r.grow.Lock()
	defer r.grow.Unlock()

	// another goroutine may have added them while waiting.
	if cols, err = r.load(ctx, table); err != nil {
		return nil, err
	}
	absent := missing(cols, sample)
	if len(absent) == 0 {
		return nil, nil
	}

	added := make([]string, 0, len(absent))
	defer func() {
		if 0 < len(added) {
			r.Invalidate(table)
		}
	}()
	for _, col := range absent {
		typ := TypeOf(sample[col], forceText)
		if _, err := r.exec.Execute(ctx, executor.Statement{
			Label: "add column",
			SQL: fmt.Sprintf(
				`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`,
				pgx.Identifier{table}.Sanitize(), pgx.Identifier{col}.Sanitize(), typ,
			),
		}); err != nil {
			return added, xe.Wrap(err)
		}
		added = append(added, col)
		level.Debug(r.logger).Log("msg", "column is added", "table", table, "column", col, "type", typ)
	}
	return added, nil
}

// missing returns keys of sample not in cols, in sorted order. nil valued keys are ignored.
func missing(cols kschema.Columns, sample map[string]any) []string {
	keys := []string{}
	for k, v := range sample {
		if v == nil || cols.Has(k) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (r *Registry) Invalidate(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.columns, table)
}

// TypeOf returns the column type for a bag value seen first.
func TypeOf(v any, forceText bool) string {
	if forceText {
		return kschema.TypeText
	}
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return kschema.TypeFloat
	default:
		return kschema.TypeText
	}
}
