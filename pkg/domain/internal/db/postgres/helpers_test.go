package postgres_test

import (
	"context"
	"slices"
	"sync"

	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	schemapg "github.com/opst/xtstore/pkg/domain/schema/db/postgres"
)

// registry on memory.
type registry struct {
	mu      sync.Mutex
	tables  map[string]kschema.Columns
	ensured []string
}

var _ kschema.Registry = &registry{}

func identity() kschema.Columns {
	return kschema.Columns{"_id": kschema.TypeText, "workspace": kschema.TypeText}
}

func with(cols kschema.Columns, more map[string]string) kschema.Columns {
	for k, v := range more {
		cols[k] = v
	}
	return cols
}

func newRegistry() *registry {
	return &registry{tables: map[string]kschema.Columns{
		"run_info": with(identity(), map[string]string{
			"run_name": kschema.TypeText, "run_num": kschema.TypeInteger,
			"job_id": kschema.TypeText, "create_time": kschema.TypeTime,
		}),
		"run_stats": with(identity(), map[string]string{
			"job_id": kschema.TypeText, "status": kschema.TypeText,
			"metric_names": kschema.TypeText, "restarts": kschema.TypeInteger,
		}),
		"hparams":  with(identity(), map[string]string{"lr": kschema.TypeFloat, "opt": kschema.TypeText}),
		"metrics":  identity(),
		"run_tags": identity(),
	}}
}

func (r *registry) ColumnsOf(_ context.Context, table string) (kschema.Columns, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cols, ok := r.tables[table]
	if !ok {
		return nil, pgerrors.UnknownTable{Table: table}
	}
	out := kschema.Columns{}
	for k, v := range cols {
		out[k] = v
	}
	return out, nil
}

func (r *registry) EnsureColumns(_ context.Context, table string, sample map[string]any, forceText bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cols, ok := r.tables[table]
	if !ok {
		return nil, pgerrors.UnknownTable{Table: table}
	}
	added := []string{}
	for k, v := range sample {
		if v == nil || cols.Has(k) {
			continue
		}
		cols[k] = schemapg.TypeOf(v, forceText)
		added = append(added, k)
	}
	slices.Sort(added)
	for _, k := range added {
		r.ensured = append(r.ensured, table+"."+k+" "+cols[k])
	}
	return added, nil
}

func (r *registry) Invalidate(string) {}

func (r *registry) Ensured() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.ensured...)
}

// execFunc is executor.Interface by a function.
type execFunc func(ctx context.Context, st executor.Statement) (executor.Result, error)

func (f execFunc) Execute(ctx context.Context, st executor.Statement) (executor.Result, error) {
	return f(ctx, st)
}
