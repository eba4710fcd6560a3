package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-kit/log"
	"github.com/jackc/pgx/v4"
	"github.com/opst/xtstore/pkg/configs/store"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

// Store bundles machinery shared by stores of entities.
type Store struct {
	Exec      executor.Interface
	Registry  kschema.Registry
	Writer    *Writer
	Paginator *Paginator
	Config    *store.StoreConfig
	Logger    log.Logger
}

func NewStore(exec executor.Interface, reg kschema.Registry, conf *store.StoreConfig, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	w := NewWriter(exec, reg, logger)
	w.SetInsertBuffering(conf.InsertBuffering())
	return &Store{
		Exec:      exec,
		Registry:  reg,
		Writer:    w,
		Paginator: NewPaginator(exec, conf, logger),
		Config:    conf,
		Logger:    logger,
	}
}

// Query returns documents of the entity matching the query.
//
// The returned Select tells how the query is compiled, for example whether log records are requested.
func (s *Store) Query(ctx context.Context, layout *Layout, workspace string, q domain.Query) ([]domain.Document, *Select, error) {
	sel, err := NewCompiler(s.Registry, layout).Compile(ctx, workspace, q)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Paginator.Fetch(ctx, sel, q.Progress)
	if err != nil {
		return nil, nil, err
	}
	return Nest(layout, res), sel, nil
}

// IDs returns `_id` of records of the entity matching the filter.
func (s *Store) IDs(ctx context.Context, layout *Layout, workspace string, filter map[string]any) ([]string, error) {
	docs, _, err := s.Query(ctx, layout, workspace, domain.Query{
		Filter: filter,
		Fields: map[string]any{"_id": 1},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids, nil
}

// Count returns the number of records in the workspace of the table.
func (s *Store) Count(ctx context.Context, t Table, workspace string) (int64, error) {
	res, err := s.Exec.Execute(ctx, executor.Statement{
		Label: "count " + t.Name,
		SQL:   fmt.Sprintf(`SELECT count(*) FROM %s WHERE "workspace" = $1`, pgx.Identifier{t.Name}.Sanitize()),
		Args:  []any{workspace},
		Fetch: executor.FetchOne,
	})
	if err != nil {
		return 0, xe.Wrap(err)
	}
	row, ok := res.First()
	if !ok {
		return 0, nil
	}
	n, _ := integer(row[0])
	return n, nil
}

// Exists tells the record with the id is in the table.
func (s *Store) Exists(ctx context.Context, t Table, id string) (bool, error) {
	res, err := s.Exec.Execute(ctx, executor.Statement{
		Label: "exists " + t.Name,
		SQL:   fmt.Sprintf(`SELECT 1 FROM %s WHERE "_id" = $1`, pgx.Identifier{t.Name}.Sanitize()),
		Args:  []any{id},
		Fetch: executor.FetchOne,
	})
	if err != nil {
		return false, xe.Wrap(err)
	}
	return len(res.Rows) != 0, nil
}

// Part is values of a document to be written in a group.
type Part struct {
	Group  Group
	Values map[string]any
}

// Split spreads fields of the document over groups of the layout.
//
// Nested documents go to groups of their nest. Other fields go to every fixed group having the column.
// "_id" and "workspace" are dropped.
//
// # Returns
//
// - map[string]Part: parts by group name. Groups without values are absent.
//
// - error: UnknownFieldError for fields no groups have. TypeMismatch for nests which are not documents.
func (s *Store) Split(ctx context.Context, layout *Layout, doc domain.Document) (map[string]Part, error) {
	parts := map[string]Part{}
	put := func(g Group, k string, v any) {
		p, ok := parts[g.Name]
		if !ok {
			p = Part{Group: g, Values: map[string]any{}}
			parts[g.Name] = p
		}
		p.Values[k] = v
	}

	fixed := map[string]kschema.Columns{}
	for _, g := range layout.Fixed() {
		cols, err := s.Registry.ColumnsOf(ctx, g.Table.Name)
		if err != nil {
			return nil, err
		}
		fixed[g.Name] = cols
	}

	for _, k := range sortedKeys(doc) {
		v := doc[k]
		if k == "_id" || k == "workspace" {
			continue
		}
		if g, ok := layout.ByNest(k); ok {
			sub := doc.Sub(k)
			if sub == nil && v != nil {
				return nil, pgerrors.TypeMismatch{Table: g.Table.Name, Column: k, Type: "document", Value: v}
			}
			for sk, sv := range sub {
				put(g, sk, sv)
			}
			continue
		}

		placed := false
		for _, g := range layout.Fixed() {
			if fixed[g.Name].Has(k) {
				put(g, k, v)
				placed = true
			}
		}
		if !placed {
			return nil, &UnknownFieldError{Entity: layout.Entity, Field: k}
		}
	}
	return parts, nil
}

// Int64 reads an integer from a column value.
func Int64(v any) int64 {
	if i, ok := integer(v); ok {
		return i
	}
	if f, ok := number(v); ok {
		return int64(f)
	}
	if s, ok := v.(string); ok {
		i, _ := strconv.ParseInt(s, 10, 64)
		return i
	}
	return 0
}

// SetTags writes tags of records of the entity matching the filter.
//
// When clear is true, tags named in tags are set to NULL instead.
//
// # Returns
//
// - int: the number of records matched.
//
// - error
func (s *Store) SetTags(ctx context.Context, layout *Layout, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error) {
	g, ok := layout.ByNest("tags")
	if !ok {
		return 0, &UnknownFieldError{Entity: layout.Entity, Field: "tags"}
	}
	ids, err := s.IDs(ctx, layout, workspace, filter)
	if err != nil {
		return 0, err
	}

	values := tags
	if clear {
		values = make(map[string]any, len(tags))
		for k := range tags {
			values[k] = nil
		}
	}
	for _, id := range ids {
		if clear {
			err = s.Writer.Update(ctx, g.Table, id, values, false)
		} else {
			err = s.Writer.Upsert(ctx, g.Table, id, workspace, values, false)
		}
		if err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
