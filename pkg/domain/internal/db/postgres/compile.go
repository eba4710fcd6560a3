package postgres

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
	"github.com/opst/xtstore/pkg/domain/filter"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

// UnknownFieldError is returned when a field cannot be resolved to a column.
type UnknownFieldError struct {
	Entity string
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field for %s: %s", e.Entity, e.Field)
}

func (e *UnknownFieldError) Unwrap() error {
	return executor.ErrConfiguration
}

// Compiler translates queries of an entity into SQL.
type Compiler struct {
	reg    kschema.Registry
	layout *Layout
}

func NewCompiler(reg kschema.Registry, layout *Layout) *Compiler {
	return &Compiler{reg: reg, layout: layout}
}

func (c *Compiler) Layout() *Layout {
	return c.layout
}

// column is a resolved field.
type column struct {
	group Group
	name  string
	typ   string

	// the field is a key of bag never written. It is NULL for every record.
	null bool
}

func (c column) sql() string {
	if c.null {
		return "NULL"
	}
	return pgx.Identifier{c.group.Alias, c.name}.Sanitize()
}

func (c column) selector() string {
	if c.null {
		return "NULL AS " + pgx.Identifier{c.name}.Sanitize()
	}
	return c.sql()
}

func (c column) coerce(v any) (any, error) {
	return Coerce(c.group.Table.Name, c.name, c.typ, v)
}

// resolve finds the column for the field.
//
// "NEST.KEY" is a key of the bag. If the key is unseen and sample is given,
// a column typed by the sample is added to the bag.
func (c *Compiler) resolve(ctx context.Context, field string, sample any) (column, error) {
	if nest, key, ok := strings.Cut(field, "."); ok {
		if g, ok := c.layout.ByNest(nest); ok {
			cols, err := c.reg.ColumnsOf(ctx, g.Table.Name)
			if err != nil {
				return column{}, err
			}
			if !cols.Has(key) && sample != nil {
				if _, err := c.reg.EnsureColumns(
					ctx, g.Table.Name, map[string]any{key: sample}, g.Table.ForceText,
				); err != nil {
					return column{}, err
				}
				if cols, err = c.reg.ColumnsOf(ctx, g.Table.Name); err != nil {
					return column{}, err
				}
			}
			if typ, ok := cols[key]; ok {
				return column{group: g, name: key, typ: typ}, nil
			}
			return column{group: g, name: key, null: true}, nil
		}
	}

	for _, g := range c.layout.Fixed() {
		cols, err := c.reg.ColumnsOf(ctx, g.Table.Name)
		if err != nil {
			return column{}, err
		}
		if typ, ok := cols[field]; ok {
			return column{group: g, name: field, typ: typ}, nil
		}
	}
	return column{}, &UnknownFieldError{Entity: c.layout.Entity, Field: field}
}

// Select is a compiled query.
type Select struct {
	layout *Layout

	list  []string
	joins []Group
	where string
	args  []any
	order []string

	skip  int
	first int

	// Pinned tells the filter pins a record by `_id`.
	Pinned bool

	// LogRecords tells log records are requested.
	LogRecords bool
}

func (s *Select) Layout() *Layout {
	return s.layout
}

func (s *Select) Skip() int {
	return s.skip
}

func (s *Select) First() int {
	return s.first
}

// Compile builds SQL for the query in the workspace.
//
// # Returns
//
// - *Select
//
// - error: *filter.UnsupportedError, *UnknownFieldError or errors from the registry.
func (c *Compiler) Compile(ctx context.Context, workspace string, q domain.Query) (*Select, error) {
	expr, err := filter.Parse(q.Filter)
	if err != nil {
		return nil, err
	}

	used := map[string]struct{}{}
	s := &Select{
		layout: c.layout,
		skip:   max(q.Skip, 0),
		first:  max(q.First, 0),
		Pinned: filter.Pins(expr, "_id"),
	}

	primary := c.layout.Primary()
	s.args = append(s.args, workspace)
	where := []string{pgx.Identifier{primary.Alias, "workspace"}.Sanitize() + " = $1"}
	if cond, err := c.predicate(ctx, expr, &s.args, used); err != nil {
		return nil, err
	} else if cond != "TRUE" {
		where = append(where, cond)
	}
	s.where = strings.Join(where, " AND ")

	if err := c.selection(ctx, s, q.Fields, used); err != nil {
		return nil, err
	}

	for _, key := range q.Sort {
		col, err := c.resolve(ctx, key.Field, nil)
		if err != nil {
			return nil, err
		}
		if col.null {
			continue
		}
		used[col.group.Alias] = struct{}{}
		term := col.sql()
		if key.Descending {
			term += " DESC"
		}
		s.order = append(s.order, term)
	}

	for _, g := range c.layout.Groups[1:] {
		if _, ok := used[g.Alias]; ok {
			s.joins = append(s.joins, g)
		}
	}
	return s, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

// selection builds the select list.
//
// Columns are grouped by tables in order of the layout, and each group is led by a marker column
// named "_GROUP_", so that Nest can tell which table columns come from.
func (c *Compiler) selection(ctx context.Context, s *Select, fields map[string]any, used map[string]struct{}) error {
	keys := []string{}
	for k, v := range fields {
		if truthy(v) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	whole := map[string]bool{}
	columns := map[string][]string{}
	add := func(g Group, expr string) {
		if !slices.Contains(columns[g.Alias], expr) {
			columns[g.Alias] = append(columns[g.Alias], expr)
		}
	}

	if len(keys) == 0 {
		for _, g := range c.layout.Groups {
			whole[g.Alias] = true
		}
	}
	for _, k := range keys {
		if k == "log_records" && c.layout.LogRecords {
			s.LogRecords = true
			continue
		}
		if g, ok := c.layout.Group(k); ok {
			whole[g.Alias] = true
			continue
		}
		if g, ok := c.layout.ByNest(k); ok {
			whole[g.Alias] = true
			continue
		}
		col, err := c.resolve(ctx, k, nil)
		if err != nil {
			return err
		}
		add(col.group, col.selector())
	}

	primary := c.layout.Primary()
	id := pgx.Identifier{primary.Alias, "_id"}.Sanitize()
	if !whole[primary.Alias] && !slices.Contains(columns[primary.Alias], id) {
		columns[primary.Alias] = append([]string{id}, columns[primary.Alias]...)
	}

	for _, g := range c.layout.Groups {
		var exprs []string
		if whole[g.Alias] {
			exprs = []string{pgx.Identifier{g.Alias}.Sanitize() + ".*"}
		} else if cols := columns[g.Alias]; len(cols) != 0 {
			exprs = cols
		} else {
			continue
		}
		used[g.Alias] = struct{}{}
		s.list = append(s.list, "'' AS "+pgx.Identifier{marker(g)}.Sanitize())
		s.list = append(s.list, exprs...)
	}
	return nil
}

func marker(g Group) string {
	return "_" + g.Name + "_"
}

func placeholder(args *[]any, v any) string {
	*args = append(*args, v)
	return "$" + strconv.Itoa(len(*args))
}

// predicate compiles expr into a condition.
//
// Negations are true for NULL, as fields which are not set do not equal to anything.
func (c *Compiler) predicate(ctx context.Context, expr filter.Expr, args *[]any, used map[string]struct{}) (string, error) {
	// resolve the field, growing the bag by the sample if needed.
	field := func(name string, sample any) (column, error) {
		col, err := c.resolve(ctx, name, sample)
		if err != nil {
			return column{}, err
		}
		if !col.null {
			used[col.group.Alias] = struct{}{}
		}
		return col, nil
	}

	switch e := expr.(type) {
	case filter.Eq:
		col, err := field(e.Field, e.Value)
		if err != nil {
			return "", err
		}
		if e.Value == nil {
			if col.null {
				return "TRUE", nil
			}
			return col.sql() + " IS NULL", nil
		}
		if col.null {
			return "FALSE", nil
		}
		v, err := col.coerce(e.Value)
		if err != nil {
			return "", err
		}
		if v == nil {
			return col.sql() + " IS NULL", nil
		}
		return col.sql() + " = " + placeholder(args, v), nil

	case filter.In, filter.NotIn:
		name, values, negate := "", []any(nil), false
		if in, ok := e.(filter.In); ok {
			name, values = in.Field, in.Values
		} else {
			nin := e.(filter.NotIn)
			name, values, negate = nin.Field, nin.Values, true
		}
		var sample any
		if 0 < len(values) {
			sample = values[0]
		}
		col, err := field(name, sample)
		if err != nil {
			return "", err
		}
		if len(values) == 0 || col.null {
			if negate {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		phs := make([]string, 0, len(values))
		for _, v := range values {
			cv, err := col.coerce(v)
			if err != nil {
				return "", err
			}
			phs = append(phs, placeholder(args, cv))
		}
		cond := col.sql() + " IN (" + strings.Join(phs, ", ") + ")"
		if negate {
			return "NOT coalesce(" + cond + ", FALSE)", nil
		}
		return cond, nil

	case filter.Exists:
		col, err := field(e.Field, nil)
		if err != nil {
			return "", err
		}
		if col.null {
			if e.Exists {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		if e.Exists {
			return col.sql() + " IS NOT NULL", nil
		}
		return col.sql() + " IS NULL", nil

	case filter.Regex:
		col, err := field(e.Field, e.Pattern)
		if err != nil {
			return "", err
		}
		if col.null {
			return "FALSE", nil
		}
		return "CAST(" + col.sql() + " AS text) LIKE " + placeholder(args, likePattern(e.Pattern)), nil

	case filter.Range:
		col, err := field(e.Field, e.Value)
		if err != nil {
			return "", err
		}
		if col.null {
			return "FALSE", nil
		}
		v, err := col.coerce(e.Value)
		if err != nil {
			return "", err
		}
		if v == nil {
			return "FALSE", nil
		}
		return col.sql() + " " + e.Op.String() + " " + placeholder(args, v), nil

	case filter.Not:
		cond, err := c.predicate(ctx, e.Expr, args, used)
		if err != nil {
			return "", err
		}
		return "NOT coalesce((" + cond + "), FALSE)", nil

	case filter.Or:
		return c.junction(ctx, e.Exprs, " OR ", "FALSE", args, used)

	case filter.And:
		return c.junction(ctx, e.Exprs, " AND ", "TRUE", args, used)
	}
	return "", xe.New(fmt.Sprintf("unknown filter expression: %T", expr))
}

func (c *Compiler) junction(ctx context.Context, exprs []filter.Expr, op string, empty string, args *[]any, used map[string]struct{}) (string, error) {
	if len(exprs) == 0 {
		return empty, nil
	}
	conds := make([]string, 0, len(exprs))
	for _, sub := range exprs {
		cond, err := c.predicate(ctx, sub, args, used)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return "(" + strings.Join(conds, op) + ")", nil
}

// likePattern converts a regular expression into a pattern of LIKE.
//
// Only ".*" is a wildcard. Leading "^" and trailing "$" are dropped.
func likePattern(re string) string {
	re = strings.TrimPrefix(re, "^")
	re = strings.TrimSuffix(re, "$")
	parts := strings.Split(re, ".*")
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	for i := range parts {
		parts[i] = escaper.Replace(parts[i])
	}
	return strings.Join(parts, "%")
}

func (s *Select) from() string {
	primary := s.layout.Primary()
	sb := new(strings.Builder)
	sb.WriteString(" FROM ")
	sb.WriteString(pgx.Identifier{primary.Table.Name}.Sanitize())
	sb.WriteString(" AS ")
	sb.WriteString(pgx.Identifier{primary.Alias}.Sanitize())
	for _, g := range s.joins {
		fmt.Fprintf(
			sb, " LEFT JOIN %s AS %s ON %s = %s",
			pgx.Identifier{g.Table.Name}.Sanitize(),
			pgx.Identifier{g.Alias}.Sanitize(),
			pgx.Identifier{g.Alias, "_id"}.Sanitize(),
			pgx.Identifier{primary.Alias, "_id"}.Sanitize(),
		)
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(s.where)
	return sb.String()
}

// orderBy returns ORDER BY clause.
//
// `_id` of the primary table breaks ties, so that the order is stable.
// It is ordered by `_id` alone when no keys are given.
func (s *Select) orderBy() string {
	id := pgx.Identifier{s.layout.Primary().Alias, "_id"}.Sanitize()
	return " ORDER BY " + strings.Join(append(slices.Clone(s.order), id), ", ")
}

func (s *Select) head() string {
	return "SELECT " + strings.Join(s.list, ", ") + s.from()
}

// SQL returns the query for the whole result, with the skip and the first of the query.
func (s *Select) SQL() (string, []any) {
	switch {
	case s.skip == 0 && s.first == 0:
		return s.head() + s.orderBy(), s.args
	case s.skip == 0:
		return s.head() + s.orderBy() + " LIMIT " + strconv.Itoa(s.first), s.args
	case s.first == 0:
		return s.head() + s.orderBy() + " OFFSET " + strconv.Itoa(s.skip) + " ROWS", s.args
	default:
		return s.ChunkSQL(s.skip, s.first)
	}
}

// CountSQL returns the query counting all matched records, regardless of the skip and the first.
func (s *Select) CountSQL() (string, []any) {
	return "SELECT count(*)" + s.from(), s.args
}

// ChunkSQL returns the query for n records from offset.
func (s *Select) ChunkSQL(offset int, n int) (string, []any) {
	return fmt.Sprintf(
		"%s%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
		s.head(), s.orderBy(), offset, n,
	), s.args
}
