package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v4"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

// Writer writes records into tables.
//
// It is safe for concurrent use.
type Writer struct {
	exec   executor.Interface
	reg    kschema.Registry
	logger log.Logger

	mu        sync.Mutex
	threshold int
	buffers   map[string]*buffer
}

// inserts waiting for flush, of a table with same columns.
type buffer struct {
	table   Table
	columns []string
	rows    [][]any
}

func NewWriter(exec executor.Interface, reg kschema.Registry, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Writer{
		exec:    exec,
		reg:     reg,
		logger:  logger,
		buffers: map[string]*buffer{},
	}
}

// SetInsertBuffering makes Insert buffer records until n records are queued for a table.
//
// n <= 1 disables buffering. Records already buffered are kept until Flush.
func (w *Writer) SetInsertBuffering(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.threshold = n
}

// prepare coerces values for columns of the table.
//
// Bags get columns for unseen keys. Keys with nil value are skipped when the column is absent.
//
// # Returns
//
// - []string: column names, sorted.
//
// - []any: values for the columns.
//
// - error: UnknownColumn for unknown columns of fixed tables, TypeMismatch, or errors from the registry.
func (w *Writer) prepare(ctx context.Context, t Table, values map[string]any) ([]string, []any, error) {
	cols, err := w.reg.ColumnsOf(ctx, t.Name)
	if err != nil {
		return nil, nil, err
	}
	if t.Bag {
		if _, err := w.reg.EnsureColumns(ctx, t.Name, values, t.ForceText); err != nil {
			return nil, nil, err
		}
		if cols, err = w.reg.ColumnsOf(ctx, t.Name); err != nil {
			return nil, nil, err
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	names := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := values[k]
		typ, ok := cols[k]
		if !ok {
			if t.Bag && v == nil {
				continue
			}
			return nil, nil, pgerrors.UnknownColumn{Table: t.Name, Column: k}
		}
		cv, err := Coerce(t.Name, k, typ, v)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, k)
		args = append(args, cv)
	}
	return names, args, nil
}

func insertSQL(t Table, columns []string) string {
	names := make([]string, len(columns))
	phs := make([]string, len(columns))
	for i, c := range columns {
		names[i] = pgx.Identifier{c}.Sanitize()
		phs[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{t.Name}.Sanitize(), strings.Join(names, ", "), strings.Join(phs, ", "),
	)
}

// Insert inserts a record. values should have "_id" and "workspace".
//
// When buffering is enabled, the record may be queued and be written on a later Insert or Flush.
func (w *Writer) Insert(ctx context.Context, t Table, values map[string]any) error {
	columns, args, err := w.prepare(ctx, t, values)
	if err != nil {
		return err
	}

	if full, queued := w.enqueue(t, columns, args); queued {
		if full != nil {
			return w.flush(ctx, full)
		}
		return nil
	}

	_, err = w.exec.Execute(ctx, executor.Statement{
		Label: "insert " + t.Name, SQL: insertSQL(t, columns), Args: args,
	})
	return xe.Wrap(err)
}

// enqueue buffers a record, if buffering is enabled.
// It returns the buffer to be flushed when it gets full.
func (w *Writer) enqueue(t Table, columns []string, args []any) (full *buffer, queued bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.threshold <= 1 {
		return nil, false
	}

	key := t.Name + "|" + strings.Join(columns, ",")
	b, ok := w.buffers[key]
	if !ok {
		b = &buffer{table: t, columns: columns}
		w.buffers[key] = b
	}
	b.rows = append(b.rows, args)
	if len(b.rows) < w.threshold {
		return nil, true
	}
	delete(w.buffers, key)
	return b, true
}

func (w *Writer) flush(ctx context.Context, b *buffer) error {
	_, err := w.exec.Execute(ctx, executor.Statement{
		Label: "insert " + b.table.Name,
		SQL:   insertSQL(b.table, b.columns),
		Batch: b.rows,
	})
	if err != nil {
		level.Warn(w.logger).Log(
			"msg", "buffered inserts are not written", "table", b.table.Name, "records", len(b.rows), "err", err,
		)
	}
	return xe.Wrap(err)
}

// Flush writes all buffered records.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffers))
	for k := range w.buffers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	bufs := make([]*buffer, 0, len(keys))
	for _, k := range keys {
		bufs = append(bufs, w.buffers[k])
	}
	w.buffers = map[string]*buffer{}
	w.mu.Unlock()

	errs := []error{}
	for _, b := range bufs {
		if err := w.flush(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Expr is a SQL expression as a value of updates.
//
// "?" in SQL is replaced with placeholders of Args, in order.
type Expr struct {
	SQL  string
	Args []any
}

// Add is an expression incrementing the column by n.
func Add(column string, n int64) Expr {
	return Expr{SQL: pgx.Identifier{column}.Sanitize() + " + ?", Args: []any{n}}
}

// Elapsed is an expression of seconds from the time in the column until t.
func Elapsed(column string, t time.Time) Expr {
	return Expr{
		SQL:  fmt.Sprintf("extract(epoch FROM (CAST(? AS timestamptz) - %s))", pgx.Identifier{column}.Sanitize()),
		Args: []any{t},
	}
}

func (e Expr) render(args *[]any) string {
	sql := e.SQL
	out := new(strings.Builder)
	i := 0
	for {
		before, after, found := strings.Cut(sql, "?")
		out.WriteString(before)
		if !found {
			break
		}
		*args = append(*args, e.Args[i])
		i += 1
		out.WriteString("$" + strconv.Itoa(len(*args)))
		sql = after
	}
	return out.String()
}

// Change updates records matching all of where.
//
// values may contain Expr. Columns of returning are returned as rows of the result.
//
// # Returns
//
// - executor.Result: RowsAffected is the number of updated records.
// When nothing is updated since values are empty, it is zero value.
func (w *Writer) Change(ctx context.Context, t Table, where map[string]any, values map[string]any, returning ...string) (executor.Result, error) {
	res, _, err := w.change(ctx, t, where, values, returning)
	return res, err
}

// change is Change telling whether the update is skipped as there are nothing to be set.
func (w *Writer) change(ctx context.Context, t Table, where map[string]any, values map[string]any, returning []string) (executor.Result, bool, error) {
	exprs := map[string]Expr{}
	plain := map[string]any{}
	for k, v := range withoutIdentity(values) {
		if e, ok := v.(Expr); ok {
			exprs[k] = e
			continue
		}
		plain[k] = v
	}

	columns, vals, err := w.prepare(ctx, t, plain)
	if err != nil {
		return executor.Result{}, false, err
	}
	if len(exprs) != 0 {
		cols, err := w.reg.ColumnsOf(ctx, t.Name)
		if err != nil {
			return executor.Result{}, false, err
		}
		for k := range exprs {
			if !cols.Has(k) {
				return executor.Result{}, false, pgerrors.UnknownColumn{Table: t.Name, Column: k}
			}
		}
	}
	if len(columns) == 0 && len(exprs) == 0 {
		return executor.Result{}, true, nil
	}

	args := []any{}
	sets := []string{}
	for i, c := range columns {
		args = append(args, vals[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}
	for _, c := range sortedKeys(exprs) {
		sets = append(sets, pgx.Identifier{c}.Sanitize()+" = "+exprs[c].render(&args))
	}

	conds := []string{}
	for _, c := range sortedKeys(where) {
		args = append(args, where[c])
		conds = append(conds, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", pgx.Identifier{t.Name}.Sanitize(), strings.Join(sets, ", "))
	if len(conds) != 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	fetch := executor.FetchNone
	if len(returning) != 0 {
		names := make([]string, len(returning))
		for i, r := range returning {
			names[i] = pgx.Identifier{r}.Sanitize()
		}
		sql += " RETURNING " + strings.Join(names, ", ")
		fetch = executor.FetchAll
	}

	res, err := w.exec.Execute(ctx, executor.Statement{
		Label: "update " + t.Name, SQL: sql, Args: args, Fetch: fetch,
	})
	if err != nil {
		return executor.Result{}, false, xe.Wrap(err)
	}
	if fetch == executor.FetchAll {
		res.RowsAffected = int64(len(res.Rows))
	}
	return res, false, nil
}

// Update updates columns of the record with the id.
//
// # Args
//
// - mustOne: when true, it is an error that the record is not updated.
//
// # Returns
//
// - error: Missing when mustOne and no records are updated. TooMuch when more than one records are updated.
func (w *Writer) Update(ctx context.Context, t Table, id string, values map[string]any, mustOne bool) error {
	_, err := w.UpdateOne(ctx, t, id, values, mustOne)
	return err
}

// UpdateOne is Update returning columns of the updated record.
//
// The returned row is nil when the record is not updated.
func (w *Writer) UpdateOne(ctx context.Context, t Table, id string, values map[string]any, mustOne bool, returning ...string) ([]any, error) {
	res, noop, err := w.change(ctx, t, map[string]any{"_id": id}, values, returning)
	if err != nil || noop {
		return nil, err
	}

	switch {
	case res.RowsAffected == 0 && mustOne:
		return nil, pgerrors.Missing{Table: t.Name, Identity: id}
	case 1 < res.RowsAffected:
		return nil, pgerrors.TooMuch{Table: t.Name, Identity: id, Expected: 1}
	}
	row, _ := res.First()
	return row, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Upsert inserts the record, or updates it when it exists.
//
// # Args
//
// - skipInsert: the record is known to exist. Only update is performed.
func (w *Writer) Upsert(ctx context.Context, t Table, id string, workspace string, values map[string]any, skipInsert bool) error {
	if !skipInsert {
		record := withoutIdentity(values)
		record["_id"] = id
		record["workspace"] = workspace
		columns, args, err := w.prepare(ctx, t, record)
		if err != nil {
			return err
		}
		_, err = w.exec.Execute(ctx, executor.Statement{
			Label:           "upsert " + t.Name,
			SQL:             insertSQL(t, columns),
			Args:            args,
			ExpectDuplicate: true,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, executor.ErrDuplicateKey) {
			return xe.Wrap(err)
		}
	}
	return w.Update(ctx, t, id, values, true)
}

// Delete deletes records whose column equals to value.
func (w *Writer) Delete(ctx context.Context, t Table, column string, value any) (int64, error) {
	res, err := w.exec.Execute(ctx, executor.Statement{
		Label: "delete " + t.Name,
		SQL: fmt.Sprintf(
			"DELETE FROM %s WHERE %s = $1",
			pgx.Identifier{t.Name}.Sanitize(), pgx.Identifier{column}.Sanitize(),
		),
		Args: []any{value},
	})
	if err != nil {
		return 0, xe.Wrap(err)
	}
	return res.RowsAffected, nil
}

func withoutIdentity(values map[string]any) map[string]any {
	out := make(map[string]any, len(values)+2)
	for k, v := range values {
		if k == "_id" || k == "workspace" {
			continue
		}
		out[k] = v
	}
	return out
}
