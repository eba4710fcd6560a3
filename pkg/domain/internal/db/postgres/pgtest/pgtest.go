// Package pgtest provides test doubles for stores of entities.
package pgtest

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/opst/xtstore/pkg/configs/store"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/conn/db/postgres/testenv"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kpgstore "github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	kpgschema "github.com/opst/xtstore/pkg/domain/schema/db/postgres"
)

var (
	createTable = regexp.MustCompile(`^CREATE TABLE (?:IF NOT EXISTS )?"(\w+)" \($`)
	columnDef   = regexp.MustCompile(`^\s+"(\w+)" ([a-z ]+?)(?: PRIMARY KEY| NOT NULL| DEFAULT .*)*,?$`)
)

var typeNames = map[string]string{
	"timestamptz": kschema.TypeTime,
	"int":         "integer",
}

// Registry is kschema.Registry on memory.
type Registry struct {
	mu      sync.Mutex
	tables  map[string]kschema.Columns
	ensured []string
}

var _ kschema.Registry = &Registry{}

// NewRegistry returns Registry knowing tables in the schema repository of this module.
func NewRegistry(t *testing.T) *Registry {
	t.Helper()
	repo := testenv.SchemaRepository(t)
	files, err := filepath.Glob(filepath.Join(repo, "*", "*.sql"))
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(files)

	tables := map[string]kschema.Columns{}
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		var current kschema.Columns
		for _, line := range strings.Split(string(body), "\n") {
			if m := createTable.FindStringSubmatch(line); m != nil {
				current = kschema.Columns{}
				tables[m[1]] = current
				continue
			}
			if strings.HasPrefix(line, ")") {
				current = nil
				continue
			}
			if current == nil {
				continue
			}
			if m := columnDef.FindStringSubmatch(line); m != nil {
				typ := m[2]
				if n, ok := typeNames[typ]; ok {
					typ = n
				}
				current[m[1]] = typ
			}
		}
	}
	return &Registry{tables: tables}
}

func (r *Registry) ColumnsOf(_ context.Context, table string) (kschema.Columns, error) {
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

func (r *Registry) EnsureColumns(_ context.Context, table string, sample map[string]any, forceText bool) ([]string, error) {
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
		cols[k] = kpgschema.TypeOf(v, forceText)
		added = append(added, k)
	}
	slices.Sort(added)
	for _, k := range added {
		r.ensured = append(r.ensured, table+"."+k+" "+cols[k])
	}
	return added, nil
}

func (r *Registry) Invalidate(string) {}

// Ensured returns columns added, as "<table>.<column> <type>".
func (r *Registry) Ensured() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.ensured...)
}

// Recorder is executor.Interface recording statements.
type Recorder struct {
	mu         sync.Mutex
	statements []executor.Statement

	// Answer returns results of statements.
	// When it is nil, statements are answered as one record is affected.
	Answer func(executor.Statement) (executor.Result, error)
}

func (r *Recorder) Execute(_ context.Context, st executor.Statement) (executor.Result, error) {
	r.mu.Lock()
	r.statements = append(r.statements, st)
	answer := r.Answer
	r.mu.Unlock()
	if answer == nil {
		return executor.Result{RowsAffected: 1}, nil
	}
	return answer(st)
}

func (r *Recorder) Statements() []executor.Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.Statement{}, r.statements...)
}

// Labels returns labels of recorded statements.
func (r *Recorder) Labels() []string {
	out := []string{}
	for _, st := range r.Statements() {
		out = append(out, st.Label)
	}
	return out
}

// Find returns the first statement with the label.
func (r *Recorder) Find(label string) (executor.Statement, bool) {
	for _, st := range r.Statements() {
		if st.Label == label {
			return st, true
		}
	}
	return executor.Statement{}, false
}

// Config returns configuration with defaults, and with stats toggles given.
func Config(statsEnabled bool) *store.StoreConfig {
	return store.TrySeal(&store.StoreConfigMarshall{
		Database: "postgres://localhost/xt",
		Stats: &store.StatsConfigMarshall{
			Job: &statsEnabled, Run: &statsEnabled, Node: &statsEnabled,
		},
	})
}

// NewStore returns Store on the executor, with Registry of this module.
func NewStore(t *testing.T, exec executor.Interface, statsEnabled bool) (*kpgstore.Store, *Registry) {
	t.Helper()
	reg := NewRegistry(t)
	return kpgstore.NewStore(exec, reg, Config(statsEnabled), nil), reg
}
