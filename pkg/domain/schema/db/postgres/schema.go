package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

type pgSchema struct {
	exec             executor.Interface
	schemaRepository string
}

var _ kschema.SchemaInterface = &pgSchema{}

// New creates a new Schema.
//
// # Args
//
// - exec: executor sending statements.
//
// - schemaRepository: The path to the schema repository directory.
// It has directories named by version numbers, and each of them has .sql files.
func New(exec executor.Interface, schemaRepository string) kschema.SchemaInterface {
	return &pgSchema{
		exec:             exec,
		schemaRepository: schemaRepository,
	}
}

type version struct {
	Version int
	Root    string
}

// script concatenates .sql files in the version, in lexical order.
func (v version) script() (string, error) {
	sb := new(strings.Builder)
	err := filepath.WalkDir(v.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sb.Write(query)
		sb.WriteString(";\n")
		return nil
	})
	return sb.String(), err
}

func (s *pgSchema) Version(ctx context.Context) (int, error) {
	res, err := s.exec.Execute(ctx, executor.Statement{
		Label: "schema version",
		SQL:   `SELECT max("version") FROM "schema_version"`,
		Fetch: executor.FetchOne,
	})
	if err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) {
			if pgerr.Code == pgerrcode.UndefinedTable {
				return 0, nil
			}
		}
		return -1, xe.Wrap(err)
	}

	row, ok := res.First()
	if !ok || row[0] == nil {
		return 0, nil
	}
	switch v := row[0].(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return -1, fmt.Errorf("unexpected schema version: %v (%T)", v, v)
	}
}

// Upgrade applies versions newer than the database.
//
// Each version is sent as one multi-statement script with the update of "schema_version",
// so a version is applied entirely or not at all.
func (s *pgSchema) Upgrade(ctx context.Context) error {
	schemaVersions, err := s.versions()
	if err != nil {
		return xe.Wrap(err)
	}

	currentVersion, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for _, v := range schemaVersions {
		if v.Version <= currentVersion {
			continue
		}
		script, err := v.script()
		if err != nil {
			return xe.Wrap(err)
		}
		script += fmt.Sprintf(
			`DELETE FROM "schema_version"; INSERT INTO "schema_version" ("version") VALUES (%d);`,
			v.Version,
		)
		if _, err := s.exec.Execute(ctx, executor.Statement{
			Label: fmt.Sprintf("schema upgrade to %d", v.Version),
			SQL:   script,
		}); err != nil {
			return xe.Wrap(err)
		}
	}

	return nil
}

func (s *pgSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, can := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		can(err)
		return cctx, func() {}
	}
	if err := w.Add(s.schemaRepository); err != nil {
		w.Close()
		can(err)
		return cctx, func() {}
	}

	checkVersion := func() {
		vs, err := s.versions()
		if err != nil {
			can(fmt.Errorf("failed to read schema repository: %w", err))
			return
		}

		currentVersion, err := s.Version(ctx)
		if err != nil {
			can(fmt.Errorf("failed to get current schema version: %w", err))
			return
		}

		for _, v := range vs {
			if currentVersion < v.Version {
				can(fmt.Errorf(
					"schema is outdated: %d (in db) < %d (in repository)",
					currentVersion, v.Version,
				))
				return
			}
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if filepath.Clean(s.schemaRepository) != filepath.Dir(ev.Name) {
					continue
				}

				checkVersion()
			}
		}
	}()

	checkVersion()
	return cctx, func() { can(nil) }
}

// versions lookup the schema from the schema repository.
//
// # Returns
//
// - []version: The list of schema versions, sorted by version number.
//
// - error: The error if any.
func (s *pgSchema) versions() ([]version, error) {
	dir, err := os.ReadDir(s.schemaRepository)
	if err != nil {
		return nil, err
	}

	schemaVersions := make([]version, 0, len(dir))
	for _, entry := range dir {
		if !entry.IsDir() {
			continue
		}

		v, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		schemaVersions = append(schemaVersions, version{
			Version: v,
			Root:    filepath.Join(s.schemaRepository, entry.Name()),
		})
	}
	slices.SortFunc(
		schemaVersions,
		func(i, j version) int { return cmp.Compare(i.Version, j.Version) },
	)

	return schemaVersions, nil
}

// Null returns schema without repository. It cannot upgrade.
func Null(exec executor.Interface) kschema.SchemaInterface {
	return &nullSchema{exec: exec}
}

type nullSchema struct {
	exec executor.Interface
}

func (nullSchema) Upgrade(ctx context.Context) error {
	return errors.New("no schema repository available")
}

func (n nullSchema) Version(ctx context.Context) (int, error) {
	return (&pgSchema{exec: n.exec}).Version(ctx)
}

func (nullSchema) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}
