package postgres

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v4"
	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	"github.com/opst/xtstore/pkg/domain"
	pgerrors "github.com/opst/xtstore/pkg/domain/errors/dberrors/postgres"
	kpgstore "github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	kdb "github.com/opst/xtstore/pkg/domain/workspace/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

type pgWorkspace struct {
	store *kpgstore.Store
}

func New(store *kpgstore.Store) kdb.WorkspaceInterface {
	return &pgWorkspace{store: store}
}

func (w *pgWorkspace) Create(ctx context.Context, workspace string, dbName string) error {
	_, err := w.store.Exec.Execute(ctx, executor.Statement{
		Label: "create workspace",
		SQL: `INSERT INTO "workspaces" ("_id", "workspace", "db_name") VALUES ($1, $1, $2)` +
			` ON CONFLICT ("_id") DO NOTHING`,
		Args: []any{workspace, dbName},
	})
	return xe.Wrap(err)
}

func (w *pgWorkspace) Delete(ctx context.Context, workspace string) (bool, error) {
	existed := false
	for _, t := range kpgstore.Tables {
		n, err := w.store.Writer.Delete(ctx, t, "workspace", workspace)
		if err != nil {
			return false, err
		}
		if t == kpgstore.Workspaces {
			existed = 0 < n
		} else if 0 < n {
			level.Debug(w.store.Logger).Log("msg", "records are deleted", "workspace", workspace, "table", t.Name, "records", n)
		}
	}
	return existed, nil
}

func (w *pgWorkspace) Exists(ctx context.Context, workspace string) (bool, error) {
	return w.store.Exists(ctx, kpgstore.Workspaces, workspace)
}

func (w *pgWorkspace) NextCounter(ctx context.Context, workspace string, counter domain.Counter) (int64, error) {
	switch counter {
	case domain.CounterJob, domain.CounterEnd:
	default:
		return 0, pgerrors.UnknownColumn{Table: kpgstore.Workspaces.Name, Column: string(counter)}
	}

	col := pgx.Identifier{string(counter)}.Sanitize()
	res, err := w.store.Exec.Execute(ctx, executor.Statement{
		Label: "next " + string(counter),
		SQL: fmt.Sprintf(
			`UPDATE "workspaces" SET %s = %s + 1 WHERE "_id" = $1 RETURNING %s - 1`,
			col, col, col,
		),
		Args:  []any{workspace},
		Fetch: executor.FetchOne,
	})
	if err != nil {
		return 0, xe.Wrap(err)
	}
	row, ok := res.First()
	if !ok {
		return 0, pgerrors.Missing{Table: kpgstore.Workspaces.Name, Identity: workspace}
	}
	return kpgstore.Int64(row[0]), nil
}

func (w *pgWorkspace) SetCounters(ctx context.Context, workspace string, nextJobNumber int64, nextEndID int64) error {
	values := map[string]any{}
	if 0 < nextJobNumber {
		values[string(domain.CounterJob)] = nextJobNumber
	}
	if 0 < nextEndID {
		values[string(domain.CounterEnd)] = nextEndID
	}
	return w.store.Writer.Update(ctx, kpgstore.Workspaces, workspace, values, true)
}

func (w *pgWorkspace) ListExperiments(ctx context.Context, workspace string) ([]string, error) {
	res, err := w.store.Exec.Execute(ctx, executor.Statement{
		Label: "list experiments",
		SQL: `SELECT DISTINCT "exper_name" FROM "job_info"` +
			` WHERE "workspace" = $1 AND "exper_name" IS NOT NULL ORDER BY "exper_name"`,
		Args:  []any{workspace},
		Fetch: executor.FetchAll,
	})
	if err != nil {
		return nil, xe.Wrap(err)
	}
	names := make([]string, 0, len(res.Rows))
	for _, r := range res.Rows {
		if s, ok := r[0].(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}
