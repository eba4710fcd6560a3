package postgres

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/opst/xtstore/pkg/domain"
	kpgstore "github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	"github.com/opst/xtstore/pkg/domain/logs"
	kdb "github.com/opst/xtstore/pkg/domain/run/db"
	wsdb "github.com/opst/xtstore/pkg/domain/workspace/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

type pgRun struct {
	store      *kpgstore.Store
	workspaces wsdb.WorkspaceInterface
	logStore   logs.LogStore
	stats      bool
	now        func() time.Time
}

type Option func(*pgRun) *pgRun

// WithLogStore enables to join log records into runs.
func WithLogStore(ls logs.LogStore) Option {
	return func(r *pgRun) *pgRun {
		r.logStore = ls
		return r
	}
}

// WithClock replaces the source of current time.
func WithClock(now func() time.Time) Option {
	return func(r *pgRun) *pgRun {
		r.now = now
		return r
	}
}

// New returns RunInterface.
//
// workspaces gives end ids to exited runs.
func New(store *kpgstore.Store, workspaces wsdb.WorkspaceInterface, options ...Option) kdb.RunInterface {
	r := &pgRun{
		store:      store,
		workspaces: workspaces,
		stats:      store.Config.Stats().Run(),
		now:        time.Now,
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

func (r *pgRun) Create(ctx context.Context, doc domain.Document) error {
	id := doc.ID()
	workspace, name, ok := domain.SplitID(id)
	if !ok {
		return xe.Wrap(&kpgstore.UnknownFieldError{Entity: kpgstore.Runs.Entity, Field: "_id"})
	}
	parts, err := r.store.Split(ctx, kpgstore.Runs, doc)
	if err != nil {
		return err
	}

	info := parts["run_info"].Values
	if info == nil {
		info = map[string]any{}
	}
	if _, ok := info["run_name"]; !ok {
		info["run_name"] = name
	}
	if _, ok := info["create_time"]; !ok {
		info["create_time"] = r.now()
	}
	info["_id"] = id
	info["workspace"] = workspace
	if err := r.store.Writer.Insert(ctx, kpgstore.RunInfo, info); err != nil {
		return err
	}

	stats := parts["run_stats"].Values
	if stats == nil {
		stats = map[string]any{}
	}
	if _, ok := stats["status"]; !ok {
		stats["status"] = domain.StatusCreated
	}
	stats["_id"] = id
	stats["workspace"] = workspace
	if err := r.store.Writer.Insert(ctx, kpgstore.RunStats, stats); err != nil {
		return err
	}

	for _, nest := range []string{"hparams", "metrics", "tags"} {
		p, ok := parts[nest]
		if !ok {
			continue
		}
		if err := r.store.Writer.Insert(ctx, p.Group.Table, withIdentity(p.Values, id, workspace)); err != nil {
			return err
		}
	}
	return nil
}

func withIdentity(values map[string]any, id string, workspace string) map[string]any {
	out := make(map[string]any, len(values)+2)
	for k, v := range values {
		out[k] = v
	}
	out["_id"] = id
	out["workspace"] = workspace
	return out
}

func (r *pgRun) UpdateInfo(
	ctx context.Context, workspace string, run string,
	doc domain.Document, hparams map[string]any, metrics map[string]any,
	updatePrimary bool, isNew bool,
) error {
	id := domain.MakeID(workspace, run)
	parts, err := r.store.Split(ctx, kpgstore.Runs, doc)
	if err != nil {
		return err
	}
	for nest, values := range map[string]map[string]any{"hparams": hparams, "metrics": metrics} {
		if len(values) == 0 {
			continue
		}
		g, _ := kpgstore.Runs.ByNest(nest)
		p, ok := parts[g.Name]
		if !ok {
			p = kpgstore.Part{Group: g, Values: map[string]any{}}
			parts[g.Name] = p
		}
		for k, v := range values {
			p.Values[k] = v
		}
	}

	for _, g := range kpgstore.Runs.Groups {
		p, ok := parts[g.Name]
		if !ok {
			continue
		}
		skipInsert := !isNew
		switch g.Name {
		case "run_info":
			if !updatePrimary {
				continue
			}
		case "run_stats":
		default:
			skipInsert = false
		}
		if err := r.store.Writer.Upsert(ctx, g.Table, id, workspace, p.Values, skipInsert); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgRun) Start(ctx context.Context, workspace string, run string) (bool, error) {
	if !r.stats {
		return false, nil
	}
	id := domain.MakeID(workspace, run)
	now := r.now()
	row, err := r.store.Writer.UpdateOne(ctx, kpgstore.RunStats, id, map[string]any{
		"status":          domain.StatusRunning,
		"last_time":       now,
		"db_retries":      0,
		"storage_retries": 0,
		"restarts": kpgstore.Expr{
			SQL: `"restarts" + CASE WHEN "start_time" IS NULL THEN 0 ELSE 1 END`,
		},
		"start_time": kpgstore.Expr{SQL: `coalesce("start_time", CAST(? AS timestamptz))`, Args: []any{now}},
		"queue_duration": kpgstore.Expr{
			SQL:  `coalesce("queue_duration", extract(epoch FROM (CAST(? AS timestamptz) - (SELECT "create_time" FROM "run_info" WHERE "_id" = ?))))`,
			Args: []any{now, id},
		},
	}, true, "restarts")
	if err != nil {
		return false, err
	}
	restarted := 0 < kpgstore.Int64(row[0])
	if restarted {
		level.Info(r.store.Logger).Log("msg", "run is restarted", "workspace", workspace, "run", run)
	}
	return restarted, nil
}

func (r *pgRun) Exit(ctx context.Context, workspace string, run string, exit kdb.Exit) error {
	if !r.stats {
		return nil
	}
	id := domain.MakeID(workspace, run)
	end := exit.EndTime
	if end.IsZero() {
		end = r.now()
	}

	endID, err := r.workspaces.NextCounter(ctx, workspace, domain.CounterEnd)
	if err != nil {
		return err
	}

	return r.store.Writer.Update(ctx, kpgstore.RunStats, id, map[string]any{
		"status":          exit.Status,
		"exit_code":       exit.ExitCode,
		"end_id":          endID,
		"end_time":        end,
		"last_time":       end,
		"run_duration":    kpgstore.Elapsed("start_time", end),
		"db_retries":      kpgstore.Add("db_retries", int64(exit.DBRetries)),
		"storage_retries": kpgstore.Add("storage_retries", int64(exit.StorageRetries)),
	}, true)
}

func (r *pgRun) Query(ctx context.Context, workspace string, q domain.Query) ([]domain.Document, error) {
	docs, sel, err := r.store.Query(ctx, kpgstore.Runs, workspace, q)
	if err != nil {
		return nil, err
	}
	if !sel.LogRecords {
		return docs, nil
	}
	if r.logStore == nil {
		level.Warn(r.store.Logger).Log("msg", "log records are requested, but no log stores are given")
		logs.Join(docs, nil)
		return docs, nil
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	records, err := r.logStore.LogRecordsForRuns(ctx, workspace, ids)
	if err != nil {
		return nil, err
	}
	logs.Join(docs, records)
	return docs, nil
}

func (r *pgRun) Count(ctx context.Context, workspace string) (int64, error) {
	return r.store.Count(ctx, kpgstore.RunInfo, workspace)
}

func (r *pgRun) Exists(ctx context.Context, workspace string, run string) (bool, error) {
	return r.store.Exists(ctx, kpgstore.RunInfo, domain.MakeID(workspace, run))
}

func (r *pgRun) SetTags(ctx context.Context, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error) {
	return r.store.SetTags(ctx, kpgstore.Runs, workspace, filter, tags, clear)
}
