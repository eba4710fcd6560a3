package postgres

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/opst/xtstore/pkg/domain"
	kpgstore "github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	kdb "github.com/opst/xtstore/pkg/domain/job/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

type pgJob struct {
	store *kpgstore.Store
	stats bool
	now   func() time.Time
}

type Option func(*pgJob) *pgJob

// WithClock replaces the source of current time.
func WithClock(now func() time.Time) Option {
	return func(j *pgJob) *pgJob {
		j.now = now
		return j
	}
}

func New(store *kpgstore.Store, options ...Option) kdb.JobInterface {
	j := &pgJob{
		store: store,
		stats: store.Config.Stats().Job(),
		now:   time.Now,
	}
	for _, opt := range options {
		j = opt(j)
	}
	return j
}

func (j *pgJob) Create(ctx context.Context, doc domain.Document) error {
	id := doc.ID()
	workspace, name, ok := domain.SplitID(id)
	if !ok {
		return xe.Wrap(&kpgstore.UnknownFieldError{Entity: kpgstore.Jobs.Entity, Field: "_id"})
	}
	parts, err := j.store.Split(ctx, kpgstore.Jobs, doc)
	if err != nil {
		return err
	}

	info := parts["job_info"].Values
	if info == nil {
		info = map[string]any{}
	}
	if _, ok := info["job_id"]; !ok {
		info["job_id"] = name
	}
	info["_id"] = id
	info["workspace"] = workspace
	if err := j.store.Writer.Insert(ctx, kpgstore.JobInfo, info); err != nil {
		return err
	}

	stats := parts["job_stats"].Values
	if stats == nil {
		stats = map[string]any{}
	}
	if _, ok := stats["job_status"]; !ok {
		stats["job_status"] = domain.StatusCreated
	}
	stats["_id"] = id
	stats["workspace"] = workspace
	if err := j.store.Writer.Insert(ctx, kpgstore.JobStats, stats); err != nil {
		return err
	}

	for _, nest := range []string{"hparams", "tags"} {
		p, ok := parts[nest]
		if !ok {
			continue
		}
		if err := j.store.Writer.Upsert(ctx, p.Group.Table, id, workspace, p.Values, false); err != nil {
			return err
		}
	}
	return nil
}

func (j *pgJob) UpdateInfo(ctx context.Context, workspace string, jobID string, doc domain.Document, updatePrimary bool, isNew bool) error {
	id := domain.MakeID(workspace, jobID)
	parts, err := j.store.Split(ctx, kpgstore.Jobs, doc)
	if err != nil {
		return err
	}
	for _, g := range kpgstore.Jobs.Groups {
		p, ok := parts[g.Name]
		if !ok {
			continue
		}
		skipInsert := !isNew
		switch g.Name {
		case "job_info":
			if !updatePrimary {
				continue
			}
		case "hparams", "tags":
			skipInsert = false
		}
		if err := j.store.Writer.Upsert(ctx, g.Table, id, workspace, p.Values, skipInsert); err != nil {
			return err
		}
	}
	return nil
}

func (j *pgJob) Query(ctx context.Context, workspace string, q domain.Query) ([]domain.Document, error) {
	docs, _, err := j.store.Query(ctx, kpgstore.Jobs, workspace, q)
	return docs, err
}

func (j *pgJob) RunStart(ctx context.Context, workspace string, jobID string) error {
	if !j.stats {
		return nil
	}
	return j.store.Writer.Update(ctx, kpgstore.JobStats, domain.MakeID(workspace, jobID), map[string]any{
		"running_runs": kpgstore.Add("running_runs", 1),
		"job_status":   domain.StatusRunning,
	}, true)
}

func (j *pgJob) RunExit(ctx context.Context, workspace string, jobID string, exitCode int) error {
	if !j.stats {
		return nil
	}
	values := map[string]any{
		"running_runs":   kpgstore.Add("running_runs", -1),
		"completed_runs": kpgstore.Add("completed_runs", 1),
	}
	if exitCode != 0 {
		values["error_runs"] = kpgstore.Add("error_runs", 1)
	}
	return j.store.Writer.Update(ctx, kpgstore.JobStats, domain.MakeID(workspace, jobID), values, true)
}

func (j *pgJob) NodeStart(ctx context.Context, workspace string, jobID string, isRestart bool) error {
	if !j.stats {
		return nil
	}
	values := map[string]any{"job_status": domain.StatusRunning}
	if isRestart {
		// restarted nodes are counted as running since their first start.
		values["restarts"] = kpgstore.Add("restarts", 1)
	} else {
		values["running_nodes"] = kpgstore.Add("running_nodes", 1)
	}
	return j.store.Writer.Update(ctx, kpgstore.JobStats, domain.MakeID(workspace, jobID), values, true)
}

func (j *pgJob) NodeExit(ctx context.Context, workspace string, jobID string) (bool, error) {
	if !j.stats {
		return false, nil
	}
	id := domain.MakeID(workspace, jobID)
	row, err := j.store.Writer.UpdateOne(ctx, kpgstore.JobStats, id, map[string]any{
		"running_nodes": kpgstore.Add("running_nodes", -1),
	}, true, "running_nodes")
	if err != nil {
		return false, err
	}
	if 0 < kpgstore.Int64(row[0]) {
		return false, nil
	}

	now := j.now()
	if err := j.store.Writer.Update(ctx, kpgstore.JobStats, id, map[string]any{
		"job_status": domain.StatusCompleted,
		"end_time":   now,
		"run_duration": kpgstore.Expr{
			SQL:  `extract(epoch FROM (CAST(? AS timestamptz) - (SELECT "started" FROM "job_info" WHERE "_id" = ?)))`,
			Args: []any{now, id},
		},
	}, false); err != nil {
		return false, err
	}
	level.Info(j.store.Logger).Log("msg", "job is completed", "workspace", workspace, "job", jobID)
	return true, nil
}

func (j *pgJob) UpdateRunStats(ctx context.Context, workspace string, jobID string, values map[string]any) error {
	_, err := j.store.Writer.Change(
		ctx, kpgstore.RunStats,
		map[string]any{"workspace": workspace, "job_id": jobID},
		values,
	)
	return err
}

func (j *pgJob) SetTags(ctx context.Context, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error) {
	return j.store.SetTags(ctx, kpgstore.Jobs, workspace, filter, tags, clear)
}
