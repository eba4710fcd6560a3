package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/opst/xtstore/pkg/domain"
	kpgstore "github.com/opst/xtstore/pkg/domain/internal/db/postgres"
	kdb "github.com/opst/xtstore/pkg/domain/node/db"
	xe "github.com/opst/xtstore/pkg/errors"
)

type pgNode struct {
	store    *kpgstore.Store
	stats    bool
	jobStats bool
	now      func() time.Time
}

type Option func(*pgNode) *pgNode

// WithClock replaces the source of current time.
func WithClock(now func() time.Time) Option {
	return func(n *pgNode) *pgNode {
		n.now = now
		return n
	}
}

func New(store *kpgstore.Store, options ...Option) kdb.NodeInterface {
	n := &pgNode{
		store:    store,
		stats:    store.Config.Stats().Node(),
		jobStats: store.Config.Stats().Job(),
		now:      time.Now,
	}
	for _, opt := range options {
		n = opt(n)
	}
	return n
}

func (n *pgNode) Upsert(ctx context.Context, doc domain.Document) error {
	id := doc.ID()
	workspace, rest, ok := domain.SplitID(id)
	if !ok {
		return xe.Wrap(&kpgstore.UnknownFieldError{Entity: kpgstore.Nodes.Entity, Field: "_id"})
	}
	parts, err := n.store.Split(ctx, kpgstore.Nodes, doc)
	if err != nil {
		return err
	}

	info, ok := parts["node_info"]
	if !ok {
		info = kpgstore.Part{Values: map[string]any{}}
	}
	if jobID, index, ok := splitNode(rest); ok {
		if _, ok := info.Values["job_id"]; !ok {
			info.Values["job_id"] = jobID
		}
		if _, ok := info.Values["node_index"]; !ok {
			info.Values["node_index"] = index
		}
	}
	if err := n.store.Writer.Upsert(ctx, kpgstore.NodeInfo, id, workspace, info.Values, false); err != nil {
		return err
	}

	stats := map[string]any{}
	if p, ok := parts["node_stats"]; ok {
		stats = p.Values
	}
	if _, ok := stats["job_id"]; !ok {
		stats["job_id"] = info.Values["job_id"]
	}
	if err := n.store.Writer.Upsert(ctx, kpgstore.NodeStats, id, workspace, stats, false); err != nil {
		return err
	}

	if p, ok := parts["tags"]; ok {
		if err := n.store.Writer.Upsert(ctx, kpgstore.NodeTags, id, workspace, p.Values, false); err != nil {
			return err
		}
	}
	return nil
}

// splitNode splits "<job id>/<index>".
func splitNode(s string) (string, int, bool) {
	for i := len(s) - 1; 0 <= i; i-- {
		if s[i] != '/' {
			continue
		}
		index, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return "", 0, false
		}
		return s[:i], index, true
	}
	return "", 0, false
}

func (n *pgNode) Start(ctx context.Context, workspace string, jobID string, index int, restart bool, prepStart time.Time) error {
	if !n.stats {
		return nil
	}
	values := map[string]any{
		"node_status":     domain.StatusRunning,
		"prep_start_time": prepStart,
		"queue_duration":  kpgstore.Elapsed("create_time", prepStart),
	}
	if restart {
		values["restarts"] = kpgstore.Add("restarts", 1)
	}
	return n.store.Writer.Update(ctx, kpgstore.NodeStats, domain.MakeNodeID(workspace, jobID, index), values, true)
}

func (n *pgNode) End(ctx context.Context, workspace string, jobID string, index int, end kdb.End) error {
	at := end.EndTime
	if at.IsZero() {
		at = n.now()
	}

	if n.stats {
		if err := n.store.Writer.Update(ctx, kpgstore.NodeStats, domain.MakeNodeID(workspace, jobID, index), map[string]any{
			"app_start_time":  end.AppStart,
			"post_start_time": at,
			"prep_duration":   kpgstore.Elapsed("prep_start_time", end.AppStart),
			"app_duration":    kpgstore.Expr{SQL: `extract(epoch FROM (CAST(? AS timestamptz) - CAST(? AS timestamptz)))`, Args: []any{at, end.AppStart}},
			"db_retries":      kpgstore.Add("db_retries", int64(end.DBRetries)),
			"storage_retries": kpgstore.Add("storage_retries", int64(end.StorageRetries)),
		}, true); err != nil {
			return err
		}
	}

	if n.jobStats {
		if err := n.store.Writer.Update(ctx, kpgstore.JobStats, domain.MakeID(workspace, jobID), map[string]any{
			"db_retries":      kpgstore.Add("db_retries", int64(end.DBRetries)),
			"storage_retries": kpgstore.Add("storage_retries", int64(end.StorageRetries)),
		}, false); err != nil {
			return err
		}
	}
	return nil
}

func (n *pgNode) PostEnd(ctx context.Context, workspace string, jobID string, index int, postStart time.Time) error {
	if !n.stats {
		return nil
	}
	now := n.now()
	return n.store.Writer.Update(ctx, kpgstore.NodeStats, domain.MakeNodeID(workspace, jobID, index), map[string]any{
		"node_status":   domain.StatusCompleted,
		"post_end_time": now,
		"post_duration": kpgstore.Expr{SQL: `extract(epoch FROM (CAST(? AS timestamptz) - CAST(? AS timestamptz)))`, Args: []any{now, postStart}},
	}, true)
}

func (n *pgNode) RunStart(ctx context.Context, workspace string, jobID string, index int) error {
	if !n.stats {
		return nil
	}
	return n.store.Writer.Update(ctx, kpgstore.NodeStats, domain.MakeNodeID(workspace, jobID, index), map[string]any{
		"running_runs": kpgstore.Add("running_runs", 1),
	}, true)
}

func (n *pgNode) RunEnd(ctx context.Context, workspace string, jobID string, index int, failed bool) error {
	if !n.stats {
		return nil
	}
	values := map[string]any{
		"running_runs":   kpgstore.Add("running_runs", -1),
		"completed_runs": kpgstore.Add("completed_runs", 1),
	}
	if failed {
		values["error_runs"] = kpgstore.Add("error_runs", 1)
	}
	return n.store.Writer.Update(ctx, kpgstore.NodeStats, domain.MakeNodeID(workspace, jobID, index), values, true)
}

func (n *pgNode) UpdateConnectInfo(ctx context.Context, workspace string, jobID string, index int, info map[string]any) error {
	return n.store.Writer.Update(ctx, kpgstore.NodeInfo, domain.MakeNodeID(workspace, jobID, index), map[string]any{
		"connect_info": info,
	}, true)
}

func (n *pgNode) Query(ctx context.Context, workspace string, q domain.Query) ([]domain.Document, error) {
	docs, _, err := n.store.Query(ctx, kpgstore.Nodes, workspace, q)
	return docs, err
}

func (n *pgNode) SetTags(ctx context.Context, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error) {
	return n.store.SetTags(ctx, kpgstore.Nodes, workspace, filter, tags, clear)
}
