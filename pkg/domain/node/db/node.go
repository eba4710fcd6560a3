package db

import (
	"context"
	"time"

	"github.com/opst/xtstore/pkg/domain"
)

// End is how the application on a node ends.
type End struct {
	// retries the node has spent. They are also added into the job.
	DBRetries      int
	StorageRetries int

	// AppStart is when the application started.
	AppStart time.Time

	// EndTime is when the application ended. Zero value means now.
	EndTime time.Time
}

type NodeInterface interface {
	// Upsert writes the node.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.Document: the node. "_id" is required, as "<workspace>/<job id>/<node index>".
	// Fields of node_info and node_stats are put in the top level, and "tags" is a nested document.
	Upsert(ctx context.Context, doc domain.Document) error

	// Start makes the node preparing its application.
	//
	// Args
	//
	// - restart: the node is restarted.
	//
	// - prepStart: when the preparation started.
	Start(ctx context.Context, workspace string, jobID string, index int, restart bool, prepStart time.Time) error

	// End records that the application of the node has ended.
	End(ctx context.Context, workspace string, jobID string, index int, end End) error

	// PostEnd records that the post-process of the node has ended.
	//
	// Args
	//
	// - postStart: when the post-process started. The end is now.
	PostEnd(ctx context.Context, workspace string, jobID string, index int, postStart time.Time) error

	// RunStart counts up running runs of the node.
	RunStart(ctx context.Context, workspace string, jobID string, index int) error

	// RunEnd counts a run of the node as completed, or as an error.
	RunEnd(ctx context.Context, workspace string, jobID string, index int, failed bool) error

	// UpdateConnectInfo writes how to connect to the node.
	UpdateConnectInfo(ctx context.Context, workspace string, jobID string, index int, info map[string]any) error

	// Query returns nodes in the workspace.
	Query(ctx context.Context, workspace string, q domain.Query) ([]domain.Document, error)

	// SetTags writes tags of nodes matching the filter.
	//
	// Returns
	//
	// - int: the number of tagged nodes.
	//
	// - error
	SetTags(ctx context.Context, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error)
}
