package db

import (
	"context"
	"time"

	"github.com/opst/xtstore/pkg/domain"
)

// Exit is how a run exits.
type Exit struct {
	// Status is the final status, like "completed" or "error".
	Status string

	ExitCode int

	// retries the run has spent.
	DBRetries      int
	StorageRetries int

	// EndTime is when the run exits. Zero value means now.
	EndTime time.Time
}

type RunInterface interface {
	// Create registers a new run.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.Document: the run. "_id" is required, as "<workspace>/<run name>".
	// Fields of run_info and run_stats are put in the top level,
	// and "hparams", "metrics" and "tags" are nested documents.
	//
	// Returns
	//
	// - error: ErrDuplicateKey when the run exists.
	Create(ctx context.Context, doc domain.Document) error

	// UpdateInfo writes fields, hyperparameters and metrics of the run.
	//
	// Args
	//
	// - context.Context
	//
	// - string, string: workspace and run name
	//
	// - domain.Document: fields to be written, in the same shape as Create. It can be nil.
	//
	// - map[string]any: hyperparameters. It can be nil.
	//
	// - map[string]any: metrics. It can be nil.
	//
	// - bool: updatePrimary. When false, fields of run_info are not written.
	//
	// - bool: isNew. When true, records may be absent and are inserted.
	//
	// Returns
	//
	// - error: ErrMissing when the run does not exist and isNew is false.
	UpdateInfo(
		ctx context.Context, workspace string, run string,
		doc domain.Document, hparams map[string]any, metrics map[string]any,
		updatePrimary bool, isNew bool,
	) error

	// Start makes the run running, and resets its retry counters.
	//
	// It does nothing when run stats are disabled.
	//
	// Returns
	//
	// - bool: true if the run has been started before. The run is restarted.
	//
	// - error: ErrMissing when the run does not exist.
	Start(ctx context.Context, workspace string, run string) (bool, error)

	// Exit makes the run exited, and gives it a new end id of the workspace.
	//
	// It does nothing when run stats are disabled.
	Exit(ctx context.Context, workspace string, run string, exit Exit) error

	// Query returns runs in the workspace.
	//
	// When fields of the query has "log_records", log records of runs are joined.
	Query(ctx context.Context, workspace string, q domain.Query) ([]domain.Document, error)

	// Count returns the number of runs in the workspace.
	Count(ctx context.Context, workspace string) (int64, error)

	Exists(ctx context.Context, workspace string, run string) (bool, error)

	// SetTags writes tags of runs matching the filter.
	//
	// Args
	//
	// - clear: when true, tags named in tags are cleared instead.
	//
	// Returns
	//
	// - int: the number of tagged runs.
	//
	// - error
	SetTags(ctx context.Context, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error)
}
