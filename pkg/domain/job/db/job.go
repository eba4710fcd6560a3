package db

import (
	"context"

	"github.com/opst/xtstore/pkg/domain"
)

type JobInterface interface {
	// Create registers a new job.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.Document: the job. "_id" is required, as "<workspace>/<job id>".
	// Fields of job_info and job_stats are put in the top level,
	// and "hparams" and "tags" are nested documents.
	//
	// Returns
	//
	// - error: ErrDuplicateKey when the job exists.
	Create(ctx context.Context, doc domain.Document) error

	// UpdateInfo writes fields of the job.
	//
	// Args
	//
	// - context.Context
	//
	// - string, string: workspace and job id
	//
	// - domain.Document: fields to be written, in the same shape as Create.
	//
	// - bool: updatePrimary. When false, fields of job_info are not written.
	//
	// - bool: isNew. When true, records may be absent and are inserted.
	// Otherwise records should exist.
	//
	// Returns
	//
	// - error: ErrMissing when the job does not exist and isNew is false.
	UpdateInfo(ctx context.Context, workspace string, jobID string, doc domain.Document, updatePrimary bool, isNew bool) error

	// Query returns jobs in the workspace.
	Query(ctx context.Context, workspace string, q domain.Query) ([]domain.Document, error)

	// RunStart counts up running runs of the job.
	RunStart(ctx context.Context, workspace string, jobID string) error

	// RunExit counts a run of the job as completed. Runs exited with non-zero code are counted as errors.
	RunExit(ctx context.Context, workspace string, jobID string, exitCode int) error

	// NodeStart counts up running nodes of the job.
	//
	// A restarting node counts up restarts instead, as it is running already.
	NodeStart(ctx context.Context, workspace string, jobID string, isRestart bool) error

	// NodeExit counts down running nodes of the job.
	//
	// Returns
	//
	// - bool: true when all nodes have exited. The job is completed.
	//
	// - error
	NodeExit(ctx context.Context, workspace string, jobID string) (bool, error)

	// UpdateRunStats writes values into stats of all runs of the job.
	UpdateRunStats(ctx context.Context, workspace string, jobID string, values map[string]any) error

	// SetTags writes tags of jobs matching the filter.
	//
	// Args
	//
	// - clear: when true, tags named in tags are cleared instead.
	//
	// Returns
	//
	// - int: the number of tagged jobs.
	//
	// - error
	SetTags(ctx context.Context, workspace string, filter map[string]any, tags map[string]any, clear bool) (int, error)
}
