package db

import (
	"context"

	"github.com/opst/xtstore/pkg/domain"
)

type WorkspaceInterface interface {
	// Create registers the workspace. It is idempotent.
	//
	// Args
	//
	// - context.Context
	//
	// - string: name of the workspace
	//
	// - string: identifier of the database owning the workspace
	//
	// Returns
	//
	// - error
	Create(ctx context.Context, workspace string, dbName string) error

	// Delete deletes the workspace and all of its jobs, runs and nodes.
	//
	// Returns
	//
	// - bool: true if the workspace has existed.
	//
	// - error
	Delete(ctx context.Context, workspace string) (bool, error)

	Exists(ctx context.Context, workspace string) (bool, error)

	// NextCounter increments the counter and returns the value before increment.
	//
	// Concurrent callers never get a same value.
	//
	// Returns
	//
	// - int64: the value of the counter before increment.
	//
	// - error: ErrMissing if the workspace does not exist.
	NextCounter(ctx context.Context, workspace string, counter domain.Counter) (int64, error)

	// SetCounters overwrites counters of the workspace.
	//
	// Counters not greater than zero are kept as they are.
	SetCounters(ctx context.Context, workspace string, nextJobNumber int64, nextEndID int64) error

	// ListExperiments returns names of experiments of jobs in the workspace, in name order.
	ListExperiments(ctx context.Context, workspace string) ([]string, error)
}
