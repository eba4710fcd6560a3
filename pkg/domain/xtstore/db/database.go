package db

import (
	"context"

	"github.com/opst/xtstore/pkg/conn/db/postgres/executor"
	kjob "github.com/opst/xtstore/pkg/domain/job/db"
	knode "github.com/opst/xtstore/pkg/domain/node/db"
	krun "github.com/opst/xtstore/pkg/domain/run/db"
	kschema "github.com/opst/xtstore/pkg/domain/schema/db"
	kworkspace "github.com/opst/xtstore/pkg/domain/workspace/db"
)

type Database interface {
	Workspace() kworkspace.WorkspaceInterface
	Job() kjob.JobInterface
	Run() krun.RunInterface
	Node() knode.NodeInterface
	Schema() kschema.SchemaInterface

	// Stats returns statistics of calls to the database.
	Stats() *executor.Stats

	// SetInsertBuffering makes inserts of bags buffered until n records are queued for a table.
	// n <= 1 disables buffering.
	SetInsertBuffering(n int)

	// Flush writes buffered inserts.
	Flush(ctx context.Context) error

	// Close flushes buffered inserts, and closes the connection.
	Close() error
}
