package domain

import (
	"fmt"
	"strings"
)

// Document is a loosely typed record, as stored or queried.
//
// Values of bags are nested as Document under their names, like doc["hparams"].
type Document map[string]any

// Sub returns the nested document, or nil.
func (d Document) Sub(name string) Document {
	switch s := d[name].(type) {
	case Document:
		return s
	case map[string]any:
		return Document(s)
	}
	return nil
}

// ID returns the `_id` of the document.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Without returns a shallow copy without the keys.
func (d Document) Without(keys ...string) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// MakeID returns `_id` of an entity in the workspace.
func MakeID(workspace, name string) string {
	return workspace + "/" + name
}

// MakeNodeID returns `_id` of the node of the job.
func MakeNodeID(workspace, jobID string, index int) string {
	return fmt.Sprintf("%s/%s/%d", workspace, jobID, index)
}

// SplitID splits `_id` into its workspace and name.
func SplitID(id string) (workspace string, name string, ok bool) {
	return strings.Cut(id, "/")
}

// status of jobs, runs and nodes.
const (
	StatusCreated    = "created"
	StatusAllocating = "allocating"
	StatusQueued     = "queued"
	StatusSpawning   = "spawning"
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusCancelled  = "cancelled"
	StatusRestarted  = "restarted"
)

// Counters of workspaces.
type Counter string

const (
	CounterJob Counter = "next_job_number"
	CounterEnd Counter = "next_end_id"
)

type SortKey struct {
	Field      string
	Descending bool
}

// Query of jobs, runs or nodes in a workspace.
type Query struct {
	// Filter document. See package filter for the syntax.
	Filter map[string]any

	// Fields to be selected, like {"status": 1, "hparams.lr": 1, "metrics": 1}.
	// Keys with falsy value are ignored. When no keys are selected, all fields are selected.
	//
	// Group names (for example "run_stats", "hparams", "tags") select all columns of the group.
	// For runs, "log_records" joins log records from the log store.
	Fields map[string]any

	Sort []SortKey

	// number of records to skip.
	Skip int

	// max number of records. Zero or negative means no limits.
	First int

	// Progress is called when a chunk is gathered, if not nil.
	Progress func(done, total int)
}
