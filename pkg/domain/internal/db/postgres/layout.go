// Package postgres is the common machinery of entity stores on PostgreSQL:
// query compilation, result shaping, pagination and record writing.
package postgres

import "slices"

// Table is a table of the store.
type Table struct {
	Name string

	// Bag tables have only "_id" and "workspace" as fixed columns, and grow on writes.
	Bag bool

	// ForceText makes new columns of this bag text, whatever values are.
	ForceText bool
}

var (
	Workspaces = Table{Name: "workspaces"}

	JobInfo  = Table{Name: "job_info"}
	JobStats = Table{Name: "job_stats"}
	JobTags  = Table{Name: "job_tags", Bag: true, ForceText: true}

	RunInfo  = Table{Name: "run_info"}
	RunStats = Table{Name: "run_stats"}
	Hparams  = Table{Name: "hparams", Bag: true}
	Metrics  = Table{Name: "metrics", Bag: true}
	RunTags  = Table{Name: "run_tags", Bag: true, ForceText: true}

	NodeInfo  = Table{Name: "node_info"}
	NodeStats = Table{Name: "node_stats"}
	NodeTags  = Table{Name: "node_tags", Bag: true, ForceText: true}
)

// Tables are all tables having records of workspaces, in order of deletion.
var Tables = []Table{
	Hparams, Metrics, RunTags, RunStats, RunInfo,
	NodeTags, NodeStats, NodeInfo,
	JobTags, JobStats, JobInfo,
	Workspaces,
}

// Group is a table joined in queries of an entity.
type Group struct {
	// Alias in SQL.
	Alias string

	Table Table

	// Name of the group. It is also used in field selection.
	Name string

	// Nest is the name of the sub-document holding columns of this group.
	// Empty Nest means columns are put in the top level.
	Nest string
}

// Layout is how an entity is spread over tables.
type Layout struct {
	Entity string

	// Groups in order of columns. The first one is the primary table.
	Groups []Group

	// LogRecords tells the entity can have log records joined.
	LogRecords bool
}

func (l *Layout) Primary() Group {
	return l.Groups[0]
}

// Group returns the group with the name.
func (l *Layout) Group(name string) (Group, bool) {
	i := slices.IndexFunc(l.Groups, func(g Group) bool { return g.Name == name })
	if i < 0 {
		return Group{}, false
	}
	return l.Groups[i], true
}

// ByNest returns the group nested with the name.
func (l *Layout) ByNest(nest string) (Group, bool) {
	i := slices.IndexFunc(l.Groups, func(g Group) bool { return g.Nest != "" && g.Nest == nest })
	if i < 0 {
		return Group{}, false
	}
	return l.Groups[i], true
}

// Fixed returns groups put in the top level.
func (l *Layout) Fixed() []Group {
	out := []Group{}
	for _, g := range l.Groups {
		if g.Nest == "" {
			out = append(out, g)
		}
	}
	return out
}

var (
	Runs = &Layout{
		Entity: "runs",
		Groups: []Group{
			{Alias: "A", Table: RunInfo, Name: "run_info"},
			{Alias: "B", Table: RunStats, Name: "run_stats"},
			{Alias: "C", Table: Hparams, Name: "hparams", Nest: "hparams"},
			{Alias: "D", Table: Metrics, Name: "metrics", Nest: "metrics"},
			{Alias: "T", Table: RunTags, Name: "tags", Nest: "tags"},
		},
		LogRecords: true,
	}

	Jobs = &Layout{
		Entity: "jobs",
		Groups: []Group{
			{Alias: "A", Table: JobInfo, Name: "job_info"},
			{Alias: "B", Table: JobStats, Name: "job_stats"},
			{Alias: "H", Table: Hparams, Name: "hparams", Nest: "hparams"},
			{Alias: "T", Table: JobTags, Name: "tags", Nest: "tags"},
		},
	}

	Nodes = &Layout{
		Entity: "nodes",
		Groups: []Group{
			{Alias: "A", Table: NodeInfo, Name: "node_info"},
			{Alias: "B", Table: NodeStats, Name: "node_stats"},
			{Alias: "T", Table: NodeTags, Name: "tags", Nest: "tags"},
		},
	}
)
