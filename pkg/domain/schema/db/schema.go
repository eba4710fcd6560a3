package db

import "context"

// SchemaInterface represents a versioned database schema.
type SchemaInterface interface {
	// Upgrade upgrades the schema to the latest version.
	Upgrade(ctx context.Context) error

	// Version returns the current version of the schema.
	Version(ctx context.Context) (int, error)

	// Context returns a context which is closed when the schema in database is not latest.
	//
	// Args
	//
	// - ctx: The context to be used.
	//
	// Returns
	//
	// - context.Context: The context which will be closed when schema in database is older than reqirement.
	//
	// - context.CancelFunc: The function to cancel the context.
	Context(ctx context.Context) (context.Context, context.CancelFunc)
}

// Column types of tables.
const (
	TypeText    = "text"
	TypeFloat   = "double precision"
	TypeInteger = "bigint"
	TypeBoolean = "boolean"
	TypeTime    = "timestamp with time zone"
)

// Columns maps column names to their types.
type Columns map[string]string

// Has tells the column exists.
func (c Columns) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Registry knows columns of tables, and grows bag tables.
type Registry interface {
	// ColumnsOf returns columns of the table.
	//
	// # Returns
	//
	// - Columns: column name to its type. Callers should not modify it.
	//
	// - error: UnknownTable when the table does not exist.
	ColumnsOf(ctx context.Context, table string) (Columns, error)

	// EnsureColumns adds columns for keys of sample which are not in the table.
	//
	// Each column is typed by its sample value: text when forceText or the value is a string,
	// double precision otherwise. Keys with nil value are not added.
	//
	// Columns are never removed nor retyped.
	//
	// # Returns
	//
	// - []string: names of added columns.
	//
	// - error
	EnsureColumns(ctx context.Context, table string, sample map[string]any, forceText bool) ([]string, error)

	// Invalidate drops cache for the table.
	Invalidate(table string)
}
