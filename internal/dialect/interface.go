package dialect

import (
	"context"
	"database/sql"
)

// Queryer is the part of *sql.DB / *sql.Tx / *sql.Conn the copy engine uses.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect abstracts database-specific operations.
type Dialect interface {
	// Metadata Queries (Schema Introspection)
	GetTablesQuery(schema string) string
	GetColumnsQuery(schema string) string
	GetPrimaryKeysQuery(schema string) string
	GetForeignKeysQuery(schema string) string

	// Execution Hooks (Copy Level) - run inside the destination transaction.
	// Reference columns are written in a later phase than the rows they point to,
	// so foreign key checks are deferred or disabled for the duration of the copy.
	BeforeCopy(ctx context.Context, q Queryer, tables []string) error
	AfterCopy(ctx context.Context, q Queryer, tables []string) error

	// Query Generation
	InsertQuery(table string, cols []string) string
	UpdateQuery(table string, cols []string, keyCols []string) string
	Placeholder(index int) string // Returns ?, $1, @p1, etc.

	// InsertReturningID inserts one row and returns the primary key generated by the database.
	InsertReturningID(ctx context.Context, q Queryer, table, idColumn string, cols []string, values []any) (int64, error)

	// Helpers
	NormalizeType(sqlType string) string
	GetSchemaName(input string) string
	GetLimitRowQuery(query string, limit int) string
}
