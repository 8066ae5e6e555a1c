package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Querier runs statements against a database.
type Querier interface {
	// Query runs a statement that returns rows. Each row becomes a record
	// whose field names are the result column names.
	Query(ctx context.Context, query string, args ...any) ([]*dataset.Record, error)

	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Tx is an open transaction. Exactly one of Commit or Rollback ends it.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a handle on a database used by sessions in the database role.
// Each implementation owns (or borrows from the connection manager) a pool
// and must be closed when done.
type Connection interface {
	// Dialect describes how SQL must be written for this database.
	Dialect() *dataset.Dialect

	// Begin opens a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection (but not a managed pool).
	Close() error
}

// SchemaDiscoverer reads catalog information for a single table.
// Each implementation owns its connection and must be closed when done.
type SchemaDiscoverer interface {
	// DiscoverTable returns the table header, or nil when the table does not exist.
	DiscoverTable(ctx context.Context, schemaName, tableName string) (*TableMetadata, error)

	// DiscoverColumns returns columns ordered by position.
	DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]ColumnMetadata, error)

	// DiscoverPrimaryKey returns the primary key, or nil when the table has none.
	DiscoverPrimaryKey(ctx context.Context, schemaName, tableName string) (*PrimaryKeyMetadata, error)

	// DiscoverForeignKeys returns foreign key columns declared on the table.
	DiscoverForeignKeys(ctx context.Context, schemaName, tableName string) ([]ForeignKeyMetadata, error)

	// DiscoverIndexes returns the non-primary indexes of the table.
	DiscoverIndexes(ctx context.Context, schemaName, tableName string) ([]IndexMetadata, error)

	// DiscoverPrivileges returns the grants on the table.
	DiscoverPrivileges(ctx context.Context, schemaName, tableName string) ([]PrivilegeMetadata, error)

	// SupportsForeignKeys returns true if the database supports FK discovery.
	SupportsForeignKeys() bool

	// Close releases the database connection.
	Close() error
}
