package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
)

// SchemaDiscoverer provides PostgreSQL catalog discovery for single tables.
type SchemaDiscoverer struct {
	pool      *pgxpool.Pool
	ownedPool bool
	logger    *zap.Logger
}

// NewSchemaDiscoverer creates a PostgreSQL schema discoverer using the connection manager.
// If connMgr is nil, creates an unmanaged pool. If logger is nil, a no-op logger is used.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, owned, err := openPool(ctx, cfg, connMgr, owner, name)
	if err != nil {
		return nil, err
	}
	return &SchemaDiscoverer{pool: pool, ownedPool: owned, logger: logger.Named("postgres-catalog")}, nil
}

// NewSchemaDiscovererFromPool wraps an existing pool. The caller keeps ownership.
func NewSchemaDiscovererFromPool(pool *pgxpool.Pool, logger *zap.Logger) *SchemaDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaDiscoverer{pool: pool, logger: logger.Named("postgres-catalog")}
}

// Close releases the discoverer (but NOT the pool if managed).
func (d *SchemaDiscoverer) Close() error {
	if d.ownedPool && d.pool != nil {
		d.pool.Close()
	}
	return nil
}

// SupportsForeignKeys returns true since PostgreSQL supports FK discovery.
func (d *SchemaDiscoverer) SupportsForeignKeys() bool {
	return true
}

func mapTableType(t string) string {
	switch t {
	case "VIEW":
		return "VIEW"
	case "LOCAL TEMPORARY":
		return "TEMP"
	default:
		return "TABLE"
	}
}

func (d *SchemaDiscoverer) DiscoverTable(ctx context.Context, schemaName, tableName string) (*datasource.TableMetadata, error) {
	const query = `
		SELECT table_catalog, table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	`

	var t datasource.TableMetadata
	var tableType string
	err := d.pool.QueryRow(ctx, query, schemaName, tableName).Scan(&t.CatalogName, &t.SchemaName, &t.TableName, &tableType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query table: %w", err)
	}
	t.TableType = mapTableType(tableType)
	return &t, nil
}

func (d *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			COALESCE(c.character_maximum_length, 0)::int,
			c.is_nullable = 'YES' AS is_nullable,
			pk.column_name IS NOT NULL AS is_primary_key,
			c.ordinal_position::int,
			c.column_default
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = $1 AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		var maxLen int32
		var pos int32
		if err := rows.Scan(&c.ColumnName, &c.DataType, &maxLen, &c.IsNullable, &c.IsPrimaryKey, &pos, &c.DefaultValue); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.MaxLength = int(maxLen)
		c.OrdinalPosition = int(pos)
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (d *SchemaDiscoverer) DiscoverPrimaryKey(ctx context.Context, schemaName, tableName string) (*datasource.PrimaryKeyMetadata, error) {
	const query = `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query primary key: %w", err)
	}
	defer rows.Close()

	var pk *datasource.PrimaryKeyMetadata
	for rows.Next() {
		var name, column string
		if err := rows.Scan(&name, &column); err != nil {
			return nil, fmt.Errorf("scan primary key: %w", err)
		}
		if pk == nil {
			pk = &datasource.PrimaryKeyMetadata{ConstraintName: name}
		}
		pk.Columns = append(pk.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key: %w", err)
	}
	return pk, nil
}

func (d *SchemaDiscoverer) DiscoverForeignKeys(ctx context.Context, schemaName, tableName string) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
		SELECT
			tc.constraint_name,
			kcu.ordinal_position::int,
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name,
			rc.update_rule,
			rc.delete_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		var pos int32
		if err := rows.Scan(&fk.ConstraintName, &pos, &fk.SourceColumn, &fk.TargetSchema,
			&fk.TargetTable, &fk.TargetColumn, &fk.UpdateRule, &fk.DeleteRule); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fk.Position = int(pos)
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

func (d *SchemaDiscoverer) DiscoverIndexes(ctx context.Context, schemaName, tableName string) ([]datasource.IndexMetadata, error) {
	const query = `
		SELECT
			i.relname,
			ix.indisunique,
			COALESCE(pg_get_expr(ix.indpred, ix.indrelid), ''),
			a.attname,
			(ix.indoption[k.ord - 1] & 1) = 1
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND t.relname = $2 AND NOT ix.indisprimary
		ORDER BY i.relname, k.ord
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	var indexes []datasource.IndexMetadata
	for rows.Next() {
		var name, filter, column string
		var unique, desc bool
		if err := rows.Scan(&name, &unique, &filter, &column, &desc); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if n := len(indexes); n == 0 || indexes[n-1].IndexName != name {
			indexes = append(indexes, datasource.IndexMetadata{
				IndexName:  name,
				IsUnique:   unique,
				Descending: desc,
				Filter:     filter,
			})
		}
		last := &indexes[len(indexes)-1]
		last.Columns = append(last.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return indexes, nil
}

func (d *SchemaDiscoverer) DiscoverPrivileges(ctx context.Context, schemaName, tableName string) ([]datasource.PrivilegeMetadata, error) {
	const query = `
		SELECT grantor, grantee, privilege_type, is_grantable = 'YES'
		FROM information_schema.table_privileges
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY grantee, privilege_type
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query privileges: %w", err)
	}
	defer rows.Close()

	var privs []datasource.PrivilegeMetadata
	for rows.Next() {
		var p datasource.PrivilegeMetadata
		if err := rows.Scan(&p.Grantor, &p.Grantee, &p.Privilege, &p.IsGrantable); err != nil {
			return nil, fmt.Errorf("scan privilege: %w", err)
		}
		privs = append(privs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate privileges: %w", err)
	}

	d.logger.Debug("discovered privileges",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.Int("count", len(privs)))
	return privs, nil
}

var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
