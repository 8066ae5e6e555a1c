package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
)

// SchemaDiscoverer provides SQL Server catalog discovery for single tables.
type SchemaDiscoverer struct {
	db      *sql.DB
	ownedDB bool
	logger  *zap.Logger
}

// NewSchemaDiscoverer creates a SQL Server schema discoverer.
func NewSchemaDiscoverer(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string, logger *zap.Logger) (*SchemaDiscoverer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, owned, err := openDB(ctx, cfg, connMgr, owner, name)
	if err != nil {
		return nil, err
	}
	return &SchemaDiscoverer{db: db, ownedDB: owned, logger: logger.Named("mssql-catalog")}, nil
}

// Close releases the discoverer (but NOT the DB if managed).
func (d *SchemaDiscoverer) Close() error {
	if d.ownedDB && d.db != nil {
		return d.db.Close()
	}
	return nil
}

// SupportsForeignKeys returns true since SQL Server supports FK discovery.
func (d *SchemaDiscoverer) SupportsForeignKeys() bool {
	return true
}

func resolveSchema(schemaName, tableName string) (string, string) {
	if schemaName == "" {
		return parseSchemaTable(tableName)
	}
	return schemaName, tableName
}

func mapObjectType(t string) string {
	switch t {
	case "V":
		return "VIEW"
	case "SN":
		return "SYNONYM"
	default:
		return "TABLE"
	}
}

func (d *SchemaDiscoverer) DiscoverTable(ctx context.Context, schemaName, tableName string) (*datasource.TableMetadata, error) {
	schemaName, tableName = resolveSchema(schemaName, tableName)
	const query = `
		SELECT DB_NAME(), s.name, o.name, RTRIM(o.type)
		FROM sys.objects o
		INNER JOIN sys.schemas s ON o.schema_id = s.schema_id
		WHERE s.name = @schema AND o.name = @table AND o.type IN ('U', 'V', 'SN')
	`

	var t datasource.TableMetadata
	var objType string
	err := d.db.QueryRowContext(ctx, query, sql.Named("schema", schemaName), sql.Named("table", tableName)).
		Scan(&t.CatalogName, &t.SchemaName, &t.TableName, &objType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query table: %w", err)
	}
	t.TableType = mapObjectType(objType)
	return &t, nil
}

func (d *SchemaDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	schemaName, tableName = resolveSchema(schemaName, tableName)
	const query = `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			COALESCE(c.CHARACTER_MAXIMUM_LENGTH, 0),
			CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			CASE WHEN pk.COLUMN_NAME IS NULL THEN 0 ELSE 1 END,
			c.ORDINAL_POSITION,
			c.COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT kcu.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			INNER JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
				AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			  AND tc.TABLE_SCHEMA = @schema AND tc.TABLE_NAME = @table
		) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @schema AND c.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`

	rows, err := d.db.QueryContext(ctx, query, sql.Named("schema", schemaName), sql.Named("table", tableName))
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		var dataType string
		var nullable, primary int
		var def sql.NullString
		if err := rows.Scan(&c.ColumnName, &dataType, &c.MaxLength, &nullable, &primary, &c.OrdinalPosition, &def); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.DataType = nativeTypeName(dataType, c.MaxLength)
		c.IsNullable = nullable == 1
		c.IsPrimaryKey = primary == 1
		if def.Valid {
			v := def.String
			c.DefaultValue = &v
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (d *SchemaDiscoverer) DiscoverPrimaryKey(ctx context.Context, schemaName, tableName string) (*datasource.PrimaryKeyMetadata, error) {
	schemaName, tableName = resolveSchema(schemaName, tableName)
	const query = `
		SELECT tc.CONSTRAINT_NAME, kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		INNER JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		  AND tc.TABLE_SCHEMA = @schema AND tc.TABLE_NAME = @table
		ORDER BY kcu.ORDINAL_POSITION
	`

	rows, err := d.db.QueryContext(ctx, query, sql.Named("schema", schemaName), sql.Named("table", tableName))
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
	schemaName, tableName = resolveSchema(schemaName, tableName)
	const query = `
		SELECT
			fk.name,
			fkc.constraint_column_id,
			pc.name,
			rs.name,
			rt.name,
			rc.name,
			fk.update_referential_action_desc,
			fk.delete_referential_action_desc
		FROM sys.foreign_keys fk
		INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		INNER JOIN sys.tables pt ON fkc.parent_object_id = pt.object_id
		INNER JOIN sys.schemas ps ON pt.schema_id = ps.schema_id
		INNER JOIN sys.columns pc ON fkc.parent_object_id = pc.object_id AND fkc.parent_column_id = pc.column_id
		INNER JOIN sys.tables rt ON fkc.referenced_object_id = rt.object_id
		INNER JOIN sys.schemas rs ON rt.schema_id = rs.schema_id
		INNER JOIN sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id
		WHERE ps.name = @schema AND pt.name = @table
		ORDER BY fk.name, fkc.constraint_column_id
	`

	rows, err := d.db.QueryContext(ctx, query, sql.Named("schema", schemaName), sql.Named("table", tableName))
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ConstraintName, &fk.Position, &fk.SourceColumn, &fk.TargetSchema,
			&fk.TargetTable, &fk.TargetColumn, &fk.UpdateRule, &fk.DeleteRule); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

func (d *SchemaDiscoverer) DiscoverIndexes(ctx context.Context, schemaName, tableName string) ([]datasource.IndexMetadata, error) {
	schemaName, tableName = resolveSchema(schemaName, tableName)
	const query = `
		SELECT
			i.name,
			i.is_unique,
			COALESCE(i.filter_definition, ''),
			c.name,
			ic.is_descending_key
		FROM sys.indexes i
		INNER JOIN sys.index_columns ic ON i.object_id = ic.object_id AND i.index_id = ic.index_id
		INNER JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
		INNER JOIN sys.tables t ON i.object_id = t.object_id
		INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @schema AND t.name = @table
		  AND i.is_primary_key = 0 AND i.type > 0 AND ic.is_included_column = 0
		ORDER BY i.name, ic.key_ordinal
	`

	rows, err := d.db.QueryContext(ctx, query, sql.Named("schema", schemaName), sql.Named("table", tableName))
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
	schemaName, tableName = resolveSchema(schemaName, tableName)
	const query = `
		SELECT GRANTOR, GRANTEE, PRIVILEGE_TYPE, CASE WHEN IS_GRANTABLE = 'YES' THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.TABLE_PRIVILEGES
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY GRANTEE, PRIVILEGE_TYPE
	`

	rows, err := d.db.QueryContext(ctx, query, sql.Named("schema", schemaName), sql.Named("table", tableName))
	if err != nil {
		return nil, fmt.Errorf("query privileges: %w", err)
	}
	defer rows.Close()

	var privs []datasource.PrivilegeMetadata
	for rows.Next() {
		var p datasource.PrivilegeMetadata
		var grantable int
		if err := rows.Scan(&p.Grantor, &p.Grantee, &p.Privilege, &grantable); err != nil {
			return nil, fmt.Errorf("scan privilege: %w", err)
		}
		p.IsGrantable = grantable == 1
		privs = append(privs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate privileges: %w", err)
	}
	return privs, nil
}

var _ datasource.SchemaDiscoverer = (*SchemaDiscoverer)(nil)
