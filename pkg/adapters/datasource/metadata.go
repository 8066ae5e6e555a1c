package datasource

// TableMetadata represents a discovered table header.
type TableMetadata struct {
	CatalogName string
	SchemaName  string
	TableName   string
	TableType   string // "TABLE", "VIEW", "TEMP", "SYNONYM", "ALIAS"
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	MaxLength       int
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
	DefaultValue    *string
}

// PrimaryKeyMetadata lists the primary key columns in key order.
type PrimaryKeyMetadata struct {
	ConstraintName string
	Columns        []string
}

// ForeignKeyMetadata represents one column of a discovered foreign key constraint.
type ForeignKeyMetadata struct {
	ConstraintName string
	Position       int
	SourceColumn   string
	TargetSchema   string
	TargetTable    string
	TargetColumn   string
	UpdateRule     string
	DeleteRule     string
}

// IndexMetadata represents a discovered index.
type IndexMetadata struct {
	IndexName  string
	IsUnique   bool
	Descending bool
	Filter     string
	Columns    []string
}

// PrivilegeMetadata represents one grant.
type PrivilegeMetadata struct {
	Grantor     string
	Grantee     string
	Privilege   string
	IsGrantable bool
}
