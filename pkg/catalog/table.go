// Package catalog holds the relational view of one physical table: its
// columns, keys, indexes and grants, as read from a live database or from a
// metadata file.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// ObjectType is the kind of catalog object a Table describes.
type ObjectType string

const (
	TypeTable   ObjectType = "TABLE"
	TypeView    ObjectType = "VIEW"
	TypeTemp    ObjectType = "TEMP"
	TypeSynonym ObjectType = "SYNONYM"
	TypeAlias   ObjectType = "ALIAS"
)

// Column is one column of a table. Position is 1-based.
type Column struct {
	Position   int
	Name       string
	DataType   dataset.DataType
	TypeName   string
	Size       int
	Nullable   bool
	Default    string
	HasDefault bool
}

// PrimaryKey lists key columns in key order.
type PrimaryKey struct {
	Name    string
	Columns []string
}

// ForeignKey is one column of a foreign key constraint.
type ForeignKey struct {
	Name          string
	Position      int
	Column        string
	PrimarySchema string
	PrimaryTable  string
	PrimaryColumn string
	UpdateRule    string
	DeleteRule    string
}

type Index struct {
	Name      string
	Unique    bool
	Ascending bool
	Filter    string
	Columns   []string
}

// Sequence describes the column whose values the database generates.
type Sequence struct {
	Name   string
	Column string
	Seed   int64
}

type Privilege struct {
	Grantor   string
	Grantee   string
	Privilege string
	Grantable bool
}

// Table is the catalog-shaped view of one physical relational object.
type Table struct {
	Catalog     string
	Schema      string
	Name        string
	Type        ObjectType
	Columns     []Column
	PrimaryKey  PrimaryKey
	ForeignKeys []ForeignKey
	Indexes     []Index
	Sequence    Sequence
	Privileges  []Privilege
}

// New returns an empty table definition.
func New(catalogName, schema, name string) *Table {
	return &Table{Catalog: catalogName, Schema: schema, Name: name, Type: TypeTable}
}

// Reset drops every column, key, index and grant, keeping the name.
func (t *Table) Reset() {
	t.Columns = nil
	t.PrimaryKey = PrimaryKey{}
	t.ForeignKeys = nil
	t.Indexes = nil
	t.Sequence = Sequence{}
	t.Privileges = nil
}

// QualifiedName joins the non-empty catalog, schema and table parts with dots.
func (t *Table) QualifiedName() string {
	var parts []string
	for _, p := range []string{t.Catalog, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// FileName is the metadata file name: the qualified name with dots replaced
// by underscores.
func (t *Table) FileName() string {
	return strings.ReplaceAll(t.QualifiedName(), ".", "_") + ".xml"
}

// GetDMLTableName renders the name used in DML statements for a dialect.
func (t *Table) GetDMLTableName(d *dataset.Dialect) string {
	name := d.Quote(t.Name)
	if d.SchemaInDML && t.Schema != "" {
		name = d.Quote(t.Schema) + "." + name
	}
	if !d.SupportsCatalogs || t.Catalog == "" {
		return name
	}
	if d.CatalogAtStart {
		return d.Quote(t.Catalog) + d.CatalogSeparator + name
	}
	return name + d.CatalogSeparator + d.Quote(t.Catalog)
}

// AddColumn appends a column at the next position.
func (t *Table) AddColumn(c Column) {
	c.Position = len(t.Columns) + 1
	if c.TypeName == "" {
		c.TypeName = c.DataType.String()
	}
	t.Columns = append(t.Columns, c)
}

// FindColumn looks a column up by name, case-insensitively.
func (t *Table) FindColumn(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns column names in position order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// IsPrimary reports whether the column is part of the primary key.
func (t *Table) IsPrimary(column string) bool {
	for _, c := range t.PrimaryKey.Columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

// GetMetaInfoFromDatabase replaces the definition with what the catalog
// reports. Table, columns and (for base tables) the primary key are
// mandatory; foreign keys, indexes and privileges are read only when
// details is set.
func (t *Table) GetMetaInfoFromDatabase(ctx context.Context, d datasource.SchemaDiscoverer, details bool) error {
	meta, err := d.DiscoverTable(ctx, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.QualifiedName(), err)
	}
	if meta == nil {
		return fmt.Errorf("table %s: not found in catalog", t.QualifiedName())
	}

	t.Reset()
	if meta.CatalogName != "" && t.Catalog == "" {
		t.Catalog = meta.CatalogName
	}
	t.Type = ObjectType(meta.TableType)

	cols, err := d.DiscoverColumns(ctx, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("table %s: columns: %w", t.QualifiedName(), err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s: no columns found in catalog", t.QualifiedName())
	}
	for _, c := range cols {
		col := Column{
			Name:     c.ColumnName,
			DataType: dataset.ParseDataType(c.DataType),
			TypeName: c.DataType,
			Size:     max(c.MaxLength, 0), // -1 marks unbounded types
			Nullable: c.IsNullable,
		}
		if c.DefaultValue != nil {
			col.Default = *c.DefaultValue
			col.HasDefault = true
		}
		t.AddColumn(col)
	}

	pk, err := d.DiscoverPrimaryKey(ctx, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("table %s: primary key: %w", t.QualifiedName(), err)
	}
	if pk == nil {
		if t.Type == TypeTable {
			return fmt.Errorf("table %s: no primary key found in catalog", t.QualifiedName())
		}
	} else {
		t.PrimaryKey = PrimaryKey{Name: pk.ConstraintName, Columns: pk.Columns}
		for _, c := range pk.Columns {
			if _, ok := t.FindColumn(c); !ok {
				return fmt.Errorf("table %s: primary key %s names unknown column %s", t.QualifiedName(), pk.ConstraintName, c)
			}
		}
	}

	if !details {
		return nil
	}

	if d.SupportsForeignKeys() {
		fks, err := d.DiscoverForeignKeys(ctx, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("table %s: foreign keys: %w", t.QualifiedName(), err)
		}
		for _, fk := range fks {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Name:          fk.ConstraintName,
				Position:      fk.Position,
				Column:        fk.SourceColumn,
				PrimarySchema: fk.TargetSchema,
				PrimaryTable:  fk.TargetTable,
				PrimaryColumn: fk.TargetColumn,
				UpdateRule:    fk.UpdateRule,
				DeleteRule:    fk.DeleteRule,
			})
		}
	}

	idx, err := d.DiscoverIndexes(ctx, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("table %s: indexes: %w", t.QualifiedName(), err)
	}
	for _, i := range idx {
		t.Indexes = append(t.Indexes, Index{
			Name:      i.IndexName,
			Unique:    i.IsUnique,
			Ascending: !i.Descending,
			Filter:    i.Filter,
			Columns:   i.Columns,
		})
	}

	privs, err := d.DiscoverPrivileges(ctx, t.Schema, t.Name)
	if err != nil {
		return fmt.Errorf("table %s: privileges: %w", t.QualifiedName(), err)
	}
	for _, p := range privs {
		t.Privileges = append(t.Privileges, Privilege{
			Grantor:   p.Grantor,
			Grantee:   p.Grantee,
			Privilege: p.Privilege,
			Grantable: p.IsGrantable,
		})
	}
	return nil
}

// CreateSQL renders the DDL that creates the table and its indexes.
func (t *Table) CreateSQL(d *dataset.Dialect) []string {
	name := t.GetDMLTableName(d)

	var defs []string
	for _, c := range t.Columns {
		def := d.Quote(c.Name) + " " + d.TypeName(c.DataType, c.Size)
		if t.Sequence.Column != "" && strings.EqualFold(t.Sequence.Column, c.Name) {
			if clause := d.IdentityClause(t.Sequence.Seed); clause != "" {
				def += " " + clause
			}
		}
		if !c.Nullable || t.IsPrimary(c.Name) {
			def += " NOT NULL"
		}
		if c.HasDefault {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey.Columns) > 0 {
		cols := make([]string, len(t.PrimaryKey.Columns))
		for i, c := range t.PrimaryKey.Columns {
			cols[i] = d.Quote(c)
		}
		pk := "PRIMARY KEY (" + strings.Join(cols, ", ") + ")"
		if t.PrimaryKey.Name != "" {
			pk = "CONSTRAINT " + d.Quote(t.PrimaryKey.Name) + " " + pk
		}
		defs = append(defs, pk)
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", name, strings.Join(defs, ",\n  "))}
	for _, idx := range t.Indexes {
		cols := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			cols[i] = d.Quote(c)
			if !idx.Ascending {
				cols[i] += " DESC"
			}
		}
		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}
		stmt := fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, d.Quote(idx.Name), name, strings.Join(cols, ", "))
		if idx.Filter != "" {
			stmt += " WHERE " + idx.Filter
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

// ForeignKeySQL renders ALTER TABLE statements for the foreign keys, one per
// constraint. They run after every table exists.
func (t *Table) ForeignKeySQL(d *dataset.Dialect) []string {
	type group struct {
		fk      ForeignKey
		cols    []string
		refCols []string
	}
	var order []string
	groups := map[string]*group{}
	for _, fk := range t.ForeignKeys {
		g, ok := groups[fk.Name]
		if !ok {
			g = &group{fk: fk}
			groups[fk.Name] = g
			order = append(order, fk.Name)
		}
		g.cols = append(g.cols, d.Quote(fk.Column))
		g.refCols = append(g.refCols, d.Quote(fk.PrimaryColumn))
	}

	var stmts []string
	for _, name := range order {
		g := groups[name]
		ref := New(t.Catalog, g.fk.PrimarySchema, g.fk.PrimaryTable)
		stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			t.GetDMLTableName(d), d.Quote(name), strings.Join(g.cols, ", "),
			ref.GetDMLTableName(d), strings.Join(g.refCols, ", "))
		if r := g.fk.UpdateRule; r != "" && !strings.EqualFold(r, "NO ACTION") && !strings.EqualFold(r, "NO_ACTION") {
			stmt += " ON UPDATE " + strings.ReplaceAll(r, "_", " ")
		}
		if r := g.fk.DeleteRule; r != "" && !strings.EqualFold(r, "NO ACTION") && !strings.EqualFold(r, "NO_ACTION") {
			stmt += " ON DELETE " + strings.ReplaceAll(r, "_", " ")
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}
