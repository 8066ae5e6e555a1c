package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

type mockDiscoverer struct {
	table   *datasource.TableMetadata
	columns []datasource.ColumnMetadata
	pk      *datasource.PrimaryKeyMetadata
	fks     []datasource.ForeignKeyMetadata
	indexes []datasource.IndexMetadata
	privs   []datasource.PrivilegeMetadata
	err     error

	detailCalls int
}

func (m *mockDiscoverer) DiscoverTable(ctx context.Context, schemaName, tableName string) (*datasource.TableMetadata, error) {
	return m.table, m.err
}

func (m *mockDiscoverer) DiscoverColumns(ctx context.Context, schemaName, tableName string) ([]datasource.ColumnMetadata, error) {
	return m.columns, nil
}

func (m *mockDiscoverer) DiscoverPrimaryKey(ctx context.Context, schemaName, tableName string) (*datasource.PrimaryKeyMetadata, error) {
	return m.pk, nil
}

func (m *mockDiscoverer) DiscoverForeignKeys(ctx context.Context, schemaName, tableName string) ([]datasource.ForeignKeyMetadata, error) {
	m.detailCalls++
	return m.fks, nil
}

func (m *mockDiscoverer) DiscoverIndexes(ctx context.Context, schemaName, tableName string) ([]datasource.IndexMetadata, error) {
	m.detailCalls++
	return m.indexes, nil
}

func (m *mockDiscoverer) DiscoverPrivileges(ctx context.Context, schemaName, tableName string) ([]datasource.PrivilegeMetadata, error) {
	m.detailCalls++
	return m.privs, nil
}

func (m *mockDiscoverer) SupportsForeignKeys() bool { return true }
func (m *mockDiscoverer) Close() error              { return nil }

func countryCatalog() *mockDiscoverer {
	def := "0"
	return &mockDiscoverer{
		table: &datasource.TableMetadata{CatalogName: "world", SchemaName: "public", TableName: "country", TableType: "TABLE"},
		columns: []datasource.ColumnMetadata{
			{ColumnName: "id", DataType: "integer", IsPrimaryKey: true, OrdinalPosition: 1},
			{ColumnName: "name", DataType: "character varying", MaxLength: 80, OrdinalPosition: 2},
			{ColumnName: "inhabitants", DataType: "bigint", IsNullable: true, DefaultValue: &def, OrdinalPosition: 3},
			{ColumnName: "continent_id", DataType: "integer", IsNullable: true, OrdinalPosition: 4},
		},
		pk: &datasource.PrimaryKeyMetadata{ConstraintName: "country_pkey", Columns: []string{"id"}},
		fks: []datasource.ForeignKeyMetadata{{
			ConstraintName: "country_continent_fk", Position: 1, SourceColumn: "continent_id",
			TargetSchema: "public", TargetTable: "continent", TargetColumn: "id", DeleteRule: "CASCADE",
		}},
		indexes: []datasource.IndexMetadata{{IndexName: "country_name_idx", IsUnique: true, Columns: []string{"name"}}},
		privs:   []datasource.PrivilegeMetadata{{Grantor: "postgres", Grantee: "orm", Privilege: "SELECT"}},
	}
}

func TestTable_GetMetaInfoFromDatabase(t *testing.T) {
	d := countryCatalog()
	tbl := New("", "public", "country")

	require.NoError(t, tbl.GetMetaInfoFromDatabase(context.Background(), d, false))
	assert.Equal(t, "world", tbl.Catalog)
	assert.Equal(t, []string{"id", "name", "inhabitants", "continent_id"}, tbl.ColumnNames())
	assert.Equal(t, []string{"id"}, tbl.PrimaryKey.Columns)
	assert.Equal(t, 0, d.detailCalls)
	assert.Empty(t, tbl.ForeignKeys)

	col, ok := tbl.FindColumn("NAME")
	require.True(t, ok)
	assert.Equal(t, dataset.TypeVarChar, col.DataType)
	assert.Equal(t, 80, col.Size)
	assert.Equal(t, 2, col.Position)

	require.NoError(t, tbl.GetMetaInfoFromDatabase(context.Background(), d, true))
	assert.Equal(t, 3, d.detailCalls)
	assert.Len(t, tbl.ForeignKeys, 1)
	assert.Len(t, tbl.Indexes, 1)
	assert.True(t, tbl.Indexes[0].Ascending)
	assert.Len(t, tbl.Privileges, 1)
	assert.Len(t, tbl.Columns, 4, "reloading must not duplicate columns")
}

func TestTable_GetMetaInfoFromDatabase_Failures(t *testing.T) {
	ctx := context.Background()

	d := countryCatalog()
	d.table = nil
	err := New("", "public", "country").GetMetaInfoFromDatabase(ctx, d, false)
	assert.ErrorContains(t, err, "public.country: not found")

	d = countryCatalog()
	d.err = errors.New("connection refused")
	err = New("", "public", "country").GetMetaInfoFromDatabase(ctx, d, false)
	assert.ErrorContains(t, err, "connection refused")

	d = countryCatalog()
	d.columns = nil
	err = New("", "public", "country").GetMetaInfoFromDatabase(ctx, d, false)
	assert.ErrorContains(t, err, "no columns")

	d = countryCatalog()
	d.pk = nil
	err = New("", "public", "country").GetMetaInfoFromDatabase(ctx, d, false)
	assert.ErrorContains(t, err, "no primary key")

	d = countryCatalog()
	d.pk = &datasource.PrimaryKeyMetadata{ConstraintName: "pk", Columns: []string{"code"}}
	err = New("", "public", "country").GetMetaInfoFromDatabase(ctx, d, false)
	assert.ErrorContains(t, err, "pk names unknown column code")

	d = countryCatalog()
	d.pk = nil
	d.table.TableType = "VIEW"
	assert.NoError(t, New("", "public", "country").GetMetaInfoFromDatabase(ctx, d, false))
}

func TestTable_MetaInfoRoundTrip(t *testing.T) {
	d := countryCatalog()
	tbl := New("", "public", "country")
	require.NoError(t, tbl.GetMetaInfoFromDatabase(context.Background(), d, true))
	tbl.Sequence = Sequence{Name: "country_id_seq", Column: "id", Seed: 1}

	dir := t.TempDir()
	require.NoError(t, tbl.SaveMetaInfo(dir))
	assert.Equal(t, "world_public_country.xml", tbl.FileName())

	back := New("world", "public", "country")
	ok, err := back.LoadMetaInfo(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tbl, back)

	missing := New("world", "public", "nothing")
	ok, err = missing.LoadMetaInfo(dir)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTable_GetDMLTableName(t *testing.T) {
	tbl := New("world", "public", "country")
	assert.Equal(t, `"public"."country"`, tbl.GetDMLTableName(dataset.Postgres))
	assert.Equal(t, "[world].[public].[country]", tbl.GetDMLTableName(dataset.SQLServer))

	suffix := *dataset.Generic
	suffix.SupportsCatalogs = true
	suffix.CatalogAtStart = false
	suffix.CatalogSeparator = "@"
	assert.Equal(t, `"public"."country"@"world"`, tbl.GetDMLTableName(&suffix))

	bare := *dataset.Generic
	bare.SchemaInDML = false
	assert.Equal(t, `"country"`, tbl.GetDMLTableName(&bare))
}

func TestTable_CreateSQL(t *testing.T) {
	tbl := New("", "public", "country")
	tbl.AddColumn(Column{Name: "id", DataType: dataset.TypeInteger})
	tbl.AddColumn(Column{Name: "name", DataType: dataset.TypeVarChar, Size: 80, Nullable: true})
	tbl.PrimaryKey = PrimaryKey{Columns: []string{"id"}}
	tbl.Sequence = Sequence{Column: "id", Seed: 1}
	tbl.Indexes = []Index{{Name: "country_name", Unique: true, Ascending: true, Columns: []string{"name"}}}

	stmts := tbl.CreateSQL(dataset.Postgres)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE \"public\".\"country\" (\n"+
		"  \"id\" INTEGER GENERATED BY DEFAULT AS IDENTITY (START WITH 1) NOT NULL,\n"+
		"  \"name\" VARCHAR(80),\n"+
		"  PRIMARY KEY (\"id\")\n)", stmts[0])
	assert.Equal(t, `CREATE UNIQUE INDEX "country_name" ON "public"."country" ("name")`, stmts[1])

	mssql := tbl.CreateSQL(dataset.SQLServer)
	assert.Contains(t, mssql[0], "[id] INTEGER IDENTITY(1,1) NOT NULL")
	assert.Contains(t, mssql[0], "[name] NVARCHAR(80)")

	tbl.ForeignKeys = []ForeignKey{{Name: "fk_c", Column: "continent_id", PrimarySchema: "public", PrimaryTable: "continent", PrimaryColumn: "id", DeleteRule: "CASCADE"}}
	fk := tbl.ForeignKeySQL(dataset.Postgres)
	require.Len(t, fk, 1)
	assert.Equal(t, `ALTER TABLE "public"."country" ADD CONSTRAINT "fk_c" FOREIGN KEY ("continent_id") REFERENCES "public"."continent" ("id") ON DELETE CASCADE`, fk[0])
}
