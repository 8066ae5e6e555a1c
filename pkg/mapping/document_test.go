package mapping

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/catalog"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// rebuild applies a document to a fresh model using the document's own
// strategy and defaults.
func rebuild(t *testing.T, doc *Document) *Model {
	t.Helper()
	s, err := ParseStrategy(doc.Strategy)
	require.NoError(t, err)
	ctx := newContext(t, s)
	ctx.SetDefaults(doc.DefaultCatalog, doc.DefaultSchema)
	m := NewModel(ctx)
	require.NoError(t, m.Apply(doc))
	return m
}

func TestDocument_RoundTrip(t *testing.T) {
	for _, f := range []Format{FormatXML, FormatYAML, FormatTOML} {
		t.Run(string(f), func(t *testing.T) {
			m := worldModel(t)
			doc := m.Document()

			data, err := MarshalDocument(doc, f)
			require.NoError(t, err)
			back, err := ParseDocument(data, f)
			require.NoError(t, err)

			assert.Equal(t, doc.Strategy, back.Strategy)
			assert.Equal(t, doc.DefaultSchema, back.DefaultSchema)
			assert.Equal(t, doc.Classes, back.Classes)

			want, err := m.CreateSchemaSQL(dataset.Postgres)
			require.NoError(t, err)
			got, err := rebuild(t, back).CreateSchemaSQL(dataset.Postgres)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDocument_Hierarchy(t *testing.T) {
	m := animalModel(t, SubTable)
	data, err := MarshalDocument(m.Document(), FormatXML)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<hibernate>`)
	assert.Contains(t, string(data), `<class name="Kitten" discriminator="kit" super="Cat">`)

	back, err := ParseDocument(data, FormatXML)
	require.NoError(t, err)
	assert.Equal(t, "sub_tables", back.Strategy)

	r := rebuild(t, back)
	kitten := mustClass(t, r, "Kitten")
	sql, err := kitten.BuildDefaultSelectQuery(dataset.Postgres)
	require.NoError(t, err)
	want, err := mustClass(t, m, "Kitten").BuildDefaultSelectQuery(dataset.Postgres)
	require.NoError(t, err)
	assert.Equal(t, want, sql)
}

func TestDocument_ParseXML(t *testing.T) {
	src := `<?xml version="1.0"?>
<hibernate>
  <default_schema>sales</default_schema>
  <strategy>one_table</strategy>
  <loglevel>sql</loglevel>
  <class name="Party">
    <attributes>
      <attribute name="id" type="integer"/>
      <attribute name="label" type="varchar" length="60" notnull="true"/>
    </attributes>
    <identity name="party_pk"><column>id</column></identity>
    <generator attribute="id" seed="100"/>
  </class>
  <class name="Person" super="Party">
    <attributes>
      <attribute name="born" type="date"/>
    </attributes>
  </class>
</hibernate>`
	doc, err := ParseDocument([]byte(src), FormatXML)
	require.NoError(t, err)
	assert.Equal(t, "sales", doc.DefaultSchema)
	assert.Equal(t, "sql", doc.LogLevel)
	require.Len(t, doc.Classes, 2)
	assert.Equal(t, []string{"id"}, doc.Classes[0].Identity.Columns)
	assert.Equal(t, int64(100), doc.Classes[0].Generator.Seed)

	m := rebuild(t, doc)
	person := mustClass(t, m, "Person")
	tbl, err := person.Table()
	require.NoError(t, err)
	assert.Equal(t, "party", tbl.Name)
	assert.Equal(t, "sales", tbl.Schema)
	assert.Equal(t, []string{"id", "label", "born", "discriminator"}, tbl.ColumnNames())
	assert.Equal(t, int64(100), tbl.Sequence.Seed)
}

func TestDocument_Errors(t *testing.T) {
	_, err := ParseDocument([]byte("<hibernate><class"), FormatXML)
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = ParseDocument([]byte("classes: [unterminated"), FormatYAML)
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	_, err = FormatOf("mapping.ini")
	assert.ErrorIs(t, err, apperrors.ErrConfig)

	doc := &Document{Classes: []ClassDoc{{
		Name:       "Thing",
		Attributes: []AttributeDoc{{Name: "id", Type: "hologram"}},
	}}}
	assert.ErrorIs(t, NewModel(newContext(t, Standalone)).Apply(doc), apperrors.ErrConfig)

	doc = &Document{Classes: []ClassDoc{{
		Name:         "Thing",
		Attributes:   []AttributeDoc{{Name: "id", Type: "integer"}},
		Associations: []AssociationDoc{{Type: "sideways", Target: "Thing", Columns: []string{"id"}}},
	}}}
	assert.ErrorIs(t, NewModel(newContext(t, Standalone)).Apply(doc), apperrors.ErrConfig)
}

func TestDocument_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	doc := worldModel(t).Document()
	for _, name := range []string{"model.xml", "model.yml", "conf/model.toml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveDocument(path, doc))
		back, err := LoadDocument(path)
		require.NoError(t, err, name)
		assert.Equal(t, doc.Classes, back.Classes, name)
	}

	_, err := LoadDocument(filepath.Join(dir, "missing.xml"))
	assert.Error(t, err)
}

func TestClassDocFromTable(t *testing.T) {
	table := catalog.New("", "geo", "city")
	table.AddColumn(catalog.Column{Name: "id", DataType: dataset.TypeInteger})
	table.AddColumn(catalog.Column{Name: "name", DataType: dataset.TypeVarChar, Size: 80, Nullable: true})
	table.AddColumn(catalog.Column{Name: "country_id", DataType: dataset.TypeInteger, Default: "0", HasDefault: true})
	table.PrimaryKey = catalog.PrimaryKey{Name: "city_pk", Columns: []string{"id"}}
	table.Sequence = catalog.Sequence{Name: "city_id_seq", Column: "id"}
	table.ForeignKeys = []catalog.ForeignKey{{Name: "city_country_fk", Position: 1, Column: "country_id", PrimaryTable: "country", PrimaryColumn: "id"}}

	cd := ClassDocFromTable("City", table)
	assert.Equal(t, "geo", cd.Schema)
	assert.Equal(t, "city", cd.Table)
	require.Len(t, cd.Attributes, 3)
	assert.True(t, cd.Attributes[0].Primary)
	assert.True(t, cd.Attributes[0].Generator)
	assert.False(t, cd.Attributes[1].NotNull)
	assert.Equal(t, "varchar", cd.Attributes[1].Type)
	assert.True(t, cd.Attributes[2].Foreign)
	require.NotNil(t, cd.Attributes[2].Default)
	assert.Equal(t, "0", *cd.Attributes[2].Default)
	assert.Equal(t, []string{"id"}, cd.Identity.Columns)
	require.Len(t, cd.Associations, 1)
	assert.Equal(t, "many-to-one", cd.Associations[0].Type)
	assert.Equal(t, "country", cd.Associations[0].Target)
	assert.Equal(t, []string{"country_id"}, cd.Associations[0].Columns)
	assert.Equal(t, "id", cd.Generator.Attribute)

	ctx := newContext(t, Standalone)
	m := NewModel(ctx)
	require.NoError(t, m.Apply(&Document{Classes: []ClassDoc{
		{Name: "country", Attributes: []AttributeDoc{{Name: "id", Type: "integer"}}, Identity: &IdentityDoc{Columns: []string{"id"}}},
		cd,
	}}))
	city, ok := m.FindClass("City")
	require.True(t, ok)
	assert.Equal(t, 3, city.AttributeCount())
}
