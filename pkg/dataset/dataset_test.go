package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SetFlagsUpdatedOnlyOnChange(t *testing.T) {
	rec := RecordFrom([]string{"id", "Name"}, []any{int32(1), "France"})
	assert.Equal(t, Status(0), rec.Status())

	rec.Set("NAME", "France")
	assert.False(t, rec.HasStatus(StatusUpdated), "same value must not flag the record")

	rec.Set("name", "Germany")
	assert.True(t, rec.HasStatus(StatusUpdated))
	assert.Equal(t, "Germany", rec.Value("Name"))
	assert.Equal(t, []string{"id", "Name"}, rec.Names())
}

func TestRecord_NewRecordStaysNew(t *testing.T) {
	rec := NewRecord()
	rec.Set("id", 1)
	assert.True(t, rec.HasStatus(StatusNew))
	assert.False(t, rec.HasStatus(StatusUpdated))
}

func TestRecord_Project(t *testing.T) {
	rec := RecordFrom([]string{"id", "name", "lives"}, []any{1, "Tom", 9})
	rec.SetGenerator("id")

	p := rec.Project([]string{"id", "lives", "missing"})
	assert.Equal(t, []string{"id", "lives"}, p.Names())
	assert.Equal(t, "id", p.Generator())

	c := rec.Clone()
	c.Set("name", "Felix")
	assert.Equal(t, "Tom", rec.Value("name"))
}

func TestDataset_AppendKeepsDuplicates(t *testing.T) {
	ds := NewDataset("country")
	assert.False(t, ds.IsOpen())

	r := RecordFrom([]string{"id"}, []any{1})
	ds.Open([]*Record{r})
	ds.Append([]*Record{r})
	assert.Equal(t, 2, ds.Len())
	assert.True(t, ds.Remove(r))
	assert.Equal(t, 1, ds.Len())

	ds.Close()
	assert.False(t, ds.IsOpen())
}

func TestCompareAndFormat(t *testing.T) {
	assert.Equal(t, 0, Compare(int32(7), int64(7)))
	assert.Equal(t, -1, Compare(nil, 0))
	assert.Equal(t, 1, Compare("b", "a"))
	assert.Equal(t, -1, Compare(1, 2.5))
	assert.Equal(t, "7", FormatValue(int16(7)))
	assert.Equal(t, "7", FormatValue(7.0))
	assert.Equal(t, "2024-01-02T03:04:05Z", FormatValue(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(nil))
	assert.False(t, IsEmpty(0))
}

func TestParseDataType(t *testing.T) {
	assert.Equal(t, TypeInteger, ParseDataType("int4"))
	assert.Equal(t, TypeVarChar, ParseDataType("character varying(40)"))
	assert.Equal(t, TypeTimestamp, ParseDataType("DATETIME2"))
	assert.Equal(t, TypeUnknown, ParseDataType("geometry"))
	assert.Equal(t, "bigint", TypeBigInt.String())
}

func TestDialect_InsertSQL(t *testing.T) {
	sql := Postgres.InsertSQL(`"public"."country"`, []string{"name"}, "id")
	assert.Equal(t, `INSERT INTO "public"."country" ("name") VALUES ($1) RETURNING "id"`, sql)

	sql = SQLServer.InsertSQL("[dbo].[country]", []string{"name", "size"}, "id")
	assert.Equal(t, "INSERT INTO [dbo].[country] ([name], [size]) OUTPUT INSERTED.[id] VALUES (@p1, @p2)", sql)

	sql = Postgres.InsertSQL(`"t"`, nil, "id")
	assert.Equal(t, `INSERT INTO "t" DEFAULT VALUES RETURNING "id"`, sql)

	assert.Equal(t, `"a""b"`, Postgres.Quote(`a"b`))
	assert.Equal(t, "[x]]y]", SQLServer.Quote("x]y"))
}

func TestFilterSet_Render(t *testing.T) {
	fs := FilterSet{
		Eq("cat.id", 3),
		In("animal.discriminator", "cat", "kit"),
		{Column: "cat.name", Operator: "IS NOT NULL"},
		{Column: "cat.lives", Operator: "between", Values: []any{1, 9}},
	}
	sql, args, err := fs.Render(Postgres, 2)
	require.NoError(t, err)
	assert.Equal(t, `"cat"."id" = $3 AND "animal"."discriminator" IN ($4, $5) AND "cat"."name" IS NOT NULL AND "cat"."lives" BETWEEN $6 AND $7`, sql)
	assert.Equal(t, []any{3, "cat", "kit", 1, 9}, args)
}

func TestFilterSet_RenderRejectsBadArity(t *testing.T) {
	_, _, err := FilterSet{{Column: "x", Operator: "=", Values: nil}}.Render(Postgres, 0)
	assert.Error(t, err)

	_, _, err = FilterSet{{Column: "x", Operator: "~~", Values: []any{1}}}.Render(Postgres, 0)
	assert.Error(t, err)
}

func TestFilterSet_Match(t *testing.T) {
	rec := RecordFrom([]string{"id", "name", "inhabitants"}, []any{1, "France", 67000000})
	get := rec.Get

	ok, err := FilterSet{Eq("country.name", "France"), {Column: "inhabitants", Operator: ">", Values: []any{1000}}}.Match(get)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = FilterSet{{Column: "name", Operator: "LIKE", Values: []any{"Fr_n%"}}}.Match(get)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = FilterSet{In("id", 2, 3)}.Match(get)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = FilterSet{{Column: "missing", Operator: "IS NULL"}}.Match(get)
	require.NoError(t, err)
	assert.True(t, ok)
}
