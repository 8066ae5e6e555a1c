package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

func countryClass(t *testing.T, s mapping.Strategy) *mapping.Model {
	t.Helper()
	ctx, err := mapping.NewContext(s)
	require.NoError(t, err)
	ctx.SetDefaults("", "geo")
	m := mapping.NewModel(ctx)

	c, err := m.AddClass("Country", "")
	require.NoError(t, err)
	require.NoError(t, c.AddAttribute(&mapping.Attribute{Name: "id", DataType: dataset.TypeInteger}))
	require.NoError(t, c.AddAttribute(&mapping.Attribute{Name: "name", DataType: dataset.TypeVarChar, MaxLength: 80}))
	require.NoError(t, c.AddAttribute(&mapping.Attribute{Name: "inhabitants", DataType: dataset.TypeBigInt}))
	require.NoError(t, c.SetIdentity("country_pk", "id"))
	require.NoError(t, c.SetGenerator(mapping.Generator{Name: "country_seq", Attribute: "id", Seed: 10}))

	if s != mapping.Standalone {
		r, err := m.AddClass("Republic", "Country")
		require.NoError(t, err)
		require.NoError(t, r.AddAttribute(&mapping.Attribute{Name: "president", DataType: dataset.TypeVarChar}))
	}
	require.NoError(t, m.Link())
	return m
}

func newCountry(t *testing.T, c *mapping.Class, name string, inhabitants int64) *object.Generic {
	t.Helper()
	g := object.NewGeneric(c.ColumnNames())
	require.NoError(t, g.SetClass(c))
	g.Set("name", name)
	g.Set("inhabitants", inhabitants)
	return g
}

func TestStore_InsertSelectUpdateDelete(t *testing.T) {
	ctx := context.Background()
	m := countryClass(t, mapping.Standalone)
	country, _ := m.FindClass("Country")
	s := New(t.TempDir(), zaptest.NewLogger(t))

	france := newCountry(t, country, "France", 67000000)
	ok, err := s.Insert(ctx, country, france)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{int64(10)}, france.PrimaryKey(), "the first key is the generator seed")

	spain := newCountry(t, country, "Spain", 47000000)
	ok, err = s.Insert(ctx, country, spain)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{int64(11)}, spain.PrimaryKey())

	path, err := s.Path(country, []any{10})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Base(), "geo_country", "Object_10.xml"), path)
	assert.FileExists(t, path)

	e, err := s.Select(ctx, country, []any{int64(10)})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "France", e.String("name"))

	e, err = s.Select(ctx, country, []any{999})
	require.NoError(t, err)
	assert.Nil(t, e)

	france.Set("inhabitants", int64(68000000))
	ok, err = s.Update(ctx, country, france)
	require.NoError(t, err)
	require.True(t, ok)
	e, err = s.Select(ctx, country, []any{10})
	require.NoError(t, err)
	assert.Equal(t, int64(68000000), e.Int("inhabitants"))

	ok, err = s.Delete(ctx, country, france)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, country, france)
	require.NoError(t, err)
	assert.False(t, ok, "deleting a missing file reports false")

	_, err = s.Update(ctx, country, france)
	assert.Error(t, err, "updating a missing file is an error")
}

func TestStore_InsertDuplicateKey(t *testing.T) {
	ctx := context.Background()
	m := countryClass(t, mapping.Standalone)
	country, _ := m.FindClass("Country")
	s := New(t.TempDir(), nil)

	a := newCountry(t, country, "France", 1)
	require.NoError(t, a.SetPrimaryKey([]any{int64(1)}))
	a.Set("id", int64(1))
	ok, err := s.Insert(ctx, country, a)
	require.NoError(t, err)
	require.True(t, ok)

	b := newCountry(t, country, "Francia", 2)
	require.NoError(t, b.SetPrimaryKey([]any{int64(1)}))
	b.Set("id", int64(1))
	ok, err = s.Insert(ctx, country, b)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SelectWhere(t *testing.T) {
	ctx := context.Background()
	m := countryClass(t, mapping.Standalone)
	country, _ := m.FindClass("Country")
	s := New(t.TempDir(), nil)

	list, err := s.SelectWhere(ctx, country, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, list, "an empty store yields nothing")

	for _, c := range []struct {
		name string
		n    int64
	}{{"France", 67}, {"Spain", 47}, {"Italy", 59}, {"Malta", 1}} {
		ok, err := s.Insert(ctx, country, newCountry(t, country, c.name, c.n))
		require.NoError(t, err)
		require.True(t, ok)
	}
	// A stray file in the directory is ignored.
	dir, err := s.Dir(country)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	list, err = s.SelectWhere(ctx, country, dataset.FilterSet{
		{Column: "country.inhabitants", Operator: ">", Values: []any{10}},
	}, []string{"inhabitants DESC"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "France", list[0].String("name"))
	assert.Equal(t, "Italy", list[1].String("name"))
	assert.Equal(t, "Spain", list[2].String("name"))

	_, err = s.SelectWhere(ctx, country, nil, []string{"name upward"})
	assert.Error(t, err)
}

func TestStore_PolymorphicDirectory(t *testing.T) {
	ctx := context.Background()
	m := countryClass(t, mapping.OneTable)
	country, _ := m.FindClass("Country")
	republic, _ := m.FindClass("Republic")
	s := New(t.TempDir(), nil)

	ok, err := s.Insert(ctx, country, newCountry(t, country, "Monaco", 1))
	require.NoError(t, err)
	require.True(t, ok)

	r := newCountry(t, republic, "France", 67)
	r.Set("president", "someone")
	ok, err = s.Insert(ctx, republic, r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{int64(11)}, r.PrimaryKey(), "subclasses share the root's key sequence")

	all, err := s.SelectWhere(ctx, country, nil, []string{"id"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyRepublics, err := s.SelectWhere(ctx, republic, nil, nil)
	require.NoError(t, err)
	require.Len(t, onlyRepublics, 1)
	assert.Equal(t, "republic", onlyRepublics[0].String(dataset.DiscriminatorField))

	e, err := s.Select(ctx, republic, []any{10})
	require.NoError(t, err)
	assert.Nil(t, e, "a plain country is not a republic")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Object_1_fr.xml", FileName("1\x01fr"))
	assert.Equal(t, "Object_a_b_c.xml", FileName("a/b:c"))
}
