package mapping

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// recorder is a datasource.Querier that records statements and replays
// queued results.
type recorder struct {
	stmts []string
	args  [][]any

	// rows are returned by successive Query calls; an exhausted queue yields
	// no rows.
	rows [][]*dataset.Record
	// affected is returned by successive Exec calls; an exhausted queue yields 1.
	affected []int64
	// failOn makes any statement containing it fail.
	failOn string
}

func (r *recorder) record(query string, args []any) error {
	r.stmts = append(r.stmts, query)
	r.args = append(r.args, args)
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return errors.New("statement rejected")
	}
	return nil
}

func (r *recorder) Query(ctx context.Context, query string, args ...any) ([]*dataset.Record, error) {
	if err := r.record(query, args); err != nil {
		return nil, err
	}
	if len(r.rows) == 0 {
		return nil, nil
	}
	out := r.rows[0]
	r.rows = r.rows[1:]
	return out, nil
}

func (r *recorder) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := r.record(query, args); err != nil {
		return 0, err
	}
	if len(r.affected) == 0 {
		return 1, nil
	}
	n := r.affected[0]
	r.affected = r.affected[1:]
	return n, nil
}

func newContext(t *testing.T, s Strategy) *Context {
	t.Helper()
	ctx, err := NewContext(s)
	require.NoError(t, err)
	return ctx
}

// animalModel declares Animal <- Cat <- Kitten and Animal <- Dog.
func animalModel(t *testing.T, s Strategy) *Model {
	t.Helper()
	m := NewModel(newContext(t, s))

	animal, err := m.AddClass("Animal", "")
	require.NoError(t, err)
	require.NoError(t, animal.AddAttribute(&Attribute{Name: "id", DataType: dataset.TypeInteger}))
	require.NoError(t, animal.AddAttribute(&Attribute{Name: "name", DataType: dataset.TypeVarChar, MaxLength: 40}))
	require.NoError(t, animal.SetIdentity("animal_pk", "id"))
	require.NoError(t, animal.SetGenerator(Generator{Name: "animal_seq", Attribute: "id"}))

	cat, err := m.AddClass("Cat", "Animal")
	require.NoError(t, err)
	require.NoError(t, cat.AddAttribute(&Attribute{Name: "lives", DataType: dataset.TypeInteger}))

	kitten, err := m.AddClass("Kitten", "Cat")
	require.NoError(t, err)
	kitten.SetDiscriminator("kit")
	require.NoError(t, kitten.AddAttribute(&Attribute{Name: "toy", DataType: dataset.TypeVarChar, MaxLength: 20}))

	dog, err := m.AddClass("Dog", "Animal")
	require.NoError(t, err)
	require.NoError(t, dog.AddAttribute(&Attribute{Name: "breed", DataType: dataset.TypeVarChar, MaxLength: 30}))

	require.NoError(t, m.Link())
	return m
}

// worldModel declares Country 1-n City in schema public.
func worldModel(t *testing.T) *Model {
	t.Helper()
	ctx := newContext(t, Standalone)
	ctx.SetDefaults("", "public")
	m := NewModel(ctx)

	country, err := m.AddClass("Country", "")
	require.NoError(t, err)
	require.NoError(t, country.AddAttribute(&Attribute{Name: "id", DataType: dataset.TypeInteger}))
	require.NoError(t, country.AddAttribute(&Attribute{Name: "name", DataType: dataset.TypeVarChar, MaxLength: 80, NotNull: true}))
	require.NoError(t, country.AddAttribute(&Attribute{Name: "inhabitants", DataType: dataset.TypeBigInt, Default: "0", HasDefault: true}))
	require.NoError(t, country.SetIdentity("country_pk", "id"))
	require.NoError(t, country.SetGenerator(Generator{Name: "country_seq", Attribute: "id"}))
	require.NoError(t, country.AddIndex("country_name", true, true, "", "name"))
	country.AddPrivilege(Privilege{Grantee: "orm", Privilege: "SELECT"})

	city, err := m.AddClass("City", "")
	require.NoError(t, err)
	require.NoError(t, city.AddAttribute(&Attribute{Name: "id", DataType: dataset.TypeInteger}))
	require.NoError(t, city.AddAttribute(&Attribute{Name: "name", DataType: dataset.TypeVarChar, MaxLength: 80}))
	require.NoError(t, city.AddAttribute(&Attribute{Name: "country_id", DataType: dataset.TypeInteger}))
	require.NoError(t, city.SetIdentity("city_pk", "id"))

	require.NoError(t, city.AddAssociation(&Association{
		Type: ManyToOne, Name: "city_country", Columns: []string{"country_id"},
		Target: "Country", DeleteRule: "CASCADE", Enabled: true,
	}))
	require.NoError(t, country.AddAssociation(&Association{
		Type: OneToMany, Name: "cities", Columns: []string{"country_id"},
		Target: "City", Enabled: true,
	}))
	require.NoError(t, m.Link())
	return m
}

func mustClass(t *testing.T, m *Model, name string) *Class {
	t.Helper()
	c, ok := m.FindClass(name)
	require.True(t, ok, "class %s", name)
	return c
}

// entityFor builds a generic entity of c whose record holds values.
func entityFor(t *testing.T, c *Class, values map[string]any) *object.Generic {
	t.Helper()
	g := object.NewGeneric(c.ColumnNames())
	require.NoError(t, g.SetClass(c))
	for k, v := range values {
		g.Set(k, v)
	}
	rec := dataset.NewRecord()
	require.NoError(t, object.ToRecord(g, rec))
	g.SetRecord(rec)
	return g
}
