package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// fakeDB is a datasource.Connection whose transactions record statements
// and replay queued results.
type fakeDB struct {
	mu    sync.Mutex
	stmts []string
	args  [][]any

	// rows are returned by successive Query calls; an exhausted queue yields
	// no rows.
	rows [][]*dataset.Record
	// affected is returned by successive Exec calls; an exhausted queue yields 1.
	affected []int64
	failOn   string

	begins, commits, rollbacks int
}

func (db *fakeDB) Dialect() *dataset.Dialect { return dataset.Postgres }

func (db *fakeDB) Begin(ctx context.Context) (datasource.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.begins++
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Ping(ctx context.Context) error { return nil }
func (db *fakeDB) Close() error                   { return nil }

func (db *fakeDB) record(query string, args []any) error {
	db.stmts = append(db.stmts, query)
	db.args = append(db.args, args)
	if db.failOn != "" && strings.Contains(query, db.failOn) {
		return errors.New("statement rejected")
	}
	return nil
}

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Query(ctx context.Context, query string, args ...any) ([]*dataset.Record, error) {
	db := t.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(query, args); err != nil {
		return nil, err
	}
	if len(db.rows) == 0 {
		return nil, nil
	}
	out := db.rows[0]
	db.rows = db.rows[1:]
	return out, nil
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	db := t.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.record(query, args); err != nil {
		return 0, err
	}
	if len(db.affected) == 0 {
		return 1, nil
	}
	n := db.affected[0]
	db.affected = db.affected[1:]
	return n, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.db.mu.Lock()
	t.db.commits++
	t.db.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

var _ datasource.Connection = (*fakeDB)(nil)

// Country is a hand-written entity with triggers.
type Country struct {
	object.Object
	ID          int64
	Name        string
	Inhabitants int64

	loads      int
	vetoInsert bool
}

func (c *Country) Bind(b *object.Binder) {
	b.Field("id", &c.ID)
	b.Field("name", &c.Name)
	b.Field("inhabitants", &c.Inhabitants)
}

func (c *Country) OnLoad(ctx context.Context)         { c.loads++ }
func (c *Country) OnInsert(ctx context.Context) bool { return !c.vetoInsert }

func factories(name string) (object.Factory, bool) {
	if strings.EqualFold(name, "country") {
		return func() object.Entity { return &Country{} }, true
	}
	return nil, false
}

func worldDocument() *mapping.Document {
	return &mapping.Document{Classes: []mapping.ClassDoc{
		{
			Name: "Country",
			Attributes: []mapping.AttributeDoc{
				{Name: "id", Type: "integer"},
				{Name: "name", Type: "varchar", Length: 80},
				{Name: "inhabitants", Type: "bigint"},
			},
			Identity:  &mapping.IdentityDoc{Name: "country_pk", Columns: []string{"id"}},
			Generator: &mapping.GeneratorDoc{Name: "country_seq", Attribute: "id"},
			Associations: []mapping.AssociationDoc{
				{Name: "cities", Type: "one-to-many", Target: "City", Columns: []string{"country_id"}},
			},
		},
		{
			Name: "City",
			Attributes: []mapping.AttributeDoc{
				{Name: "id", Type: "integer"},
				{Name: "name", Type: "varchar", Length: 80},
				{Name: "country_id", Type: "integer"},
			},
			Identity: &mapping.IdentityDoc{Name: "city_pk", Columns: []string{"id"}},
			Associations: []mapping.AssociationDoc{
				{Name: "city_country", Type: "many-to-one", Target: "Country", Columns: []string{"country_id"}},
				{Name: "twins", Type: "many-to-many", Target: "City", Columns: []string{"id"}},
			},
		},
	}}
}

func animalDocument() *mapping.Document {
	return &mapping.Document{Classes: []mapping.ClassDoc{
		{
			Name: "Animal",
			Attributes: []mapping.AttributeDoc{
				{Name: "id", Type: "integer"},
				{Name: "name", Type: "varchar", Length: 40},
			},
			Identity: &mapping.IdentityDoc{Columns: []string{"id"}},
		},
		{Name: "Cat", Super: "Animal", Attributes: []mapping.AttributeDoc{{Name: "lives", Type: "integer"}}},
		{Name: "Dog", Super: "Animal", Attributes: []mapping.AttributeDoc{{Name: "breed", Type: "varchar", Length: 30}}},
	}}
}

func newMappingContext(t *testing.T, s mapping.Strategy, schema string) *mapping.Context {
	t.Helper()
	mctx, err := mapping.NewContext(s)
	require.NoError(t, err)
	mctx.SetDefaults("", schema)
	return mctx
}

// worldSession opens a database-role session over the Country/City model.
func worldSession(t *testing.T, db *fakeDB) *Session {
	t.Helper()
	s := New(newMappingContext(t, mapping.Standalone, "public"), Options{
		Connection: db,
		Factories:  factories,
		TraceSQL:   true,
		Logger:     zaptest.NewLogger(t),
	})
	t.Cleanup(s.Close)
	require.NoError(t, s.ApplyDocument(worldDocument()))
	return s
}

func countryRow(id int64, name string, inhabitants int64) *dataset.Record {
	return dataset.RecordFrom([]string{"id", "name", "inhabitants"}, []any{id, name, inhabitants})
}

func loadCountry(t *testing.T, s *Session, db *fakeDB, id int64, name string) *Country {
	t.Helper()
	db.rows = append(db.rows, []*dataset.Record{countryRow(id, name, 1000)})
	e, err := s.Load(context.Background(), "Country", id)
	require.NoError(t, err)
	require.NotNil(t, e)
	c, ok := e.(*Country)
	require.True(t, ok, "got %T", e)
	return c
}
