package object

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
)

type fakeClass struct {
	name string
	keys []string
	hash HashFunc
}

func (c *fakeClass) Name() string              { return c.name }
func (c *fakeClass) RootName() string          { return c.name }
func (c *fakeClass) Discriminator() string     { return c.name }
func (c *fakeClass) PrimaryKeyNames() []string { return c.keys }
func (c *fakeClass) HashFunc() HashFunc        { return c.hash }

type country struct {
	Object
	ID          int64
	Name        string
	Inhabitants int64
	Founded     time.Time
}

func (c *country) Bind(b *Binder) {
	b.Field("id", &c.ID)
	b.Field("name", &c.Name)
	b.Field("inhabitants", &c.Inhabitants)
	b.Field("founded", &c.Founded)
}

var countryClass = &fakeClass{name: "country", keys: []string{"id"}}

func newCountry(t *testing.T) *country {
	t.Helper()
	c := &country{}
	require.NoError(t, c.SetClass(countryClass))
	return c
}

func TestObject_Lifecycle(t *testing.T) {
	c := newCountry(t)
	assert.True(t, c.IsTransient())
	assert.False(t, c.IsPersistent())

	err := c.SetPrimaryKey([]any{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMismatch))

	require.NoError(t, c.SetPrimaryKey([]any{int32(7)}))
	assert.True(t, c.IsPersistent())
	assert.Equal(t, []any{int64(7)}, c.PrimaryKey())

	require.NoError(t, c.SetPrimaryKey([]any{nil}))
	assert.True(t, c.IsTransient(), "an empty key part keeps the object transient")

	c.ResetPrimaryKey()
	assert.Empty(t, c.PrimaryKey())
}

func TestObject_SetClassOnce(t *testing.T) {
	c := newCountry(t)
	assert.NoError(t, c.SetClass(countryClass))

	err := c.SetClass(&fakeClass{name: "city", keys: []string{"id"}})
	assert.True(t, errors.Is(err, apperrors.ErrConfig))
	assert.Error(t, c.SetClass(nil))
}

func TestObject_FromRecord(t *testing.T) {
	c := newCountry(t)
	rec := dataset.RecordFrom(
		[]string{"ID", "name", "inhabitants", "founded"},
		[]any{int32(1), "France", "67000000", nil},
	)

	require.NoError(t, FromRecord(c, rec))
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, "France", c.Name)
	assert.Equal(t, int64(67000000), c.Inhabitants)
	assert.True(t, c.Founded.IsZero())
	assert.Equal(t, []any{int64(1)}, c.PrimaryKey())
	assert.Same(t, rec, c.Record())

	c.Name = "Gaul"
	require.NoError(t, ToRecord(c, c.Record()))
	assert.True(t, rec.HasStatus(dataset.StatusUpdated))
	assert.Equal(t, "Gaul", rec.Value("name"))

	other := dataset.RecordFrom([]string{"id", "name"}, []any{int64(2), "Spain"})
	assert.Error(t, FromRecord(c, other), "a persistent object cannot take another key")
}

func TestObject_ToRecordKeepsTransient(t *testing.T) {
	c := newCountry(t)
	c.Name = "Peru"
	rec := dataset.NewRecord()
	require.NoError(t, ToRecord(c, rec))
	assert.True(t, c.IsTransient())
	assert.Equal(t, int64(0), rec.Value("id"))
	require.True(t, c.DeriveKeyFromRecord(rec))
	assert.True(t, c.IsPersistent(), "a zero int64 id is a populated key part")

	g := NewGeneric([]string{"id", "name"})
	require.NoError(t, g.SetClass(countryClass))
	g.Set("name", "Chile")
	rec = dataset.NewRecord()
	require.NoError(t, ToRecord(g, rec))
	assert.True(t, g.IsTransient())
	assert.Nil(t, rec.Value("id"))
}

func TestObject_MessageRoundTrip(t *testing.T) {
	founded := time.Date(1789, 7, 14, 0, 0, 0, 0, time.UTC)
	c := newCountry(t)
	c.ID, c.Name, c.Inhabitants, c.Founded = 1, "France", 67, founded

	msg := message.New("Entity", "country")
	require.NoError(t, ToMessage(c, msg))

	back := newCountry(t)
	require.NoError(t, FromMessage(back, msg))
	assert.Equal(t, c.ID, back.ID)
	assert.Equal(t, c.Name, back.Name)
	assert.Equal(t, c.Inhabitants, back.Inhabitants)
	assert.True(t, founded.Equal(back.Founded))
	assert.Equal(t, []any{int64(1)}, back.PrimaryKey())

	unbound := &country{}
	assert.Error(t, ToMessage(unbound, msg))
}

func TestObject_CompareAndHash(t *testing.T) {
	a, b := newCountry(t), newCountry(t)
	require.NoError(t, a.SetPrimaryKey([]any{1}))
	require.NoError(t, b.SetPrimaryKey([]any{2}))

	assert.Equal(t, -1, a.Compare(b.Base()))
	assert.Equal(t, 1, b.Compare(a.Base()))
	assert.Equal(t, 0, a.Compare(a.Base()))
	assert.Equal(t, "1", a.Hashcode())

	composite := &fakeClass{name: "border", keys: []string{"a", "b"}}
	g := NewGeneric([]string{"a", "b"})
	require.NoError(t, g.SetClass(composite))
	require.NoError(t, g.SetPrimaryKey([]any{"FR", "ES"}))
	assert.Equal(t, "FR"+KeySeparator+"ES", g.Hashcode())

	composite.hash = func(key []any) string { return "custom" }
	assert.Equal(t, "custom", g.Hashcode())
}

func TestObject_Touch(t *testing.T) {
	c := newCountry(t)
	c.Touch()

	rec := dataset.RecordFrom([]string{"id"}, []any{int64(1)})
	c.SetRecord(rec)
	c.Touch()
	assert.True(t, rec.HasStatus(dataset.StatusUpdated))

	restore := c.SwapRecord(dataset.NewRecord())
	assert.NotSame(t, rec, c.Record())
	restore()
	assert.Same(t, rec, c.Record())
}

func TestGeneric(t *testing.T) {
	g := NewGeneric([]string{"id", "name"})
	require.NoError(t, g.SetClass(countryClass))

	rec := dataset.RecordFrom([]string{"id", "name"}, []any{int64(3), "Italy"})
	require.NoError(t, FromRecord(g, rec))

	v, ok := g.Get("NAME")
	require.True(t, ok)
	assert.Equal(t, "Italy", v)

	g.Set("capital", "Rome")
	assert.Equal(t, []string{"id", "name", "capital"}, g.Columns())
	_, ok = g.Get("missing")
	assert.False(t, ok)
}

func TestBinder_Conversions(t *testing.T) {
	type row struct {
		Object
		Flag  bool
		Ratio float32
		Small int16
		Data  []byte
	}
	var r row
	b := &Binder{mode: fromRecord, rec: dataset.RecordFrom(
		[]string{"flag", "ratio", "small", "data"},
		[]any{"true", "0.5", int64(12), "raw"},
	)}
	b.Field("flag", &r.Flag)
	b.Field("ratio", &r.Ratio)
	b.Field("small", &r.Small)
	b.Field("data", &r.Data)
	require.NoError(t, b.Err())
	assert.True(t, r.Flag)
	assert.Equal(t, float32(0.5), r.Ratio)
	assert.Equal(t, int16(12), r.Small)
	assert.Equal(t, []byte("raw"), r.Data)

	var ch chan int
	b = &Binder{mode: toRecord, rec: dataset.NewRecord()}
	b.Field("bad", &ch)
	assert.Error(t, b.Err())
	assert.True(t, b.Writing())
}

func TestObject_Checkpoint(t *testing.T) {
	c := newCountry(t)
	rec := dataset.RecordFrom([]string{"id", "name", "inhabitants"}, []any{int64(1), "France", int64(67)})
	require.NoError(t, FromRecord(c, rec))

	rollback, err := Checkpoint(c)
	require.NoError(t, err)

	msg := message.New("Entity", "country").Set("id", 1).Set("name", "Gaul").Set("inhabitants", 5)
	require.NoError(t, FromMessage(c, msg))
	require.NoError(t, ToRecord(c, c.Record()))
	require.Equal(t, "Gaul", c.Name)
	require.True(t, rec.HasStatus(dataset.StatusUpdated))

	require.NoError(t, rollback())
	assert.Equal(t, "France", c.Name)
	assert.Equal(t, int64(67), c.Inhabitants)
	assert.Same(t, rec, c.Record(), "the backing record is restored in place")
	assert.Equal(t, "France", rec.Value("name"))
	assert.False(t, rec.HasStatus(dataset.StatusUpdated))

	_, err = Checkpoint(&country{})
	assert.Error(t, err, "an entity without class cannot be captured")
}
