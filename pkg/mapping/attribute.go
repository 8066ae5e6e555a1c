package mapping

import (
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/catalog"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
)

// Attribute is one persistent column of a class.
type Attribute struct {
	Name      string
	DataType  dataset.DataType
	MaxLength int
	Generator bool
	Primary   bool
	Foreign   bool
	NotNull   bool
	// Column overrides the database column name; Name is used when empty.
	Column     string
	Default    string
	HasDefault bool

	owner ClassID
}

// ColumnName is the database column the attribute maps to.
func (a *Attribute) ColumnName() string {
	if a.Column != "" {
		return a.Column
	}
	return a.Name
}

// Owner returns the class the attribute was added to.
func (a *Attribute) Owner() ClassID { return a.owner }

func (a *Attribute) column() catalog.Column {
	return catalog.Column{
		Name:       a.ColumnName(),
		DataType:   a.DataType,
		Size:       a.MaxLength,
		Nullable:   !a.NotNull && !a.Primary,
		Default:    a.Default,
		HasDefault: a.HasDefault,
	}
}

// Message describes the attribute as a message element.
func (a *Attribute) Message() *message.Element {
	e := message.New("Attribute", a.Name).
		Set("datatype", a.DataType.String()).
		Set("length", a.MaxLength).
		Set("generator", a.Generator).
		Set("primary", a.Primary).
		Set("foreign", a.Foreign).
		Set("not-null", a.NotNull).
		Set("column", a.Column)
	if a.HasDefault {
		e.Set("default", a.Default)
	}
	return e
}

// LoadMetaInfo fills the attribute from a message element written by
// Message. It reports false when the element is not an attribute.
func (a *Attribute) LoadMetaInfo(e *message.Element) bool {
	if e == nil || e.Tag() != "Attribute" || e.Name == "" {
		return false
	}
	a.Name = e.Name
	a.DataType = dataset.ParseDataType(e.String("datatype"))
	a.MaxLength = int(e.Int("length"))
	a.Generator = e.Bool("generator")
	a.Primary = e.Bool("primary")
	a.Foreign = e.Bool("foreign")
	a.NotNull = e.Bool("not-null")
	a.Column = e.String("column")
	a.Default, a.HasDefault = "", false
	if _, ok := e.Lookup("default"); ok {
		a.Default = e.String("default")
		a.HasDefault = true
	}
	return true
}

// Identity is a candidate key. Attribute order drives positional matching
// against key values.
type Identity struct {
	Name              string
	Attributes        []*Attribute
	Deferrable        bool
	InitiallyDeferred bool
}

// Columns returns the key column names in order.
func (id *Identity) Columns() []string {
	out := make([]string, len(id.Attributes))
	for i, a := range id.Attributes {
		out[i] = a.ColumnName()
	}
	return out
}

// AssociationType is the cardinality of an association.
type AssociationType int

const (
	ManyToOne AssociationType = iota
	OneToMany
	ManyToMany
)

func (t AssociationType) String() string {
	switch t {
	case ManyToOne:
		return "many-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// ParseAssociationType reads an association type name.
func ParseAssociationType(s string) (AssociationType, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "many-to-one":
		return ManyToOne, true
	case "one-to-many":
		return OneToMany, true
	case "many-to-many":
		return ManyToMany, true
	}
	return ManyToOne, false
}

// Association links a class to another by foreign-key columns. For
// many-to-one the columns belong to the owning class; for one-to-many they
// belong to the target class.
type Association struct {
	Type       AssociationType
	Name       string
	Columns    []string
	Target     string
	UpdateRule string
	DeleteRule string
	MatchRule  string
	Deferred   bool
	Enabled    bool

	target ClassID
	attrs  []*Attribute
}

// Attributes returns the resolved foreign-key attributes. They are
// available once the model is linked.
func (a *Association) Attributes() []*Attribute { return a.attrs }

// TargetID returns the resolved target class.
func (a *Association) TargetID() ClassID { return a.target }

type Index struct {
	Name       string
	Unique     bool
	Ascending  bool
	Filter     string
	Attributes []*Attribute
}

// Generator names the attribute whose values the backend assigns.
type Generator struct {
	Name      string
	Attribute string
	Seed      int64
}

// Privilege is one grant on the class table.
type Privilege = catalog.Privilege
