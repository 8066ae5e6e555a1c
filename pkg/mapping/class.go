package mapping

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/catalog"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// ClassID indexes a class in its model.
type ClassID int

// NoClass marks a missing class reference.
const NoClass ClassID = -1

// Class maps one persistent type onto the relational schema.
type Class struct {
	model         *Model
	id            ClassID
	name          string
	discriminator string
	super         ClassID
	subs          []ClassID

	catalog string
	schema  string
	table   string

	attributes   []*Attribute
	identity     *Identity
	associations []*Association
	indexes      []*Index
	generator    Generator
	privileges   []Privilege
	factory      object.Factory

	data      *dataset.Dataset
	layout    *catalog.Table
	layoutFor Strategy
}

func (c *Class) ID() ClassID   { return c.id }
func (c *Class) Name() string  { return c.name }
func (c *Class) Model() *Model { return c.model }

func (c *Class) strategy() Strategy { return c.model.ctx.Strategy() }

// Discriminator identifies the class in polymorphic rows. It defaults to the
// lower-case class name.
func (c *Class) Discriminator() string {
	if c.discriminator != "" {
		return c.discriminator
	}
	return strings.ToLower(c.name)
}

func (c *Class) SetDiscriminator(d string) { c.discriminator = d }

// Alias is the table alias used for the class in SELECT statements.
func (c *Class) Alias() string { return c.Discriminator() }

// RootName returns the name of the hierarchy root.
func (c *Class) RootName() string { return c.Root().name }

// PrimaryKeyNames lists the identity columns, or nil without identity.
func (c *Class) PrimaryKeyNames() []string {
	id := c.Identity()
	if id == nil {
		return nil
	}
	return id.Columns()
}

// HashFunc returns the hash override registered for the hierarchy.
func (c *Class) HashFunc() object.HashFunc {
	return c.model.ctx.HashFunc(c.RootName())
}

// Superclass returns the parent class, or nil for a root.
func (c *Class) Superclass() *Class {
	if c.super == NoClass {
		return nil
	}
	return c.model.Class(c.super)
}

// Subclasses returns the direct subclasses in declaration order.
func (c *Class) Subclasses() []*Class {
	out := make([]*Class, len(c.subs))
	for i, id := range c.subs {
		out[i] = c.model.Class(id)
	}
	return out
}

func (c *Class) IsRoot() bool { return c.super == NoClass }

// Root returns the top of the hierarchy.
func (c *Class) Root() *Class {
	r := c
	for r.super != NoClass {
		r = r.model.Class(r.super)
	}
	return r
}

// Ancestry returns the chain from the root down to the class itself.
func (c *Class) Ancestry() []*Class {
	var chain []*Class
	for k := c; k != nil; k = k.Superclass() {
		chain = append(chain, k)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Descendants returns every class below c, depth first.
func (c *Class) Descendants() []*Class {
	var out []*Class
	for _, s := range c.Subclasses() {
		out = append(out, s)
		out = append(out, s.Descendants()...)
	}
	return out
}

// SetTable names the physical table. Empty parts fall back to the context
// defaults and the lower-case class name.
func (c *Class) SetTable(catalogName, schema, table string) {
	c.catalog, c.schema, c.table = catalogName, schema, table
	c.invalidate()
}

// TableName is the configured physical table name.
func (c *Class) TableName() string {
	if c.table != "" {
		return c.table
	}
	return strings.ToLower(c.name)
}

func (c *Class) catalogName() string {
	if c.catalog != "" {
		return c.catalog
	}
	return c.model.ctx.DefaultCatalog()
}

func (c *Class) schemaName() string {
	if c.schema != "" {
		return c.schema
	}
	return c.model.ctx.DefaultSchema()
}

// AddAttribute appends an attribute. A second attribute with the same name
// (case-insensitive) in this class is rejected.
func (c *Class) AddAttribute(a *Attribute) error {
	if a == nil || a.Name == "" {
		return apperrors.Configf("add attribute", "class %s: attribute has no name", c.name)
	}
	for _, x := range c.attributes {
		if strings.EqualFold(x.Name, a.Name) {
			return apperrors.Configf("add attribute", "class %s already has attribute %s", c.name, a.Name)
		}
	}
	a.owner = c.id
	c.attributes = append(c.attributes, a)
	c.model.invalidate()
	return nil
}

// FindAttribute looks an attribute up by name or column, first in the class
// and then in its ancestors.
func (c *Class) FindAttribute(name string) (*Attribute, bool) {
	for k := c; k != nil; k = k.Superclass() {
		for _, a := range k.attributes {
			if strings.EqualFold(a.Name, name) || strings.EqualFold(a.ColumnName(), name) {
				return a, true
			}
		}
	}
	return nil, false
}

// AttributeAt returns the i-th attribute declared by the class, or nil.
func (c *Class) AttributeAt(i int) *Attribute {
	if i < 0 || i >= len(c.attributes) {
		return nil
	}
	return c.attributes[i]
}

func (c *Class) AttributeCount() int { return len(c.attributes) }

// AllAttributes returns the ancestors' attributes followed by the class's own.
func (c *Class) AllAttributes() []*Attribute {
	var out []*Attribute
	for _, k := range c.Ancestry() {
		out = append(out, k.attributes...)
	}
	return out
}

// ColumnNames lists the columns an entity of the class binds: identity
// columns first, then every attribute from the root down.
func (c *Class) ColumnNames() []string {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if !seen[strings.ToLower(n)] {
			seen[strings.ToLower(n)] = true
			out = append(out, n)
		}
	}
	for _, n := range c.PrimaryKeyNames() {
		add(n)
	}
	for _, a := range c.AllAttributes() {
		add(a.ColumnName())
	}
	return out
}

// SetIdentity declares the candidate key from attribute names, which may be
// inherited.
func (c *Class) SetIdentity(name string, columns ...string) error {
	if len(columns) == 0 {
		return apperrors.Configf("set identity", "class %s: identity has no columns", c.name)
	}
	id := &Identity{Name: name}
	for _, col := range columns {
		a, ok := c.FindAttribute(col)
		if !ok {
			return apperrors.Configf("set identity", "class %s has no attribute %s", c.name, col)
		}
		a.Primary = true
		id.Attributes = append(id.Attributes, a)
	}
	c.identity = id
	c.model.invalidate()
	return nil
}

// Identity returns the effective key. Outside standalone mapping every class
// of a hierarchy shares the root identity so all tables carry the same
// primary key shape.
func (c *Class) Identity() *Identity {
	if c.strategy() != Standalone {
		return c.Root().identity
	}
	for k := c; k != nil; k = k.Superclass() {
		if k.identity != nil {
			return k.identity
		}
	}
	return nil
}

// DeclaredIdentity returns the identity set on this class, if any.
func (c *Class) DeclaredIdentity() *Identity { return c.identity }

// AddAssociation appends an association. Its target is resolved by Link.
func (c *Class) AddAssociation(a *Association) error {
	if a == nil || a.Target == "" {
		return apperrors.Configf("add association", "class %s: association has no target", c.name)
	}
	if a.Name != "" {
		for _, x := range c.associations {
			if strings.EqualFold(x.Name, a.Name) {
				return apperrors.Configf("add association", "class %s already has association %s", c.name, a.Name)
			}
		}
	}
	a.target = NoClass
	c.associations = append(c.associations, a)
	return nil
}

// AssociationAt returns the i-th association, or nil.
func (c *Class) AssociationAt(i int) *Association {
	if i < 0 || i >= len(c.associations) {
		return nil
	}
	return c.associations[i]
}

func (c *Class) AssociationCount() int { return len(c.associations) }

// FindAssociation resolves an association by name. Without a name the
// association to target must be unique.
func (c *Class) FindAssociation(name, target string) (*Association, error) {
	if name != "" {
		for _, a := range c.associations {
			if strings.EqualFold(a.Name, name) {
				return a, nil
			}
		}
		return nil, fmt.Errorf("class %s association %s: %w", c.name, name, apperrors.ErrAssociationNotFound)
	}
	var found *Association
	for _, a := range c.associations {
		t := c.model.Class(a.target)
		if strings.EqualFold(a.Target, target) || (t != nil && (strings.EqualFold(t.name, target) || strings.EqualFold(t.TableName(), target))) {
			if found != nil {
				return nil, apperrors.Configf("find association", "class %s has several associations to %s, name one", c.name, target)
			}
			found = a
		}
	}
	if found == nil {
		return nil, fmt.Errorf("class %s association to %s: %w", c.name, target, apperrors.ErrAssociationNotFound)
	}
	return found, nil
}

// AddIndex appends an index over the named attributes.
func (c *Class) AddIndex(name string, unique, ascending bool, filter string, columns ...string) error {
	for _, x := range c.indexes {
		if strings.EqualFold(x.Name, name) {
			return apperrors.Configf("add index", "class %s already has index %s", c.name, name)
		}
	}
	idx := &Index{Name: name, Unique: unique, Ascending: ascending, Filter: filter}
	for _, col := range columns {
		a, ok := c.FindAttribute(col)
		if !ok {
			return apperrors.Configf("add index", "class %s index %s: no attribute %s", c.name, name, col)
		}
		idx.Attributes = append(idx.Attributes, a)
	}
	c.indexes = append(c.indexes, idx)
	c.model.invalidate()
	return nil
}

// Indexes returns the indexes declared by the class.
func (c *Class) Indexes() []*Index { return c.indexes }

// SetGenerator declares the generator-backed attribute.
func (c *Class) SetGenerator(g Generator) error {
	a, ok := c.FindAttribute(g.Attribute)
	if !ok {
		return apperrors.Configf("set generator", "class %s has no attribute %s", c.name, g.Attribute)
	}
	a.Generator = true
	if g.Seed == 0 {
		g.Seed = 1
	}
	c.generator = g
	c.model.invalidate()
	return nil
}

// Generator returns the generator declared by the class.
func (c *Class) Generator() Generator { return c.generator }

// GeneratorAttribute returns the generator-backed attribute declared by the
// class or its nearest ancestor.
func (c *Class) GeneratorAttribute() *Attribute {
	g := c.generatorOwner()
	if g == nil {
		return nil
	}
	a, _ := g.FindAttribute(g.generator.Attribute)
	return a
}

func (c *Class) generatorOwner() *Class {
	for k := c; k != nil; k = k.Superclass() {
		if k.generator.Attribute != "" {
			return k
		}
	}
	return nil
}

func (c *Class) AddPrivilege(p Privilege) {
	c.privileges = append(c.privileges, p)
	c.model.invalidate()
}

func (c *Class) Privileges() []Privilege { return c.privileges }

// SetFactory registers the constructor of the class's Go type.
func (c *Class) SetFactory(f object.Factory) { c.factory = f }

func (c *Class) Factory() object.Factory { return c.factory }

// Dataset returns the shared record container of the class, creating it on
// first use.
func (c *Class) Dataset() *dataset.Dataset {
	if c.data == nil {
		c.data = dataset.NewDataset(c.name)
	}
	return c.data
}

// OwnsTable reports whether the class has a physical table of its own.
func (c *Class) OwnsTable() bool {
	return !(c.strategy() == OneTable && !c.IsRoot())
}

// tableClass returns the class whose table stores c's own columns.
func (c *Class) tableClass() *Class {
	if c.OwnsTable() {
		return c
	}
	return c.Root()
}

func (c *Class) invalidate() { c.layout = nil }

// Table returns the physical table layout under the current strategy.
func (c *Class) Table() (*catalog.Table, error) {
	s := c.strategy()
	if c.layout != nil && c.layoutFor == s {
		return c.layout, nil
	}
	if err := c.ComputeLayout(); err != nil {
		return nil, err
	}
	return c.layout, nil
}

// ComputeLayout rebuilds the table layout. Under one_table a subclass shares
// the root's layout. Under sub_table a subclass table starts with the
// root identity columns followed by the class's own attributes.
func (c *Class) ComputeLayout() error {
	s := c.strategy()
	if s == ClassTable {
		return fmt.Errorf("class %s layout: classtable strategy: %w", c.name, apperrors.ErrNotImplemented)
	}
	if !c.OwnsTable() {
		t, err := c.Root().Table()
		if err != nil {
			return err
		}
		c.layout, c.layoutFor = t, s
		return nil
	}

	id := c.Identity()
	if id == nil {
		return fmt.Errorf("class %s: no identity declared: %w", c.name, apperrors.ErrNoTable)
	}

	t := catalog.New(c.catalogName(), c.schemaName(), c.TableName())
	seen := map[string]bool{}
	add := func(a *Attribute) {
		k := strings.ToLower(a.ColumnName())
		if seen[k] {
			return
		}
		seen[k] = true
		t.AddColumn(a.column())
	}

	copied := false
	switch {
	case s == SubTable && !c.IsRoot():
		for _, a := range id.Attributes {
			add(a)
		}
		copied = true
		for _, a := range c.attributes {
			add(a)
		}
	case s == OneTable:
		for _, a := range id.Attributes {
			add(a)
		}
		for _, k := range append([]*Class{c}, c.Descendants()...) {
			for _, a := range k.attributes {
				add(a)
			}
		}
	default:
		for _, a := range id.Attributes {
			add(a)
		}
		for _, a := range c.attributes {
			add(a)
		}
	}
	if s != Standalone && c.IsRoot() {
		t.AddColumn(catalog.Column{Name: dataset.DiscriminatorField, DataType: dataset.TypeVarChar, Size: 64})
		seen[dataset.DiscriminatorField] = true
	}

	t.PrimaryKey = catalog.PrimaryKey{Name: id.Name, Columns: id.Columns()}

	if !copied {
		if g := c.generatorOwner(); g != nil {
			if a, ok := g.FindAttribute(g.generator.Attribute); ok && seen[strings.ToLower(a.ColumnName())] {
				t.Sequence = catalog.Sequence{Name: g.generator.Name, Column: a.ColumnName(), Seed: g.generator.Seed}
			}
		}
	}

	owners := []*Class{c}
	if s == OneTable {
		owners = append(owners, c.Descendants()...)
	}
	for _, k := range owners {
		for _, idx := range k.indexes {
			ci := catalog.Index{Name: idx.Name, Unique: idx.Unique, Ascending: idx.Ascending, Filter: idx.Filter}
			for _, a := range idx.Attributes {
				ci.Columns = append(ci.Columns, a.ColumnName())
			}
			t.Indexes = append(t.Indexes, ci)
		}
		for _, as := range k.associations {
			if as.Type != ManyToOne || !as.Enabled {
				continue
			}
			target := c.model.Class(as.target)
			if target == nil {
				continue
			}
			ref := target.tableClass()
			refCols := target.PrimaryKeyNames()
			for i, a := range as.attrs {
				if i >= len(refCols) {
					break
				}
				t.ForeignKeys = append(t.ForeignKeys, catalog.ForeignKey{
					Name:          as.Name,
					Position:      i + 1,
					Column:        a.ColumnName(),
					PrimarySchema: ref.schemaName(),
					PrimaryTable:  ref.TableName(),
					PrimaryColumn: refCols[i],
					UpdateRule:    as.UpdateRule,
					DeleteRule:    as.DeleteRule,
				})
			}
		}
		t.Privileges = append(t.Privileges, k.privileges...)
	}

	c.layout, c.layoutFor = t, s
	return nil
}
