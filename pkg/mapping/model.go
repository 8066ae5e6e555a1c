package mapping

import (
	"context"
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Tracer receives every statement a class sends to a database.
type Tracer func(ctx context.Context, stmt string, args []any)

// Model is the class registry of one session. Classes live in an arena and
// refer to each other by ClassID.
type Model struct {
	ctx     *Context
	classes []*Class
	byName  map[string]ClassID
	tracer  Tracer
}

// NewModel returns an empty model bound to a mapping context.
func NewModel(ctx *Context) *Model {
	return &Model{ctx: ctx, byName: make(map[string]ClassID)}
}

// Context returns the mapping context of the model.
func (m *Model) Context() *Context { return m.ctx }

// SetTracer installs the statement tracer.
func (m *Model) SetTracer(t Tracer) { m.tracer = t }

func (m *Model) trace(ctx context.Context, stmt string, args []any) {
	if m.tracer != nil {
		m.tracer(ctx, stmt, args)
	}
}

// AddClass declares a class. A superclass must be declared before its
// subclasses.
func (m *Model) AddClass(name, superName string) (*Class, error) {
	if name == "" {
		return nil, apperrors.Configf("add class", "class has no name")
	}
	key := strings.ToLower(name)
	if _, ok := m.byName[key]; ok {
		return nil, apperrors.Configf("add class", "class %s is already declared", name)
	}
	super := NoClass
	if superName != "" {
		s, ok := m.FindClass(superName)
		if !ok {
			return nil, apperrors.Configf("add class", "class %s: superclass %s is not declared", name, superName)
		}
		super = s.id
	}

	c := &Class{model: m, id: ClassID(len(m.classes)), name: name, super: super}
	m.classes = append(m.classes, c)
	m.byName[key] = c.id
	if super != NoClass {
		p := m.classes[super]
		p.subs = append(p.subs, c.id)
	}
	m.invalidate()
	return c, nil
}

// FindClass looks a class up by name, case-insensitively.
func (m *Model) FindClass(name string) (*Class, bool) {
	id, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return m.classes[id], true
}

// Class returns the class with the given id, or nil.
func (m *Model) Class(id ClassID) *Class {
	if id < 0 || int(id) >= len(m.classes) {
		return nil
	}
	return m.classes[id]
}

// Classes returns every class in declaration order.
func (m *Model) Classes() []*Class {
	out := make([]*Class, len(m.classes))
	copy(out, m.classes)
	return out
}

// Reset drops every class.
func (m *Model) Reset() {
	m.classes = nil
	m.byName = make(map[string]ClassID)
}

func (m *Model) invalidate() {
	for _, c := range m.classes {
		c.invalidate()
	}
}

func (m *Model) findTarget(name string) (*Class, bool) {
	if c, ok := m.FindClass(name); ok {
		return c, true
	}
	for _, c := range m.classes {
		if strings.EqualFold(c.TableName(), name) {
			return c, true
		}
	}
	return nil, false
}

// Link resolves association targets and their foreign-key attributes. It
// runs after every class is declared because associations may point forward.
func (m *Model) Link() error {
	for _, c := range m.classes {
		for _, a := range c.associations {
			target, ok := m.findTarget(a.Target)
			if !ok {
				return apperrors.Configf("link", "class %s association %s: target %s is not declared", c.name, a.Name, a.Target)
			}
			a.target = target.id

			holder := c
			if a.Type == OneToMany {
				holder = target
			}
			a.attrs = a.attrs[:0]
			for _, col := range a.Columns {
				attr, ok := holder.FindAttribute(col)
				if !ok {
					return apperrors.Configf("link", "class %s association %s: class %s has no attribute %s", c.name, a.Name, holder.name, col)
				}
				if a.Type == ManyToOne {
					attr.Foreign = true
				}
				a.attrs = append(a.attrs, attr)
			}
		}
	}
	m.invalidate()
	return nil
}

// CreateSchemaSQL renders the DDL for every physical table of the model:
// tables and indexes first, then foreign keys.
func (m *Model) CreateSchemaSQL(d *dataset.Dialect) ([]string, error) {
	var stmts, fks []string
	for _, c := range m.classes {
		if !c.OwnsTable() {
			continue
		}
		t, err := c.Table()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, t.CreateSQL(d)...)
		fks = append(fks, t.ForeignKeySQL(d)...)
	}
	return append(stmts, fks...), nil
}
