package object

import "strings"

// Generic is the entity used for classes without a registered Go type. It
// keeps one untyped value per column.
type Generic struct {
	Object
	names  []string
	values []any
}

// NewGeneric returns a generic entity over the given columns.
func NewGeneric(columns []string) *Generic {
	names := make([]string, len(columns))
	copy(names, columns)
	return &Generic{names: names, values: make([]any, len(columns))}
}

func (g *Generic) Bind(b *Binder) {
	for i, n := range g.names {
		b.Field(n, &g.values[i])
	}
}

// Columns returns the column names in bind order.
func (g *Generic) Columns() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

func (g *Generic) index(name string) int {
	for i, n := range g.names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// Get returns a column value.
func (g *Generic) Get(name string) (any, bool) {
	i := g.index(name)
	if i < 0 {
		return nil, false
	}
	return g.values[i], true
}

// Set changes a column value. Unknown columns are appended.
func (g *Generic) Set(name string, v any) {
	if i := g.index(name); i >= 0 {
		g.values[i] = v
		return
	}
	g.names = append(g.names, name)
	g.values = append(g.values, v)
}
