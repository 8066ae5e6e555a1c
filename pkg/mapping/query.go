package mapping

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// qualify returns alias.column for an attribute as it appears in the class
// SELECT statement.
func (c *Class) qualify(a *Attribute) string {
	if c.strategy() == SubTable {
		if owner := c.model.Class(a.owner); owner != nil {
			return owner.Alias() + "." + a.ColumnName()
		}
	}
	return c.Alias() + "." + a.ColumnName()
}

func (c *Class) discriminatorColumn() string {
	if c.strategy() == SubTable {
		return c.Root().Alias() + "." + dataset.DiscriminatorField
	}
	return c.Alias() + "." + dataset.DiscriminatorField
}

// ClassFilter restricts rows to the class and its direct subclasses. It
// reports false under standalone mapping, where rows carry no discriminator.
func (c *Class) ClassFilter() (dataset.Filter, bool) {
	if c.strategy() == Standalone {
		return dataset.Filter{}, false
	}
	subs := c.Subclasses()
	if len(subs) == 0 {
		return dataset.Eq(c.discriminatorColumn(), c.Discriminator()), true
	}
	values := []any{c.Discriminator()}
	for _, s := range subs {
		values = append(values, s.Discriminator())
	}
	return dataset.In(c.discriminatorColumn(), values...), true
}

// BuildFilter pairs attributes with values positionally into equality
// filters. The lists must have the same length.
func (c *Class) BuildFilter(attrs []*Attribute, values []any) (dataset.FilterSet, error) {
	if len(attrs) != len(values) {
		return nil, &apperrors.MismatchError{Op: "build filter " + c.name, Want: len(attrs), Got: len(values)}
	}
	fs := make(dataset.FilterSet, len(attrs))
	for i, a := range attrs {
		fs[i] = dataset.Eq(c.qualify(a), values[i])
	}
	return fs, nil
}

// CreateFilterSet is BuildFilter over attribute names.
func (c *Class) CreateFilterSet(columns []string, values []any) (dataset.FilterSet, error) {
	if len(columns) != len(values) {
		return nil, &apperrors.MismatchError{Op: "create filter set " + c.name, Want: len(columns), Got: len(values)}
	}
	attrs := make([]*Attribute, len(columns))
	for i, col := range columns {
		a, ok := c.FindAttribute(col)
		if !ok {
			return nil, apperrors.Configf("create filter set", "class %s has no attribute %s", c.name, col)
		}
		attrs[i] = a
	}
	return c.BuildFilter(attrs, values)
}

// BuildPrimaryKeyFilter matches the identity columns against key values and
// restricts rows to the class.
func (c *Class) BuildPrimaryKeyFilter(key []any) (dataset.FilterSet, error) {
	id := c.Identity()
	if id == nil {
		return nil, fmt.Errorf("class %s: no identity declared: %w", c.name, apperrors.ErrNoTable)
	}
	if len(id.Attributes) != len(key) {
		return nil, &apperrors.MismatchError{Op: "primary key filter " + c.name, Want: len(id.Attributes), Got: len(key)}
	}
	fs := make(dataset.FilterSet, len(key))
	for i, a := range id.Attributes {
		fs[i] = dataset.Eq(c.Alias()+"."+a.ColumnName(), key[i])
	}
	if f, ok := c.ClassFilter(); ok {
		fs = append(fs, f)
	}
	return fs, nil
}

// BuildDefaultSelectQuery renders the unfiltered SELECT of the class.
func (c *Class) BuildDefaultSelectQuery(d *dataset.Dialect) (string, error) {
	switch c.strategy() {
	case ClassTable:
		return "", fmt.Errorf("select %s: classtable strategy: %w", c.name, apperrors.ErrNotImplemented)
	case SubTable:
		return c.buildJoinSelect(d)
	case OneTable:
		return c.buildSingleTableSelect(d)
	}
	t, err := c.Table()
	if err != nil {
		return "", err
	}
	cols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = d.Quote(c.Alias()) + "." + d.Quote(col.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s AS %s", strings.Join(cols, ", "), t.GetDMLTableName(d), d.Quote(c.Alias())), nil
}

// buildSingleTableSelect reads the root table but lists only the columns of
// the class's ancestors, the class itself and its descendants.
func (c *Class) buildSingleTableSelect(d *dataset.Dialect) (string, error) {
	t, err := c.Table()
	if err != nil {
		return "", err
	}
	alias := d.Quote(c.Alias())
	seen := map[string]bool{}
	var cols []string
	add := func(name string) {
		k := strings.ToLower(name)
		if seen[k] {
			return
		}
		seen[k] = true
		cols = append(cols, alias+"."+d.Quote(name))
	}
	for _, n := range c.PrimaryKeyNames() {
		add(n)
	}
	for _, k := range append(c.Ancestry(), c.Descendants()...) {
		for _, a := range k.attributes {
			add(a.ColumnName())
		}
	}
	add(dataset.DiscriminatorField)
	return fmt.Sprintf("SELECT %s FROM %s AS %s", strings.Join(cols, ", "), t.GetDMLTableName(d), alias), nil
}

// buildJoinSelect joins every table from the root down to the class on the
// identity columns.
func (c *Class) buildJoinSelect(d *dataset.Dialect) (string, error) {
	chain := c.Ancestry()
	root := chain[0]
	rootTable, err := root.Table()
	if err != nil {
		return "", err
	}
	keys := rootTable.PrimaryKey.Columns

	var cols []string
	for i, k := range chain {
		t, err := k.Table()
		if err != nil {
			return "", err
		}
		for _, col := range t.Columns {
			if i > 0 && t.IsPrimary(col.Name) {
				continue
			}
			cols = append(cols, d.Quote(k.Alias())+"."+d.Quote(col.Name))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s AS %s", strings.Join(cols, ", "), rootTable.GetDMLTableName(d), d.Quote(root.Alias()))
	for i := 1; i < len(chain); i++ {
		parent, child := chain[i-1], chain[i]
		t, err := child.Table()
		if err != nil {
			return "", err
		}
		on := make([]string, len(keys))
		for j, k := range keys {
			on[j] = fmt.Sprintf("%s.%s = %s.%s", d.Quote(parent.Alias()), d.Quote(k), d.Quote(child.Alias()), d.Quote(k))
		}
		fmt.Fprintf(&b, " INNER JOIN %s AS %s ON %s", t.GetDMLTableName(d), d.Quote(child.Alias()), strings.Join(on, " AND "))
	}
	return b.String(), nil
}

// BuildSelectQuery renders the class SELECT with a WHERE clause and an
// ORDER BY list. Order entries are attribute names optionally followed by
// ASC or DESC.
func (c *Class) BuildSelectQuery(d *dataset.Dialect, filters dataset.FilterSet, orderBy []string) (string, []any, error) {
	stmt, err := c.BuildDefaultSelectQuery(d)
	if err != nil {
		return "", nil, err
	}
	var args []any
	if len(filters) > 0 {
		where, a, err := filters.Render(d, 0)
		if err != nil {
			return "", nil, fmt.Errorf("select %s: %w", c.name, err)
		}
		stmt += " WHERE " + where
		args = a
	}
	if len(orderBy) > 0 {
		parts := make([]string, 0, len(orderBy))
		for _, o := range orderBy {
			fields := strings.Fields(o)
			if len(fields) == 0 || len(fields) > 2 {
				return "", nil, fmt.Errorf("select %s: bad order entry %q", c.name, o)
			}
			col := fields[0]
			if a, ok := c.FindAttribute(col); ok {
				col = c.qualify(a)
			}
			part := d.QuoteQualified(col)
			if len(fields) == 2 {
				dir := strings.ToUpper(fields[1])
				if dir != "ASC" && dir != "DESC" {
					return "", nil, fmt.Errorf("select %s: bad order direction %q", c.name, fields[1])
				}
				part += " " + dir
			}
			parts = append(parts, part)
		}
		stmt += " ORDER BY " + strings.Join(parts, ", ")
	}
	return stmt, args, nil
}
