package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// SelectObjectInDatabase reads the rows matching a primary key. An empty key
// selects nothing and succeeds.
func (c *Class) SelectObjectInDatabase(ctx context.Context, q datasource.Querier, d *dataset.Dialect, key []any) ([]*dataset.Record, error) {
	if len(key) == 0 {
		return nil, nil
	}
	fs, err := c.BuildPrimaryKeyFilter(key)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, q, d, fs, nil)
}

// SelectInDatabase reads the rows of the class matching filters.
func (c *Class) SelectInDatabase(ctx context.Context, q datasource.Querier, d *dataset.Dialect, filters dataset.FilterSet, orderBy []string) ([]*dataset.Record, error) {
	fs := append(dataset.FilterSet(nil), filters...)
	if f, ok := c.ClassFilter(); ok {
		fs = append(fs, f)
	}
	return c.query(ctx, q, d, fs, orderBy)
}

func (c *Class) query(ctx context.Context, q datasource.Querier, d *dataset.Dialect, fs dataset.FilterSet, orderBy []string) ([]*dataset.Record, error) {
	stmt, args, err := c.BuildSelectQuery(d, fs, orderBy)
	if err != nil {
		return nil, err
	}
	c.model.trace(ctx, stmt, args)
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c.name, err)
	}
	return rows, nil
}

// selectOwnRow reads the class's own table row for a key, without joins.
func (c *Class) selectOwnRow(ctx context.Context, q datasource.Querier, d *dataset.Dialect, key []any) (*dataset.Record, error) {
	t, err := c.Table()
	if err != nil {
		return nil, err
	}
	where, args, err := keyClause(d, t.PrimaryKey.Columns, key, 0)
	if err != nil {
		return nil, fmt.Errorf("select %s row: %w", c.name, err)
	}
	cols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = d.Quote(col.Name)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), t.GetDMLTableName(d), where)
	c.model.trace(ctx, stmt, args)
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s row: %w", c.name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func keyClause(d *dataset.Dialect, columns []string, key []any, start int) (string, []any, error) {
	if len(columns) != len(key) {
		return "", nil, &apperrors.MismatchError{Op: "key clause", Want: len(columns), Got: len(key)}
	}
	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		parts[i] = fmt.Sprintf("%s = %s", d.Quote(col), d.Placeholder(start+i+1))
		args[i] = key[i]
	}
	return strings.Join(parts, " AND "), args, nil
}

func (c *Class) checkWritable() error {
	if c.strategy() == ClassTable {
		return fmt.Errorf("class %s: classtable strategy: %w", c.name, apperrors.ErrNotImplemented)
	}
	return nil
}

// InsertObjectInDatabase writes the object's record. Under sub_table the
// ancestor rows are written first. A generated key is read back into the
// record and becomes the object's primary key.
func (c *Class) InsertObjectInDatabase(ctx context.Context, q datasource.Querier, d *dataset.Dialect, e object.Entity) (bool, error) {
	if err := c.checkWritable(); err != nil {
		return false, err
	}
	o := e.Base()
	rec := o.Record()
	if rec == nil {
		return false, fmt.Errorf("insert %s: object has no record", c.name)
	}
	ok, err := c.insert(ctx, q, d, o, c)
	if err != nil || !ok {
		return ok, err
	}
	if o.IsTransient() {
		o.DeriveKeyFromRecord(rec)
	}
	rec.ClearStatus()
	return true, nil
}

func (c *Class) insert(ctx context.Context, q datasource.Querier, d *dataset.Dialect, o *object.Object, concrete *Class) (bool, error) {
	s := c.strategy()
	if !c.OwnsTable() {
		return c.Root().insert(ctx, q, d, o, concrete)
	}
	if s == SubTable && !c.IsRoot() {
		ok, err := c.Superclass().insert(ctx, q, d, o, concrete)
		if err != nil || !ok {
			return ok, err
		}
	}

	t, err := c.Table()
	if err != nil {
		return false, err
	}
	rec := o.Record()
	if c.IsRoot() && s != Standalone {
		rec.Set(dataset.DiscriminatorField, concrete.Discriminator())
	}

	generated := ""
	if t.Sequence.Column != "" && o.IsTransient() {
		generated = t.Sequence.Column
		rec.SetGenerator(generated)
	}

	var cols []string
	var args []any
	for _, col := range t.Columns {
		if generated != "" && strings.EqualFold(col.Name, generated) {
			continue
		}
		if v, ok := rec.Get(col.Name); ok {
			cols = append(cols, col.Name)
			args = append(args, v)
		}
	}
	stmt := d.InsertSQL(t.GetDMLTableName(d), cols, generated)
	c.model.trace(ctx, stmt, args)

	if generated == "" {
		n, err := q.Exec(ctx, stmt, args...)
		if err != nil {
			return false, fmt.Errorf("insert %s: %w", c.name, err)
		}
		return n > 0, nil
	}

	if d.Returning == dataset.ReturningNone {
		return false, fmt.Errorf("insert %s: dialect %s cannot return generated keys: %w", c.name, d.Name, apperrors.ErrNotImplemented)
	}
	rows, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", c.name, err)
	}
	if len(rows) != 1 {
		return false, nil
	}
	rec.Set(generated, rows[0].Value(generated))
	rec.SetGenerator("")
	o.ResetPrimaryKey()
	o.DeriveKeyFromRecord(rec)
	return true, nil
}

// UpdateObjectInDatabase writes the non-key columns of the object's record.
// Under sub_table each ancestor table is updated first through a freshly
// selected ancestor row that temporarily backs the object.
func (c *Class) UpdateObjectInDatabase(ctx context.Context, q datasource.Querier, d *dataset.Dialect, e object.Entity) (bool, error) {
	if err := c.checkWritable(); err != nil {
		return false, err
	}
	o := e.Base()
	if o.Record() == nil {
		return false, fmt.Errorf("update %s: object has no record", c.name)
	}
	if o.IsTransient() {
		return false, fmt.Errorf("update %s: object has no primary key", c.name)
	}
	ok, err := c.update(ctx, q, d, o)
	if err != nil || !ok {
		return ok, err
	}
	o.Record().ClearStatus()
	return true, nil
}

func (c *Class) update(ctx context.Context, q datasource.Querier, d *dataset.Dialect, o *object.Object) (bool, error) {
	if !c.OwnsTable() {
		return c.Root().update(ctx, q, d, o)
	}
	if c.strategy() == SubTable && !c.IsRoot() {
		ok, err := c.updateAncestor(ctx, q, d, o)
		if err != nil || !ok {
			return ok, err
		}
	}

	t, err := c.Table()
	if err != nil {
		return false, err
	}
	rec := o.Record()
	var sets []string
	var args []any
	for _, col := range t.Columns {
		if t.IsPrimary(col.Name) || strings.EqualFold(col.Name, dataset.DiscriminatorField) {
			continue
		}
		if v, ok := rec.Get(col.Name); ok {
			args = append(args, v)
			sets = append(sets, fmt.Sprintf("%s = %s", d.Quote(col.Name), d.Placeholder(len(args))))
		}
	}
	if len(sets) == 0 {
		return true, nil
	}
	where, keyArgs, err := keyClause(d, t.PrimaryKey.Columns, o.PrimaryKey(), len(args))
	if err != nil {
		return false, fmt.Errorf("update %s: %w", c.name, err)
	}
	args = append(args, keyArgs...)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", t.GetDMLTableName(d), strings.Join(sets, ", "), where)
	c.model.trace(ctx, stmt, args)
	n, err := q.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", c.name, err)
	}
	return n > 0, nil
}

func (c *Class) updateAncestor(ctx context.Context, q datasource.Querier, d *dataset.Dialect, o *object.Object) (bool, error) {
	sup := c.Superclass()
	row, err := sup.selectOwnRow(ctx, q, d, o.PrimaryKey())
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	rec := o.Record()
	for _, name := range rec.Names() {
		row.Set(name, rec.Value(name))
	}
	restore := o.SwapRecord(row)
	defer restore()
	return sup.update(ctx, q, d, o)
}

// DeleteObjectInDatabase removes the object's rows. Under sub_table the
// ancestor rows go first.
func (c *Class) DeleteObjectInDatabase(ctx context.Context, q datasource.Querier, d *dataset.Dialect, e object.Entity) (bool, error) {
	if err := c.checkWritable(); err != nil {
		return false, err
	}
	o := e.Base()
	if o.IsTransient() {
		return false, fmt.Errorf("delete %s: object has no primary key", c.name)
	}
	return c.delete(ctx, q, d, o)
}

func (c *Class) delete(ctx context.Context, q datasource.Querier, d *dataset.Dialect, o *object.Object) (bool, error) {
	if !c.OwnsTable() {
		return c.Root().delete(ctx, q, d, o)
	}
	if c.strategy() == SubTable && !c.IsRoot() {
		ok, err := c.Superclass().delete(ctx, q, d, o)
		if err != nil || !ok {
			return ok, err
		}
	}
	t, err := c.Table()
	if err != nil {
		return false, err
	}
	where, args, err := keyClause(d, t.PrimaryKey.Columns, o.PrimaryKey(), 0)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", c.name, err)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", t.GetDMLTableName(d), where)
	c.model.trace(ctx, stmt, args)
	n, err := q.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", c.name, err)
	}
	return n > 0, nil
}
