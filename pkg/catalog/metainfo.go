package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
)

// Message renders the whole definition as a metadata document.
func (t *Table) Message() *message.Element {
	root := message.New("Table", t.QualifiedName())

	info := root.Add(message.New("TableInfo", ""))
	info.Set("catalog", t.Catalog).
		Set("schema", t.Schema).
		Set("name", t.Name).
		Set("type", string(t.Type)).
		Set("sequence", t.Sequence.Name).
		Set("sequence_column", t.Sequence.Column).
		Set("seed", t.Sequence.Seed)

	cols := root.Add(message.New("Columns", ""))
	for _, c := range t.Columns {
		e := cols.Add(message.New("Column", c.Name))
		e.Set("position", c.Position).
			Set("datatype", c.DataType.String()).
			Set("type_name", c.TypeName).
			Set("size", c.Size).
			Set("nullable", c.Nullable)
		if c.HasDefault {
			e.Set("default", c.Default)
		}
	}

	pk := root.Add(message.New("PrimaryKey", t.PrimaryKey.Name))
	for i, c := range t.PrimaryKey.Columns {
		pk.Add(message.New("Key", c)).Set("position", i+1)
	}

	fks := root.Add(message.New("ForeignKeys", ""))
	for _, fk := range t.ForeignKeys {
		fks.Add(message.New("ForeignKey", fk.Name)).
			Set("position", fk.Position).
			Set("column", fk.Column).
			Set("primary_schema", fk.PrimarySchema).
			Set("primary_table", fk.PrimaryTable).
			Set("primary_column", fk.PrimaryColumn).
			Set("update_rule", fk.UpdateRule).
			Set("delete_rule", fk.DeleteRule)
	}

	idx := root.Add(message.New("Indices", ""))
	for _, i := range t.Indexes {
		e := idx.Add(message.New("Index", i.Name))
		e.Set("unique", i.Unique).Set("ascending", i.Ascending).Set("filter", i.Filter)
		for n, c := range i.Columns {
			e.Add(message.New("Key", c)).Set("position", n+1)
		}
	}

	privs := root.Add(message.New("Privileges", ""))
	for _, p := range t.Privileges {
		privs.Add(message.New("Privilege", p.Privilege)).
			Set("grantor", p.Grantor).
			Set("grantee", p.Grantee).
			Set("grantable", p.Grantable)
	}
	return root
}

// FromMessage replaces the definition with a metadata document.
func (t *Table) FromMessage(root *message.Element) error {
	info := root.Child("TableInfo")
	if info == nil {
		return fmt.Errorf("table metadata %s: missing TableInfo section", root.Name)
	}

	t.Reset()
	t.Catalog = info.String("catalog")
	t.Schema = info.String("schema")
	t.Name = info.String("name")
	t.Type = ObjectType(info.String("type"))
	if t.Type == "" {
		t.Type = TypeTable
	}
	t.Sequence = Sequence{
		Name:   info.String("sequence"),
		Column: info.String("sequence_column"),
		Seed:   info.Int("seed"),
	}

	if cols := root.Child("Columns"); cols != nil {
		for _, e := range cols.ChildrenOf("Column") {
			c := Column{
				Name:     e.Name,
				DataType: dataset.ParseDataType(e.String("datatype")),
				TypeName: e.String("type_name"),
				Size:     int(e.Int("size")),
				Nullable: e.Bool("nullable"),
			}
			if _, ok := e.Lookup("default"); ok {
				c.Default = e.String("default")
				c.HasDefault = true
			}
			t.AddColumn(c)
			if pos := int(e.Int("position")); pos != 0 && pos != len(t.Columns) {
				return fmt.Errorf("table metadata %s: column %s at position %d, expected %d", t.QualifiedName(), c.Name, pos, len(t.Columns))
			}
		}
	}

	if pk := root.Child("PrimaryKey"); pk != nil {
		t.PrimaryKey.Name = pk.Name
		for _, k := range pk.ChildrenOf("Key") {
			t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, k.Name)
		}
	}

	if fks := root.Child("ForeignKeys"); fks != nil {
		for _, e := range fks.ChildrenOf("ForeignKey") {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Name:          e.Name,
				Position:      int(e.Int("position")),
				Column:        e.String("column"),
				PrimarySchema: e.String("primary_schema"),
				PrimaryTable:  e.String("primary_table"),
				PrimaryColumn: e.String("primary_column"),
				UpdateRule:    e.String("update_rule"),
				DeleteRule:    e.String("delete_rule"),
			})
		}
	}

	if idx := root.Child("Indices"); idx != nil {
		for _, e := range idx.ChildrenOf("Index") {
			i := Index{
				Name:      e.Name,
				Unique:    e.Bool("unique"),
				Ascending: e.Bool("ascending"),
				Filter:    e.String("filter"),
			}
			for _, k := range e.ChildrenOf("Key") {
				i.Columns = append(i.Columns, k.Name)
			}
			t.Indexes = append(t.Indexes, i)
		}
	}

	if privs := root.Child("Privileges"); privs != nil {
		for _, e := range privs.ChildrenOf("Privilege") {
			t.Privileges = append(t.Privileges, Privilege{
				Privilege: e.Name,
				Grantor:   e.String("grantor"),
				Grantee:   e.String("grantee"),
				Grantable: e.Bool("grantable"),
			})
		}
	}
	return nil
}

// SaveMetaInfo writes the definition to dir/FileName().
func (t *Table) SaveMetaInfo(dir string) error {
	return message.WriteFile(filepath.Join(dir, t.FileName()), t.Message())
}

// LoadMetaInfo reads the definition from dir/FileName(). A missing file
// returns false without error.
func (t *Table) LoadMetaInfo(dir string) (bool, error) {
	root, err := message.ReadFile(filepath.Join(dir, t.FileName()))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load table metadata %s: %w", t.QualifiedName(), err)
	}
	if err := t.FromMessage(root); err != nil {
		return false, err
	}
	return true, nil
}
