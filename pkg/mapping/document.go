package mapping

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/catalog"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Document is the mapping configuration file. The same structure is read
// and written as XML, YAML or TOML.
type Document struct {
	XMLName        xml.Name   `xml:"hibernate" yaml:"-" toml:"-"`
	DefaultCatalog string     `xml:"default_catalog,omitempty" yaml:"default_catalog,omitempty" toml:"default_catalog,omitempty"`
	DefaultSchema  string     `xml:"default_schema,omitempty" yaml:"default_schema,omitempty" toml:"default_schema,omitempty"`
	Strategy       string     `xml:"strategy,omitempty" yaml:"strategy,omitempty" toml:"strategy,omitempty"`
	LogFile        string     `xml:"logfile,omitempty" yaml:"logfile,omitempty" toml:"logfile,omitempty"`
	LogLevel       string     `xml:"loglevel,omitempty" yaml:"loglevel,omitempty" toml:"loglevel,omitempty"`
	Classes        []ClassDoc `xml:"class" yaml:"classes" toml:"class"`
}

type ClassDoc struct {
	Name          string           `xml:"name,attr" yaml:"name" toml:"name"`
	Discriminator string           `xml:"discriminator,attr,omitempty" yaml:"discriminator,omitempty" toml:"discriminator,omitempty"`
	Super         string           `xml:"super,attr,omitempty" yaml:"super,omitempty" toml:"super,omitempty"`
	Catalog       string           `xml:"catalog,attr,omitempty" yaml:"catalog,omitempty" toml:"catalog,omitempty"`
	Schema        string           `xml:"schema,attr,omitempty" yaml:"schema,omitempty" toml:"schema,omitempty"`
	Table         string           `xml:"table,attr,omitempty" yaml:"table,omitempty" toml:"table,omitempty"`
	Attributes    []AttributeDoc   `xml:"attributes>attribute" yaml:"attributes,omitempty" toml:"attribute,omitempty"`
	Identity      *IdentityDoc     `xml:"identity,omitempty" yaml:"identity,omitempty" toml:"identity,omitempty"`
	Associations  []AssociationDoc `xml:"associations>association" yaml:"associations,omitempty" toml:"association,omitempty"`
	Indices       []IndexDoc       `xml:"indices>index" yaml:"indices,omitempty" toml:"index,omitempty"`
	Generator     *GeneratorDoc    `xml:"generator,omitempty" yaml:"generator,omitempty" toml:"generator,omitempty"`
	Access        []PrivilegeDoc   `xml:"access>grant" yaml:"access,omitempty" toml:"grant,omitempty"`
}

type AttributeDoc struct {
	Name      string  `xml:"name,attr" yaml:"name" toml:"name"`
	Type      string  `xml:"type,attr" yaml:"type" toml:"type"`
	Length    int     `xml:"length,attr,omitempty" yaml:"length,omitempty" toml:"length,omitempty"`
	Column    string  `xml:"column,attr,omitempty" yaml:"column,omitempty" toml:"column,omitempty"`
	Primary   bool    `xml:"primary,attr,omitempty" yaml:"primary,omitempty" toml:"primary,omitempty"`
	Foreign   bool    `xml:"foreign,attr,omitempty" yaml:"foreign,omitempty" toml:"foreign,omitempty"`
	Generator bool    `xml:"generator,attr,omitempty" yaml:"generator,omitempty" toml:"generator,omitempty"`
	NotNull   bool    `xml:"notnull,attr,omitempty" yaml:"notnull,omitempty" toml:"notnull,omitempty"`
	Default   *string `xml:"default,attr,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
}

type IdentityDoc struct {
	Name              string   `xml:"name,attr,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Deferrable        bool     `xml:"deferrable,attr,omitempty" yaml:"deferrable,omitempty" toml:"deferrable,omitempty"`
	InitiallyDeferred bool     `xml:"initially_deferred,attr,omitempty" yaml:"initially_deferred,omitempty" toml:"initially_deferred,omitempty"`
	Columns           []string `xml:"column" yaml:"columns" toml:"columns"`
}

type AssociationDoc struct {
	Name       string   `xml:"name,attr,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Type       string   `xml:"type,attr" yaml:"type" toml:"type"`
	Target     string   `xml:"class,attr" yaml:"class" toml:"class"`
	UpdateRule string   `xml:"update,attr,omitempty" yaml:"update,omitempty" toml:"update,omitempty"`
	DeleteRule string   `xml:"delete,attr,omitempty" yaml:"delete,omitempty" toml:"delete,omitempty"`
	MatchRule  string   `xml:"match,attr,omitempty" yaml:"match,omitempty" toml:"match,omitempty"`
	Deferred   bool     `xml:"deferred,attr,omitempty" yaml:"deferred,omitempty" toml:"deferred,omitempty"`
	Disabled   bool     `xml:"disabled,attr,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
	Columns    []string `xml:"column" yaml:"columns" toml:"columns"`
}

type IndexDoc struct {
	Name       string   `xml:"name,attr" yaml:"name" toml:"name"`
	Unique     bool     `xml:"unique,attr,omitempty" yaml:"unique,omitempty" toml:"unique,omitempty"`
	Descending bool     `xml:"descending,attr,omitempty" yaml:"descending,omitempty" toml:"descending,omitempty"`
	Filter     string   `xml:"filter,attr,omitempty" yaml:"filter,omitempty" toml:"filter,omitempty"`
	Columns    []string `xml:"column" yaml:"columns" toml:"columns"`
}

type GeneratorDoc struct {
	Name      string `xml:"name,attr,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Attribute string `xml:"attribute,attr" yaml:"attribute" toml:"attribute"`
	Seed      int64  `xml:"seed,attr,omitempty" yaml:"seed,omitempty" toml:"seed,omitempty"`
}

type PrivilegeDoc struct {
	Grantee   string `xml:"grantee,attr" yaml:"grantee" toml:"grantee"`
	Privilege string `xml:"privilege,attr" yaml:"privilege" toml:"privilege"`
	Grantor   string `xml:"grantor,attr,omitempty" yaml:"grantor,omitempty" toml:"grantor,omitempty"`
	Grantable bool   `xml:"grantable,attr,omitempty" yaml:"grantable,omitempty" toml:"grantable,omitempty"`
}

// Format is the encoding of a configuration document.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the document format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FormatXML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", apperrors.Configf("configuration", "unknown configuration file type %q", path)
}

// ParseDocument decodes a configuration document.
func ParseDocument(data []byte, f Format) (*Document, error) {
	doc := &Document{}
	var err error
	switch f {
	case FormatXML:
		err = xml.Unmarshal(data, doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, doc)
	case FormatTOML:
		err = toml.Unmarshal(data, doc)
	default:
		return nil, apperrors.Configf("configuration", "unknown format %q", f)
	}
	if err != nil {
		return nil, apperrors.Configf("configuration", "malformed %s document: %v", f, err)
	}
	return doc, nil
}

// MarshalDocument encodes a configuration document.
func MarshalDocument(doc *Document, f Format) ([]byte, error) {
	switch f {
	case FormatXML:
		out, err := xml.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), append(out, '\n')...), nil
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, apperrors.Configf("configuration", "unknown format %q", f)
}

// LoadDocument reads a configuration file, choosing the format by extension.
func LoadDocument(path string) (*Document, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return ParseDocument(data, f)
}

// SaveDocument writes a configuration file, choosing the format by extension.
func SaveDocument(path string, doc *Document) error {
	f, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := MarshalDocument(doc, f)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write configuration: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}

// Document describes the model. Classes appear in declaration order, so a
// superclass always precedes its subclasses.
func (m *Model) Document() *Document {
	doc := &Document{
		DefaultCatalog: m.ctx.DefaultCatalog(),
		DefaultSchema:  m.ctx.DefaultSchema(),
		Strategy:       m.ctx.Strategy().String(),
	}
	for _, c := range m.classes {
		cd := ClassDoc{
			Name:          c.name,
			Discriminator: c.discriminator,
			Catalog:       c.catalog,
			Schema:        c.schema,
			Table:         c.table,
		}
		if s := c.Superclass(); s != nil {
			cd.Super = s.name
		}
		for _, a := range c.attributes {
			ad := AttributeDoc{
				Name:      a.Name,
				Type:      a.DataType.String(),
				Length:    a.MaxLength,
				Column:    a.Column,
				Primary:   a.Primary,
				Foreign:   a.Foreign,
				Generator: a.Generator,
				NotNull:   a.NotNull,
			}
			if a.HasDefault {
				def := a.Default
				ad.Default = &def
			}
			cd.Attributes = append(cd.Attributes, ad)
		}
		if id := c.identity; id != nil {
			cd.Identity = &IdentityDoc{
				Name:              id.Name,
				Deferrable:        id.Deferrable,
				InitiallyDeferred: id.InitiallyDeferred,
				Columns:           attributeNames(id.Attributes),
			}
		}
		for _, a := range c.associations {
			cd.Associations = append(cd.Associations, AssociationDoc{
				Name:       a.Name,
				Type:       a.Type.String(),
				Target:     a.Target,
				UpdateRule: a.UpdateRule,
				DeleteRule: a.DeleteRule,
				MatchRule:  a.MatchRule,
				Deferred:   a.Deferred,
				Disabled:   !a.Enabled,
				Columns:    append([]string(nil), a.Columns...),
			})
		}
		for _, idx := range c.indexes {
			cd.Indices = append(cd.Indices, IndexDoc{
				Name:       idx.Name,
				Unique:     idx.Unique,
				Descending: !idx.Ascending,
				Filter:     idx.Filter,
				Columns:    attributeNames(idx.Attributes),
			})
		}
		if g := c.generator; g.Attribute != "" {
			cd.Generator = &GeneratorDoc{Name: g.Name, Attribute: g.Attribute, Seed: g.Seed}
		}
		for _, p := range c.privileges {
			cd.Access = append(cd.Access, PrivilegeDoc{
				Grantee:   p.Grantee,
				Privilege: p.Privilege,
				Grantor:   p.Grantor,
				Grantable: p.Grantable,
			})
		}
		doc.Classes = append(doc.Classes, cd)
	}
	return doc
}

func attributeNames(attrs []*Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

// Apply declares the classes of a document in the model. Associations are
// added after every class exists and resolved by Link. The document's
// strategy and defaults are left to the caller.
func (m *Model) Apply(doc *Document) error {
	for _, cd := range doc.Classes {
		c, err := m.AddClass(cd.Name, cd.Super)
		if err != nil {
			return err
		}
		c.SetDiscriminator(cd.Discriminator)
		c.SetTable(cd.Catalog, cd.Schema, cd.Table)

		for _, ad := range cd.Attributes {
			dt := dataset.ParseDataType(ad.Type)
			if dt == dataset.TypeUnknown && !strings.EqualFold(ad.Type, "unknown") {
				return apperrors.Configf("configuration", "class %s attribute %s: unknown type %q", cd.Name, ad.Name, ad.Type)
			}
			a := &Attribute{
				Name:      ad.Name,
				DataType:  dt,
				MaxLength: ad.Length,
				Column:    ad.Column,
				Primary:   ad.Primary,
				Foreign:   ad.Foreign,
				Generator: ad.Generator,
				NotNull:   ad.NotNull,
			}
			if ad.Default != nil {
				a.Default, a.HasDefault = *ad.Default, true
			}
			if err := c.AddAttribute(a); err != nil {
				return err
			}
		}
		if id := cd.Identity; id != nil {
			if err := c.SetIdentity(id.Name, id.Columns...); err != nil {
				return err
			}
			c.identity.Deferrable = id.Deferrable
			c.identity.InitiallyDeferred = id.InitiallyDeferred
		}
		for _, idx := range cd.Indices {
			if err := c.AddIndex(idx.Name, idx.Unique, !idx.Descending, idx.Filter, idx.Columns...); err != nil {
				return err
			}
		}
		if g := cd.Generator; g != nil {
			if err := c.SetGenerator(Generator{Name: g.Name, Attribute: g.Attribute, Seed: g.Seed}); err != nil {
				return err
			}
		}
		for _, p := range cd.Access {
			c.AddPrivilege(Privilege{Grantee: p.Grantee, Privilege: p.Privilege, Grantor: p.Grantor, Grantable: p.Grantable})
		}
	}

	for _, cd := range doc.Classes {
		c, _ := m.FindClass(cd.Name)
		for _, ad := range cd.Associations {
			t, ok := ParseAssociationType(ad.Type)
			if !ok {
				return apperrors.Configf("configuration", "class %s association %s: unknown type %q", cd.Name, ad.Name, ad.Type)
			}
			err := c.AddAssociation(&Association{
				Type:       t,
				Name:       ad.Name,
				Columns:    append([]string(nil), ad.Columns...),
				Target:     ad.Target,
				UpdateRule: ad.UpdateRule,
				DeleteRule: ad.DeleteRule,
				MatchRule:  ad.MatchRule,
				Deferred:   ad.Deferred,
				Enabled:    !ad.Disabled,
			})
			if err != nil {
				return err
			}
		}
	}
	return m.Link()
}

// ClassDocFromTable describes a class mapped onto a catalog table, as read
// by schema import. Foreign keys become many-to-one associations whose
// target is the referenced table name.
func ClassDocFromTable(name string, t *catalog.Table) ClassDoc {
	cd := ClassDoc{Name: name, Catalog: t.Catalog, Schema: t.Schema, Table: t.Name}
	for _, c := range t.Columns {
		ad := AttributeDoc{
			Name:      c.Name,
			Type:      c.DataType.String(),
			Length:    c.Size,
			Primary:   t.IsPrimary(c.Name),
			NotNull:   !c.Nullable,
			Generator: strings.EqualFold(t.Sequence.Column, c.Name),
		}
		if c.HasDefault && !ad.Generator {
			def := c.Default
			ad.Default = &def
		}
		cd.Attributes = append(cd.Attributes, ad)
	}
	if len(t.PrimaryKey.Columns) > 0 {
		cd.Identity = &IdentityDoc{Name: t.PrimaryKey.Name, Columns: append([]string(nil), t.PrimaryKey.Columns...)}
	}

	byName := map[string]int{}
	for _, fk := range t.ForeignKeys {
		i, ok := byName[fk.Name]
		if !ok {
			i = len(cd.Associations)
			byName[fk.Name] = i
			cd.Associations = append(cd.Associations, AssociationDoc{
				Name:       fk.Name,
				Type:       ManyToOne.String(),
				Target:     fk.PrimaryTable,
				UpdateRule: fk.UpdateRule,
				DeleteRule: fk.DeleteRule,
			})
		}
		cd.Associations[i].Columns = append(cd.Associations[i].Columns, fk.Column)
		for j := range cd.Attributes {
			if strings.EqualFold(cd.Attributes[j].Name, fk.Column) {
				cd.Attributes[j].Foreign = true
			}
		}
	}

	for _, idx := range t.Indexes {
		cd.Indices = append(cd.Indices, IndexDoc{
			Name:       idx.Name,
			Unique:     idx.Unique,
			Descending: !idx.Ascending,
			Filter:     idx.Filter,
			Columns:    append([]string(nil), idx.Columns...),
		})
	}
	if t.Sequence.Column != "" {
		cd.Generator = &GeneratorDoc{Name: t.Sequence.Name, Attribute: t.Sequence.Column, Seed: t.Sequence.Seed}
	}
	for _, p := range t.Privileges {
		cd.Access = append(cd.Access, PrivilegeDoc{
			Grantee:   p.Grantee,
			Privilege: p.Privilege,
			Grantor:   p.Grantor,
			Grantable: p.Grantable,
		})
	}
	return cd
}
