// Package codegen emits Go entity types for mapped classes.
//
// Every class produces three files:
//
//	<name>.go       struct and association accessors (regenerated)
//	<name>_impl.go  lifecycle trigger stubs (written once, then owned by the user)
//	<name>_bind.go  Bind method and factory (regenerated)
package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
)

const (
	objectImport  = "github.com/ekaya-inc/ekaya-orm/pkg/object"
	sessionImport = "github.com/ekaya-inc/ekaya-orm/pkg/session"
)

// File is one generated source file.
type File struct {
	Name    string
	Content []byte
	// Stub files are meant to be edited and should not overwrite an
	// existing copy.
	Stub bool
}

type field struct {
	Name   string
	Column string
	Type   string
}

type accessor struct {
	Method      string
	Association string
	Type        string
	Target      string
	Values      []string
	Many        bool
}

type classData struct {
	Package   string
	Class     string
	Type      string
	Super     string
	Fields    []field
	Accessors []accessor
	Imports   []string
}

var (
	funcMap = template.FuncMap{
		"join": strings.Join,
	}

	entityTmpl = template.Must(template.New("entity").Funcs(funcMap).Parse(`// Code generated by ekaya-orm generate; DO NOT EDIT.

package {{.Package}}
{{if .Imports}}
import (
{{- range .Imports}}
	"{{.}}"
{{- end}}
)
{{end}}
// {{.Type}} is the entity of class {{.Class}}.
type {{.Type}} struct {
{{- if .Super}}
	{{.Super}}
{{- else}}
	object.Object
{{- end}}
{{range .Fields}}
	{{.Name}} {{.Type}}
{{- end}}
}
{{range .Accessors}}
// {{.Method}} follows the {{.Type}} association {{.Association}}.
{{if .Many -}}
func (m *{{$.Type}}) {{.Method}}(ctx context.Context, s *session.Session) ([]object.Entity, error) {
	return s.FollowAssociation(ctx, m, "{{.Target}}", []any{ {{- join .Values ", " -}} }, "{{.Association}}")
}
{{- else -}}
func (m *{{$.Type}}) {{.Method}}(ctx context.Context, s *session.Session) (object.Entity, error) {
	list, err := s.FollowAssociation(ctx, m, "{{.Target}}", []any{ {{- join .Values ", " -}} }, "{{.Association}}")
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}
{{- end}}
{{end}}`))

	implTmpl = template.Must(template.New("impl").Parse(`package {{.Package}}

import "context"

// OnLoad runs after a {{.Type}} is loaded and cached.
func (m *{{.Type}}) OnLoad(ctx context.Context) {}

// OnInsert runs before a {{.Type}} is inserted. Returning false vetoes it.
func (m *{{.Type}}) OnInsert(ctx context.Context) bool { return true }

// OnUpdate runs before a {{.Type}} is updated. Returning false vetoes it.
func (m *{{.Type}}) OnUpdate(ctx context.Context) bool { return true }

// OnDelete runs before a {{.Type}} is deleted. Returning false vetoes it.
func (m *{{.Type}}) OnDelete(ctx context.Context) bool { return true }
`))

	bindTmpl = template.Must(template.New("bind").Parse(`// Code generated by ekaya-orm generate; DO NOT EDIT.

package {{.Package}}

import "{{.ObjectImport}}"

// Bind lists the mapped columns of {{.Type}}.
func (m *{{.Type}}) Bind(b *object.Binder) {
{{- if .Super}}
	m.{{.Super}}.Bind(b)
{{- end}}
{{- range .Fields}}
	b.Field("{{.Column}}", &m.{{.Name}})
{{- end}}
}

// New{{.Type}} creates a {{.Type}}. Register it as the factory of class {{.Class}}.
func New{{.Type}}() object.Entity { return &{{.Type}}{} }
`))
)

// Generate renders the files of class c in package pkg.
func Generate(c *mapping.Class, pkg string) ([]File, error) {
	if !token.IsIdentifier(pkg) {
		return nil, fmt.Errorf("generate %s: invalid package name %q", c.Name(), pkg)
	}
	data, err := describe(c, pkg)
	if err != nil {
		return nil, err
	}

	base := FileBase(c.Name())
	outputs := []struct {
		name string
		tmpl *template.Template
		stub bool
	}{
		{base + ".go", entityTmpl, false},
		{base + "_impl.go", implTmpl, true},
		{base + "_bind.go", bindTmpl, false},
	}

	files := make([]File, 0, len(outputs))
	for _, out := range outputs {
		var buf bytes.Buffer
		err := out.tmpl.Execute(&buf, struct {
			*classData
			ObjectImport string
		}{data, objectImport})
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", out.name, err)
		}
		src, err := format.Source(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("generate %s: format: %w", out.name, err)
		}
		files = append(files, File{Name: out.name, Content: src, Stub: out.stub})
	}
	return files, nil
}

func describe(c *mapping.Class, pkg string) (*classData, error) {
	d := &classData{Package: pkg, Class: c.Name(), Type: GoName(c.Name())}
	if s := c.Superclass(); s != nil {
		d.Super = GoName(s.Name())
	}

	imports := map[string]bool{}
	if d.Super == "" {
		imports[objectImport] = true
	}
	names := map[string]bool{d.Type: true}
	for i := 0; i < c.AttributeCount(); i++ {
		a := c.AttributeAt(i)
		f := field{Name: GoName(a.Name), Column: a.ColumnName(), Type: GoType(a.DataType)}
		if names[f.Name] {
			return nil, fmt.Errorf("generate %s: attribute %s maps to duplicate field %s", c.Name(), a.Name, f.Name)
		}
		names[f.Name] = true
		if f.Type == "time.Time" {
			imports["time"] = true
		}
		d.Fields = append(d.Fields, f)
	}

	for i := 0; i < c.AssociationCount(); i++ {
		acc, ok, err := associationAccessor(c, c.AssociationAt(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if names[acc.Method] {
			acc.Method = "Follow" + acc.Method
		}
		names[acc.Method] = true
		d.Accessors = append(d.Accessors, acc)
	}
	if len(d.Accessors) > 0 {
		imports["context"] = true
		imports[objectImport] = true
		imports[sessionImport] = true
	}

	for imp := range imports {
		d.Imports = append(d.Imports, imp)
	}
	sort.Strings(d.Imports)
	return d, nil
}

// associationAccessor describes the method following a. Many-to-many
// associations get none.
func associationAccessor(c *mapping.Class, a *mapping.Association) (accessor, bool, error) {
	label := a.Name
	if label == "" {
		label = a.Target
	}
	acc := accessor{Association: a.Name, Type: a.Type.String(), Target: a.Target}

	var columns []string
	switch a.Type {
	case mapping.ManyToOne:
		acc.Method = inflection.Singular(GoName(label))
		columns = a.Columns
	case mapping.OneToMany:
		acc.Method = inflection.Plural(GoName(label))
		acc.Many = true
		id := c.Identity()
		if id == nil {
			return acc, false, fmt.Errorf("generate %s: association %s needs an identity", c.Name(), label)
		}
		columns = id.Columns()
	default:
		return acc, false, nil
	}

	for _, col := range columns {
		attr := findColumn(c, col)
		if attr == nil {
			return acc, false, fmt.Errorf("generate %s: association %s uses unknown column %s", c.Name(), label, col)
		}
		acc.Values = append(acc.Values, "m."+GoName(attr.Name))
	}
	return acc, true, nil
}

func findColumn(c *mapping.Class, column string) *mapping.Attribute {
	for _, a := range c.AllAttributes() {
		if strings.EqualFold(a.ColumnName(), column) || strings.EqualFold(a.Name, column) {
			return a
		}
	}
	return nil
}

var initialisms = map[string]string{
	"id": "ID", "url": "URL", "uuid": "UUID", "sql": "SQL", "http": "HTTP",
	"json": "JSON", "xml": "XML", "api": "API", "ip": "IP",
}

// GoName turns a class, attribute or association name into an exported
// Go identifier: "country_id" becomes "CountryID".
func GoName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, p := range parts {
		if up, ok := initialisms[strings.ToLower(p)]; ok {
			b.WriteString(up)
			continue
		}
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out == "" || unicode.IsDigit([]rune(out)[0]) {
		out = "X" + out
	}
	return out
}

// FileBase is the lower-case file stem of a class.
func FileBase(class string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(class, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), "_"))
}

// GoType is the field type used for a column type.
func GoType(t dataset.DataType) string {
	switch t {
	case dataset.TypeSmallInt, dataset.TypeInteger, dataset.TypeBigInt:
		return "int64"
	case dataset.TypeNumeric, dataset.TypeReal, dataset.TypeDouble:
		return "float64"
	case dataset.TypeBoolean:
		return "bool"
	case dataset.TypeDate, dataset.TypeTime, dataset.TypeTimestamp:
		return "time.Time"
	case dataset.TypeBinary:
		return "[]byte"
	case dataset.TypeUnknown:
		return "any"
	}
	return "string"
}
