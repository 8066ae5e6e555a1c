// Package message implements the self-describing hierarchical message used
// for table metadata files, filestore objects and the remote peer protocol.
// Every value is written together with its type so it can be read back
// without a schema.
package message

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Value type tags.
const (
	TypeNull   = "null"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
	TypeBool   = "bool"
	TypeTime   = "time"
	TypeBytes  = "bytes"
)

// Field is one typed, named value.
type Field struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// Element is a named node holding fields and child elements.
type Element struct {
	XMLName  xml.Name
	Name     string     `xml:"name,attr,omitempty"`
	Fields   []Field    `xml:"Field"`
	Children []*Element `xml:",any"`
}

// New returns an element with the given tag and name attribute.
func New(tag, name string) *Element {
	return &Element{XMLName: xml.Name{Local: tag}, Name: name}
}

// Tag returns the element tag.
func (e *Element) Tag() string { return e.XMLName.Local }

// Set stores a typed field, replacing an existing field of the same name.
func (e *Element) Set(name string, v any) *Element {
	typ, text := encodeValue(v)
	for i := range e.Fields {
		if strings.EqualFold(e.Fields[i].Name, name) {
			e.Fields[i] = Field{Name: name, Type: typ, Value: text}
			return e
		}
	}
	e.Fields = append(e.Fields, Field{Name: name, Type: typ, Value: text})
	return e
}

// Lookup returns the named field.
func (e *Element) Lookup(name string) (*Field, bool) {
	for i := range e.Fields {
		if strings.EqualFold(e.Fields[i].Name, name) {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// Get decodes the named field. A missing field yields (nil, false, nil).
func (e *Element) Get(name string) (any, bool, error) {
	f, ok := e.Lookup(name)
	if !ok {
		return nil, false, nil
	}
	v, err := f.Decode()
	return v, true, err
}

// String returns the named field as text, or "" when absent.
func (e *Element) String(name string) string {
	f, ok := e.Lookup(name)
	if !ok || f.Type == TypeNull {
		return ""
	}
	return f.Value
}

// Int returns the named integer field, or 0.
func (e *Element) Int(name string) int64 {
	v, _, _ := e.Get(name)
	if i, ok := dataset.Normalize(v).(int64); ok {
		return i
	}
	return 0
}

// Bool returns the named boolean field, or false.
func (e *Element) Bool(name string) bool {
	v, _, _ := e.Get(name)
	b, _ := v.(bool)
	return b
}

// Add appends a child element and returns it.
func (e *Element) Add(child *Element) *Element {
	e.Children = append(e.Children, child)
	return child
}

// Child returns the first child with the given tag.
func (e *Element) Child(tag string) *Element {
	for _, c := range e.Children {
		if c.Tag() == tag {
			return c
		}
	}
	return nil
}

// ChildrenOf returns every child with the given tag.
func (e *Element) ChildrenOf(tag string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Tag() == tag {
			out = append(out, c)
		}
	}
	return out
}

// FieldOf builds a typed field outside any element.
func FieldOf(name string, v any) Field {
	typ, text := encodeValue(v)
	return Field{Name: name, Type: typ, Value: text}
}

// Decode converts the field text back to a Go value.
func (f *Field) Decode() (any, error) {
	switch f.Type {
	case TypeNull:
		return nil, nil
	case TypeInt:
		i, err := strconv.ParseInt(strings.TrimSpace(f.Value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return i, nil
	case TypeFloat:
		x, err := strconv.ParseFloat(strings.TrimSpace(f.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return x, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(f.Value))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return b, nil
	case TypeTime:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(f.Value))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return t, nil
	case TypeBytes:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(f.Value))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return b, nil
	case TypeString, "":
		return f.Value, nil
	}
	return nil, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
}

func encodeValue(v any) (string, string) {
	switch x := dataset.Normalize(v).(type) {
	case nil:
		return TypeNull, ""
	case int64:
		return TypeInt, strconv.FormatInt(x, 10)
	case float64:
		return TypeFloat, strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return TypeBool, strconv.FormatBool(x)
	case time.Time:
		return TypeTime, x.Format(time.RFC3339Nano)
	case []byte:
		return TypeBytes, base64.StdEncoding.EncodeToString(x)
	case string:
		return TypeString, x
	default:
		return TypeString, dataset.FormatValue(x)
	}
}

// Encode writes the element as an indented XML document.
func Encode(w io.Writer, e *Element) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode %s: %w", e.Tag(), err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Decode reads one element.
func Decode(r io.Reader) (*Element, error) {
	var e Element
	if err := xml.NewDecoder(r).Decode(&e); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &e, nil
}

// Marshal renders the element into a byte slice.
func Marshal(e *Element) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile stores the element, creating parent directories.
func WriteFile(path string, e *Element) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	data, err := Marshal(e)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads an element.
func ReadFile(path string) (*Element, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
