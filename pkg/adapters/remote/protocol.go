// Package remote implements the internet role: a client that forwards
// select, insert, update and delete calls to a peer server as XML
// request/response envelopes.
package remote

import (
	"encoding/xml"
	"fmt"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
)

// Remote operations.
const (
	ActionSelect   = "select"
	ActionInsert   = "insert"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionDescribe = "describe"
)

// Result markers and fault actors.
const (
	ResultOK    = "OK"
	ResultFault = "FAULT"

	ActorClient = "Client"
	ActorServer = "Server"
)

// EntityTag is the element tag of a serialized object.
const EntityTag = mapping.EntityTag

// Filter is one {Column, Operator, Value...} triple.
type Filter struct {
	Column   string          `xml:"column,attr"`
	Operator string          `xml:"operator,attr"`
	Values   []message.Field `xml:"Value"`
}

// Request is the envelope posted to the peer.
type Request struct {
	XMLName xml.Name           `xml:"Request"`
	ID      string             `xml:"id,attr,omitempty"`
	Action  string             `xml:"action,attr"`
	Entity  string             `xml:"entity,attr"`
	Filters []Filter           `xml:"Filter"`
	OrderBy []string           `xml:"OrderBy"`
	Objects []*message.Element `xml:"Entity"`
}

// Fault describes a failed remote operation.
type Fault struct {
	Actor  string `xml:"actor,attr"`
	Action string `xml:"action,attr"`
	Reason string `xml:",chardata"`
}

func (f *Fault) String() string {
	return fmt.Sprintf("%s fault in %s: %s", f.Actor, f.Action, f.Reason)
}

// Response is the peer's answer. Result is ResultOK or ResultFault.
type Response struct {
	XMLName    xml.Name           `xml:"Response"`
	ID         string             `xml:"id,attr,omitempty"`
	Result     string             `xml:"Result"`
	Fault      *Fault             `xml:"Fault,omitempty"`
	Objects    []*message.Element `xml:"Entity"`
	Attributes []*message.Element `xml:"Attribute"`
}

// OK builds a successful response.
func OK(id string, objects ...*message.Element) *Response {
	return &Response{ID: id, Result: ResultOK, Objects: objects}
}

// Faultf builds a fault response.
func Faultf(id, actor, action, format string, args ...any) *Response {
	return &Response{
		ID:     id,
		Result: ResultFault,
		Fault:  &Fault{Actor: actor, Action: action, Reason: fmt.Sprintf(format, args...)},
	}
}

// FiltersOf converts a filter set to its wire form.
func FiltersOf(fs dataset.FilterSet) []Filter {
	out := make([]Filter, len(fs))
	for i, f := range fs {
		w := Filter{Column: f.Column, Operator: f.Operator}
		for _, v := range f.Values {
			w.Values = append(w.Values, message.FieldOf("", v))
		}
		out[i] = w
	}
	return out
}

// FilterSetOf decodes wire filters.
func FilterSetOf(filters []Filter) (dataset.FilterSet, error) {
	out := make(dataset.FilterSet, len(filters))
	for i, w := range filters {
		f := dataset.Filter{Column: w.Column, Operator: w.Operator}
		for j := range w.Values {
			v, err := w.Values[j].Decode()
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", w.Column, err)
			}
			f.Values = append(f.Values, v)
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
