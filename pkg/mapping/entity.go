package mapping

import (
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// EntityTag is the element tag of a serialized object.
const EntityTag = "Entity"

// NewEntity creates a zero entity of the class through its factory, or a
// generic entity over the class columns when none is registered.
func (c *Class) NewEntity() (object.Entity, error) {
	var e object.Entity
	if c.factory != nil {
		e = c.factory()
	} else {
		e = object.NewGeneric(c.ColumnNames())
	}
	if err := e.Base().SetClass(c); err != nil {
		return nil, err
	}
	return e, nil
}

// ConcreteClass picks the class a stored row belongs to from its
// discriminator. It returns c when the row has none or names no class of
// the hierarchy below c.
func (c *Class) ConcreteClass(get func(string) (any, bool)) *Class {
	if c.strategy() == Standalone {
		return c
	}
	v, ok := get(dataset.DiscriminatorField)
	if !ok || v == nil {
		return c
	}
	d := dataset.FormatValue(v)
	if strings.EqualFold(c.Discriminator(), d) {
		return c
	}
	for _, k := range c.Descendants() {
		if strings.EqualFold(k.Discriminator(), d) {
			return k
		}
	}
	return c
}

// EntityMessage serializes an entity into an Entity element. Under
// polymorphic strategies the element carries the discriminator.
func (c *Class) EntityMessage(e object.Entity) (*message.Element, error) {
	msg := message.New(EntityTag, c.name)
	if err := object.ToMessage(e, msg); err != nil {
		return nil, err
	}
	if c.strategy() != Standalone {
		msg.Set(dataset.DiscriminatorField, c.Discriminator())
	}
	return msg, nil
}

// MessageGetter reads typed fields of an element, treating undecodable
// values as absent.
func MessageGetter(e *message.Element) func(string) (any, bool) {
	return func(name string) (any, bool) {
		v, ok, err := e.Get(name)
		if err != nil {
			return nil, false
		}
		return v, ok
	}
}
