// Package object implements the base persistent instance: the primary key,
// the backing record, the read-only flag and the ordered serialization of an
// entity to and from records and messages.
package object

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// HashFunc computes the cache key of an object from its primary key values.
type HashFunc func(key []any) string

// ClassInfo is what an object needs to know about its mapped class.
type ClassInfo interface {
	Name() string
	RootName() string
	Discriminator() string
	// PrimaryKeyNames lists the identity columns in key order.
	PrimaryKeyNames() []string
	// HashFunc returns the override registered for the class hierarchy, or nil.
	HashFunc() HashFunc
}

// Object is embedded (directly or through a superclass struct) by every
// persistent type.
type Object struct {
	class    ClassInfo
	key      []any
	record   *dataset.Record
	readOnly bool
}

// Base returns the object itself. Embedding types get it promoted, which is
// how they satisfy Entity.
func (o *Object) Base() *Object { return o }

// Class returns the mapped class, or nil before SetClass.
func (o *Object) Class() ClassInfo { return o.class }

// SetClass attaches the mapped class. It can be set once; setting the same
// class again is a no-op.
func (o *Object) SetClass(c ClassInfo) error {
	if c == nil {
		return fmt.Errorf("set class: nil class")
	}
	if o.class != nil {
		if o.class == c {
			return nil
		}
		return apperrors.Configf("set class", "object of class %s cannot become %s", o.class.Name(), c.Name())
	}
	o.class = c
	return nil
}

// PrimaryKey returns a copy of the key values in identity order.
func (o *Object) PrimaryKey() []any {
	out := make([]any, len(o.key))
	copy(out, o.key)
	return out
}

// SetPrimaryKey replaces the key. The value count must match the class identity.
func (o *Object) SetPrimaryKey(values []any) error {
	if o.class != nil {
		if want := len(o.class.PrimaryKeyNames()); want != len(values) {
			return &apperrors.MismatchError{Op: "set primary key", Want: want, Got: len(values)}
		}
	}
	o.key = make([]any, len(values))
	for i, v := range values {
		o.key[i] = dataset.Normalize(v)
	}
	return nil
}

// ResetPrimaryKey makes the object transient again.
func (o *Object) ResetPrimaryKey() { o.key = nil }

// IsPersistent reports whether every key part is populated.
func (o *Object) IsPersistent() bool {
	if len(o.key) == 0 {
		return false
	}
	for _, v := range o.key {
		if dataset.IsEmpty(v) {
			return false
		}
	}
	return true
}

// IsTransient is the negation of IsPersistent.
func (o *Object) IsTransient() bool { return !o.IsPersistent() }

// Record returns the backing record, or nil.
func (o *Object) Record() *dataset.Record { return o.record }

// SetRecord replaces the backing record.
func (o *Object) SetRecord(r *dataset.Record) { o.record = r }

// SwapRecord installs r as the backing record and returns a function that
// restores the previous one.
func (o *Object) SwapRecord(r *dataset.Record) (restore func()) {
	prev := o.record
	o.record = r
	return func() { o.record = prev }
}

func (o *Object) IsReadOnly() bool { return o.readOnly }

// SetReadOnly marks the object as a shadow copy that must not be written.
func (o *Object) SetReadOnly(ro bool) { o.readOnly = ro }

// Touch flags the backing record as updated so the next synchronize writes it.
func (o *Object) Touch() {
	if o.record != nil {
		o.record.SetStatus(dataset.StatusUpdated)
	}
}

// Compare orders objects by their key values. A shorter key sorts first
// when all shared parts are equal.
func (o *Object) Compare(other *Object) int {
	n := min(len(o.key), len(other.key))
	for i := 0; i < n; i++ {
		if c := dataset.Compare(o.key[i], other.key[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(o.key) < len(other.key):
		return -1
	case len(o.key) > len(other.key):
		return 1
	}
	return 0
}

// Hashcode is the cache key of the object.
func (o *Object) Hashcode() string {
	var f HashFunc
	if o.class != nil {
		f = o.class.HashFunc()
	}
	return HashKey(f, o.key)
}

// KeySeparator joins key parts in the default hash.
const KeySeparator = "\x01"

// HashKey computes the cache key of a key value list with f, or with the
// default formatting when f is nil.
func HashKey(f HashFunc, key []any) string {
	if f != nil {
		return f(key)
	}
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = dataset.FormatValue(v)
	}
	return strings.Join(parts, KeySeparator)
}

// deriveKey reads the key columns from get. It leaves the key untouched and
// returns false when a column is missing.
func (o *Object) deriveKey(get func(string) (any, bool)) bool {
	if o.class == nil {
		return false
	}
	names := o.class.PrimaryKeyNames()
	if len(names) == 0 {
		return false
	}
	key := make([]any, len(names))
	for i, n := range names {
		v, ok := get(n)
		if !ok {
			return false
		}
		key[i] = dataset.Normalize(v)
	}
	o.key = key
	return true
}

// DeriveKeyFromRecord sets the key from the record's identity columns.
func (o *Object) DeriveKeyFromRecord(r *dataset.Record) bool {
	return o.deriveKey(r.Get)
}

func (o *Object) sameKey(get func(string) (any, bool)) bool {
	names := o.class.PrimaryKeyNames()
	for i, n := range names {
		v, ok := get(n)
		if !ok || dataset.IsEmpty(v) {
			continue
		}
		if i < len(o.key) && dataset.Compare(o.key[i], v) != 0 {
			return false
		}
	}
	return true
}
