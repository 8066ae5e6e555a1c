package object

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
)

// Entity is a persistent type: a struct embedding Object with a Bind method
// listing its mapped columns.
type Entity interface {
	Base() *Object
	Bind(b *Binder)
}

// Factory creates a zero entity of one class.
type Factory func() Entity

// Loader is called after an entity is loaded and cached.
type Loader interface {
	OnLoad(ctx context.Context)
}

// Inserter gates an insert. Returning false vetoes it.
type Inserter interface {
	OnInsert(ctx context.Context) bool
}

// Updater gates an update. Returning false vetoes it.
type Updater interface {
	OnUpdate(ctx context.Context) bool
}

// Deleter gates a delete. Returning false vetoes it.
type Deleter interface {
	OnDelete(ctx context.Context) bool
}

func checkClass(e Entity) (*Object, error) {
	o := e.Base()
	if o.class == nil {
		return nil, fmt.Errorf("entity %T has no class", e)
	}
	return o, nil
}

// ToRecord writes the entity into rec. The object key is left alone: a
// transient object becomes persistent only once a backend accepts it.
func ToRecord(e Entity, rec *dataset.Record) error {
	o, err := checkClass(e)
	if err != nil {
		return err
	}
	b := &Binder{mode: toRecord, rec: rec}
	e.Bind(b)
	if b.err != nil {
		return fmt.Errorf("serialize %s: %w", o.class.Name(), b.err)
	}
	return nil
}

// FromRecord fills the entity from rec. The first record an object is read
// from becomes its backing record.
func FromRecord(e Entity, rec *dataset.Record) error {
	o, err := checkClass(e)
	if err != nil {
		return err
	}
	if o.IsPersistent() && !o.sameKey(rec.Get) {
		return fmt.Errorf("deserialize %s: record key does not match object key %v", o.class.Name(), o.key)
	}
	o.deriveKey(rec.Get)

	b := &Binder{mode: fromRecord, rec: rec}
	e.Bind(b)
	if b.err != nil {
		return fmt.Errorf("deserialize %s: %w", o.class.Name(), b.err)
	}

	if o.record == nil {
		o.record = rec
	}
	if o.IsTransient() {
		o.deriveKey(rec.Get)
	}
	return nil
}

// ToMessage writes the entity fields into msg.
func ToMessage(e Entity, msg *message.Element) error {
	o, err := checkClass(e)
	if err != nil {
		return err
	}
	b := &Binder{mode: toMessage, msg: msg}
	e.Bind(b)
	if b.err != nil {
		return fmt.Errorf("serialize %s: %w", o.class.Name(), b.err)
	}
	return nil
}

// FromMessage fills the entity from msg and derives its key.
func FromMessage(e Entity, msg *message.Element) error {
	o, err := checkClass(e)
	if err != nil {
		return err
	}
	get := func(name string) (any, bool) {
		v, ok, err := msg.Get(name)
		if err != nil {
			return nil, false
		}
		return v, ok
	}
	if o.IsPersistent() && !o.sameKey(get) {
		return fmt.Errorf("deserialize %s: message key does not match object key %v", o.class.Name(), o.key)
	}

	b := &Binder{mode: fromMessage, msg: msg}
	e.Bind(b)
	if b.err != nil {
		return fmt.Errorf("deserialize %s: %w", o.class.Name(), b.err)
	}
	o.deriveKey(get)
	return nil
}

// Checkpoint captures the fields and the backing record of e. The returned
// function puts both back, undoing any FromMessage, FromRecord or record
// preparation applied since.
func Checkpoint(e Entity) (rollback func() error, err error) {
	o, err := checkClass(e)
	if err != nil {
		return nil, err
	}
	fields := dataset.NewRecord()
	if err := ToRecord(e, fields); err != nil {
		return nil, err
	}
	var saved *dataset.Record
	if o.record != nil {
		saved = o.record.Clone()
	}
	return func() error {
		b := &Binder{mode: fromRecord, rec: fields}
		e.Bind(b)
		switch {
		case saved == nil:
			o.record = nil
		case o.record != nil:
			o.record.Restore(saved)
		default:
			o.record = saved
		}
		if b.err != nil {
			return fmt.Errorf("rollback %s: %w", o.class.Name(), b.err)
		}
		return nil
	}, nil
}
