package session

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// prepareRecord serializes the entity into its backing record, creating a
// new record for an object that has none. Polymorphic classes also write
// their discriminator.
func prepareRecord(c *mapping.Class, e object.Entity) error {
	o := e.Base()
	rec := o.Record()
	if rec == nil {
		rec = dataset.NewRecord()
		o.SetRecord(rec)
	}
	if err := object.ToRecord(e, rec); err != nil {
		return err
	}
	if c.Model().Context().Strategy() != mapping.Standalone {
		rec.Set(dataset.DiscriminatorField, c.Discriminator())
	}
	return nil
}

func readOnlyError(op string, c object.ClassInfo) error {
	name := "object"
	if c != nil {
		name = c.Name()
	}
	return fmt.Errorf("%s %s: %w", op, name, apperrors.ErrReadOnly)
}

// Save inserts a transient object and updates a persistent one.
func (s *Session) Save(ctx context.Context, e object.Entity) (bool, error) {
	o := e.Base()
	if o.IsReadOnly() {
		return false, readOnlyError("save", o.Class())
	}
	if o.IsTransient() {
		return s.Insert(ctx, e)
	}
	return s.Update(ctx, e)
}

// Insert stores a new object in the active backend and caches it. The
// object's OnInsert trigger can veto the insert. Backend refusals report
// false without error.
func (s *Session) Insert(ctx context.Context, e object.Entity) (bool, error) {
	o := e.Base()
	if o.IsReadOnly() {
		return false, readOnlyError("insert", o.Class())
	}
	c, err := s.classOf(e)
	if err != nil {
		return false, err
	}
	b, err := s.backend()
	if err != nil {
		return false, err
	}
	if t, ok := e.(object.Inserter); ok && !t.OnInsert(ctx) {
		s.logger.Warn("CANNOT INSERT: vetoed by trigger", zap.String("class", c.Name()))
		return false, nil
	}

	ok, err := s.insert(ctx, b, c, e)
	if err != nil || !ok {
		s.logger.Error("CANNOT INSERT",
			zap.String("class", c.Name()),
			zap.Stringer("role", b.role),
			zap.String("error", logging.SanitizeError(err)))
		return false, err
	}
	s.mutations.Add(1)
	if !s.AddObjectInCache(e) {
		s.logger.Warn("Inserted object not cached, key already present",
			zap.String("class", c.Name()),
			zap.Any("key", o.PrimaryKey()))
	}
	s.logger.Info("Inserted object", zap.String("class", c.Name()), zap.Any("key", o.PrimaryKey()))
	return true, nil
}

func (s *Session) insert(ctx context.Context, b backend, c *mapping.Class, e object.Entity) (bool, error) {
	if err := prepareRecord(c, e); err != nil {
		return false, err
	}
	switch b.role {
	case RoleDatabase:
		scope, err := s.begin(ctx, b.conn)
		if err != nil {
			return false, err
		}
		defer scope.Close(ctx)
		ok, err := c.InsertObjectInDatabase(ctx, scope.tx, b.conn.Dialect(), e)
		if err != nil || !ok {
			return false, err
		}
		if err := scope.Commit(ctx); err != nil {
			return false, err
		}
		// Bring the generated key back into the entity fields.
		if err := object.FromRecord(e, e.Base().Record()); err != nil {
			return false, err
		}
		return true, nil

	case RoleFilestore:
		ok, err := b.store.Insert(ctx, c, e)
		if err != nil || !ok {
			return false, err
		}
		return true, s.cleanRecord(c, e)

	default:
		msg, err := c.EntityMessage(e)
		if err != nil {
			return false, err
		}
		reply, err := b.peer.Insert(ctx, c.Name(), msg)
		if err != nil {
			return false, err
		}
		if err := object.FromMessage(e, reply); err != nil {
			return false, err
		}
		if e.Base().IsTransient() {
			return false, nil
		}
		return true, s.cleanRecord(c, e)
	}
}

// cleanRecord re-serializes the entity after a backend write and clears
// the record status.
func (s *Session) cleanRecord(c *mapping.Class, e object.Entity) error {
	if err := prepareRecord(c, e); err != nil {
		return err
	}
	e.Base().Record().ClearStatus()
	return nil
}

// Update writes a persistent object to the active backend. The object's
// OnUpdate trigger can veto the update.
func (s *Session) Update(ctx context.Context, e object.Entity) (bool, error) {
	o := e.Base()
	if o.IsReadOnly() {
		return false, readOnlyError("update", o.Class())
	}
	c, err := s.classOf(e)
	if err != nil {
		return false, err
	}
	if o.IsTransient() {
		return false, fmt.Errorf("update %s: object has no primary key", c.Name())
	}
	b, err := s.backend()
	if err != nil {
		return false, err
	}
	if t, ok := e.(object.Updater); ok && !t.OnUpdate(ctx) {
		s.logger.Warn("CANNOT UPDATE: vetoed by trigger", zap.String("class", c.Name()))
		return false, nil
	}

	if err := prepareRecord(c, e); err != nil {
		return false, err
	}
	var ok bool
	if b.role == RoleDatabase {
		ok, err = s.updateInTx(ctx, b, c, e)
	} else {
		ok, err = s.update(ctx, b, c, e)
	}
	if err != nil || !ok {
		s.logger.Error("CANNOT UPDATE",
			zap.String("class", c.Name()),
			zap.Any("key", o.PrimaryKey()),
			zap.String("error", logging.SanitizeError(err)))
		return false, err
	}
	s.mutations.Add(1)
	return true, nil
}

func (s *Session) updateInTx(ctx context.Context, b backend, c *mapping.Class, e object.Entity) (bool, error) {
	scope, err := s.begin(ctx, b.conn)
	if err != nil {
		return false, err
	}
	defer scope.Close(ctx)
	ok, err := c.UpdateObjectInDatabase(ctx, scope.tx, b.conn.Dialect(), e)
	if err != nil || !ok {
		return false, err
	}
	return true, scope.Commit(ctx)
}

// update writes a prepared object through the filestore or the peer.
func (s *Session) update(ctx context.Context, b backend, c *mapping.Class, e object.Entity) (bool, error) {
	var ok bool
	var err error
	switch b.role {
	case RoleFilestore:
		ok, err = b.store.Update(ctx, c, e)
	case RoleInternet:
		msg, merr := c.EntityMessage(e)
		if merr != nil {
			return false, merr
		}
		ok, err = b.peer.Update(ctx, c.Name(), msg)
	default:
		return false, fmt.Errorf("update %s: no transaction for database role", c.Name())
	}
	if err != nil || !ok {
		return false, err
	}
	e.Base().Record().ClearStatus()
	return true, nil
}

// Delete removes a persistent object from the active backend and from the
// cache. The object's OnDelete trigger can veto the delete.
func (s *Session) Delete(ctx context.Context, e object.Entity) (bool, error) {
	o := e.Base()
	if o.IsReadOnly() {
		return false, readOnlyError("delete", o.Class())
	}
	c, err := s.classOf(e)
	if err != nil {
		return false, err
	}
	if o.IsTransient() {
		return false, fmt.Errorf("delete %s: object has no primary key", c.Name())
	}
	b, err := s.backend()
	if err != nil {
		return false, err
	}
	if t, ok := e.(object.Deleter); ok && !t.OnDelete(ctx) {
		s.logger.Warn("CANNOT DELETE: vetoed by trigger", zap.String("class", c.Name()))
		return false, nil
	}

	var ok bool
	switch b.role {
	case RoleDatabase:
		ok, err = s.deleteInTx(ctx, b, c, e)
	case RoleFilestore:
		ok, err = b.store.Delete(ctx, c, e)
	default:
		msg, merr := c.EntityMessage(e)
		if merr != nil {
			return false, merr
		}
		ok, err = b.peer.Delete(ctx, c.Name(), msg)
	}
	if err != nil || !ok {
		s.logger.Error("CANNOT DELETE",
			zap.String("class", c.Name()),
			zap.Any("key", o.PrimaryKey()),
			zap.String("error", logging.SanitizeError(err)))
		return false, err
	}
	s.mutations.Add(1)
	s.RemoveObjectFromCache(e)
	if rec := o.Record(); rec != nil {
		rec.SetStatus(dataset.StatusDeleted)
		c.Dataset().Remove(rec)
	}
	s.logger.Info("Deleted object", zap.String("class", c.Name()), zap.Any("key", o.PrimaryKey()))
	return true, nil
}

func (s *Session) deleteInTx(ctx context.Context, b backend, c *mapping.Class, e object.Entity) (bool, error) {
	scope, err := s.begin(ctx, b.conn)
	if err != nil {
		return false, err
	}
	defer scope.Close(ctx)
	ok, err := c.DeleteObjectInDatabase(ctx, scope.tx, b.conn.Dialect(), e)
	if err != nil || !ok {
		return false, err
	}
	return true, scope.Commit(ctx)
}

// Synchronize writes every modified cached object in one transaction.
func (s *Session) Synchronize(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronizeLocked(ctx, s.model.Classes())
}

// SynchronizeClass writes the modified cached objects of one class and its
// subclasses in one transaction.
func (s *Session) SynchronizeClass(ctx context.Context, className string) (bool, error) {
	c, err := s.class(className)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synchronizeLocked(ctx, lookupScope(c))
}

type pending struct {
	class  *mapping.Class
	entity object.Entity
}

// dirtyLocked re-serializes the writable cached objects of classes and
// returns those whose record ended up flagged as updated.
func (s *Session) dirtyLocked(classes []*mapping.Class) ([]pending, error) {
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID() < classes[j].ID() })
	var out []pending
	for _, c := range classes {
		for _, e := range sortedSegment(s.cache[c.ID()]) {
			o := e.Base()
			if o.IsReadOnly() || o.IsTransient() {
				continue
			}
			if err := prepareRecord(c, e); err != nil {
				return nil, err
			}
			if o.Record().HasStatus(dataset.StatusUpdated) {
				out = append(out, pending{class: c, entity: e})
			}
		}
	}
	return out, nil
}

// synchronizeLocked updates the dirty objects. Any failure stops the walk;
// in the database role the whole transaction is rolled back and the
// records written so far are flagged as updated again.
func (s *Session) synchronizeLocked(ctx context.Context, classes []*mapping.Class) (bool, error) {
	b, err := s.backendLocked()
	if err != nil {
		return false, err
	}
	dirty, err := s.dirtyLocked(append([]*mapping.Class(nil), classes...))
	if err != nil {
		return false, err
	}
	if len(dirty) == 0 {
		return true, nil
	}

	if b.role != RoleDatabase {
		for _, p := range dirty {
			ok, err := s.update(ctx, b, p.class, p.entity)
			if err != nil || !ok {
				s.logger.Error("Synchronize stopped",
					zap.String("class", p.class.Name()),
					zap.String("error", logging.SanitizeError(err)))
				return false, err
			}
			s.mutations.Add(1)
		}
		return true, nil
	}

	scope, err := s.begin(ctx, b.conn)
	if err != nil {
		return false, err
	}
	defer scope.Close(ctx)

	var written []*dataset.Record
	fail := func(p pending, err error) (bool, error) {
		for _, rec := range written {
			rec.SetStatus(dataset.StatusUpdated)
		}
		s.logger.Error("Synchronize rolled back",
			zap.String("class", p.class.Name()),
			zap.Any("key", p.entity.Base().PrimaryKey()),
			zap.String("error", logging.SanitizeError(err)))
		return false, err
	}
	for _, p := range dirty {
		ok, err := p.class.UpdateObjectInDatabase(ctx, scope.tx, b.conn.Dialect(), p.entity)
		if err != nil || !ok {
			return fail(p, err)
		}
		written = append(written, p.entity.Base().Record())
	}
	if err := scope.Commit(ctx); err != nil {
		return fail(dirty[len(dirty)-1], err)
	}
	s.mutations.Add(int64(len(dirty)))
	s.logger.Info("Synchronized", zap.Int("objects", len(dirty)))
	return true, nil
}
