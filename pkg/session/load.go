package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// Load returns the object of a class with the given primary key, from the
// cache or else from the active backend. It returns nil without error when
// no object exists. A backend hit is cached and its OnLoad trigger fires;
// when another instance of the key was cached meanwhile, the loaded object
// is discarded and nil is returned.
func (s *Session) Load(ctx context.Context, className string, key ...any) (object.Entity, error) {
	c, err := s.class(className)
	if err != nil {
		return nil, err
	}
	if want := len(c.PrimaryKeyNames()); want != len(key) {
		return nil, &apperrors.MismatchError{Op: "load " + c.Name(), Want: want, Got: len(key)}
	}
	key = normalize(key)
	hash := object.HashKey(c.HashFunc(), key)

	s.mu.Lock()
	cached := s.findLocked(lookupScope(c), hash)
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	e, err := s.fetch(ctx, b, c, key)
	if err != nil || e == nil {
		return nil, err
	}
	if !s.AddObjectInCache(e) {
		s.logger.Error("Loaded object is already cached, discarding it",
			zap.String("class", c.Name()),
			zap.Any("key", key))
		return nil, nil
	}
	fireLoad(ctx, e)
	return e, nil
}

func (s *Session) fetch(ctx context.Context, b backend, c *mapping.Class, key []any) (object.Entity, error) {
	switch b.role {
	case RoleDatabase:
		scope, err := s.begin(ctx, b.conn)
		if err != nil {
			return nil, err
		}
		defer scope.Close(ctx)
		rows, err := c.SelectObjectInDatabase(ctx, scope.tx, b.conn.Dialect(), key)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, scope.Commit(ctx)
		}
		e, err := s.fromRecord(ctx, scope.tx, b.conn.Dialect(), c, rows[0])
		if err != nil {
			return nil, err
		}
		return e, scope.Commit(ctx)

	case RoleFilestore:
		msg, err := b.store.Select(ctx, c, key)
		if err != nil || msg == nil {
			return nil, err
		}
		return s.fromMessage(c, msg)

	default:
		fs, err := c.BuildPrimaryKeyFilter(key)
		if err != nil {
			return nil, err
		}
		list, err := b.peer.Select(ctx, c.Name(), fs, nil)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return s.fromMessage(c, list[0])
	}
}

// LoadWhere returns the objects of a class matching filters, in orderBy
// order. Objects already cached are returned as cached; the others are
// cached and get their OnLoad trigger once the whole set is built.
func (s *Session) LoadWhere(ctx context.Context, className string, filters dataset.FilterSet, orderBy []string) ([]object.Entity, error) {
	c, err := s.class(className)
	if err != nil {
		return nil, err
	}
	b, err := s.backend()
	if err != nil {
		return nil, err
	}

	var built []object.Entity
	switch b.role {
	case RoleDatabase:
		built, err = s.selectRows(ctx, b.conn, c, filters, orderBy)
	case RoleFilestore:
		var list []*message.Element
		if list, err = b.store.SelectWhere(ctx, c, filters, orderBy); err == nil {
			built, err = s.fromMessages(c, list)
		}
	default:
		var list []*message.Element
		if list, err = b.peer.Select(ctx, c.Name(), filters, orderBy); err == nil {
			built, err = s.fromMessages(c, list)
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]object.Entity, 0, len(built))
	var (
		fresh []object.Entity
		rows  []*dataset.Record
	)
	s.mu.Lock()
	for _, e := range built {
		if cached := s.findLocked(uniqueScope(c), e.Base().Hashcode()); cached != nil {
			out = append(out, cached)
			continue
		}
		out = append(out, e)
		if !s.addLocked(e) {
			continue
		}
		fresh = append(fresh, e)
		if b.role == RoleDatabase {
			rows = append(rows, e.Base().Record())
		}
	}
	s.mu.Unlock()
	// only rows of newly cached objects join the class dataset
	if len(rows) > 0 {
		c.Dataset().Append(rows)
	}

	for _, e := range fresh {
		fireLoad(ctx, e)
	}
	s.logger.Debug("Loaded objects",
		zap.String("class", c.Name()),
		zap.Int("count", len(out)),
		zap.Int("new", len(fresh)))
	return out, nil
}

// selectRows runs a filtered select in its own transaction. A row that
// yields no primary key is dropped.
func (s *Session) selectRows(ctx context.Context, conn datasource.Connection, c *mapping.Class, filters dataset.FilterSet, orderBy []string) ([]object.Entity, error) {
	scope, err := s.begin(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer scope.Close(ctx)

	rows, err := c.SelectInDatabase(ctx, scope.tx, conn.Dialect(), filters, orderBy)
	if err != nil {
		return nil, err
	}
	out := make([]object.Entity, 0, len(rows))
	for _, rec := range rows {
		e, err := s.fromRecord(ctx, scope.tx, conn.Dialect(), c, rec)
		if err != nil {
			return nil, err
		}
		if e.Base().IsTransient() {
			s.logger.Warn("Row has no primary key, dropped", zap.String("class", c.Name()))
			continue
		}
		out = append(out, e)
	}
	return out, scope.Commit(ctx)
}

// fromRecord builds the entity of a row. Under sub_table a row of a
// subclass is re-read through the subclass so every table is joined in.
func (s *Session) fromRecord(ctx context.Context, q datasource.Querier, d *dataset.Dialect, c *mapping.Class, rec *dataset.Record) (object.Entity, error) {
	concrete := c.ConcreteClass(rec.Get)
	if concrete != c && c.Model().Context().Strategy() == mapping.SubTable {
		key := make([]any, 0, len(c.PrimaryKeyNames()))
		for _, n := range c.PrimaryKeyNames() {
			key = append(key, rec.Value(n))
		}
		rows, err := concrete.SelectObjectInDatabase(ctx, q, d, key)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			rec = rows[0]
		}
	}
	e, err := concrete.NewEntity()
	if err != nil {
		return nil, err
	}
	if err := object.FromRecord(e, rec); err != nil {
		return nil, err
	}
	return e, nil
}

// fromMessage builds the entity of a stored or received element and gives
// it a clean backing record.
func (s *Session) fromMessage(c *mapping.Class, msg *message.Element) (object.Entity, error) {
	concrete := c.ConcreteClass(mapping.MessageGetter(msg))
	e, err := concrete.NewEntity()
	if err != nil {
		return nil, err
	}
	if err := object.FromMessage(e, msg); err != nil {
		return nil, err
	}
	if err := prepareRecord(concrete, e); err != nil {
		return nil, err
	}
	e.Base().Record().ClearStatus()
	return e, nil
}

func (s *Session) fromMessages(c *mapping.Class, list []*message.Element) ([]object.Entity, error) {
	out := make([]object.Entity, 0, len(list))
	for _, msg := range list {
		e, err := s.fromMessage(c, msg)
		if err != nil {
			return nil, err
		}
		if e.Base().IsTransient() {
			s.logger.Warn("Entity has no primary key, dropped", zap.String("class", c.Name()))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FollowAssociation loads the objects linked to e. The association is
// found by name, or by target class when name is empty. Many-to-one loads
// the target with values as its key; one-to-many matches values against
// the association columns of the target. Many-to-many is not implemented.
func (s *Session) FollowAssociation(ctx context.Context, e object.Entity, targetClass string, values []any, name string) ([]object.Entity, error) {
	c, err := s.classOf(e)
	if err != nil {
		return nil, err
	}
	a, err := c.FindAssociation(name, targetClass)
	if err != nil {
		return nil, err
	}
	target := s.model.Class(a.TargetID())
	if target == nil {
		return nil, apperrors.Configf("follow association", "association %s of %s is not linked", a.Name, c.Name())
	}

	switch a.Type {
	case mapping.ManyToOne:
		found, err := s.Load(ctx, target.Name(), values...)
		if err != nil || found == nil {
			return nil, err
		}
		return []object.Entity{found}, nil
	case mapping.OneToMany:
		fs, err := target.BuildFilter(a.Attributes(), values)
		if err != nil {
			return nil, err
		}
		return s.LoadWhere(ctx, target.Name(), fs, nil)
	}
	return nil, fmt.Errorf("follow %s association %s: %w", a.Type, a.Name, apperrors.ErrNotImplemented)
}

func fireLoad(ctx context.Context, e object.Entity) {
	if l, ok := e.(object.Loader); ok {
		l.OnLoad(ctx)
	}
}
