package session

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// uniqueScope lists the classes sharing a key space with c: the whole
// hierarchy when it shares rows, c alone under standalone mapping.
func uniqueScope(c *mapping.Class) []*mapping.Class {
	if c.Model().Context().Strategy() == mapping.Standalone {
		return []*mapping.Class{c}
	}
	root := c.Root()
	return append([]*mapping.Class{root}, root.Descendants()...)
}

// lookupScope lists the classes whose cached objects are instances of c.
func lookupScope(c *mapping.Class) []*mapping.Class {
	if c.Model().Context().Strategy() == mapping.Standalone {
		return []*mapping.Class{c}
	}
	return append([]*mapping.Class{c}, c.Descendants()...)
}

func (s *Session) findLocked(classes []*mapping.Class, hash string) object.Entity {
	for _, k := range classes {
		if e, ok := s.cache[k.ID()][hash]; ok {
			return e
		}
	}
	return nil
}

// AddObjectInCache caches a persistent object under its concrete class.
// When the key is already cached the object is marked read-only and false
// is returned; the cached object is never replaced.
func (s *Session) AddObjectInCache(e object.Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(e)
}

func (s *Session) addLocked(e object.Entity) bool {
	c, err := s.classOf(e)
	if err != nil {
		s.logger.Error("Cannot cache object", zap.Error(err))
		return false
	}
	o := e.Base()
	if o.IsTransient() {
		return false
	}
	hash := o.Hashcode()
	if cached := s.findLocked(uniqueScope(c), hash); cached != nil {
		if cached.Base() != o {
			o.SetReadOnly(true)
		}
		return false
	}
	seg, ok := s.cache[c.ID()]
	if !ok {
		seg = make(map[string]object.Entity)
		s.cache[c.ID()] = seg
	}
	seg[hash] = e
	return true
}

// RemoveObjectFromCache drops the object if it is the cached instance of
// its key.
func (s *Session) RemoveObjectFromCache(e object.Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(e)
}

func (s *Session) removeLocked(e object.Entity) bool {
	c, err := s.classOf(e)
	if err != nil {
		return false
	}
	hash := e.Base().Hashcode()
	seg := s.cache[c.ID()]
	if cached, ok := seg[hash]; ok && cached.Base() == e.Base() {
		delete(seg, hash)
		return true
	}
	return false
}

// FindObjectInCache returns the cached instance of a class (or of one of
// its subclasses) with the given key, or nil.
func (s *Session) FindObjectInCache(className string, key ...any) (object.Entity, error) {
	c, err := s.class(className)
	if err != nil {
		return nil, err
	}
	if want := len(c.PrimaryKeyNames()); want != len(key) {
		return nil, fmt.Errorf("find %s in cache: expected %d key values, got %d", c.Name(), want, len(key))
	}
	hash := object.HashKey(c.HashFunc(), normalize(key))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(lookupScope(c), hash), nil
}

// CachedObjects returns the cached objects of a class and its subclasses,
// ordered by key.
func (s *Session) CachedObjects(className string) ([]object.Entity, error) {
	c, err := s.class(className)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []object.Entity
	for _, k := range lookupScope(c) {
		out = append(out, sortedSegment(s.cache[k.ID()])...)
	}
	return out, nil
}

// ClearCache drops every cached object.
func (s *Session) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCacheLocked()
}

func (s *Session) clearCacheLocked() {
	s.cache = make(map[mapping.ClassID]map[string]object.Entity)
}

func sortedSegment(seg map[string]object.Entity) []object.Entity {
	out := make([]object.Entity, 0, len(seg))
	for _, e := range seg {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base().Compare(out[j].Base()) < 0 })
	return out
}

func normalize(key []any) []any {
	out := make([]any, len(key))
	for i, v := range key {
		out[i] = dataset.Normalize(v)
	}
	return out
}
