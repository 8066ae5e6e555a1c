// Package filestore persists objects as one XML message file each, under a
// directory per table:
//
//	<base>/<catalog_schema_table>/Object_<hash>.xml
//
// The hash is the business-key hash used by the session cache.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

const filePrefix = "Object_"

// Store is the filestore backend. Writes are serialized so generated keys
// stay unique within the process.
type Store struct {
	base   string
	logger *zap.Logger
	mu     sync.Mutex
}

// New returns a store rooted at base.
func New(base string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{base: base, logger: logger.Named("filestore")}
}

// Base returns the root directory.
func (s *Store) Base() string { return s.base }

// storageClass picks the class whose directory holds c's objects. Every
// class of a polymorphic hierarchy shares the root's directory so that
// discriminator filters see subclass objects.
func storageClass(c *mapping.Class) *mapping.Class {
	if c.Model().Context().Strategy() == mapping.Standalone {
		return c
	}
	return c.Root()
}

// Dir returns the directory of a class.
func (s *Store) Dir(c *mapping.Class) (string, error) {
	t, err := storageClass(c).Table()
	if err != nil {
		return "", err
	}
	return filepath.Join(s.base, strings.ReplaceAll(t.QualifiedName(), ".", "_")), nil
}

// FileName turns a key hash into a file name. Control characters and path
// separators become underscores.
func FileName(hash string) string {
	safe := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, hash)
	return filePrefix + safe + ".xml"
}

// Path returns the file of the object with the given key.
func (s *Store) Path(c *mapping.Class, key []any) (string, error) {
	dir, err := s.Dir(c)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName(object.HashKey(c.HashFunc(), key))), nil
}

// belongs reports whether a stored entity is an instance of c.
func belongs(c *mapping.Class, e *message.Element) (bool, error) {
	f, ok := c.ClassFilter()
	if !ok {
		return true, nil
	}
	return dataset.FilterSet{f}.Match(mapping.MessageGetter(e))
}

// Select reads the object with the given key. A missing file yields nil
// without error.
func (s *Store) Select(ctx context.Context, c *mapping.Class, key []any) (*message.Element, error) {
	if len(key) == 0 {
		return nil, nil
	}
	path, err := s.Path(c, key)
	if err != nil {
		return nil, err
	}
	e, err := message.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore select %s: %w", c.Name(), err)
	}
	ok, err := belongs(c, e)
	if err != nil || !ok {
		return nil, err
	}
	return e, nil
}

// SelectWhere reads every object of the class matching filters, sorted by
// orderBy entries ("attr [ASC|DESC]"). An absent directory yields nothing.
func (s *Store) SelectWhere(ctx context.Context, c *mapping.Class, filters dataset.FilterSet, orderBy []string) ([]*message.Element, error) {
	all, err := s.readAll(c)
	if err != nil {
		return nil, err
	}
	set := append(dataset.FilterSet(nil), filters...)
	if f, ok := c.ClassFilter(); ok {
		set = append(set, f)
	}
	var out []*message.Element
	for _, e := range all {
		ok, err := set.Match(mapping.MessageGetter(e))
		if err != nil {
			return nil, fmt.Errorf("filestore select %s: %w", c.Name(), err)
		}
		if ok {
			out = append(out, e)
		}
	}
	if err := sortEntities(out, orderBy); err != nil {
		return nil, fmt.Errorf("filestore select %s: %w", c.Name(), err)
	}
	return out, nil
}

func (s *Store) readAll(c *mapping.Class) ([]*message.Element, error) {
	dir, err := s.Dir(c)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore read %s: %w", dir, err)
	}
	var out []*message.Element
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, filePrefix) || filepath.Ext(name) != ".xml" {
			continue
		}
		e, err := message.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("filestore read %s: %w", name, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func sortEntities(list []*message.Element, orderBy []string) error {
	type term struct {
		field string
		desc  bool
	}
	terms := make([]term, 0, len(orderBy))
	for _, o := range orderBy {
		f := strings.Fields(o)
		if len(f) == 0 || len(f) > 2 {
			return fmt.Errorf("bad order entry %q", o)
		}
		t := term{field: f[0]}
		if len(f) == 2 {
			switch strings.ToUpper(f[1]) {
			case "ASC":
			case "DESC":
				t.desc = true
			default:
				return fmt.Errorf("bad order direction %q", f[1])
			}
		}
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return nil
	}
	sort.SliceStable(list, func(i, j int) bool {
		for _, t := range terms {
			a, _, _ := list[i].Get(t.field)
			b, _, _ := list[j].Get(t.field)
			c := dataset.Compare(a, b)
			if c == 0 {
				continue
			}
			if t.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// generator returns the generated column and its seed for c, if any.
func generator(c *mapping.Class) (string, int64) {
	a := c.GeneratorAttribute()
	if a == nil {
		return "", 0
	}
	for k := c; k != nil; k = k.Superclass() {
		if g := k.Generator(); g.Attribute != "" {
			return a.ColumnName(), g.Seed
		}
	}
	return a.ColumnName(), 1
}

// nextValue scans the stored objects for the largest value of column and
// returns one more, or seed for an empty directory.
func (s *Store) nextValue(c *mapping.Class, column string, seed int64) (int64, error) {
	all, err := s.readAll(c)
	if err != nil {
		return 0, err
	}
	if seed <= 0 {
		seed = 1
	}
	next := seed
	for _, e := range all {
		if v := e.Int(column) + 1; v > next {
			next = v
		}
	}
	return next, nil
}

// Insert writes a new object file. A transient object of a class with a
// generator gets the next free key first. It reports false when the
// object has no complete key or a file for the key already exists.
func (s *Store) Insert(ctx context.Context, c *mapping.Class, e object.Entity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := c.EntityMessage(e)
	if err != nil {
		return false, err
	}
	o := e.Base()
	if o.IsTransient() {
		if col, seed := generator(c); col != "" {
			next, err := s.nextValue(c, col, seed)
			if err != nil {
				return false, err
			}
			msg.Set(col, next)
		}
		if err := object.FromMessage(e, msg); err != nil {
			return false, err
		}
	}
	if o.IsTransient() {
		s.logger.Warn("Object has no primary key", zap.String("class", c.Name()))
		return false, nil
	}

	path, err := s.Path(c, o.PrimaryKey())
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		s.logger.Warn("Object file already exists", zap.String("class", c.Name()), zap.String("path", path))
		return false, nil
	}
	if err := message.WriteFile(path, msg); err != nil {
		return false, fmt.Errorf("filestore insert %s: %w", c.Name(), err)
	}
	s.logger.Debug("Inserted object", zap.String("class", c.Name()), zap.String("path", path))
	return true, nil
}

// Update rewrites the file of a persistent object. The file must exist.
func (s *Store) Update(ctx context.Context, c *mapping.Class, e object.Entity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := e.Base()
	if o.IsTransient() {
		return false, fmt.Errorf("filestore update %s: object has no primary key", c.Name())
	}
	path, err := s.Path(c, o.PrimaryKey())
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Errorf("filestore update %s: no file %s: %w", c.Name(), path, err)
	}
	msg, err := c.EntityMessage(e)
	if err != nil {
		return false, err
	}
	if err := message.WriteFile(path, msg); err != nil {
		return false, fmt.Errorf("filestore update %s: %w", c.Name(), err)
	}
	s.logger.Debug("Updated object", zap.String("class", c.Name()), zap.String("path", path))
	return true, nil
}

// Delete removes the file of a persistent object. A missing file reports
// false.
func (s *Store) Delete(ctx context.Context, c *mapping.Class, e object.Entity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := e.Base()
	if o.IsTransient() {
		return false, fmt.Errorf("filestore delete %s: object has no primary key", c.Name())
	}
	path, err := s.Path(c, o.PrimaryKey())
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filestore delete %s: %w", c.Name(), err)
	}
	s.logger.Debug("Deleted object", zap.String("class", c.Name()), zap.String("path", path))
	return true, nil
}
