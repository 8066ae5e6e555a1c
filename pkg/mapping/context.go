// Package mapping describes how classes map onto relational tables: the
// attribute, identity, association and index records of each class, the
// inheritance strategy that decides table ownership, and the SQL each class
// issues for select, insert, update and delete.
package mapping

import (
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// Strategy is the inheritance mapping strategy shared by every class of a
// Context.
type Strategy int

const (
	// Standalone maps each class to its own table without polymorphism.
	Standalone Strategy = iota
	// OneTable maps a whole hierarchy onto the root's table.
	OneTable
	// SubTable gives every class its own table joined to its parent on the
	// identity columns.
	SubTable
	// ClassTable is recognized but not supported.
	ClassTable
)

func (s Strategy) String() string {
	switch s {
	case Standalone:
		return "standalone"
	case OneTable:
		return "one_table"
	case SubTable:
		return "sub_tables"
	case ClassTable:
		return "classtable"
	}
	return "unknown"
}

// ParseStrategy reads a configuration strategy name. Both "sub_tables" and
// "sub_table" select SubTable. "classtable" is rejected.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standalone":
		return Standalone, nil
	case "one_table":
		return OneTable, nil
	case "sub_tables", "sub_table":
		return SubTable, nil
	case "classtable":
		return ClassTable, apperrors.Configf("parse strategy", "classtable strategy is not supported")
	}
	return Standalone, apperrors.Configf("parse strategy", "unknown mapping strategy %q", s)
}

// Context holds the mapping state shared by the sessions of one registry:
// the strategy, default catalog and schema names, the number of open
// sessions and the per-hierarchy hash overrides.
type Context struct {
	mu             sync.RWMutex
	strategy       Strategy
	defaultCatalog string
	defaultSchema  string
	openSessions   int
	hashFuncs      map[string]object.HashFunc
}

// NewContext returns a context using the given strategy.
func NewContext(strategy Strategy) (*Context, error) {
	if strategy == ClassTable {
		return nil, apperrors.Configf("new context", "classtable strategy is not supported")
	}
	return &Context{strategy: strategy, hashFuncs: make(map[string]object.HashFunc)}, nil
}

func (c *Context) Strategy() Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strategy
}

// SetStrategy changes the strategy. It fails while any session is open.
func (c *Context) SetStrategy(s Strategy) error {
	if s == ClassTable {
		return apperrors.Configf("set strategy", "classtable strategy is not supported")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.strategy == s {
		return nil
	}
	if c.openSessions > 0 {
		return apperrors.ErrStrategyLocked
	}
	c.strategy = s
	return nil
}

// SetDefaults sets the catalog and schema used by classes that name none.
func (c *Context) SetDefaults(catalogName, schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultCatalog = catalogName
	c.defaultSchema = schema
}

func (c *Context) DefaultCatalog() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultCatalog
}

func (c *Context) DefaultSchema() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultSchema
}

// Acquire records an open session.
func (c *Context) Acquire() {
	c.mu.Lock()
	c.openSessions++
	c.mu.Unlock()
}

// Release records a closed session.
func (c *Context) Release() {
	c.mu.Lock()
	if c.openSessions > 0 {
		c.openSessions--
	}
	c.mu.Unlock()
}

// OpenSessions returns the number of sessions holding the context.
func (c *Context) OpenSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.openSessions
}

// RegisterHash installs a hash override for the hierarchy rooted at
// rootClass. Only the first registration counts; it reports whether f was
// installed.
func (c *Context) RegisterHash(rootClass string, f object.HashFunc) bool {
	if f == nil {
		return false
	}
	key := strings.ToLower(rootClass)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hashFuncs[key]; ok {
		return false
	}
	c.hashFuncs[key] = f
	return true
}

// HashFunc returns the override for a root class, or nil.
func (c *Context) HashFunc(rootClass string) object.HashFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hashFuncs[strings.ToLower(rootClass)]
}
