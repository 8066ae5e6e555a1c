// Package session implements the unit of work: a class registry, a per-class
// object cache and the load/save/delete/synchronize operations routed to
// one of three backends (a database, a filestore directory or a remote
// peer).
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/filestore"
	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/remote"
	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
)

// Role selects the backend of subsequent operations.
type Role int

const (
	RoleDatabase Role = iota
	RoleFilestore
	RoleInternet
)

func (r Role) String() string {
	switch r {
	case RoleDatabase:
		return "database"
	case RoleFilestore:
		return "filestore"
	case RoleInternet:
		return "internet"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole reads a role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "database", "db":
		return RoleDatabase, nil
	case "filestore", "file":
		return RoleFilestore, nil
	case "internet", "remote", "soap":
		return RoleInternet, nil
	}
	return RoleDatabase, apperrors.Configf("parse role", "unknown session role %q", s)
}

// FactoryLookup finds the constructor registered for a class name.
type FactoryLookup func(className string) (object.Factory, bool)

// Options configure a new session. Backends left empty can be attached
// later; an operation on an unattached backend fails.
type Options struct {
	Key        string
	Role       Role
	Connection datasource.Connection
	Store      *filestore.Store
	Peer       *remote.Client
	Factories  FactoryLookup
	// TraceSQL logs every statement at debug level.
	TraceSQL bool
	// OnClose runs once, after Close has released the session.
	OnClose  func(*Session)
	Logger   *zap.Logger
}

// Session is one unit of work over a mapping context. Cache and registry
// operations are serialized by a single lock.
type Session struct {
	key       string
	mctx      *mapping.Context
	model     *mapping.Model
	factories FactoryLookup
	onClose   func(*Session)
	logger    *zap.Logger

	mu     sync.Mutex
	role   Role
	conn   datasource.Connection
	store  *filestore.Store
	peer   *remote.Client
	cache  map[mapping.ClassID]map[string]object.Entity
	closed bool

	mutations atomic.Int64
}

// New opens a session on mctx. The context stays locked against strategy
// changes until Close.
func New(mctx *mapping.Context, opts Options) *Session {
	if opts.Key == "" {
		opts.Key = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{
		key:       opts.Key,
		mctx:      mctx,
		model:     mapping.NewModel(mctx),
		factories: opts.Factories,
		onClose:   opts.OnClose,
		logger:    opts.Logger.Named("session").With(zap.String("session", opts.Key)),
		role:      opts.Role,
		conn:      opts.Connection,
		store:     opts.Store,
		peer:      opts.Peer,
		cache:     make(map[mapping.ClassID]map[string]object.Entity),
	}
	if opts.TraceSQL {
		s.model.SetTracer(func(_ context.Context, stmt string, args []any) {
			s.logger.Debug("SQL",
				zap.String("statement", logging.SanitizeStatement(stmt)),
				zap.String("args", logging.SanitizeArgs(args)))
		})
	}
	mctx.Acquire()
	return s
}

func (s *Session) Key() string { return s.key }

// Model returns the class registry of the session.
func (s *Session) Model() *mapping.Model { return s.model }

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// ChangeRole retargets subsequent operations. Cached objects are kept.
func (s *Session) ChangeRole(r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r {
	case RoleDatabase, RoleFilestore, RoleInternet:
	default:
		return apperrors.Configf("change role", "unknown session role %d", int(r))
	}
	if s.role != r {
		s.logger.Info("Session role changed", zap.Stringer("from", s.role), zap.Stringer("to", r))
	}
	s.role = r
	return nil
}

// AttachDatabase sets the connection used in the database role.
func (s *Session) AttachDatabase(conn datasource.Connection) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// AttachFilestore sets the store used in the filestore role.
func (s *Session) AttachFilestore(store *filestore.Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// AttachPeer sets the client used in the internet role.
func (s *Session) AttachPeer(peer *remote.Client) {
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()
}

// ActiveMutations counts the successful inserts, updates and deletes of the
// session.
func (s *Session) ActiveMutations() int64 { return s.mutations.Load() }

// backend is a snapshot of the role and its handle taken at the start of an
// operation.
type backend struct {
	role  Role
	conn  datasource.Connection
	store *filestore.Store
	peer  *remote.Client
}

func (s *Session) backend() (backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backendLocked()
}

func (s *Session) backendLocked() (backend, error) {
	if s.closed {
		return backend{}, fmt.Errorf("session %s is closed", s.key)
	}
	b := backend{role: s.role, conn: s.conn, store: s.store, peer: s.peer}
	switch {
	case b.role == RoleDatabase && b.conn == nil,
		b.role == RoleFilestore && b.store == nil,
		b.role == RoleInternet && b.peer == nil:
		return backend{}, apperrors.Configf("session", "no %s backend attached", b.role)
	}
	return b, nil
}

// class finds a class of the registry by name.
func (s *Session) class(name string) (*mapping.Class, error) {
	c, ok := s.model.FindClass(name)
	if !ok {
		return nil, fmt.Errorf("class %s: %w", name, apperrors.ErrNotFound)
	}
	return c, nil
}

// classOf resolves the registry class of an entity.
func (s *Session) classOf(e object.Entity) (*mapping.Class, error) {
	info := e.Base().Class()
	if info == nil {
		return nil, fmt.Errorf("entity %T has no class", e)
	}
	if c, ok := info.(*mapping.Class); ok && c.Model() == s.model {
		return c, nil
	}
	return s.class(info.Name())
}

// LoadConfiguration replaces the class registry with the classes of a
// configuration document. The cache is cleared.
func (s *Session) LoadConfiguration(path string) error {
	doc, err := mapping.LoadDocument(path)
	if err != nil {
		return err
	}
	return s.ApplyDocument(doc)
}

// ApplyDocument replaces the class registry with the classes of doc.
func (s *Session) ApplyDocument(doc *mapping.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCacheLocked()
	s.model.Reset()
	if err := s.model.Apply(doc); err != nil {
		s.model.Reset()
		return err
	}
	s.bindFactoriesLocked()
	s.logger.Info("Configuration loaded", zap.Int("classes", len(s.model.Classes())))
	return nil
}

// BindFactories attaches registered constructors to classes that have none.
func (s *Session) BindFactories() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindFactoriesLocked()
}

func (s *Session) bindFactoriesLocked() {
	if s.factories == nil {
		return
	}
	for _, c := range s.model.Classes() {
		if c.Factory() != nil {
			continue
		}
		if f, ok := s.factories(c.Name()); ok {
			c.SetFactory(f)
		}
	}
}

// SaveConfiguration writes the class registry as a configuration document.
func (s *Session) SaveConfiguration(path string) error {
	s.mu.Lock()
	doc := s.model.Document()
	s.mu.Unlock()
	return mapping.SaveDocument(path, doc)
}

// Close drops the cache and releases the mapping context. It does not
// synchronize and does not close the attached backends.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.clearCacheLocked()
	for _, c := range s.model.Classes() {
		c.Dataset().Close()
	}
	s.mctx.Release()
	s.mu.Unlock()
	s.logger.Debug("Session closed", zap.Int64("mutations", s.mutations.Load()))

	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
