// Package hibernate holds the process-wide registry: the mapping context
// shared by all sessions, the class constructor table, the logger and the
// directory of open sessions.
package hibernate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/filestore"
	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/remote"
	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/config"
	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
	"github.com/ekaya-inc/ekaya-orm/pkg/session"
)

// datasourceName names the single database of a registry in the
// connection manager.
const datasourceName = "default"

var (
	instanceMu sync.Mutex
	instance   *Registry
)

type entry struct {
	session *session.Session
	conn    datasource.Connection
}

// Registry is the process-wide state. At most one registry is live at a
// time; all of its state is guarded by one lock.
type Registry struct {
	mu sync.Mutex

	cfg       *config.Config
	mctx      *mapping.Context
	doc       *mapping.Document
	level     logging.Level
	logger    *zap.Logger
	ownLogger bool

	factories map[string]object.Factory
	sessions  map[string]*entry

	owner    uuid.UUID
	connMgr  *datasource.ConnectionManager
	adapters datasource.DatasourceAdapterFactory
	store    *filestore.Store

	closed bool
}

// New builds the registry. The mapping document named by cfg.Mapping is
// read when it exists; its strategy, defaults and log settings take
// precedence over cfg. When logger is nil the registry builds its own from
// the log settings. A second registry cannot be created until the first is
// closed.
func New(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return nil, apperrors.ErrAlreadyInitialized
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	doc, err := readDocument(cfg.Mapping)
	if err != nil {
		return nil, err
	}

	strategyName, catalogName, schema := cfg.Strategy, cfg.DefaultCatalog, cfg.DefaultSchema
	levelName, logFile := cfg.Log.Level, cfg.Log.File
	if doc != nil {
		strategyName = firstNonEmpty(doc.Strategy, strategyName)
		catalogName = firstNonEmpty(doc.DefaultCatalog, catalogName)
		schema = firstNonEmpty(doc.DefaultSchema, schema)
		levelName = firstNonEmpty(doc.LogLevel, levelName)
		logFile = firstNonEmpty(doc.LogFile, logFile)
	}

	strategy, err := mapping.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	mctx, err := mapping.NewContext(strategy)
	if err != nil {
		return nil, err
	}
	mctx.SetDefaults(catalogName, schema)

	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, apperrors.Configf("hibernate", "%v", err)
	}
	ownLogger := logger == nil
	if ownLogger {
		if logger, err = logging.NewLogger(level, logFile); err != nil {
			return nil, err
		}
	}
	logger = logger.Named("hibernate")

	owner := uuid.New()
	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:             cfg.Datasource.ConnectionTTLMinutes,
		MaxConnectionsPerOwner: cfg.Datasource.MaxConnectionsPerOwner,
		PoolMaxConns:           cfg.Datasource.PoolMaxConns,
		PoolMinConns:           cfg.Datasource.PoolMinConns,
	}, logger)

	r := &Registry{
		cfg:       cfg,
		mctx:      mctx,
		doc:       doc,
		level:     level,
		logger:    logger,
		ownLogger: ownLogger,
		factories: make(map[string]object.Factory),
		sessions:  make(map[string]*entry),
		owner:     owner,
		connMgr:   connMgr,
		adapters:  datasource.NewDatasourceAdapterFactory(connMgr),
	}
	if cfg.Filestore.Dir != "" {
		r.store = filestore.New(cfg.Filestore.Dir, logger)
	}
	instance = r

	logger.Info("Registry initialized",
		zap.String("strategy", strategy.String()),
		zap.String("level", level.String()),
		zap.Bool("mapping_loaded", doc != nil))
	return r, nil
}

// Current returns the live registry, or nil.
func Current() *Registry {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

func readDocument(path string) (*mapping.Document, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return mapping.LoadDocument(path)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (r *Registry) Logger() *zap.Logger { return r.logger }
func (r *Registry) Level() logging.Level { return r.level }
func (r *Registry) Context() *mapping.Context { return r.mctx }
func (r *Registry) Config() *config.Config { return r.cfg }
func (r *Registry) Store() *filestore.Store { return r.store }

// Document returns the mapping document applied to new sessions.
func (r *Registry) Document() *mapping.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// Strategy returns the mapping strategy.
func (r *Registry) Strategy() mapping.Strategy { return r.mctx.Strategy() }

// SetStrategy changes the mapping strategy. It fails while sessions are open.
func (r *Registry) SetStrategy(s mapping.Strategy) error {
	if err := r.mctx.SetStrategy(s); err != nil {
		return err
	}
	r.logger.Info("Strategy changed", zap.String("strategy", s.String()))
	return nil
}

// SetDefaults sets the default catalog and schema of unqualified classes.
func (r *Registry) SetDefaults(catalogName, schema string) {
	r.mctx.SetDefaults(catalogName, schema)
}

// SetDocument replaces the mapping document applied to new sessions.
func (r *Registry) SetDocument(doc *mapping.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
}

// RegisterFactories adds class constructors by name. Names are matched
// case-insensitively; a later registration replaces an earlier one. Open
// sessions pick up constructors for classes that have none yet.
func (r *Registry) RegisterFactories(table map[string]object.Factory) {
	r.mu.Lock()
	for name, f := range table {
		key := strings.ToLower(name)
		if _, dup := r.factories[key]; dup {
			r.logger.Warn("Factory replaced", zap.String("class", name))
		}
		r.factories[key] = f
	}
	open := r.openSessionsLocked()
	r.mu.Unlock()

	for _, s := range open {
		s.BindFactories()
	}
	r.logger.Debug("Factories registered", zap.Int("count", len(table)))
}

// Factory returns the constructor registered for a class name.
func (r *Registry) Factory(className string) (object.Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[strings.ToLower(className)]
	return f, ok
}

// SessionOption customizes NewSession.
type SessionOption func(*sessionParams)

type sessionParams struct {
	key     string
	role    *session.Role
	conn    datasource.Connection
	noModel bool
}

// WithKey names the session; the default is a random uuid.
func WithKey(key string) SessionOption { return func(p *sessionParams) { p.key = key } }

// WithRole overrides the configured starting role.
func WithRole(role session.Role) SessionOption { return func(p *sessionParams) { p.role = &role } }

// WithConnection attaches conn instead of opening the configured database.
// The caller keeps ownership of conn.
func WithConnection(conn datasource.Connection) SessionOption {
	return func(p *sessionParams) { p.conn = conn }
}

// WithoutModel skips applying the registry's mapping document.
func WithoutModel() SessionOption { return func(p *sessionParams) { p.noModel = true } }

// NewSession opens a session. In the database role the configured
// database is connected unless a connection is supplied; the filestore and
// the peer are attached when configured.
func (r *Registry) NewSession(ctx context.Context, opts ...SessionOption) (*session.Session, error) {
	var p sessionParams
	for _, o := range opts {
		o(&p)
	}
	if p.key == "" {
		p.key = uuid.NewString()
	}
	role, err := session.ParseRole(r.cfg.Role)
	if err != nil {
		return nil, err
	}
	if p.role != nil {
		role = *p.role
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("new session: registry is closed")
	}
	if _, dup := r.sessions[p.key]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("new session %s: %w", p.key, apperrors.ErrConflict)
	}
	doc := r.doc
	r.mu.Unlock()

	conn, owned := p.conn, false
	if conn == nil && role == session.RoleDatabase {
		if conn, err = r.Connect(ctx); err != nil {
			return nil, err
		}
		owned = true
	}

	var peer *remote.Client
	if r.cfg.Peer.URL != "" {
		peer = remote.NewClient(r.cfg.Peer.URL,
			remote.WithSecret(r.cfg.Peer.Secret),
			remote.WithSession(p.key),
			remote.WithLogger(r.logger))
	}

	s := session.New(r.mctx, session.Options{
		Key:        p.key,
		Role:       role,
		Connection: conn,
		Store:      r.store,
		Peer:       peer,
		Factories:  r.Factory,
		TraceSQL:   r.level.TraceSQL(),
		OnClose:    r.forget,
		Logger:     r.logger,
	})
	if doc != nil && !p.noModel {
		if err := s.ApplyDocument(doc); err != nil {
			s.Close()
			if owned {
				conn.Close()
			}
			return nil, err
		}
	}

	e := &entry{session: s}
	if owned {
		e.conn = conn
	}
	r.mu.Lock()
	if _, dup := r.sessions[p.key]; dup || r.closed {
		r.mu.Unlock()
		s.Close()
		if owned {
			conn.Close()
		}
		return nil, fmt.Errorf("new session %s: %w", p.key, apperrors.ErrConflict)
	}
	r.sessions[p.key] = e
	r.mu.Unlock()

	r.logger.Info("Session opened", zap.String("session", p.key), zap.String("role", role.String()))
	return s, nil
}

// Connect opens a connection to the configured database. The pool behind
// it is shared by every connection of the registry.
func (r *Registry) Connect(ctx context.Context) (datasource.Connection, error) {
	conn, err := r.adapters.NewConnection(ctx, r.cfg.Database.Type, r.cfg.Database.ConnectionMap(), r.owner, datasourceName)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %s", r.cfg.Database.Type, logging.SanitizeError(err))
	}
	return conn, nil
}

// SchemaDiscoverer opens a catalog reader on the configured database.
func (r *Registry) SchemaDiscoverer(ctx context.Context) (datasource.SchemaDiscoverer, error) {
	d, err := r.adapters.NewSchemaDiscoverer(ctx, r.cfg.Database.Type, r.cfg.Database.ConnectionMap(), r.owner, datasourceName)
	if err != nil {
		return nil, fmt.Errorf("open %s catalog: %s", r.cfg.Database.Type, logging.SanitizeError(err))
	}
	return d, nil
}

// Session returns the open session with the given key.
func (r *Registry) Session(key string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Sessions returns the keys of the open sessions in sorted order.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) openSessionsLocked() []*session.Session {
	out := make([]*session.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	return out
}

// forget drops a session closed directly instead of through CloseSession,
// together with the connection the registry opened for it. Changes still
// pending in the session are lost.
func (r *Registry) forget(s *session.Session) {
	r.mu.Lock()
	e, ok := r.sessions[s.Key()]
	if !ok || e.session != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.Key())
	r.mu.Unlock()

	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			r.logger.Warn("Failed to close connection", zap.String("session", s.Key()), zap.Error(err))
		}
	}
	r.logger.Info("Session closed without synchronize", zap.String("session", s.Key()))
}

// CloseSession synchronizes and closes a session. The session is closed
// even when synchronization fails; the result reports whether every
// pending change was written.
func (r *Registry) CloseSession(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	e, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("close session %s: %w", key, apperrors.ErrNotFound)
	}
	return r.closeEntry(ctx, key, e)
}

func (r *Registry) closeEntry(ctx context.Context, key string, e *entry) (bool, error) {
	synced, err := e.session.Synchronize(ctx)
	if err != nil {
		r.logger.Error("Synchronize on close failed",
			zap.String("session", key),
			zap.String("error", logging.SanitizeError(err)))
	} else if !synced {
		r.logger.Warn("Session closed with unsynchronized changes", zap.String("session", key))
	}
	e.session.Close()
	if e.conn != nil {
		if cerr := e.conn.Close(); cerr != nil {
			r.logger.Warn("Failed to close connection", zap.String("session", key), zap.Error(cerr))
		}
	}
	r.logger.Info("Session closed", zap.String("session", key), zap.Int64("mutations", e.session.ActiveMutations()))
	return synced && err == nil, err
}

// Close closes every open session, the connection pools and the logger,
// and allows a new registry to be created.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	open := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	var errs []error
	for key, e := range open {
		if _, err := r.closeEntry(ctx, key, e); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", key, err))
		}
	}
	if err := r.connMgr.Close(); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("Registry closed", zap.Int("sessions", len(open)))
	if r.ownLogger {
		_ = r.logger.Sync()
	}

	instanceMu.Lock()
	if instance == r {
		instance = nil
	}
	instanceMu.Unlock()
	return errors.Join(errs...)
}
