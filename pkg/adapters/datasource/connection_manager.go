package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
	"github.com/ekaya-inc/ekaya-orm/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes   = 5
	DefaultCleanupInterval        = 1 * time.Minute
	DefaultMaxConnectionsPerOwner = 10
	DefaultPoolMaxConns           = 10
	DefaultPoolMinConns           = 1
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	TTLMinutes             int   `yaml:"ttl_minutes" env:"POOL_TTL_MINUTES" env-default:"5"`
	MaxConnectionsPerOwner int   `yaml:"max_connections_per_owner" env:"POOL_MAX_PER_OWNER" env-default:"10"`
	PoolMaxConns           int32 `yaml:"max_conns" env:"POOL_MAX_CONNS" env-default:"10"`
	PoolMinConns           int32 `yaml:"min_conns" env:"POOL_MIN_CONNS" env-default:"1"`
}

// ConnectionManager shares connection pools between the sessions of a
// registry. Pools are keyed by owner (the registry instance) and datasource
// name, reused while healthy and closed after TTL of inactivity.
type ConnectionManager struct {
	mu                     sync.RWMutex
	connections            map[string]*ManagedConnection // key: "{owner}:{name}"
	factories              map[string]PoolFactory
	cfg                    ConnectionManagerConfig
	ttl                    time.Duration
	maxConnectionsPerOwner int
	stopped                bool
	stopChan               chan struct{}
	logger                 *zap.Logger
}

// ManagedConnection is a pooled connection with its last use time.
type ManagedConnection struct {
	conn     PoolConnector
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnectionsPerOwner <= 0 {
		cfg.MaxConnectionsPerOwner = DefaultMaxConnectionsPerOwner
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		connections: make(map[string]*ManagedConnection),
		factories: map[string]PoolFactory{
			"postgres":    CreatePostgresPool,
			"mssql":       CreateMSSQLPool,
			"mssql-azure": CreateAzureSQLPool,
		},
		cfg:                    cfg,
		ttl:                    time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnectionsPerOwner: cfg.MaxConnectionsPerOwner,
		stopChan:               make(chan struct{}),
		logger:                 logger.Named("connections"),
	}

	go manager.cleanupExpiredConnections()
	return manager
}

// SetPoolFactory replaces the pool factory for a datasource type.
func (m *ConnectionManager) SetPoolFactory(dsType string, f PoolFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[dsType] = f
}

func connectionKey(owner uuid.UUID, name string) string {
	return fmt.Sprintf("%s:%s", owner, name)
}

// countConnectionsForOwner counts pools held for an owner.
// Caller must hold m.mu lock.
func (m *ConnectionManager) countConnectionsForOwner(owner uuid.UUID) int {
	prefix := owner.String() + ":"
	count := 0
	for key := range m.connections {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count
}

// GetOrCreateConnection returns the pool registered for (owner, name),
// creating it with the factory for dsType when absent or unhealthy.
func (m *ConnectionManager) GetOrCreateConnection(
	ctx context.Context,
	dsType string,
	owner uuid.UUID,
	name string,
	connString string,
) (PoolConnector, error) {
	key := connectionKey(owner, name)

	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.conn.Ping(healthCtx)
		})
		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.removeConnection(key)
			return m.createNewConnection(ctx, key, dsType, owner, connString)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.conn, nil
	}

	return m.createNewConnection(ctx, key, dsType, owner, connString)
}

// createNewConnection creates a new pool with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createNewConnection(
	ctx context.Context,
	key string,
	dsType string,
	owner uuid.UUID,
	connString string,
) (PoolConnector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.conn, nil
	}

	ownerCount := m.countConnectionsForOwner(owner)
	if ownerCount >= m.maxConnectionsPerOwner {
		m.logger.Warn("owner reached max connections limit",
			zap.String("owner", owner.String()),
			zap.Int("current", ownerCount),
			zap.Int("max", m.maxConnectionsPerOwner),
		)
		return nil, fmt.Errorf("owner %s has reached maximum connections limit (%d)", owner, m.maxConnectionsPerOwner)
	}

	factory, ok := m.factories[dsType]
	if !ok {
		return nil, fmt.Errorf("no pool factory for datasource type %q", dsType)
	}

	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (PoolConnector, error) {
		return factory(ctx, connString, m.cfg)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("key", key),
			zap.String("connection", logging.SanitizeConnectionString(connString)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool for %s after retries: %w", key, err)
	}

	m.connections[key] = &ManagedConnection{
		conn:     conn,
		lastUsed: time.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("key", key),
		zap.String("type", conn.GetType()),
		zap.Int("ownerTotalConnections", ownerCount+1),
	)

	return conn, nil
}

// removeConnection removes a connection from the pool and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		if managed.conn != nil {
			_ = managed.conn.Close()
		}
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

// ReleaseOwner closes every pool held for an owner.
func (m *ConnectionManager) ReleaseOwner(owner uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := owner.String() + ":"
	for key, managed := range m.connections {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if managed != nil && managed.conn != nil {
			_ = managed.conn.Close()
		}
		delete(m.connections, key)
	}
}

func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections that haven't been used within TTL.
// Lock order: manager lock, then connection lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expiredKeys []string

	for key, managed := range m.connections {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idleTime := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idleTime > m.ttl {
			expiredKeys = append(expiredKeys, key)
			m.logger.Debug("marking connection for cleanup",
				zap.String("key", key),
				zap.Duration("idleTime", idleTime),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, key := range expiredKeys {
		if managed := m.connections[key]; managed != nil && managed.conn != nil {
			_ = managed.conn.Close()
		}
		delete(m.connections, key)
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.connections)),
		)
	}
}

// Close closes all connections in the manager and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		if managed != nil && managed.conn != nil {
			_ = managed.conn.Close()
		}
	}

	m.connections = make(map[string]*ManagedConnection)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns statistics about the connection manager.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalConnections:       len(m.connections),
		MaxConnectionsPerOwner: m.maxConnectionsPerOwner,
		TTLMinutes:             int(m.ttl.Minutes()),
		ConnectionsByOwner:     make(map[string]int),
	}

	for key, managed := range m.connections {
		owner, _, _ := strings.Cut(key, ":")
		stats.ConnectionsByOwner[owner]++

		if managed != nil {
			managed.mu.Lock()
			idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
			managed.mu.Unlock()
			if idleSeconds > stats.OldestIdleSeconds {
				stats.OldestIdleSeconds = idleSeconds
			}
		}
	}

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalConnections       int            `json:"total_connections"`
	MaxConnectionsPerOwner int            `json:"max_connections_per_owner"`
	TTLMinutes             int            `json:"ttl_minutes"`
	ConnectionsByOwner     map[string]int `json:"connections_by_owner"`
	OldestIdleSeconds      int            `json:"oldest_idle_seconds"`
}
