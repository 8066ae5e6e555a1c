package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/config"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Adapter is a PostgreSQL Connection.
type Adapter struct {
	config    *Config
	pool      *pgxpool.Pool
	ownedPool bool // true if we created the pool
	logger    *zap.Logger
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so passwords containing @, /, #
// or ? survive parsing.
func buildConnectionString(cfg *Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode
	}

	host := config.ResolveHostForDocker(cfg.Host)

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}

// openPool returns a pool from the connection manager, or an unmanaged one
// when connMgr is nil.
func openPool(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string) (*pgxpool.Pool, bool, error) {
	connStr := buildConnectionString(cfg)

	if connMgr == nil {
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			return nil, false, fmt.Errorf("connect to postgres: %w", err)
		}
		return pool, true, nil
	}

	connector, err := connMgr.GetOrCreateConnection(ctx, "postgres", owner, name, connStr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	pool, err := datasource.GetPostgresPool(connector)
	if err != nil {
		return nil, false, fmt.Errorf("failed to extract postgres pool: %w", err)
	}
	return pool, false, nil
}

// NewAdapter creates a PostgreSQL connection using the connection manager.
// If connMgr is nil, creates an unmanaged pool.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, owned, err := openPool(ctx, cfg, connMgr, owner, name)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		config:    cfg,
		pool:      pool,
		ownedPool: owned,
		logger:    logger.Named("postgres"),
	}, nil
}

// NewAdapterFromPool wraps an existing pool. The caller keeps ownership.
func NewAdapterFromPool(pool *pgxpool.Pool, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{pool: pool, logger: logger.Named("postgres")}
}

func (a *Adapter) Dialect() *dataset.Dialect { return dataset.Postgres }

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (a *Adapter) Begin(ctx context.Context) (datasource.Tx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Close releases the adapter (but NOT the pool if managed).
func (a *Adapter) Close() error {
	if a.ownedPool && a.pool != nil {
		a.pool.Close()
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Query(ctx context.Context, query string, args ...any) ([]*dataset.Record, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}

	var out []*dataset.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		out = append(out, dataset.RecordFrom(names, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

var _ datasource.Connection = (*Adapter)(nil)
