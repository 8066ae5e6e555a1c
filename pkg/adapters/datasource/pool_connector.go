package datasource

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConnector abstracts a connection pool held by the connection manager,
// whatever driver backs it.
type PoolConnector interface {
	Ping(ctx context.Context) error
	Close() error
	// GetType returns the database type for logging/stats.
	GetType() string
}

// PostgresPoolWrapper adapts *pgxpool.Pool to PoolConnector.
type PostgresPoolWrapper struct {
	pool *pgxpool.Pool
}

func NewPostgresPoolWrapper(pool *pgxpool.Pool) *PostgresPoolWrapper {
	return &PostgresPoolWrapper{pool: pool}
}

func (w *PostgresPoolWrapper) Ping(ctx context.Context) error { return w.pool.Ping(ctx) }

func (w *PostgresPoolWrapper) Close() error {
	w.pool.Close()
	return nil
}

func (w *PostgresPoolWrapper) GetType() string { return "postgres" }

// GetPool returns the underlying pool.
func (w *PostgresPoolWrapper) GetPool() *pgxpool.Pool { return w.pool }

// MSSQLPoolWrapper adapts *sql.DB to PoolConnector.
type MSSQLPoolWrapper struct {
	db *sql.DB
}

func NewMSSQLPoolWrapper(db *sql.DB) *MSSQLPoolWrapper {
	return &MSSQLPoolWrapper{db: db}
}

func (w *MSSQLPoolWrapper) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

func (w *MSSQLPoolWrapper) Close() error { return w.db.Close() }

func (w *MSSQLPoolWrapper) GetType() string { return "mssql" }

// GetDB returns the underlying *sql.DB.
func (w *MSSQLPoolWrapper) GetDB() *sql.DB { return w.db }
