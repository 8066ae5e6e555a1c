package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/microsoft/go-mssqldb"       // registers the "sqlserver" driver
	"github.com/microsoft/go-mssqldb/azuread" // registers the "azuresql" driver
)

// PoolFactory opens a new pool for a connection string.
type PoolFactory func(ctx context.Context, connString string, config ConnectionManagerConfig) (PoolConnector, error)

// CreatePostgresPool creates a PostgreSQL connection pool
func CreatePostgresPool(ctx context.Context, connString string, config ConnectionManagerConfig) (PoolConnector, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = config.PoolMaxConns
	poolConfig.MinConns = config.PoolMinConns
	poolConfig.MaxConnIdleTime = time.Duration(config.TTLMinutes) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return NewPostgresPoolWrapper(pool), nil
}

// GetPostgresPool extracts the underlying *pgxpool.Pool from a PoolConnector.
// Returns an error if the connector is not a PostgreSQL pool.
func GetPostgresPool(connector PoolConnector) (*pgxpool.Pool, error) {
	wrapper, ok := connector.(*PostgresPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not a PostgreSQL pool wrapper")
	}
	return wrapper.GetPool(), nil
}

// CreateMSSQLPool opens a SQL Server pool with the "sqlserver" driver and
// verifies it with a ping.
func CreateMSSQLPool(ctx context.Context, connString string, config ConnectionManagerConfig) (PoolConnector, error) {
	return openSQLServer(ctx, "sqlserver", connString, config)
}

// CreateAzureSQLPool opens a SQL Server pool authenticating through Azure AD.
func CreateAzureSQLPool(ctx context.Context, connString string, config ConnectionManagerConfig) (PoolConnector, error) {
	return openSQLServer(ctx, azuread.DriverName, connString, config)
}

func openSQLServer(ctx context.Context, driver, connString string, config ConnectionManagerConfig) (PoolConnector, error) {
	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(int(config.PoolMaxConns))
	db.SetMaxIdleConns(int(config.PoolMinConns))
	db.SetConnMaxIdleTime(time.Duration(config.TTLMinutes) * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewMSSQLPoolWrapper(db), nil
}

// GetMSSQLDB extracts the underlying *sql.DB from a PoolConnector.
// Returns an error if the connector is not an MSSQL pool.
func GetMSSQLDB(connector PoolConnector) (*sql.DB, error) {
	wrapper, ok := connector.(*MSSQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("connector is not an MSSQL pool wrapper")
	}
	return wrapper.GetDB(), nil
}
