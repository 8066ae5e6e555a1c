package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/config"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
)

// Adapter is a SQL Server Connection.
type Adapter struct {
	config  *Config
	db      *sql.DB
	ownedDB bool // true if we created the DB
	logger  *zap.Logger
}

// buildConnectionString renders the sqlserver:// URL for the configured
// authentication method, together with the pool type that can open it.
func buildConnectionString(cfg *Config) (string, string) {
	query := url.Values{}
	query.Add("database", cfg.Database)

	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	host := config.ResolveHostForDocker(cfg.Host)

	if cfg.AuthMethod == AuthServicePrincipal {
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID)
		query.Add("password", cfg.ClientSecret)
		query.Add("tenant id", cfg.TenantID)
		return fmt.Sprintf("sqlserver://%s:%d?%s", host, cfg.Port, query.Encode()), "mssql-azure"
	}

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		host,
		cfg.Port,
		query.Encode(),
	), "mssql"
}

// openDB returns a pool from the connection manager, or an unmanaged one
// when connMgr is nil.
func openDB(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string) (*sql.DB, bool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid config: %w", err)
	}
	connStr, poolType := buildConnectionString(cfg)

	if connMgr == nil {
		create := datasource.CreateMSSQLPool
		if poolType == "mssql-azure" {
			create = datasource.CreateAzureSQLPool
		}
		connector, err := create(ctx, connStr, datasource.ConnectionManagerConfig{
			PoolMaxConns: datasource.DefaultPoolMaxConns,
			PoolMinConns: datasource.DefaultPoolMinConns,
			TTLMinutes:   datasource.DefaultConnectionTTLMinutes,
		})
		if err != nil {
			return nil, false, fmt.Errorf("connection test failed: %w", err)
		}
		db, err := datasource.GetMSSQLDB(connector)
		return db, true, err
	}

	connector, err := connMgr.GetOrCreateConnection(ctx, poolType, owner, name, connStr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	db, err := datasource.GetMSSQLDB(connector)
	if err != nil {
		return nil, false, fmt.Errorf("failed to extract mssql db: %w", err)
	}
	return db, false, nil
}

// NewAdapter creates a SQL Server connection. Supports SQL authentication
// and Azure AD service principals. Uses the connection manager for pooling
// when provided.
func NewAdapter(ctx context.Context, cfg *Config, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, owned, err := openDB(ctx, cfg, connMgr, owner, name)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, db: db, ownedDB: owned, logger: logger.Named("mssql")}, nil
}

func (a *Adapter) Dialect() *dataset.Dialect { return dataset.SQLServer }

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (a *Adapter) Begin(ctx context.Context) (datasource.Tx, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// Close releases the adapter (but NOT the DB if managed).
func (a *Adapter) Close() error {
	if a.ownedDB && a.db != nil {
		return a.db.Close()
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

type sqlTx struct {
	tx *sql.Tx
}

// namedArgs turns positional values into @p1.. parameters.
func namedArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = sql.Named(fmt.Sprintf("p%d", i+1), a)
	}
	return out
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) ([]*dataset.Record, error) {
	rows, err := t.tx.QueryContext(ctx, query, namedArgs(args)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, namedArgs(args)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// scanRecords reads every row into a record. Decimal and money values arrive
// as text bytes and are kept as strings.
func scanRecords(rows *sql.Rows) ([]*dataset.Record, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	names := make([]string, len(types))
	textual := make([]bool, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
		switch strings.ToUpper(ct.DatabaseTypeName()) {
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			textual[i] = true
		}
	}

	var out []*dataset.Record
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && textual[i] {
				values[i] = string(b)
			}
		}
		out = append(out, dataset.RecordFrom(names, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

var _ datasource.Connection = (*Adapter)(nil)
