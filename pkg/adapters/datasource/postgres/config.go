package postgres

import (
	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
)

const (
	DefaultPort    = 5432
	DefaultSSLMode = "require"
)

// Config holds the PostgreSQL connection settings of a registry.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca or verify-full
}

// FromMap reads a Config from the connection map. Host, user and database
// are required.
func FromMap(config map[string]any) (*Config, error) {
	o := datasource.Options(config)
	cfg := &Config{Port: DefaultPort, SSLMode: DefaultSSLMode}

	var err error
	if cfg.Host, err = o.RequireString("host"); err != nil {
		return nil, err
	}
	if cfg.User, err = o.RequireString("user", "username"); err != nil {
		return nil, err
	}
	if cfg.Database, err = o.RequireString("database"); err != nil {
		return nil, err
	}
	if port, ok := o.Int("port"); ok && port > 0 {
		cfg.Port = port
	}
	cfg.Password, _ = o.String("password")
	if mode, ok := o.String("ssl_mode"); ok {
		cfg.SSLMode = mode
	}
	return cfg, nil
}
