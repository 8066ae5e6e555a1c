package mssql

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
)

const (
	DefaultPort              = 1433
	DefaultConnectionTimeout = 30 // seconds

	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config holds the SQL Server connection settings of a registry.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod is AuthSQL or AuthServicePrincipal.
	AuthMethod string

	Username string
	Password string

	// Azure AD service principal
	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// FromMap reads a Config from the connection map. The auth method
// defaults to SQL authentication unless client credentials are present.
// Both "user" and "username" name the SQL login.
func FromMap(config map[string]any) (*Config, error) {
	o := datasource.Options(config)
	cfg := &Config{
		Port:              DefaultPort,
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout,
	}

	var err error
	if cfg.Host, err = o.RequireString("host"); err != nil {
		return nil, err
	}
	if cfg.Database, err = o.RequireString("database"); err != nil {
		return nil, err
	}
	if port, ok := o.Int("port"); ok && port > 0 {
		cfg.Port = port
	}
	if encrypt, ok := o.Bool("encrypt"); ok {
		cfg.Encrypt = encrypt
	}
	if trust, ok := o.Bool("trust_server_certificate"); ok {
		cfg.TrustServerCertificate = trust
	}
	if timeout, ok := o.Int("connection_timeout"); ok {
		cfg.ConnectionTimeout = timeout
	}

	cfg.AuthMethod = AuthSQL
	if m, ok := o.String("auth_method"); ok {
		cfg.AuthMethod = m
	} else if _, ok := o.String("client_id"); ok {
		cfg.AuthMethod = AuthServicePrincipal
	}

	switch cfg.AuthMethod {
	case AuthSQL:
		if cfg.Username, err = o.RequireString("username", "user"); err != nil {
			return nil, fmt.Errorf("%w for SQL authentication", err)
		}
		cfg.Password, _ = o.String("password")
	case AuthServicePrincipal:
		for key, dst := range map[string]*string{
			"tenant_id":     &cfg.TenantID,
			"client_id":     &cfg.ClientID,
			"client_secret": &cfg.ClientSecret,
		} {
			if *dst, err = o.RequireString(key); err != nil {
				return nil, fmt.Errorf("%w for service principal authentication", err)
			}
		}
	default:
		return nil, fmt.Errorf("invalid auth method: %s (must be %s or %s)", cfg.AuthMethod, AuthSQL, AuthServicePrincipal)
	}
	return cfg, nil
}

// Validate checks the fields the selected auth method needs.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("host is required")
	case c.Database == "":
		return fmt.Errorf("database is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	required := map[string]string{}
	switch c.AuthMethod {
	case AuthSQL:
		required["username"] = c.Username
	case AuthServicePrincipal:
		required["tenant_id"] = c.TenantID
		required["client_id"] = c.ClientID
		required["client_secret"] = c.ClientSecret
	default:
		return fmt.Errorf("invalid auth method: %s", c.AuthMethod)
	}
	for _, key := range []string{"username", "tenant_id", "client_id", "client_secret"} {
		if v, ok := required[key]; ok && v == "" {
			return fmt.Errorf("%s is required for %s authentication", key, c.AuthMethod)
		}
	}
	return nil
}
