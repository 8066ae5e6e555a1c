package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/ekaya-inc/ekaya-orm/pkg/crypto"
	"github.com/ekaya-inc/ekaya-orm/pkg/logging"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
)

// DefaultFile is the process configuration read when no path is given.
const DefaultFile = "hibernate.yaml"

// Config holds the process configuration of the hibernate tools.
// Configuration can come from a YAML file (hibernate.yaml) or environment
// variables. Environment variables always override YAML values for fields
// that support both. Secrets (passwords, peer secret) only come from the
// environment.
type Config struct {
	Version string `yaml:"-"` // Set at load time, not from config

	// Mapping is the mapping configuration document (XML, YAML or TOML).
	Mapping string `yaml:"mapping" env:"HIBERNATE_MAPPING" env-default:"hibernate.xml"`

	// Strategy, DefaultCatalog and DefaultSchema seed the mapping context.
	// A strategy or default declared in the mapping document wins.
	Strategy       string `yaml:"strategy" env:"HIBERNATE_STRATEGY" env-default:"standalone"`
	DefaultCatalog string `yaml:"default_catalog" env:"HIBERNATE_DEFAULT_CATALOG" env-default:""`
	DefaultSchema  string `yaml:"default_schema" env:"HIBERNATE_DEFAULT_SCHEMA" env-default:""`

	// Role is the backend new sessions start in: database, filestore or internet.
	Role string `yaml:"role" env:"HIBERNATE_ROLE" env-default:"database"`

	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Datasource DatasourceConfig `yaml:"datasource"`
	Filestore  FilestoreConfig  `yaml:"filestore"`
	Peer       PeerConfig       `yaml:"peer"`

	// MetaInfoDir receives per-table metadata files from schema import.
	MetaInfoDir string `yaml:"metainfo_dir" env:"HIBERNATE_METAINFO_DIR" env-default:"metainfo"`
	// MigrationsDir receives exported DDL and is applied by schema apply.
	MigrationsDir string `yaml:"migrations_dir" env:"HIBERNATE_MIGRATIONS_DIR" env-default:"migrations"`

	// CredentialsKey opens secrets given in sealed form ("enc:...").
	CredentialsKey string `yaml:"-" env:"HIBERNATE_CREDENTIALS_KEY"` // Secret - not in YAML
}

// LogConfig selects verbosity and destination of the process logger.
type LogConfig struct {
	// Level is one of nothing, errors, warnings, actions, debug, sql.
	Level string `yaml:"level" env:"HIBERNATE_LOG_LEVEL" env-default:"actions"`
	// File is the log destination; empty logs to stderr.
	File string `yaml:"file" env:"HIBERNATE_LOG_FILE" env-default:""`
}

// DatabaseConfig holds the database used by sessions in the database role.
type DatabaseConfig struct {
	Type     string `yaml:"type" env:"PGTYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"hibernate"`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:"hibernate"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// DatasourceConfig holds connection pool settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle pools are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnectionsPerOwner limits the pools one registry may hold.
	MaxConnectionsPerOwner int   `yaml:"max_connections_per_owner" env:"DATASOURCE_MAX_CONNECTIONS_PER_OWNER" env-default:"10"`
	PoolMaxConns           int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	PoolMinConns           int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// FilestoreConfig holds the base directory of the filestore role.
type FilestoreConfig struct {
	Dir string `yaml:"dir" env:"HIBERNATE_FILESTORE_DIR" env-default:"objects"`
}

// PeerConfig configures both sides of the internet role: the URL sessions
// talk to and the listener of the peer server.
type PeerConfig struct {
	URL      string `yaml:"url" env:"HIBERNATE_PEER_URL" env-default:""`
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8088"`
	// Secret signs and verifies bearer tokens. Empty disables verification.
	Secret string `yaml:"-" env:"HIBERNATE_PEER_SECRET"` // Secret - not in YAML

	// TLS configuration (optional - if both provided, the peer serves HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`
}

// Load reads configuration from path with environment variable overrides.
// A .env file in the working directory is loaded into the environment
// first; variables already set are left alone. A missing path is not an
// error: defaults and the environment are used instead.
func Load(path, version string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	if path == "" {
		path = DefaultFile
	}

	cfg := &Config{Version: version}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.revealSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Encryptor returns the sealer of CredentialsKey, or nil when no key is set.
func (c *Config) Encryptor() (*crypto.CredentialEncryptor, error) {
	if c.CredentialsKey == "" {
		return nil, nil
	}
	return crypto.NewCredentialEncryptor(c.CredentialsKey)
}

// revealSecrets replaces sealed secrets by their plaintext.
func (c *Config) revealSecrets() error {
	enc, err := c.Encryptor()
	if err != nil {
		return fmt.Errorf("invalid credentials key: %w", err)
	}
	for name, secret := range map[string]*string{
		"database password": &c.Database.Password,
		"peer secret":       &c.Peer.Secret,
	} {
		plain, err := crypto.Reveal(enc, *secret)
		if err != nil {
			return fmt.Errorf("failed to reveal %s: %w", name, err)
		}
		*secret = plain
	}
	return nil
}

// Validate checks the enumerated settings and the TLS pair.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := mapping.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	switch strings.ToLower(c.Role) {
	case "", "database", "db", "filestore", "file", "internet", "remote", "soap":
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return c.Peer.validateTLS()
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (p *PeerConfig) validateTLS() error {
	certSet := p.TLSCertPath != ""
	keySet := p.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}
	if certSet {
		if _, err := os.Stat(p.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(p.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}
	return nil
}

// UsesTLS reports whether the peer server serves HTTPS.
func (p *PeerConfig) UsesTLS() bool {
	return p.TLSCertPath != "" && p.TLSKeyPath != ""
}

// ListenAddr is the host:port the peer server binds.
func (p *PeerConfig) ListenAddr() string {
	return net.JoinHostPort(p.BindAddr, p.Port)
}

// ConnectionMap returns the settings in the shape the datasource adapter
// registry expects.
func (c *DatabaseConfig) ConnectionMap() map[string]any {
	return map[string]any{
		"host":     c.Host,
		"port":     c.Port,
		"user":     c.User,
		"password": c.Password,
		"database": c.Database,
		"ssl_mode": c.SSLMode,
	}
}

// ConnectionString returns a PostgreSQL URL, as golang-migrate expects it.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
