// Package database exports the DDL of a mapping model as migration files
// and applies them with golang-migrate.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
)

var migrationFile = regexp.MustCompile(`^(\d+)_[^.]+\.(up|down)\.sql$`)

// Migration is a pair of migration files written by ExportMigration.
type Migration struct {
	Version uint
	Up      string
	Down    string
}

// NextVersion returns one more than the highest migration version in dir.
// A missing directory starts at 1.
func NextVersion(dir string) (uint, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}
	var highest uint64
	for _, e := range entries {
		m := migrationFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		if v > highest {
			highest = v
		}
	}
	return uint(highest) + 1, nil
}

// DropSchemaSQL renders the statements removing every physical table of
// the model, in reverse creation order.
func DropSchemaSQL(m *mapping.Model, d *dataset.Dialect) ([]string, error) {
	var stmts []string
	classes := m.Classes()
	for i := len(classes) - 1; i >= 0; i-- {
		c := classes[i]
		if !c.OwnsTable() {
			continue
		}
		t, err := c.Table()
		if err != nil {
			return nil, err
		}
		stmt := "DROP TABLE IF EXISTS " + t.GetDMLTableName(d)
		if d == dataset.Postgres {
			stmt += " CASCADE"
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// ExportMigration writes the DDL of m as the next up/down migration pair
// in dir.
func ExportMigration(dir, name string, m *mapping.Model, d *dataset.Dialect) (*Migration, error) {
	up, err := m.CreateSchemaSQL(d)
	if err != nil {
		return nil, fmt.Errorf("render schema: %w", err)
	}
	if len(up) == 0 {
		return nil, fmt.Errorf("model has no tables to export")
	}
	down, err := DropSchemaSQL(m, d)
	if err != nil {
		return nil, fmt.Errorf("render drop: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations dir: %w", err)
	}
	version, err := NextVersion(dir)
	if err != nil {
		return nil, err
	}
	slug := strings.Trim(regexp.MustCompile(`[^a-z0-9]+`).ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		slug = "schema"
	}

	mig := &Migration{
		Version: version,
		Up:      filepath.Join(dir, fmt.Sprintf("%03d_%s.up.sql", version, slug)),
		Down:    filepath.Join(dir, fmt.Sprintf("%03d_%s.down.sql", version, slug)),
	}
	if err := os.WriteFile(mig.Up, []byte(script(up)), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", mig.Up, err)
	}
	if err := os.WriteFile(mig.Down, []byte(script(down)), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", mig.Down, err)
	}
	return mig, nil
}

func script(stmts []string) string {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString(";\n\n")
	}
	return b.String()
}

// RunMigrations executes pending migrations from the specified directory.
// Only pending migrations are executed, so it is safe to call repeatedly.
func RunMigrations(db *sql.DB, migrationsPath string, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	abs, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.Error(dbErr))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations successfully", zap.Uint("version", newVersion))
	return nil
}
