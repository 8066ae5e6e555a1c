package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-orm/pkg/catalog"
	"github.com/ekaya-inc/ekaya-orm/pkg/database"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
)

func (a *app) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Move table definitions between the database, metadata files and migrations",
	}
	cmd.AddCommand(a.newSchemaImportCmd())
	cmd.AddCommand(a.newSchemaExportCmd())
	cmd.AddCommand(a.newSchemaApplyCmd())
	return cmd
}

func (a *app) newSchemaImportCmd() *cobra.Command {
	var (
		schema  string
		addToDoc bool
	)

	cmd := &cobra.Command{
		Use:   "import <table...>",
		Short: "Read table definitions from the live catalog into metadata files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, closeRegistry, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			d, err := r.SchemaDiscoverer(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			if schema == "" {
				schema = r.Context().DefaultSchema()
			}
			doc := r.Document()
			if doc == nil {
				doc = &mapping.Document{Strategy: r.Strategy().String(), DefaultSchema: schema}
			}

			for _, name := range args {
				tableSchema, tableName := schema, name
				if i := strings.LastIndex(name, "."); i >= 0 {
					tableSchema, tableName = name[:i], name[i+1:]
				}
				t := catalog.New(r.Context().DefaultCatalog(), tableSchema, tableName)
				if err := t.GetMetaInfoFromDatabase(ctx, d, true); err != nil {
					return err
				}
				if err := t.SaveMetaInfo(a.cfg.MetaInfoDir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), filepath.Join(a.cfg.MetaInfoDir, t.FileName()))

				if addToDoc {
					doc.Classes = upsertClass(doc.Classes, mapping.ClassDocFromTable(tableName, t))
				}
			}

			if addToDoc {
				if err := mapping.SaveDocument(a.cfg.Mapping, doc); err != nil {
					return err
				}
				r.Logger().Info("Mapping configuration updated",
					zap.String("path", a.cfg.Mapping),
					zap.Int("classes", len(doc.Classes)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "schema of unqualified table names (default from configuration)")
	cmd.Flags().BoolVar(&addToDoc, "map", false, "also declare a class per table in the mapping configuration")
	return cmd
}

// upsertClass replaces the class of the same name or appends cd.
func upsertClass(classes []mapping.ClassDoc, cd mapping.ClassDoc) []mapping.ClassDoc {
	for i := range classes {
		if strings.EqualFold(classes[i].Name, cd.Name) {
			classes[i] = cd
			return classes
		}
	}
	return append(classes, cd)
}

func (a *app) newSchemaExportCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the DDL of the mapped classes as the next migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, closeRegistry, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			m, err := model(r)
			if err != nil {
				return err
			}
			d, err := dialectFor(a.cfg.Database.Type)
			if err != nil {
				return err
			}
			mig, err := database.ExportMigration(a.cfg.MigrationsDir, name, m, d)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mig.Up)
			fmt.Fprintln(cmd.OutOrStdout(), mig.Down)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "schema", "migration name")
	return cmd
}

func dialectFor(dbType string) (*dataset.Dialect, error) {
	switch datasource.CanonicalType(dbType) {
	case "", "postgres":
		return dataset.Postgres, nil
	case "mssql":
		return dataset.SQLServer, nil
	}
	return nil, fmt.Errorf("no SQL dialect for database type %q", dbType)
}

func (a *app) newSchemaApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply pending migrations to the PostgreSQL database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if t := datasource.CanonicalType(a.cfg.Database.Type); t != "" && t != "postgres" {
				return fmt.Errorf("schema apply supports postgres only, not %q", a.cfg.Database.Type)
			}
			ctx := cmd.Context()
			r, closeRegistry, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer closeRegistry()

			db, err := database.OpenSQL(ctx, a.cfg.Database.ConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()
			return database.RunMigrations(db, a.cfg.MigrationsDir, r.Logger())
		},
	}
}
