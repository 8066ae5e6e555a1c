package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+ through pgx",
			Aliases:     []string{"postgresql", "pg"},
		},
		ConnectionFactory: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string) (datasource.Connection, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg, connMgr, owner, name, nil)
		},
		SchemaDiscovererFactory: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, owner uuid.UUID, name string) (datasource.SchemaDiscoverer, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSchemaDiscoverer(ctx, cfg, connMgr, owner, name, nil)
		},
	})
}
