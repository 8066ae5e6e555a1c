package mssql

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "mssql",
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2019+ and Azure SQL Database",
			Aliases:     []string{"sqlserver", "azuresql"},
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
