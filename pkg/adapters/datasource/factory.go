package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DatasourceAdapterFactory opens adapters by configured database type.
type DatasourceAdapterFactory interface {
	NewConnection(ctx context.Context, dsType string, config map[string]any, owner uuid.UUID, name string) (Connection, error)
	NewSchemaDiscoverer(ctx context.Context, dsType string, config map[string]any, owner uuid.UUID, name string) (SchemaDiscoverer, error)
	ListTypes() []DatasourceAdapterInfo
}

type registryFactory struct {
	connMgr *ConnectionManager
}

// NewDatasourceAdapterFactory returns a factory over the adapters
// registered by the imported driver packages. Pools are shared through
// connMgr, which may be nil.
func NewDatasourceAdapterFactory(connMgr *ConnectionManager) DatasourceAdapterFactory {
	return &registryFactory{connMgr: connMgr}
}

func (f *registryFactory) NewConnection(ctx context.Context, dsType string, config map[string]any, owner uuid.UUID, name string) (Connection, error) {
	factory := GetConnectionFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("unsupported datasource type: %s (known: %s)", dsType, f.known())
	}
	return factory(ctx, config, f.connMgr, owner, name)
}

func (f *registryFactory) NewSchemaDiscoverer(ctx context.Context, dsType string, config map[string]any, owner uuid.UUID, name string) (SchemaDiscoverer, error) {
	factory := GetSchemaDiscovererFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("schema discovery not supported for type: %s", dsType)
	}
	return factory(ctx, config, f.connMgr, owner, name)
}

func (f *registryFactory) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

func (f *registryFactory) known() string {
	var names []string
	for _, info := range RegisteredAdapters() {
		names = append(names, info.Type)
	}
	return strings.Join(names, ", ")
}

var _ DatasourceAdapterFactory = (*registryFactory)(nil)
