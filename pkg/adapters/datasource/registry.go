package datasource

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DatasourceAdapterInfo describes a registered adapter.
type DatasourceAdapterInfo struct {
	Type        string   `json:"type"`         // "postgres", "mssql"
	DisplayName string   `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"` // other names accepted in configuration
}

// ConnectionFactory opens a Connection. owner and name identify the pool in the
// connection manager; connMgr may be nil for an unmanaged pool.
type ConnectionFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, owner uuid.UUID, name string) (Connection, error)

// SchemaDiscovererFactory opens a SchemaDiscoverer with the same pooling rules.
type SchemaDiscovererFactory func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, owner uuid.UUID, name string) (SchemaDiscoverer, error)

// DatasourceAdapterRegistration contains info + factories for creating adapters.
type DatasourceAdapterRegistration struct {
	Info                    DatasourceAdapterInfo
	ConnectionFactory       ConnectionFactory
	SchemaDiscovererFactory SchemaDiscovererFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DatasourceAdapterRegistration)
	aliases    = make(map[string]string)
)

// Register is called by each adapter's init() function.
func Register(reg DatasourceAdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
	for _, a := range reg.Info.Aliases {
		aliases[strings.ToLower(a)] = reg.Info.Type
	}
}

// CanonicalType resolves an alias ("postgresql", "sqlserver") to the
// registered type name. Unknown names are returned lower-cased.
func CanonicalType(dsType string) string {
	t := strings.ToLower(strings.TrimSpace(dsType))
	registryMu.RLock()
	defer registryMu.RUnlock()
	if canonical, ok := aliases[t]; ok {
		return canonical
	}
	return t
}

func lookup(dsType string) (DatasourceAdapterRegistration, bool) {
	t := CanonicalType(dsType)
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[t]
	return reg, ok
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []DatasourceAdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DatasourceAdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	slices.SortFunc(result, func(a, b DatasourceAdapterInfo) int { return strings.Compare(a.Type, b.Type) })
	return result
}

// GetConnectionFactory returns the connection factory for a type or alias,
// or nil.
func GetConnectionFactory(dsType string) ConnectionFactory {
	reg, _ := lookup(dsType)
	return reg.ConnectionFactory
}

// GetSchemaDiscovererFactory returns the schema discoverer factory for a
// type or alias, or nil when the adapter cannot read catalogs.
func GetSchemaDiscovererFactory(dsType string) SchemaDiscovererFactory {
	reg, _ := lookup(dsType)
	return reg.SchemaDiscovererFactory
}

// IsRegistered checks if an adapter type or alias is available.
func IsRegistered(dsType string) bool {
	_, ok := lookup(dsType)
	return ok
}
