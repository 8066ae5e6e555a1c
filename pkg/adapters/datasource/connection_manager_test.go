package datasource

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePool struct {
	closed atomic.Bool
	pings  atomic.Int32
}

func (p *fakePool) Ping(ctx context.Context) error {
	p.pings.Add(1)
	return nil
}

func (p *fakePool) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePool) GetType() string { return "fake" }

func newTestManager(t *testing.T, maxPerOwner int) (*ConnectionManager, *atomic.Int32) {
	t.Helper()
	m := NewConnectionManager(ConnectionManagerConfig{MaxConnectionsPerOwner: maxPerOwner}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })

	var created atomic.Int32
	m.SetPoolFactory("fake", func(ctx context.Context, connString string, cfg ConnectionManagerConfig) (PoolConnector, error) {
		created.Add(1)
		return &fakePool{}, nil
	})
	return m, &created
}

func TestConnectionManager_ReusesPoolForSameKey(t *testing.T) {
	m, created := newTestManager(t, 0)
	ctx := context.Background()
	owner := uuid.New()

	a, err := m.GetOrCreateConnection(ctx, "fake", owner, "main", "dsn")
	require.NoError(t, err)
	b, err := m.GetOrCreateConnection(ctx, "fake", owner, "main", "dsn")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(1), a.(*fakePool).pings.Load())

	stats := m.GetStats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ConnectionsByOwner[owner.String()])
}

func TestConnectionManager_EnforcesOwnerLimit(t *testing.T) {
	m, _ := newTestManager(t, 2)
	ctx := context.Background()
	owner := uuid.New()

	_, err := m.GetOrCreateConnection(ctx, "fake", owner, "a", "dsn")
	require.NoError(t, err)
	_, err = m.GetOrCreateConnection(ctx, "fake", owner, "b", "dsn")
	require.NoError(t, err)
	_, err = m.GetOrCreateConnection(ctx, "fake", owner, "c", "dsn")
	assert.ErrorContains(t, err, "maximum connections limit")

	// another owner is unaffected
	_, err = m.GetOrCreateConnection(ctx, "fake", uuid.New(), "c", "dsn")
	assert.NoError(t, err)
}

func TestConnectionManager_UnknownType(t *testing.T) {
	m, _ := newTestManager(t, 0)
	_, err := m.GetOrCreateConnection(context.Background(), "oracle", uuid.New(), "x", "dsn")
	assert.ErrorContains(t, err, "no pool factory")
}

func TestConnectionManager_ReleaseOwnerAndClose(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()
	owner := uuid.New()

	c, err := m.GetOrCreateConnection(ctx, "fake", owner, "main", "dsn")
	require.NoError(t, err)
	other, err := m.GetOrCreateConnection(ctx, "fake", uuid.New(), "main", "dsn")
	require.NoError(t, err)

	m.ReleaseOwner(owner)
	assert.True(t, c.(*fakePool).closed.Load())
	assert.False(t, other.(*fakePool).closed.Load())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, other.(*fakePool).closed.Load())

	_, err = m.GetOrCreateConnection(ctx, "fake", owner, "main", "dsn")
	assert.Error(t, err)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	Register(DatasourceAdapterRegistration{
		Info: DatasourceAdapterInfo{Type: "test-only", DisplayName: "Test", Aliases: []string{"Test-Alias"}},
		ConnectionFactory: func(ctx context.Context, config map[string]any, connMgr *ConnectionManager, owner uuid.UUID, name string) (Connection, error) {
			return nil, nil
		},
	})
	assert.True(t, IsRegistered("test-only"))
	assert.NotNil(t, GetConnectionFactory("test-only"))
	assert.Nil(t, GetSchemaDiscovererFactory("test-only"))
	assert.Nil(t, GetConnectionFactory("missing"))
	assert.True(t, IsRegistered("test-alias"))
	assert.Equal(t, "test-only", CanonicalType(" TEST-ALIAS "))
	assert.Equal(t, "unheard-of", CanonicalType("Unheard-Of"))

	f := NewDatasourceAdapterFactory(nil)
	_, err := f.NewConnection(context.Background(), "missing", nil, uuid.New(), "x")
	assert.ErrorContains(t, err, "unsupported datasource type")
	_, err = f.NewSchemaDiscoverer(context.Background(), "test-only", nil, uuid.New(), "x")
	assert.ErrorContains(t, err, "schema discovery not supported")
}

func TestOptions(t *testing.T) {
	o := Options{
		"host":    "db",
		"empty":   "",
		"port":    float64(6543),
		"timeout": "15",
		"strict":  "strict",
		"off":     false,
	}

	host, ok := o.String("host")
	assert.True(t, ok)
	assert.Equal(t, "db", host)
	_, ok = o.String("empty")
	assert.False(t, ok)

	user, err := o.RequireString("user", "host")
	require.NoError(t, err)
	assert.Equal(t, "db", user)
	_, err = o.RequireString("user", "username")
	assert.EqualError(t, err, "user is required")

	port, ok := o.Int("port")
	assert.True(t, ok)
	assert.Equal(t, 6543, port)
	timeout, ok := o.Int("timeout")
	assert.True(t, ok)
	assert.Equal(t, 15, timeout)
	_, ok = o.Int("host")
	assert.False(t, ok)

	strict, ok := o.Bool("strict")
	assert.True(t, ok && strict)
	off, ok := o.Bool("off")
	assert.True(t, ok)
	assert.False(t, off)
	_, ok = o.Bool("host")
	assert.False(t, ok)
}
