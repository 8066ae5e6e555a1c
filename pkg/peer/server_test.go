package peer

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/filestore"
	"github.com/ekaya-inc/ekaya-orm/pkg/adapters/remote"
	"github.com/ekaya-inc/ekaya-orm/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-orm/pkg/dataset"
	"github.com/ekaya-inc/ekaya-orm/pkg/mapping"
	"github.com/ekaya-inc/ekaya-orm/pkg/message"
	"github.com/ekaya-inc/ekaya-orm/pkg/object"
	"github.com/ekaya-inc/ekaya-orm/pkg/retry"
	"github.com/ekaya-inc/ekaya-orm/pkg/session"
	"github.com/ekaya-inc/ekaya-orm/pkg/testhelpers"
)

type Country struct {
	object.Object
	ID          int64
	Name        string
	Inhabitants int64
}

func (c *Country) Bind(b *object.Binder) {
	b.Field("id", &c.ID)
	b.Field("name", &c.Name)
	b.Field("inhabitants", &c.Inhabitants)
}

// OnUpdate refuses negative populations.
func (c *Country) OnUpdate(ctx context.Context) bool { return c.Inhabitants >= 0 }

func factories(name string) (object.Factory, bool) {
	if strings.EqualFold(name, "country") {
		return func() object.Entity { return &Country{} }, true
	}
	return nil, false
}

func worldDocument() *mapping.Document {
	return &mapping.Document{
		Strategy: "standalone",
		Classes: []mapping.ClassDoc{{
			Name: "Country",
			Attributes: []mapping.AttributeDoc{
				{Name: "id", Type: "integer"},
				{Name: "name", Type: "varchar", Length: 60},
				{Name: "inhabitants", Type: "bigint"},
			},
			Identity:  &mapping.IdentityDoc{Columns: []string{"id"}},
			Generator: &mapping.GeneratorDoc{Attribute: "id"},
		}},
	}
}

func newSession(t *testing.T, opts session.Options) *session.Session {
	t.Helper()
	mctx, err := mapping.NewContext(mapping.Standalone)
	require.NoError(t, err)
	opts.Factories = factories
	opts.Logger = zaptest.NewLogger(t)
	s := session.New(mctx, opts)
	require.NoError(t, s.ApplyDocument(worldDocument()))
	t.Cleanup(s.Close)
	return s
}

// startPeer serves a filestore session over HTTP.
func startPeer(t *testing.T, secret string) (*session.Session, *httptest.Server) {
	t.Helper()
	local := newSession(t, session.Options{
		Key:   "peer",
		Role:  session.RoleFilestore,
		Store: filestore.New(t.TempDir(), zaptest.NewLogger(t)),
	})
	srv := New(local, Options{Secret: secret, Version: "test", Logger: zaptest.NewLogger(t)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return local, ts
}

func noRetry() *retry.Config {
	return &retry.Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newClient(t *testing.T, url string, opts ...remote.Option) *remote.Client {
	return remote.NewClient(url+"/soap", append([]remote.Option{remote.WithRetry(noRetry()), remote.WithLogger(zaptest.NewLogger(t))}, opts...)...)
}

func TestServer_Health(t *testing.T) {
	_, ts := startPeer(t, "")

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "filestore", body["role"])
}

func TestServer_RemoteSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	local, ts := startPeer(t, "")
	client := newClient(t, ts.URL)
	s := newSession(t, session.Options{Key: "remote", Role: session.RoleInternet, Peer: client})
	country, _ := s.Model().FindClass("Country")

	chile := &Country{Name: "Chile", Inhabitants: 19000000}
	require.NoError(t, chile.SetClass(country))
	ok, err := s.Insert(ctx, chile)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), chile.ID, "key generated by the peer")

	chile.Inhabitants = 19500000
	ok, err = s.Update(ctx, chile)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := local.Load(ctx, "Country", 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(19500000), stored.(*Country).Inhabitants)

	s.ClearCache()
	list, err := s.LoadWhere(ctx, "Country", dataset.FilterSet{dataset.Eq("name", "Chile")}, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Chile", list[0].(*Country).Name)

	ok, err = s.Delete(ctx, list[0])
	require.NoError(t, err)
	assert.True(t, ok)

	local.ClearCache()
	gone, err := local.Load(ctx, "Country", 1)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestServer_Describe(t *testing.T) {
	_, ts := startPeer(t, "")
	attrs, err := newClient(t, ts.URL).Describe(context.Background(), "country")
	require.NoError(t, err)
	require.Len(t, attrs, 3)
	assert.Equal(t, "id", attrs[0].Name)
	assert.Equal(t, "inhabitants", attrs[2].Name)
}

// post sends a raw envelope and decodes the answer.
func post(t *testing.T, url string, req *remote.Request, headers ...string) (int, *remote.Response) {
	t.Helper()
	body, err := xml.Marshal(req)
	require.NoError(t, err)
	httpReq, err := http.NewRequest(http.MethodPost, url+"/soap", strings.NewReader(string(body)))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", remote.ContentType)
	for i := 0; i+1 < len(headers); i += 2 {
		httpReq.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out remote.Response
	require.NoError(t, xml.Unmarshal(data, &out), string(data))
	return resp.StatusCode, &out
}

func TestServer_Faults(t *testing.T) {
	_, ts := startPeer(t, "")
	injected := remote.FiltersOf(dataset.FilterSet{dataset.Eq("name", "' OR '1'='1")})

	tests := []struct {
		name   string
		req    *remote.Request
		status int
		reason string
	}{
		{"no filters", &remote.Request{Action: remote.ActionSelect, Entity: "Country"}, http.StatusBadRequest, "at least one filter"},
		{"injection", &remote.Request{Action: remote.ActionSelect, Entity: "Country", Filters: injected}, http.StatusBadRequest, "not allowed"},
		{"unknown entity", &remote.Request{Action: remote.ActionSelect, Entity: "Galaxy"}, http.StatusBadRequest, "unknown entity"},
		{"unknown action", &remote.Request{Action: "merge", Entity: "Country"}, http.StatusBadRequest, "unknown action"},
		{"insert without entity", &remote.Request{Action: remote.ActionInsert, Entity: "Country"}, http.StatusBadRequest, "exactly one entity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ID = "req-" + strings.ReplaceAll(tt.name, " ", "-")
			status, resp := post(t, ts.URL, tt.req)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, remote.ResultFault, resp.Result)
			assert.Equal(t, tt.req.ID, resp.ID)
			require.NotNil(t, resp.Fault)
			assert.Equal(t, remote.ActorClient, resp.Fault.Actor)
			assert.Contains(t, resp.Fault.Reason, tt.reason)
		})
	}
}

func TestServer_UpdateMissingRow(t *testing.T) {
	ctx := context.Background()
	_, ts := startPeer(t, "")
	s := newSession(t, session.Options{Role: session.RoleInternet, Peer: newClient(t, ts.URL)})
	country, _ := s.Model().FindClass("Country")

	ghost := &Country{ID: 42, Name: "Atlantis"}
	require.NoError(t, ghost.SetClass(country))
	require.NoError(t, ghost.SetPrimaryKey([]any{int64(42)}))

	_, err := s.Update(ctx, ghost)
	var remoteErr *apperrors.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, remoteErr.Fault, "no row for key")
}

func TestServer_RequiresToken(t *testing.T) {
	ctx := context.Background()
	_, ts := startPeer(t, "peer-secret")
	filters := dataset.FilterSet{dataset.Eq("name", "Chile")}

	req := &remote.Request{Action: remote.ActionSelect, Entity: "Country", Filters: remote.FiltersOf(filters)}
	status, resp := post(t, ts.URL, req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, remote.ResultFault, resp.Result)

	status, resp = post(t, ts.URL, req, "Authorization", testhelpers.GeneratePeerTokenWithBearer(t, "peer-secret", "raw"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, remote.ResultOK, resp.Result)

	_, err := newClient(t, ts.URL, remote.WithSecret("wrong")).Select(ctx, "Country", filters, nil)
	assert.ErrorIs(t, err, apperrors.ErrRemote)

	list, err := newClient(t, ts.URL, remote.WithSecret("peer-secret"), remote.WithSession("remote")).Select(ctx, "Country", filters, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServer_AuditTrail(t *testing.T) {
	local := newSession(t, session.Options{
		Key:   "peer",
		Role:  session.RoleFilestore,
		Store: filestore.New(t.TempDir(), zaptest.NewLogger(t)),
	})
	core, recorded := observer.New(zapcore.InfoLevel)
	ts := httptest.NewServer(New(local, Options{Secret: "peer-secret", Logger: zap.New(core)}).Handler())
	t.Cleanup(ts.Close)
	bearer := testhelpers.GeneratePeerTokenWithBearer(t, "peer-secret", "auditing")

	status, _ := post(t, ts.URL, &remote.Request{Action: remote.ActionDescribe, Entity: "Country"})
	require.Equal(t, http.StatusUnauthorized, status)

	injected := remote.FiltersOf(dataset.FilterSet{dataset.Eq("name", "' OR '1'='1")})
	status, _ = post(t, ts.URL, &remote.Request{ID: "inj", Action: remote.ActionSelect, Entity: "Country", Filters: injected},
		"Authorization", bearer)
	require.Equal(t, http.StatusBadRequest, status)

	client := newClient(t, ts.URL, remote.WithSecret("peer-secret"), remote.WithSession("auditing"))
	s := newSession(t, session.Options{Role: session.RoleInternet, Peer: client})
	country, _ := s.Model().FindClass("Country")
	peru := &Country{Name: "Peru"}
	require.NoError(t, peru.SetClass(country))
	ok, err := s.Insert(context.Background(), peru)
	require.NoError(t, err)
	require.True(t, ok)

	audited := recorded.FilterLoggerName("peer.security_audit").All()
	require.Len(t, audited, 3)
	assert.Equal(t, "Authentication failed", audited[0].Message)
	assert.Equal(t, "SQL injection attempt detected", audited[1].Message)
	assert.Equal(t, "inj", audited[1].ContextMap()["request_id"])
	assert.Equal(t, "Remote mutation applied", audited[2].Message)
	fields := audited[2].ContextMap()
	assert.Equal(t, "insert", fields["action"])
	assert.Equal(t, "Country", fields["entity"])
	assert.Equal(t, "1", fields["key"])
	assert.Equal(t, "auditing", fields["session"])
}

func TestServer_RefusedUpdateLeavesCacheClean(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := newSession(t, session.Options{
		Key:   "peer",
		Role:  session.RoleFilestore,
		Store: filestore.New(dir, zaptest.NewLogger(t)),
	})
	ts := httptest.NewServer(New(local, Options{Logger: zaptest.NewLogger(t)}).Handler())
	t.Cleanup(ts.Close)

	country, _ := local.Model().FindClass("Country")
	chile := &Country{Name: "Chile", Inhabitants: 19000000}
	require.NoError(t, chile.SetClass(country))
	ok, err := local.Insert(ctx, chile)
	require.NoError(t, err)
	require.True(t, ok)

	bad := message.New(remote.EntityTag, "Country").
		Set("id", chile.ID).Set("name", "Atlantis").Set("inhabitants", -1)
	status, resp := post(t, ts.URL, &remote.Request{Action: remote.ActionUpdate, Entity: "Country", Objects: []*message.Element{bad}})
	assert.Equal(t, http.StatusInternalServerError, status)
	require.NotNil(t, resp.Fault)
	assert.Contains(t, resp.Fault.Reason, "refused")

	cached, err := local.Load(ctx, "Country", chile.ID)
	require.NoError(t, err)
	require.Same(t, chile, cached)
	assert.Equal(t, "Chile", chile.Name)
	assert.Equal(t, int64(19000000), chile.Inhabitants)
	assert.False(t, chile.Record().HasStatus(dataset.StatusUpdated))

	ok, err = local.Synchronize(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	reader := newSession(t, session.Options{
		Key:   "reader",
		Role:  session.RoleFilestore,
		Store: filestore.New(dir, zaptest.NewLogger(t)),
	})
	stored, err := reader.Load(ctx, "Country", chile.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Chile", stored.(*Country).Name)
	assert.Equal(t, int64(19000000), stored.(*Country).Inhabitants)
}
