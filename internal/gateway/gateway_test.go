package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/discovery"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/origin"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/session"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/testutil"
)

type harness struct {
	gw        *Gateway
	users     *identity.Store
	rbac      *rbac.Engine
	rbacStore *rbac.Store
	issuer    *identity.Issuer
	registry  *registry.Registry
	catalog   *discovery.Catalog
	cfgStore  *configstore.Store
	serverID  string
}

// fakeUpstream serves a single tool called "echo" with no streaming.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	var sessionID = "upstream-sess-1"
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			ID     int64           `json:"id"`
			Params json.RawMessage `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", sessionID)

		switch req.Method {
		case "initialize":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{}}`, req.ID)
		case "tools/list":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}`, req.ID)
		case "tools/call":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"ok"}]}}`, req.ID)
		}
	})
	return httptest.NewServer(mux)
}

func newHarness(t *testing.T, upstreamURL string) *harness {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLoggerWithOutput(t)

	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	auditLog, err := audit.Open(ctx, db, logger)
	require.NoError(t, err)

	cfgStore, err := configstore.Open(ctx, db, auditLog, logger)
	require.NoError(t, err)
	require.NoError(t, cfgStore.SetOriginPolicy(ctx, configstore.OriginPolicy{
		Allowlist: []string{"test.local"},
	}, ""))

	originValidator := origin.New(cfgStore, logger)

	userStore, err := identity.OpenStore(ctx, db, logger)
	require.NoError(t, err)

	key := mustKey(t)
	issuer := identity.NewIssuer(key, "mcp-gateway-test")
	verifier := identity.NewVerifier(key, logger)
	idnService := identity.NewService(userStore, issuer, verifier, cfgStore, logger)

	rbacStore, err := rbac.OpenStore(ctx, db, logger)
	require.NoError(t, err)
	engine, err := rbac.NewEngine(rbacStore, userStore, auditLog, logger)
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap(ctx))

	regStore, err := registry.OpenStore(ctx, db, logger)
	require.NoError(t, err)
	reg := registry.New(regStore, auditLog, time.Hour, 4, 4, logger)

	var serverID string
	if upstreamURL != "" {
		srv, err := reg.AddServer(ctx, upstreamURL)
		require.NoError(t, err)
		serverID = srv.ID
	}

	catalog := discovery.New(logger)
	require.NoError(t, catalog.Refresh(ctx, reg, nil))

	sessions := session.NewManager(auditLog, logger)

	gw := New(originValidator, idnService, engine, reg, catalog, sessions, auditLog, logger)

	return &harness{
		gw: gw, users: userStore, rbac: engine, rbacStore: rbacStore, issuer: issuer,
		registry: reg, catalog: catalog, cfgStore: cfgStore, serverID: serverID,
	}
}

func mustKey(t *testing.T) *identity.KeyMaterial {
	t.Helper()
	dir := t.TempDir()
	key, err := identity.LoadOrGenerateKey(dir + "/signing.pem")
	require.NoError(t, err)
	return key
}

func doRequest(t *testing.T, gw *Gateway, method, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/mcp", strings.NewReader(body))
	req.Header.Set("Origin", "http://test.local")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	return rec
}

func TestInitialize_CreatesSessionAndReturnsCapabilities(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(headerSessionID))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestInitialize_RejectsUnsupportedProtocolVersion(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`, nil)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindUnsupportedProtocolVersion, resp.Error.Data.Kind)
}

func TestPost_MissingProtocolVersionHeaderRejected(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, map[string]string{
		headerSessionID: "whatever",
	})

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindProtocolVersionMissing, resp.Error.Data.Kind)
}

func TestMalformedJSON_ReturnsParseError(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(t, h.gw, http.MethodPost, `{not json`, nil)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeParseError, resp.Error.Code)
}

func TestToolsCall_AnonymousRejected(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	h := newHarness(t, upstream.URL)

	sessionID := initSession(t, h.gw)

	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`, map[string]string{
		headerProtocolVersion: protocolVersion,
		headerSessionID:       sessionID,
	})

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindAuthRequired, resp.Error.Data.Kind)
}

func TestExpiredToken_ReturnsTokenExpired(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	admin, err := h.users.FindByEmail(ctx, "admin")
	require.NoError(t, err)
	token, err := h.issuer.Issue(admin, -time.Minute)
	require.NoError(t, err)

	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindTokenExpired, resp.Error.Data.Kind)
}

func TestMalformedToken_ReturnsTokenInvalid(t *testing.T) {
	h := newHarness(t, "")
	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindTokenInvalid, resp.Error.Data.Kind)
}

func TestToolsCall_AuthorizedAdminSucceeds(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	h := newHarness(t, upstream.URL)

	ctx := context.Background()
	admin, err := h.users.FindByEmail(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	token, err := h.issuer.Issue(admin, time.Hour)
	require.NoError(t, err)

	sessionID := initSessionAuthed(t, h.gw, token)

	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{}}}`, map[string]string{
		headerProtocolVersion: protocolVersion,
		headerSessionID:       sessionID,
		"Authorization":       "Bearer " + token,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestToolsCall_UnknownToolReturnsToolUnknown(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	h := newHarness(t, upstream.URL)

	ctx := context.Background()
	admin, err := h.users.FindByEmail(ctx, "admin")
	require.NoError(t, err)
	token, err := h.issuer.Issue(admin, time.Hour)
	require.NoError(t, err)
	sessionID := initSessionAuthed(t, h.gw, token)

	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`, map[string]string{
		headerProtocolVersion: protocolVersion,
		headerSessionID:       sessionID,
		"Authorization":       "Bearer " + token,
	})

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindToolUnknown, resp.Error.Data.Kind)
}

func TestToolsCall_CELConditionedGrantEnforcedThroughDispatch(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	h := newHarness(t, upstream.URL)

	ctx := context.Background()
	u, err := h.users.CreateLocalUser(ctx, "conditioned@example.com", "Conditioned User", "pw")
	require.NoError(t, err)
	require.NoError(t, h.rbacStore.AssignRole(ctx, u.ID, rbac.RoleUser))
	_, err = h.rbacStore.AddGrant(ctx, rbac.RoleUser, h.serverID, "echo", `args.text.size() < 5`)
	require.NoError(t, err)

	token, err := h.issuer.Issue(u, time.Hour)
	require.NoError(t, err)
	sessionID := initSessionAuthed(t, h.gw, token)

	// The condition references the real request arguments under the
	// "args" key exactly as the gateway populates it for CanExecuteTool,
	// not just the engine's own unit test, so this exercises the key name
	// the gateway and the CEL environment must agree on.
	rec := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{"text":"toolong"}}}`, map[string]string{
		headerProtocolVersion: protocolVersion,
		headerSessionID:       sessionID,
		"Authorization":       "Bearer " + token,
	})
	var denied Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	require.NotNil(t, denied.Error)
	require.Equal(t, kindAuthzDenied, denied.Error.Data.Kind)

	rec = doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`, map[string]string{
		headerProtocolVersion: protocolVersion,
		headerSessionID:       sessionID,
		"Authorization":       "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var allowed Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &allowed))
	require.Nil(t, allowed.Error)
}

func TestDelete_ClosesSession(t *testing.T) {
	h := newHarness(t, "")
	sessionID := initSession(t, h.gw)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Origin", "http://test.local")
	req.Header.Set(headerSessionID, sessionID)
	rec := httptest.NewRecorder()
	h.gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	rec2 := doRequest(t, h.gw, http.MethodPost, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`, map[string]string{
		headerProtocolVersion: protocolVersion,
		headerSessionID:       sessionID,
	})
	var resp Response
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, kindSessionUnknown, resp.Error.Data.Kind)
}

func TestOriginRejected_Returns403(t *testing.T) {
	h := newHarness(t, "")
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.gw.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func initSession(t *testing.T, gw *Gateway) string {
	t.Helper()
	rec := doRequest(t, gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	return rec.Header().Get(headerSessionID)
}

func initSessionAuthed(t *testing.T, gw *Gateway, token string) string {
	t.Helper()
	rec := doRequest(t, gw, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	return rec.Header().Get(headerSessionID)
}
