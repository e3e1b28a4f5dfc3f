package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/transport"
)

func newTestRegistry(t *testing.T) (*Registry, *Store) {
	t.Helper()
	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := audit.Open(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)

	store, err := OpenStore(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)

	reg := New(store, a, time.Hour, 4, 4, zerolog.Nop())
	return reg, store
}

func fakeUpstream(t *testing.T, toolNames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transport.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": "2025-06-18"}
		case "tools/list":
			tools := make([]map[string]any, 0, len(toolNames))
			for _, n := range toolNames {
				tools = append(tools, map[string]any{"name": n})
			}
			result = map[string]any{"tools": tools}
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}

		body, _ := json.Marshal(result)
		resp := transport.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: body}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", "sess-1")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestAddServer_PersistsAndMarksHealthy(t *testing.T) {
	reg, store := newTestRegistry(t)
	srv := fakeUpstream(t, "search", "fetch")
	defer srv.Close()

	registered, err := reg.AddServer(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, string(HealthHealthy), registered.HealthStatus)

	persisted, err := store.Get(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Contains(t, persisted.ToolSchemaJSON, "search")
	assert.Contains(t, persisted.ToolSchemaJSON, "fetch")

	healthy := reg.ListHealthy()
	require.Len(t, healthy, 1)
	assert.Equal(t, registered.ID, healthy[0].ID)
}

func TestAddServer_RejectsInvalidURL(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.AddServer(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestAddServer_RejectsDuplicateEndpoint(t *testing.T) {
	reg, _ := newTestRegistry(t)
	srv := fakeUpstream(t, "search")
	defer srv.Close()

	_, err := reg.AddServer(context.Background(), srv.URL)
	require.NoError(t, err)

	_, err = reg.AddServer(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestRemoveServer_CancelsContextAndDeletes(t *testing.T) {
	reg, store := newTestRegistry(t)
	srv := fakeUpstream(t, "search")
	defer srv.Close()

	registered, err := reg.AddServer(context.Background(), srv.URL)
	require.NoError(t, err)

	_, clientCtx, ok := reg.Client(registered.ID)
	require.True(t, ok)

	require.NoError(t, reg.RemoveServer(context.Background(), registered.ID))

	select {
	case <-clientCtx.Done():
	default:
		t.Fatal("expected server context to be canceled after removal")
	}

	_, ok = reg.Get(registered.ID)
	assert.False(t, ok)

	persisted, err := store.Get(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Nil(t, persisted)
}

func TestRefreshTools_UpdatesSchema(t *testing.T) {
	reg, store := newTestRegistry(t)
	srv := fakeUpstream(t, "search")
	defer srv.Close()

	registered, err := reg.AddServer(context.Background(), srv.URL)
	require.NoError(t, err)

	require.NoError(t, reg.RefreshTools(context.Background(), registered.ID))

	persisted, err := store.Get(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Contains(t, persisted.ToolSchemaJSON, "search")
}

func TestLoadFromStore_ReattachesPersistedServers(t *testing.T) {
	reg, store := newTestRegistry(t)
	srv := fakeUpstream(t, "search")
	defer srv.Close()

	registered, err := reg.AddServer(context.Background(), srv.URL)
	require.NoError(t, err)

	reg2 := New(store, nil, time.Hour, 4, 4, zerolog.Nop())
	require.NoError(t, reg2.LoadFromStore(context.Background()))

	loaded, ok := reg2.Get(registered.ID)
	require.True(t, ok)
	assert.Equal(t, registered.BaseURL, loaded.BaseURL)
}
