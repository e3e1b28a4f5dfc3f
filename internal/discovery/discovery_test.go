package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/transport"
)

func upstreamWithTools(t *testing.T, names ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transport.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{}
		case "tools/list":
			tools := make([]map[string]any, 0, len(names))
			for _, n := range names {
				tools = append(tools, map[string]any{
					"name":        n,
					"description": "does things",
					"inputSchema": map[string]any{"type": "object"},
				})
			}
			result = map[string]any{"tools": tools}
		}
		body, _ := json.Marshal(result)
		resp := transport.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: body}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Mcp-Session-Id", "sess-1")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := audit.Open(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)

	store, err := registry.OpenStore(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)

	return registry.New(store, a, time.Hour, 4, 4, zerolog.Nop())
}

func TestCatalog_RefreshAggregatesHealthyUpstreams(t *testing.T) {
	reg := newTestRegistry(t)
	srvA := upstreamWithTools(t, "search")
	defer srvA.Close()
	srvB := upstreamWithTools(t, "fetch")
	defer srvB.Close()

	_, err := reg.AddServer(context.Background(), srvA.URL)
	require.NoError(t, err)
	_, err = reg.AddServer(context.Background(), srvB.URL)
	require.NoError(t, err)

	cat := New(zerolog.Nop())
	require.NoError(t, cat.Refresh(context.Background(), reg, nil))

	all := cat.All()
	require.Len(t, all, 2)
}

func TestCatalog_CollidingNamesAreBothListed(t *testing.T) {
	reg := newTestRegistry(t)
	srvA := upstreamWithTools(t, "search")
	defer srvA.Close()
	srvB := upstreamWithTools(t, "search")
	defer srvB.Close()

	_, err := reg.AddServer(context.Background(), srvA.URL)
	require.NoError(t, err)
	_, err = reg.AddServer(context.Background(), srvB.URL)
	require.NoError(t, err)

	cat := New(zerolog.Nop())
	require.NoError(t, cat.Refresh(context.Background(), reg, nil))

	matches := cat.Lookup("search")
	assert.Len(t, matches, 2)
}

func TestResolve_AmbiguousWhenBothVisible(t *testing.T) {
	visible := []Entry{
		{Tool: mustTool("search"), ServerID: "a"},
		{Tool: mustTool("search"), ServerID: "b"},
	}
	_, err := Resolve("search", visible)
	require.Error(t, err)

	var ambErr *AmbiguousError
	require.ErrorAs(t, err, &ambErr)
	assert.ElementsMatch(t, []string{"a", "b"}, ambErr.Candidates)
}

func TestResolve_UnambiguousWhenOnlyOneVisible(t *testing.T) {
	visible := []Entry{
		{Tool: mustTool("search"), ServerID: "a"},
	}
	entry, err := Resolve("search", visible)
	require.NoError(t, err)
	assert.Equal(t, "a", entry.ServerID)
}

func TestResolve_NotFound(t *testing.T) {
	_, err := Resolve("missing", nil)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFingerprint_ChangesWhenCatalogChanges(t *testing.T) {
	reg := newTestRegistry(t)
	srv := upstreamWithTools(t, "search")
	defer srv.Close()

	cat := New(zerolog.Nop())
	require.NoError(t, cat.Refresh(context.Background(), reg, nil))
	empty := cat.Fingerprint()

	_, err := reg.AddServer(context.Background(), srv.URL)
	require.NoError(t, err)
	require.NoError(t, cat.Refresh(context.Background(), reg, nil))

	assert.NotEqual(t, empty, cat.Fingerprint())
}

func TestCatalogEntrySchema_ProducesObjectSchema(t *testing.T) {
	schema, err := CatalogEntrySchema()
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])
}

func mustTool(name string) mcp.Tool {
	return upstreamTool{Name: name}.toMCPTool()
}
