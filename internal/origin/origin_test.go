package origin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := audit.Open(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)
	store, err := configstore.Open(context.Background(), db, a, zerolog.Nop())
	require.NoError(t, err)

	return New(store, zerolog.Nop())
}

func TestExtract_OriginHeaderWins(t *testing.T) {
	v := newTestValidator(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Origin", "https://localhost:8080/ignored/path?q=1")
	r.Header.Set("X-Forwarded-Host", "evil.example")

	c, ok := v.Extract(r)
	require.True(t, ok)
	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, "https", c.Scheme)
}

func TestExtract_ForwardedHeadersFallback(t *testing.T) {
	v := newTestValidator(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "localhost")

	c, ok := v.Extract(r)
	require.True(t, ok)
	assert.Equal(t, "localhost", c.Host)
}

func TestExtract_OriginalHostAssumesHTTPS(t *testing.T) {
	v := newTestValidator(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("X-Original-Host", "localhost")

	c, ok := v.Extract(r)
	require.True(t, ok)
	assert.Equal(t, "https", c.Scheme)
}

func TestExtract_RefererIsNotConsulted(t *testing.T) {
	v := newTestValidator(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Referer", "https://localhost")

	_, ok := v.Extract(r)
	assert.False(t, ok)
}

func TestExtract_RejectsNonHTTPScheme(t *testing.T) {
	v := newTestValidator(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Origin", "javascript:alert(1)")

	_, ok := v.Extract(r)
	assert.False(t, ok)
}

func TestExtract_RejectsOversizedHostname(t *testing.T) {
	v := newTestValidator(t)
	longHost := ""
	for i := 0; i < 254; i++ {
		longHost += "a"
	}
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Origin", "https://"+longHost)

	_, ok := v.Extract(r)
	assert.False(t, ok)
}

func TestValidate_AllowlistMatch(t *testing.T) {
	v := newTestValidator(t)
	d := v.Validate(Candidate{Scheme: "https", Host: "localhost"}, true)
	assert.True(t, d.Allowed)
	assert.False(t, d.Permissive)
}

func TestValidate_MissingOriginDenied(t *testing.T) {
	v := newTestValidator(t)
	d := v.Validate(Candidate{}, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, "missing_origin", d.Reason)
}

func TestValidate_UnlistedHostDenied(t *testing.T) {
	v := newTestValidator(t)
	d := v.Validate(Candidate{Scheme: "https", Host: "evil.com"}, true)
	assert.False(t, d.Allowed)
}

func TestValidate_AllowHTTPSAny(t *testing.T) {
	v := newTestValidator(t)
	p := v.store.GetOriginPolicy()
	p.AllowHTTPSAny = true
	require.NoError(t, v.store.SetOriginPolicy(context.Background(), p, "admin"))

	d := v.Validate(Candidate{Scheme: "https", Host: "anything.example"}, true)
	assert.True(t, d.Allowed)
	assert.True(t, d.Permissive)
}

func TestValidate_AllowNgrokRequiresFlag(t *testing.T) {
	v := newTestValidator(t)
	d := v.Validate(Candidate{Scheme: "https", Host: "abc123.ngrok-free.app"}, true)
	assert.False(t, d.Allowed)

	p := v.store.GetOriginPolicy()
	p.AllowNgrok = true
	require.NoError(t, v.store.SetOriginPolicy(context.Background(), p, "admin"))

	d = v.Validate(Candidate{Scheme: "https", Host: "abc123.ngrok-free.app"}, true)
	assert.True(t, d.Allowed)
	assert.True(t, d.Permissive)
}

func TestCheck_RejectLogsErrorAndReturnsDecision(t *testing.T) {
	v := newTestValidator(t)
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Origin", "https://evil.com")

	d := v.Check(r)
	assert.False(t, d.Allowed)
}
