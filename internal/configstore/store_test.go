package configstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := audit.Open(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)

	s, err := Open(context.Background(), db, a, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestStore_DefaultsSeeded(t *testing.T) {
	s := newTestStore(t)
	policy := s.GetOriginPolicy()
	assert.Equal(t, DefaultOriginPolicy(), policy)
	assert.False(t, policy.AllowNgrok)
}

func TestStore_SetOriginPolicy_ReadYourWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := s.GetOriginPolicy()
	p.Allowlist = append(p.Allowlist, "example.com")
	require.NoError(t, s.SetOriginPolicy(ctx, p, "admin"))

	got := s.GetOriginPolicy()
	assert.True(t, got.Contains("example.com"))
}

func TestStore_SetEmitsAuditEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := s.GetOriginPolicy()
	require.NoError(t, s.SetOriginPolicy(ctx, p, "admin"))

	events, err := s.audit.List(ctx, audit.Filter{Kind: string(audit.KindConfigChanged)})
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestStore_JWTConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := s.GetJWTConfig()
	c.LegacyHS256Enabled = true
	require.NoError(t, s.SetJWTConfig(ctx, c, "admin"))

	got := s.GetJWTConfig()
	assert.True(t, got.LegacyHS256Enabled)
}
