package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := Open(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestLog_WriteAssignsMonotonicIDs(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	e1, err := l.Write(ctx, KindSessionInitialized, SeverityInfo, "u1", "session", "s1", true, nil)
	require.NoError(t, err)
	e2, err := l.Write(ctx, KindSessionClosed, SeverityInfo, "u1", "session", "s1", true, nil)
	require.NoError(t, err)

	assert.Less(t, e1.ID, e2.ID)
}

func TestLog_WriteAndList(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, err := l.Write(ctx, KindAuthzPermissionDenied, SeverityWarn, "viewer", "tool", "search_web", false, map[string]any{"server_id": "srv1"})
	require.NoError(t, err)
	_, err = l.Write(ctx, KindAuthzPermissionGranted, SeverityInfo, "admin", "tool", "search_web", true, nil)
	require.NoError(t, err)

	events, err := l.List(ctx, Filter{Kind: string(KindAuthzPermissionDenied)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "viewer", events[0].UserID)
	assert.Equal(t, "srv1", events[0].Details()["server_id"])
}

func TestLog_StatsSince(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, _ = l.Write(ctx, KindAuthzPermissionDenied, SeverityWarn, "u1", "tool", "t1", false, nil)
	_, _ = l.Write(ctx, KindAuthzPermissionGranted, SeverityInfo, "u1", "tool", "t1", true, nil)

	stats, err := l.StatsSince(ctx, timeNow().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.DeniedCount)
}
