package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := duckdb.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := audit.Open(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)

	return NewManager(a, zerolog.Nop())
}

func TestCreate_StartsInCreatingState(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), "2025-06-18", "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, StateCreating, s.State())
	assert.NotEmpty(t, s.ID)
}

func TestTouch_ActivatesSession(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), "2025-06-18", "", nil)
	require.NoError(t, err)

	require.NoError(t, m.Touch(s.ID))
	assert.Equal(t, StateActive, s.State())
}

func TestGet_UnknownSessionReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Get("nope")
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, ErrorKindNotFound, sessErr.Kind)
}

func TestAppendEvent_AssignsMonotonicIDs(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), "2025-06-18", "", nil)
	require.NoError(t, err)

	ev1, err := m.AppendEvent(s.ID, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	ev2, err := m.AppendEvent(s.ID, json.RawMessage(`{"a":2}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), ev1.EventID)
	assert.Equal(t, int64(2), ev2.EventID)
}

func TestReplay_ReturnsEventsAfterLastSeen(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), "2025-06-18", "", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := m.AppendEvent(s.ID, json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	events, err := m.Replay(s.ID, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(4), events[0].EventID)
	assert.Equal(t, int64(5), events[1].EventID)
}

func TestReplay_GapWhenRequestedIDOlderThanBuffer(t *testing.T) {
	s := newSession("s1", "2025-06-18", "", nil, 3, 64)
	for i := 0; i < 10; i++ {
		_, err := s.append(json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	_, err := s.replay(1)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, ErrorKindStreamGap, sessErr.Kind)
}

func TestSessionAppend_FullFanOutReturnsBackpressure(t *testing.T) {
	s := newSession("s1", "2025-06-18", "", nil, 256, 2)

	_, err := s.append(json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = s.append(json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = s.append(json.RawMessage(`{}`))
	require.Error(t, err)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, ErrorKindBackpressure, sessErr.Kind)
}

func TestClose_RemovesSessionAndClosesDoneChannel(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), "2025-06-18", "", nil)
	require.NoError(t, err)

	m.Close(context.Background(), s.ID)

	select {
	case <-s.Done():
	default:
		t.Fatal("expected session context canceled after close")
	}

	_, err = m.Get(s.ID)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	assert.Equal(t, ErrorKindNotFound, sessErr.Kind)
}
