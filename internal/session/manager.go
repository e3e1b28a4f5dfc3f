package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
)

const (
	defaultInactivityTimeout = 30 * time.Minute
	defaultReapInterval      = time.Minute
	defaultBackpressureCap   = 64
	sessionIDRandomBytes     = 32
)

// Manager owns every live session for this process (§4.H).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	bufferCap             int
	backpressureThreshold int
	inactivityTimeout     time.Duration

	audit  *audit.Log
	logger zerolog.Logger
}

// Option customizes a Manager at construction, overriding the package's
// hardcoded defaults (e.g. with values read from the bootstrap config).
type Option func(*Manager)

// WithBufferCap overrides the per-session event backlog retained for replay.
func WithBufferCap(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufferCap = n
		}
	}
}

// WithInactivityTimeout overrides how long a session may sit idle before
// the reaper closes it.
func WithInactivityTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.inactivityTimeout = d
		}
	}
}

// NewManager builds a Manager and starts its background reaper.
func NewManager(auditLog *audit.Log, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions:              make(map[string]*Session),
		bufferCap:             defaultBufferCap,
		backpressureThreshold: defaultBackpressureCap,
		inactivityTimeout:     defaultInactivityTimeout,
		audit:                 auditLog,
		logger:                logger.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.reap()
	return m
}

func generateSessionID() (string, error) {
	buf := make([]byte, sessionIDRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create starts a new session in the Creating state (§4.H "States").
func (m *Manager) Create(ctx context.Context, protocolVersion, userID string, clientInfo json.RawMessage) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	s := newSession(id, protocolVersion, userID, clientInfo, m.bufferCap, m.backpressureThreshold)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.audit != nil {
		_, _ = m.audit.Write(ctx, audit.KindSessionInitialized, audit.SeverityInfo, userID, "session", id, true, nil)
	}
	return s, nil
}

// Get looks up a session by id. An unknown id returns an Error of kind
// ErrorKindNotFound; a closed session returns one of kind ErrorKindClosed.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, &Error{Kind: ErrorKindNotFound}
	}
	if s.State() == StateClosed {
		return nil, &Error{Kind: ErrorKindClosed}
	}
	return s, nil
}

// Touch marks a session active and bumps its last-activity clock — any
// in-session request does this (§4.H transitions).
func (m *Manager) Touch(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.activate()
	return nil
}

// AppendEvent streams one event to a session, assigning it the session's
// next gateway-scoped event id. A saturated fan-out channel closes the
// session and returns BACKPRESSURE_EXCEEDED.
func (m *Manager) AppendEvent(id string, data json.RawMessage) (StreamEvent, error) {
	s, err := m.Get(id)
	if err != nil {
		return StreamEvent{}, err
	}

	ev, appendErr := s.append(data)
	if appendErr != nil {
		m.Close(context.Background(), id)
		return ev, appendErr
	}
	return ev, nil
}

// Replay returns events after lastEventID for a resuming SSE subscriber.
func (m *Manager) Replay(id string, lastEventID int64) ([]StreamEvent, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.replay(lastEventID)
}

// Close moves a session straight to Closed and emits the
// SESSION_CLOSED audit event. Closing an already-closed or unknown
// session is a no-op.
func (m *Manager) Close(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.close()

	if m.audit != nil {
		_, _ = m.audit.Write(ctx, audit.KindSessionClosed, audit.SeverityInfo, s.UserID, "session", id, true, nil)
	}
}

// Count reports the number of live sessions, for admin/metrics surfaces.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// reap periodically closes sessions that have exceeded the inactivity
// timeout, mirroring the source tree's rate-limiter cleanup goroutine.
func (m *Manager) reap() {
	ticker := time.NewTicker(defaultReapInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.RLock()
		stale := make([]string, 0)
		for id, s := range m.sessions {
			if s.idleSince() > m.inactivityTimeout {
				stale = append(stale, id)
			}
		}
		m.mu.RUnlock()

		for _, id := range stale {
			m.logger.Info().Str("session_id", id).Msg("reaping inactive session")
			m.Close(context.Background(), id)
		}
	}
}
