package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultBufferCap = 256

// Session is one live MCP session: its lifecycle state, its bounded event
// ring buffer, and the channel an SSE writer drains for fan-out.
type Session struct {
	ID              string
	ProtocolVersion string
	ClientInfo      json.RawMessage
	UserID          string
	CreatedAt       time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	buffer       []StreamEvent
	bufferCap    int
	nextEventID  int64

	events chan StreamEvent
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(id, protocolVersion, userID string, clientInfo json.RawMessage, bufferCap, backpressureThreshold int) *Session {
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:              id,
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo,
		UserID:          userID,
		CreatedAt:       now,
		state:           StateCreating,
		lastActivity:    now,
		bufferCap:       bufferCap,
		events:          make(chan StreamEvent, backpressureThreshold),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// State returns the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Activate transitions Creating -> Active, the first in-session request.
func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCreating {
		s.state = StateActive
	}
	s.lastActivity = time.Now()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Done returns a channel closed when the session's context is canceled —
// on explicit close, inactivity reap, or backpressure eviction.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Events returns the channel an SSE writer drains. It is closed alongside
// the session.
func (s *Session) Events() <-chan StreamEvent {
	return s.events
}

// append assigns the next gateway-scoped event id, stores it in the ring
// buffer, and attempts a non-blocking send to the fan-out channel. A full
// channel means the reader isn't draining fast enough: BACKPRESSURE_EXCEEDED.
func (s *Session) append(data json.RawMessage) (StreamEvent, error) {
	s.mu.Lock()
	s.nextEventID++
	ev := StreamEvent{EventID: s.nextEventID, Data: data}

	s.buffer = append(s.buffer, ev)
	if len(s.buffer) > s.bufferCap {
		s.buffer = s.buffer[len(s.buffer)-s.bufferCap:]
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	select {
	case s.events <- ev:
		return ev, nil
	default:
		return ev, &Error{Kind: ErrorKindBackpressure}
	}
}

// replay returns buffered events with id > afterID. If afterID predates
// the buffer's oldest retained event, the caller must re-initialize
// (STREAM_GAP) — unless the buffer is empty, in which case there is
// nothing to have missed.
func (s *Session) replay(afterID int64) ([]StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil, nil
	}
	oldest := s.buffer[0].EventID
	if afterID > 0 && afterID < oldest-1 {
		return nil, &Error{Kind: ErrorKindStreamGap}
	}

	out := make([]StreamEvent, 0, len(s.buffer))
	for _, ev := range s.buffer {
		if ev.EventID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Session) close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.cancel()
	close(s.events)
}
