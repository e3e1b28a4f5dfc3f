package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// eventHub fans out messages passed to Server.PublishAudit and
// Server.PublishHealth to connected admin-UI websocket clients
// (§ supplemented admin live feed).
// It sits outside the data plane entirely: a slow or gone client only ever
// drops its own buffered messages, never blocks a publisher.
type eventHub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	logger  zerolog.Logger
}

func newEventHub(logger zerolog.Logger) *eventHub {
	return &eventHub{
		clients: make(map[chan []byte]struct{}),
		logger:  logger.With().Str("component", "admin.hub").Logger(),
	}
}

func (h *eventHub) publish(kind string, payload any) {
	b, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Data any    `json:"data"`
	}{Kind: kind, Data: payload})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.logger.Warn().Msg("admin event client buffer full, dropping message")
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const eventHubPingInterval = 30 * time.Second

// serveWS upgrades the connection and streams published events until the
// client disconnects.
func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}()

	// Drain (and discard) client reads so ping/pong control frames and
	// disconnects are observed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(eventHubPingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
