package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/session"
)

const pingInterval = 30 * time.Second

// handleSSE serves the GET subscribe/resume shape of the endpoint (§4.I
// "GET handling"): it requires an `Accept: text/event-stream` header and
// the session header, optionally resumes via Last-Event-ID, then holds
// the connection open until the session closes or the client disconnects.
func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request, _ identity.Resolution) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		http.Error(w, "Accept: text/event-stream required", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		http.Error(w, "missing session header", http.StatusBadRequest)
		return
	}

	sess, err := g.sessions.Get(sessionID)
	if err != nil {
		var sessErr *session.Error
		if errors.As(err, &sessErr) && sessErr.Kind == session.ErrorKindNotFound {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		http.Error(w, "session unavailable", http.StatusGone)
		return
	}

	backlog, replayErr := g.sessions.Replay(sessionID, parseLastEventID(r))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if replayErr != nil {
		var sessErr *session.Error
		if errors.As(replayErr, &sessErr) && sessErr.Kind == session.ErrorKindStreamGap {
			writeSSEErrorEvent(w, kindStreamGap, "requested Last-Event-ID predates the retained buffer")
			flusher.Flush()
			return
		}
	}

	for _, ev := range backlog {
		writeSSEEvent(w, ev.EventID, ev.Data)
	}
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	events := sess.Events()
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSEEvent(w, ev.EventID, ev.Data)
			flusher.Flush()
		case <-ticker.C:
			writeSSEComment(w, "ping")
			flusher.Flush()
		case <-sess.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, eventID int64, data []byte) {
	_, _ = w.Write([]byte("id: " + strconv.FormatInt(eventID, 10) + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

func writeSSEErrorEvent(w http.ResponseWriter, kind, message string) {
	_, _ = w.Write([]byte("event: error\n"))
	_, _ = w.Write([]byte(`data: {"kind":"` + kind + `","message":"` + message + `"}` + "\n\n"))
}

func writeSSEComment(w http.ResponseWriter, text string) {
	_, _ = w.Write([]byte(": " + text + "\n\n"))
}
