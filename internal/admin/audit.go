package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

func (s *Server) registerAuditRoutes() {
	s.mux.HandleFunc("GET /admin/audit/events", s.protect(rbac.PermAuditView, false, s.listAuditEvents))
	s.mux.HandleFunc("GET /admin/audit/stats", s.protect(rbac.PermAuditView, false, s.auditStats))
}

func (s *Server) listAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Kind:   q.Get("kind"),
		UserID: q.Get("user_id"),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		f.Until = t
	}
	if lim := q.Get("limit"); lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	events, err := s.audit.List(r.Context(), f)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list audit events failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	} else {
		since = time.Now().Add(-24 * time.Hour)
	}

	stats, err := s.audit.StatsSince(r.Context(), since)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "compute audit stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
