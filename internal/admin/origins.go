package admin

import (
	"encoding/json"
	"net/http"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

func (s *Server) registerOriginRoutes() {
	s.mux.HandleFunc("GET /admin/origins", s.protect(rbac.PermConfigView, false, s.getOriginPolicy))
	s.mux.HandleFunc("PUT /admin/origins", s.protect(rbac.PermConfigEdit, false, s.setOriginPolicy))
	s.mux.HandleFunc("POST /admin/origins/allowlist", s.protect(rbac.PermConfigEdit, false, s.addOriginHost))
	s.mux.HandleFunc("DELETE /admin/origins/allowlist/{host}", s.protect(rbac.PermConfigEdit, false, s.removeOriginHost))
}

func (s *Server) getOriginPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.GetOriginPolicy())
}

func (s *Server) setOriginPolicy(w http.ResponseWriter, r *http.Request) {
	var p configstore.OriginPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	actor := userFromContext(r.Context())
	if err := s.cfg.SetOriginPolicy(r.Context(), p, actorID(actor)); err != nil {
		writeErr(w, http.StatusInternalServerError, "set origin policy failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type addOriginHostRequest struct {
	Host string `json:"host"`
}

// addOriginHost appends a host to the allowlist, idempotently: adding a
// host already present is a no-op that still returns the current policy.
func (s *Server) addOriginHost(w http.ResponseWriter, r *http.Request) {
	var req addOriginHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		writeErr(w, http.StatusBadRequest, "host is required")
		return
	}
	p := s.cfg.GetOriginPolicy()
	if !p.Contains(req.Host) {
		p.Allowlist = append(p.Allowlist, req.Host)
		actor := userFromContext(r.Context())
		if err := s.cfg.SetOriginPolicy(r.Context(), p, actorID(actor)); err != nil {
			writeErr(w, http.StatusInternalServerError, "add origin host failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, p)
}

// removeOriginHost drops a host from the allowlist, idempotently: removing
// a host that isn't present is a no-op and does not bump the config version
// or emit a CONFIG_CHANGED audit event, mirroring addOriginHost.
func (s *Server) removeOriginHost(w http.ResponseWriter, r *http.Request) {
	host := r.PathValue("host")
	p := s.cfg.GetOriginPolicy()
	if !p.Contains(host) {
		writeJSON(w, http.StatusOK, p)
		return
	}
	next := make([]string, 0, len(p.Allowlist))
	for _, h := range p.Allowlist {
		if h != host {
			next = append(next, h)
		}
	}
	p.Allowlist = next
	actor := userFromContext(r.Context())
	if err := s.cfg.SetOriginPolicy(r.Context(), p, actorID(actor)); err != nil {
		writeErr(w, http.StatusInternalServerError, "remove origin host failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
