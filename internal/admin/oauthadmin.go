package admin

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

// registerOAuthProviderRoutes manages the external identity providers
// consulted by the login flow (§ supplemented OAuth provider registry).
// Adding the first provider is first-run-bypass eligible, matching the
// AD config bootstrap path; removing one always requires OAUTH_MANAGE.
func (s *Server) registerOAuthProviderRoutes() {
	s.mux.HandleFunc("GET /admin/oauth/providers", s.protect(rbac.PermOAuthManage, false, s.listOAuthProviders))
	s.mux.HandleFunc("POST /admin/oauth/providers", s.protect(rbac.PermOAuthManage, true, s.addOAuthProvider))
	s.mux.HandleFunc("DELETE /admin/oauth/providers/{id}", s.protect(rbac.PermOAuthManage, false, s.removeOAuthProvider))
}

func (s *Server) listOAuthProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.cfg.ListOAuthProviders()
	out := make([]configstore.OAuthProvider, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addOAuthProvider(w http.ResponseWriter, r *http.Request) {
	var p configstore.OAuthProvider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if p.Name == "" || p.ClientID == "" || p.AuthURL == "" || p.TokenURL == "" {
		writeErr(w, http.StatusBadRequest, "name, client_id, auth_url, and token_url are required")
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	actor := userFromContext(r.Context())
	if err := s.cfg.AddOAuthProvider(r.Context(), p, actorID(actor)); err != nil {
		writeErr(w, http.StatusInternalServerError, "add oauth provider failed")
		return
	}
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindConfigChanged, audit.SeverityInfo, actorID(actor), "oauth_provider", p.ID, true,
			map[string]any{"action": "added", "name": p.Name})
	}
	writeJSON(w, http.StatusCreated, p.Redacted())
}

func (s *Server) removeOAuthProvider(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := userFromContext(r.Context())
	if err := s.cfg.RemoveOAuthProvider(r.Context(), id, actorID(actor)); err != nil {
		writeErr(w, http.StatusInternalServerError, "remove oauth provider failed")
		return
	}
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindConfigChanged, audit.SeverityWarn, actorID(actor), "oauth_provider", id, true,
			map[string]any{"action": "removed"})
	}
	w.WriteHeader(http.StatusNoContent)
}
