package admin

import (
	"encoding/json"
	"net/http"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/registry"
)

// serverView is the admin-facing shape of registry.UpstreamServer: never
// includes CredentialJSON.
type serverView struct {
	ID              string `json:"id"`
	BaseURL         string `json:"base_url"`
	HealthStatus    string `json:"health_status"`
	LastHealthCheck string `json:"last_health_check"`
	RegisteredAt    string `json:"registered_at"`
}

func toServerView(srv *registry.UpstreamServer) serverView {
	return serverView{
		ID:              srv.ID,
		BaseURL:         srv.BaseURL,
		HealthStatus:    srv.HealthStatus,
		LastHealthCheck: srv.LastHealthCheck.Format("2006-01-02T15:04:05Z07:00"),
		RegisteredAt:    srv.RegisteredAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) registerServerRoutes() {
	s.mux.HandleFunc("GET /admin/servers", s.protect(rbac.PermServerManage, false, s.listServers))
	s.mux.HandleFunc("POST /admin/servers", s.protect(rbac.PermServerManage, false, s.registerServer))
	s.mux.HandleFunc("DELETE /admin/servers/{id}", s.protect(rbac.PermServerManage, false, s.unregisterServer))
	s.mux.HandleFunc("POST /admin/servers/{id}/refresh", s.protect(rbac.PermServerManage, false, s.refreshServer))
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	servers := s.registry.ListAll()
	out := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		out = append(out, toServerView(srv))
	}
	writeJSON(w, http.StatusOK, out)
}

type registerServerRequest struct {
	BaseURL string `json:"base_url"`
}

func (s *Server) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BaseURL == "" {
		writeErr(w, http.StatusBadRequest, "base_url is required")
		return
	}

	srv, err := s.registry.AddServer(r.Context(), req.BaseURL)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "register server failed: "+err.Error())
		return
	}
	if s.catalog != nil {
		_ = s.catalog.Refresh(r.Context(), s.registry, nil)
	}

	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindServerRegistered, audit.SeverityInfo, actorID(actor), "server", srv.ID, true,
			map[string]any{"base_url": srv.BaseURL})
	}
	s.PublishHealth(srv.ID, srv.HealthStatus == string(registry.HealthHealthy))
	writeJSON(w, http.StatusCreated, toServerView(srv))
}

func (s *Server) unregisterServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.RemoveServer(r.Context(), id); err != nil {
		writeErr(w, http.StatusInternalServerError, "unregister server failed: "+err.Error())
		return
	}
	if s.catalog != nil {
		_ = s.catalog.Refresh(r.Context(), s.registry, nil)
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindServerUnregistered, audit.SeverityWarn, actorID(actor), "server", id, true, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshServer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.RefreshTools(r.Context(), id); err != nil {
		writeErr(w, http.StatusBadGateway, "refresh tools failed: "+err.Error())
		return
	}
	if s.catalog != nil {
		_ = s.catalog.Refresh(r.Context(), s.registry, nil)
	}
	srv, ok := s.registry.Get(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, toServerView(srv))
}
