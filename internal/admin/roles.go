package admin

import (
	"encoding/json"
	"net/http"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

type roleView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	IsSystem    bool              `json:"is_system"`
	Permissions []rbac.Permission `json:"permissions"`
}

func toRoleView(r *rbac.Role) roleView {
	return roleView{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: r.Perms(),
	}
}

type grantView struct {
	ID        string `json:"id"`
	RoleID    string `json:"role_id"`
	ServerID  string `json:"server_id"`
	ToolName  string `json:"tool_name"`
	Condition string `json:"condition,omitempty"`
}

func toGrantView(g *rbac.Grant) grantView {
	return grantView{ID: g.ID, RoleID: g.RoleID, ServerID: g.ServerID, ToolName: g.ToolName, Condition: g.Condition}
}

func (s *Server) registerRoleRoutes() {
	s.mux.HandleFunc("GET /admin/roles", s.protect(rbac.PermRoleManage, false, s.listRoles))
	s.mux.HandleFunc("POST /admin/roles", s.protect(rbac.PermRoleManage, false, s.createRole))
	s.mux.HandleFunc("PUT /admin/roles/{id}/permissions", s.protect(rbac.PermRoleManage, false, s.setRolePermissions))
	s.mux.HandleFunc("DELETE /admin/roles/{id}", s.protect(rbac.PermRoleManage, false, s.deleteRole))
	s.mux.HandleFunc("GET /admin/roles/{id}/grants", s.protect(rbac.PermRoleManage, false, s.listGrants))
	s.mux.HandleFunc("POST /admin/roles/{id}/grants", s.protect(rbac.PermRoleManage, false, s.addGrant))
	s.mux.HandleFunc("DELETE /admin/grants/{id}", s.protect(rbac.PermRoleManage, false, s.removeGrant))
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.rbacStr.ListRoles(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list roles failed")
		return
	}
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleView(role))
	}
	writeJSON(w, http.StatusOK, out)
}

type createRoleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []rbac.Permission `json:"permissions"`
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	role, err := s.rbacStr.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		writeErr(w, http.StatusConflict, "create role failed: "+err.Error())
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindRoleChanged, audit.SeverityInfo, actorID(actor), "role", role.ID, true,
			map[string]any{"action": "created", "name": role.Name})
	}
	writeJSON(w, http.StatusCreated, toRoleView(role))
}

type setPermissionsRequest struct {
	Permissions []rbac.Permission `json:"permissions"`
}

func (s *Server) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setPermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.rbacStr.SetRolePermissions(r.Context(), id, req.Permissions); err != nil {
		writeErr(w, http.StatusInternalServerError, "set permissions failed: "+err.Error())
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindRoleChanged, audit.SeverityInfo, actorID(actor), "role", id, true,
			map[string]any{"action": "permissions_set", "permissions": req.Permissions})
	}
	role, err := s.rbacStr.GetRole(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "reload role failed")
		return
	}
	writeJSON(w, http.StatusOK, toRoleView(role))
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rbacStr.DeleteRole(r.Context(), id); err != nil {
		writeErr(w, http.StatusConflict, "delete role failed: "+err.Error())
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindRoleChanged, audit.SeverityWarn, actorID(actor), "role", id, true,
			map[string]any{"action": "deleted"})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	grants, err := s.rbacStr.GrantsForRole(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list grants failed")
		return
	}
	out := make([]grantView, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantView(g))
	}
	writeJSON(w, http.StatusOK, out)
}

type addGrantRequest struct {
	ServerID  string `json:"server_id"`
	ToolName  string `json:"tool_name"`
	Condition string `json:"condition"`
}

func (s *Server) addGrant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req addGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServerID == "" || req.ToolName == "" {
		writeErr(w, http.StatusBadRequest, "server_id and tool_name are required")
		return
	}
	grant, err := s.rbacStr.AddGrant(r.Context(), id, req.ServerID, req.ToolName, req.Condition)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "add grant failed: "+err.Error())
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindRoleChanged, audit.SeverityInfo, actorID(actor), "role", id, true,
			map[string]any{"action": "grant_added", "server_id": req.ServerID, "tool_name": req.ToolName})
	}
	writeJSON(w, http.StatusCreated, toGrantView(grant))
}

func (s *Server) removeGrant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.rbacStr.RemoveGrant(r.Context(), id); err != nil {
		writeErr(w, http.StatusInternalServerError, "remove grant failed")
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindRoleChanged, audit.SeverityInfo, actorID(actor), "grant", id, true,
			map[string]any{"action": "grant_removed"})
	}
	w.WriteHeader(http.StatusNoContent)
}
