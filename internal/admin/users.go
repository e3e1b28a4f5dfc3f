package admin

import (
	"encoding/json"
	"net/http"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

// userView is the admin-facing shape of an identity.User: no password
// hash, ever.
type userView struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name"`
	Provider  string   `json:"provider"`
	Disabled  bool     `json:"disabled"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at"`
}

func (s *Server) registerUserRoutes() {
	s.mux.HandleFunc("GET /admin/users", s.protect(rbac.PermUserManage, false, s.listUsers))
	s.mux.HandleFunc("POST /admin/users", s.protect(rbac.PermUserManage, false, s.createLocalUser))
	s.mux.HandleFunc("DELETE /admin/users/{id}", s.protect(rbac.PermUserManage, false, s.deleteUser))
	s.mux.HandleFunc("POST /admin/users/{id}/password", s.protect(rbac.PermUserManage, false, s.changePassword))
	s.mux.HandleFunc("POST /admin/users/{id}/roles", s.protect(rbac.PermUserManage, false, s.assignRoles))
}

func (s *Server) toUserView(r *http.Request, u *identityUserLike) userView {
	roles, _ := s.rbacStr.RolesForUser(r.Context(), u.ID)
	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, role.ID)
	}
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Provider:  u.Provider,
		Disabled:  u.Disabled,
		Roles:     roleNames,
		CreatedAt: u.CreatedAt,
	}
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "list users failed")
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, s.toUserView(r, &identityUserLike{
			ID: u.ID, Email: u.Email, Name: u.Name, Provider: u.Provider,
			Disabled: u.Disabled, CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}))
	}
	writeJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *Server) createLocalUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeErr(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, err := s.users.CreateLocalUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeErr(w, http.StatusConflict, "create user failed: "+err.Error())
		return
	}

	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindUserCreated, audit.SeverityInfo, actorID(actor), "user", u.ID, true,
			map[string]any{"email": u.Email})
	}
	writeJSON(w, http.StatusCreated, s.toUserView(r, &identityUserLike{
		ID: u.ID, Email: u.Email, Name: u.Name, Provider: u.Provider, Disabled: u.Disabled,
		CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}))
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.users.DeleteUser(r.Context(), id); err != nil {
		writeErr(w, http.StatusInternalServerError, "delete user failed")
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindUserDisabled, audit.SeverityWarn, actorID(actor), "user", id, true, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeErr(w, http.StatusBadRequest, "new_password is required")
		return
	}
	if err := s.users.SetPassword(r.Context(), id, req.NewPassword); err != nil {
		writeErr(w, http.StatusInternalServerError, "change password failed")
		return
	}
	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindUserCreated, audit.SeverityInfo, actorID(actor), "user", id, true,
			map[string]any{"action": "password_changed"})
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

func (s *Server) assignRoles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req assignRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}

	existing, err := s.rbacStr.RolesForUser(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "load current roles failed")
		return
	}
	wanted := make(map[string]bool, len(req.RoleIDs))
	for _, rid := range req.RoleIDs {
		wanted[rid] = true
	}
	for _, role := range existing {
		if !wanted[role.ID] {
			if err := s.rbacStr.UnassignRole(r.Context(), id, role.ID); err != nil {
				writeErr(w, http.StatusInternalServerError, "unassign role failed")
				return
			}
		}
	}
	for rid := range wanted {
		if err := s.rbacStr.AssignRole(r.Context(), id, rid); err != nil {
			writeErr(w, http.StatusInternalServerError, "assign role failed")
			return
		}
	}

	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindRoleChanged, audit.SeverityInfo, actorID(actor), "user", id, true,
			map[string]any{"role_ids": req.RoleIDs})
	}
	w.WriteHeader(http.StatusNoContent)
}

// identityUserLike avoids importing identity.User's time.Time field shape
// directly into the view builder, keeping toUserView usable from both the
// list (already-time.Time) and create (needs formatting once) call sites.
type identityUserLike struct {
	ID, Email, Name, Provider, CreatedAt string
	Disabled                             bool
}

func actorID(u *identity.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
