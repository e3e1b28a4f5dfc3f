package admin

import (
	"encoding/json"
	"net/http"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/adldap"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

// registerADRoutes wires the Active Directory / LDAP group-import endpoints.
// Saving the initial config and the first test bind are first-run-bypass
// eligible so a fresh install can be pointed at a directory before any
// admin account exists; every other AD operation requires AD_MANAGE.
func (s *Server) registerADRoutes() {
	s.mux.HandleFunc("GET /admin/ad/config", s.protect(rbac.PermADManage, false, s.getADConfig))
	s.mux.HandleFunc("PUT /admin/ad/config", s.protect(rbac.PermADManage, true, s.setADConfig))
	s.mux.HandleFunc("POST /admin/ad/test-bind", s.protect(rbac.PermADManage, true, s.testADBind))
	s.mux.HandleFunc("POST /admin/ad/groups", s.protect(rbac.PermADManage, false, s.queryADGroups))
	s.mux.HandleFunc("POST /admin/ad/groups/{dn}/members", s.protect(rbac.PermADManage, false, s.queryADGroupMembers))
}

func (s *Server) getADConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.GetADConfig())
}

func (s *Server) setADConfig(w http.ResponseWriter, r *http.Request) {
	var c configstore.ADConfig
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	actor := userFromContext(r.Context())
	if err := s.cfg.SetADConfig(r.Context(), c, actorID(actor)); err != nil {
		writeErr(w, http.StatusInternalServerError, "set AD config failed")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type bindTestRequest struct {
	Password string `json:"password"`
}

func (s *Server) testADBind(w http.ResponseWriter, r *http.Request) {
	var req bindTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := adldap.TestBind(r.Context(), s.cfg.GetADConfig(), req.Password); err != nil {
		writeErr(w, http.StatusUnauthorized, "bind failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) queryADGroups(w http.ResponseWriter, r *http.Request) {
	var req bindTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	groups, err := adldap.SearchGroups(r.Context(), s.cfg.GetADConfig(), req.Password)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "query AD groups failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) queryADGroupMembers(w http.ResponseWriter, r *http.Request) {
	dn := r.PathValue("dn")
	var req bindTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	members, err := adldap.SearchGroupMembers(r.Context(), s.cfg.GetADConfig(), dn, req.Password)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "query AD group members failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, members)
}
