package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
)

func (s *Server) registerJWTRoutes() {
	s.mux.HandleFunc("GET /admin/jwt", s.protect(rbac.PermConfigView, false, s.getJWTStatus))
	s.mux.HandleFunc("PUT /admin/jwt", s.protect(rbac.PermConfigEdit, false, s.setJWTConfig))
	s.mux.HandleFunc("POST /admin/jwt/rotate", s.protect(rbac.PermConfigEdit, false, s.rotateJWTKey))
}

type jwtStatusResponse struct {
	Issuer             string `json:"issuer"`
	AccessTokenTTL     string `json:"access_token_ttl"`
	LegacyHS256Enabled bool   `json:"legacy_hs256_enabled"`
	CurrentKeyID       string `json:"current_key_id"`
}

func (s *Server) getJWTStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.GetJWTConfig()
	keyID := ""
	if k := s.issuer.CurrentKey(); k != nil {
		keyID = k.KeyID
	}
	writeJSON(w, http.StatusOK, jwtStatusResponse{
		Issuer:             cfg.Issuer,
		AccessTokenTTL:     cfg.AccessTokenTTL.String(),
		LegacyHS256Enabled: s.verifier.LegacyStatus(),
		CurrentKeyID:       keyID,
	})
}

func (s *Server) setJWTConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Issuer             string `json:"issuer"`
		AccessTokenTTL     string `json:"access_token_ttl"`
		LegacyHS256Enabled bool   `json:"legacy_hs256_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ttl, err := time.ParseDuration(req.AccessTokenTTL)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "access_token_ttl must be a Go duration string")
		return
	}

	cfg := s.cfg.GetJWTConfig()
	cfg.Issuer = req.Issuer
	cfg.AccessTokenTTL = ttl
	cfg.LegacyHS256Enabled = req.LegacyHS256Enabled

	actor := userFromContext(r.Context())
	if err := s.cfg.SetJWTConfig(r.Context(), cfg, actorID(actor)); err != nil {
		writeErr(w, http.StatusInternalServerError, "set jwt config failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// rotateJWTKey generates a fresh RS256 key pair and hot-swaps it into both
// the issuer (new tokens sign with it) and the verifier. The verifier holds
// only the new key, so tokens signed with the prior key are rejected.
func (s *Server) rotateJWTKey(w http.ResponseWriter, r *http.Request) {
	key, err := identity.GenerateKey()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "generate key failed")
		return
	}
	s.issuer.RotateKey(key)
	s.verifier.RotateKey(key)

	actor := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindConfigChanged, audit.SeverityWarn, actorID(actor), "jwt_key", key.KeyID, true,
			map[string]any{"action": "rotated"})
	}
	writeJSON(w, http.StatusOK, key.PublicJWKS())
}
