package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
)

// oauthStateTTL bounds how long an issued state nonce is honored; anything
// older is treated as a forged or stale callback.
const oauthStateTTL = 10 * time.Minute

// stateEntry is one outstanding OAuth redirect the login flow is waiting on.
type stateEntry struct {
	providerID string
	issuedAt   time.Time
}

// oauthStates is a mutex-protected, TTL-pruned nonce table guarding against
// CSRF on the OAuth redirect round trip; entries are single-use.
type oauthStates struct {
	mu      sync.Mutex
	entries map[string]stateEntry
}

func newOAuthStates() *oauthStates {
	return &oauthStates{entries: make(map[string]stateEntry)}
}

func (s *oauthStates) issue(providerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	state := uuid.NewString()
	s.entries[state] = stateEntry{providerID: providerID, issuedAt: time.Now()}
	return state
}

func (s *oauthStates) consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	e, ok := s.entries[state]
	if !ok {
		return "", false
	}
	delete(s.entries, state)
	return e.providerID, true
}

// prune must be called with s.mu held.
func (s *oauthStates) prune() {
	cutoff := time.Now().Add(-oauthStateTTL)
	for k, e := range s.entries {
		if e.issuedAt.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *Server) registerAuthRoutes() {
	if s.oauthStates == nil {
		s.oauthStates = newOAuthStates()
	}
	s.mux.HandleFunc("POST /auth/login/local", s.loginLocal)
	s.mux.HandleFunc("GET /auth/login", s.loginOAuthInitiate)
	s.mux.HandleFunc("GET /auth/callback", s.loginOAuthCallback)
	s.mux.HandleFunc("GET /auth/user", s.authenticated(s.currentUser))
	s.mux.HandleFunc("POST /auth/logout", s.authenticated(s.logout))
	s.mux.HandleFunc("GET /.well-known/jwks.json", s.wellKnownJWKS)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
}

func (s *Server) loginLocal(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, u, err := s.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if s.audit != nil {
			_, _ = s.audit.Write(r.Context(), audit.KindLoginFailed, audit.SeverityWarn, "", "user", req.Email, false, nil)
		}
		writeErr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindLoginSucceeded, audit.SeverityInfo, u.ID, "user", u.ID, true,
			map[string]any{"provider": "local"})
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User: s.toUserView(r, &identityUserLike{
			ID: u.ID, Email: u.Email, Name: u.Name, Provider: u.Provider, Disabled: u.Disabled,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}),
	})
}

func oauthConfigFor(p configstore.OAuthProvider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}
}

// loginOAuthInitiate redirects the browser to the chosen provider's
// authorization endpoint with a freshly issued CSRF state nonce.
func (s *Server) loginOAuthInitiate(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("provider_id")
	p, ok := s.cfg.GetOAuthProvider(providerID)
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown oauth provider")
		return
	}
	state := s.oauthStates.issue(providerID)
	url := oauthConfigFor(p).AuthCodeURL(state, oauth2.AccessTypeOnline)
	http.Redirect(w, r, url, http.StatusFound)
}

type providerUserInfo struct {
	ID    string `json:"id"`
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (u providerUserInfo) providerUserID() string {
	if u.Sub != "" {
		return u.Sub
	}
	return u.ID
}

// loginOAuthCallback exchanges the authorization code, fetches the
// provider's userinfo endpoint, and upserts the gateway user.
func (s *Server) loginOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	providerID, ok := s.oauthStates.consume(state)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	p, ok := s.cfg.GetOAuthProvider(providerID)
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown oauth provider")
		return
	}

	cfg := oauthConfigFor(p)
	tok, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "token exchange failed: "+err.Error())
		return
	}

	client := cfg.Client(r.Context(), tok)
	resp, err := client.Get(p.UserInfoURL)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "userinfo request failed: "+err.Error())
		return
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "read userinfo response failed")
		return
	}
	var info providerUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		writeErr(w, http.StatusBadGateway, "malformed userinfo response")
		return
	}

	token, u, err := s.identity.OAuthCallback(r.Context(), p.ID, info.providerUserID(), info.Email, info.Name)
	if err != nil {
		if s.audit != nil {
			_, _ = s.audit.Write(r.Context(), audit.KindLoginFailed, audit.SeverityWarn, "", "user", info.Email, false,
				map[string]any{"provider": p.ID})
		}
		writeErr(w, http.StatusForbidden, "login failed: "+err.Error())
		return
	}
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindLoginSucceeded, audit.SeverityInfo, u.ID, "user", u.ID, true,
			map[string]any{"provider": p.ID})
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User: s.toUserView(r, &identityUserLike{
			ID: u.ID, Email: u.Email, Name: u.Name, Provider: u.Provider, Disabled: u.Disabled,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}),
	})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.toUserView(r, &identityUserLike{
		ID: u.ID, Email: u.Email, Name: u.Name, Provider: u.Provider, Disabled: u.Disabled,
		CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}))
}

// logout is a no-op beyond an audit trail: access tokens are stateless and
// expire on their own TTL; there is nothing server-side to revoke.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	if s.audit != nil {
		_, _ = s.audit.Write(r.Context(), audit.KindSessionClosed, audit.SeverityInfo, u.ID, "user", u.ID, true, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) wellKnownJWKS(w http.ResponseWriter, r *http.Request) {
	key := s.issuer.CurrentKey()
	if key == nil {
		writeErr(w, http.StatusServiceUnavailable, "signing key not ready")
		return
	}
	writeJSON(w, http.StatusOK, key.PublicJWKS())
}
