package configstore

import "time"

// Key names the well-known config store entries (§4.B).
type Key string

const (
	KeyOriginPolicy   Key = "origin_policy"
	KeyJWTConfig      Key = "jwt_config"
	KeyADConfig       Key = "ad_config"
	KeyOAuthProviders Key = "oauth_providers"
)

// OriginPolicy is the persisted allowlist and permissive-mode flags
// consulted by the Origin Validator (component A).
type OriginPolicy struct {
	Allowlist     []string `json:"allowlist"`
	AllowHTTPSAny bool     `json:"allow_https_any"`
	AllowNgrok    bool     `json:"allow_ngrok"`
}

// Contains reports whether host is already present in the allowlist.
func (p *OriginPolicy) Contains(host string) bool {
	for _, h := range p.Allowlist {
		if h == host {
			return true
		}
	}
	return false
}

// DefaultOriginPolicy returns the safe-by-default policy: localhost only,
// no permissive modes. allow_ngrok defaults OFF per DESIGN.md open
// question 3.
func DefaultOriginPolicy() OriginPolicy {
	return OriginPolicy{
		Allowlist:     []string{"localhost", "127.0.0.1"},
		AllowHTTPSAny: false,
		AllowNgrok:    false,
	}
}

// JWTConfig is the persisted token-issuance policy. The RS256 private key
// and HS256 legacy secret are NOT stored here — they live in the identity
// service's key material (see internal/identity), kept out of the config
// store's JSON blobs so the config read/list APIs never expose signing
// material.
type JWTConfig struct {
	Issuer             string        `json:"issuer"`
	AccessTokenTTL     time.Duration `json:"access_token_ttl"`
	LegacyHS256Enabled bool          `json:"legacy_hs256_enabled"`
}

// DefaultJWTConfig returns the default token policy: 8h access tokens,
// legacy HS256 disabled until an operator opts in.
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Issuer:             "mcp-gateway",
		AccessTokenTTL:     8 * time.Hour,
		LegacyHS256Enabled: false,
	}
}

// ADConfig is the Active-Directory/LDAP group-import configuration. The
// bind password is never persisted (§3 "password NEVER persisted"); callers
// supply it out-of-band on each bind/query operation.
type ADConfig struct {
	ServerURL   string `json:"server_url"`
	BindDN      string `json:"bind_dn"`
	BaseDN      string `json:"base_dn"`
	GroupFilter string `json:"group_filter"`
}

// OAuthProvider is one configured external identity provider. Call Redacted
// before returning a provider over the admin API; ClientSecret is
// persisted (there is nowhere else to keep it) but must never be logged or
// serialized back out to a caller.
type OAuthProvider struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	UserInfoURL  string   `json:"userinfo_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Redacted returns a copy with the client secret cleared, safe to hand to
// an admin API response.
func (p OAuthProvider) Redacted() OAuthProvider {
	p.ClientSecret = ""
	return p
}

// oauthProviderSet is the persisted shape: a map keyed by provider id.
type oauthProviderSet map[string]OAuthProvider
