// Package origin is the Origin Validator (component A): sanitized extraction
// of the caller's origin from request headers and allowlist-based
// authorization. Validation always runs before protocol dispatch.
package origin

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
)

const maxHostnameLength = 253

var ngrokSuffixes = []string{".ngrok-free.app", ".ngrok.io"}

// Candidate is a sanitized origin ready for policy evaluation.
type Candidate struct {
	Scheme string
	Host   string
}

// String renders the candidate as scheme://host.
func (c Candidate) String() string {
	return c.Scheme + "://" + c.Host
}

// Validator extracts and authorizes request origins against the persisted
// OriginPolicy.
type Validator struct {
	store  *configstore.Store
	logger zerolog.Logger
}

// New builds a Validator backed by the config store.
func New(store *configstore.Store, logger zerolog.Logger) *Validator {
	return &Validator{
		store:  store,
		logger: logger.With().Str("component", "origin").Logger(),
	}
}

// Extract reads headers in priority order: Origin; else a synthesized value
// from X-Forwarded-Proto + X-Forwarded-Host; else X-Original-Host assumed
// HTTPS. Referer is never consulted — it is attacker-controlled and easily
// spoofed. Returns ok=false when no usable candidate is present.
func (v *Validator) Extract(r *http.Request) (Candidate, bool) {
	if raw := r.Header.Get("Origin"); raw != "" {
		if c, ok := sanitize(raw); ok {
			return c, true
		}
		return Candidate{}, false
	}

	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		if host := r.Header.Get("X-Forwarded-Host"); host != "" {
			if c, ok := sanitize(proto + "://" + host); ok {
				return c, true
			}
			return Candidate{}, false
		}
	}

	if host := r.Header.Get("X-Original-Host"); host != "" {
		if c, ok := sanitize("https://" + host); ok {
			return c, true
		}
		return Candidate{}, false
	}

	return Candidate{}, false
}

// sanitize parses raw into a Candidate, rejecting non-http(s) schemes,
// stripping path/query/fragment, and rejecting malformed or oversized
// hostnames.
func sanitize(raw string) (Candidate, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Candidate{}, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Candidate{}, false
	}
	host := u.Hostname()
	if host == "" {
		return Candidate{}, false
	}
	if !validHostname(host) {
		return Candidate{}, false
	}
	return Candidate{Scheme: u.Scheme, Host: host}, true
}

func validHostname(host string) bool {
	if len(host) == 0 || len(host) > maxHostnameLength {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Decision is the outcome of Validate, with enough detail for the caller to
// log and audit consistently.
type Decision struct {
	Allowed    bool
	Permissive bool // true when allowed only via allow_https_any or allow_ngrok
	Reason     string
}

// Validate authorizes a previously extracted candidate against the current
// OriginPolicy. A missing candidate is always denied.
func (v *Validator) Validate(c Candidate, present bool) Decision {
	if !present {
		return Decision{Allowed: false, Reason: "missing_origin"}
	}

	policy := v.store.GetOriginPolicy()

	if policy.Contains(c.Host) {
		return Decision{Allowed: true, Reason: "allowlist"}
	}
	if c.Scheme == "https" && policy.AllowHTTPSAny {
		return Decision{Allowed: true, Permissive: true, Reason: "allow_https_any"}
	}
	if policy.AllowNgrok && isNgrokHost(c.Host) {
		return Decision{Allowed: true, Permissive: true, Reason: "allow_ngrok"}
	}
	return Decision{Allowed: false, Reason: "not_allowlisted"}
}

func isNgrokHost(host string) bool {
	for _, suffix := range ngrokSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// Check runs Extract+Validate and logs at the level appropriate to the
// outcome: info on a plain allowlist match, warn on a permissive match,
// error on reject.
func (v *Validator) Check(r *http.Request) Decision {
	c, present := v.Extract(r)
	d := v.Validate(c, present)

	logCtx := v.logger.With().Str("path", r.URL.Path)
	if present {
		logCtx = logCtx.Str("origin", c.String())
	}
	ev := logCtx.Logger()

	switch {
	case d.Allowed && d.Permissive:
		ev.Warn().Str("reason", d.Reason).Msg("origin allowed via permissive policy")
	case d.Allowed:
		ev.Info().Str("reason", d.Reason).Msg("origin allowed")
	default:
		ev.Error().Str("reason", d.Reason).Msg("origin rejected")
	}
	return d
}
