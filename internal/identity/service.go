package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
)

// Service is the request-facing identity API: token issuance, verification,
// local login, and OAuth upsert.
type Service struct {
	users    *Store
	issuer   *Issuer
	verifier *Verifier
	store    *configstore.Store
	logger   zerolog.Logger
}

// NewService wires a Store, Issuer, and Verifier into one identity Service.
func NewService(users *Store, issuer *Issuer, verifier *Verifier, cfgStore *configstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		issuer:   issuer,
		verifier: verifier,
		store:    cfgStore,
		logger:   logger.With().Str("component", "identity.service").Logger(),
	}
}

// TokenError classifies why a supplied bearer token failed verification, so
// the gateway can return TOKEN_EXPIRED/TOKEN_INVALID per §7 instead of
// folding every failure into anonymous access.
type TokenError string

const (
	// TokenErrorExpired means the token's exp claim is in the past.
	TokenErrorExpired TokenError = "expired"
	// TokenErrorInvalid covers bad signatures, malformed tokens, and
	// unknown key ids.
	TokenErrorInvalid TokenError = "invalid"
)

// Resolution is the outcome of resolving a caller from a request.
type Resolution struct {
	User      *User
	Claims    *Claims
	Anonymous bool

	// TokenErr is set when a bearer token was supplied but failed
	// verification; empty when no token was supplied at all or resolution
	// otherwise succeeded. Distinguishing the two lets the gateway return
	// TOKEN_EXPIRED/TOKEN_INVALID instead of treating a rejected token the
	// same as no token.
	TokenErr TokenError
}

// bearerToken extracts a token per §4.D's resolution order: Authorization
// header first, then a `token` query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Resolve extracts and verifies the caller's token, if any. A missing or
// invalid token resolves to Anonymous; the caller (the protocol gateway)
// decides whether anonymous access is permitted for the requested method.
func (s *Service) Resolve(ctx context.Context, r *http.Request) (Resolution, error) {
	token := bearerToken(r)
	if token == "" {
		return Resolution{Anonymous: true}, nil
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Warn().Err(err).Msg("token verification failed")
		kind := TokenErrorInvalid
		if errors.Is(err, jwt.ErrTokenExpired) {
			kind = TokenErrorExpired
		}
		return Resolution{Anonymous: true, TokenErr: kind}, nil
	}

	u, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		return Resolution{}, fmt.Errorf("load user for token subject: %w", err)
	}
	if u == nil || u.Disabled {
		return Resolution{Anonymous: true}, nil
	}
	return Resolution{User: u, Claims: claims}, nil
}

// Login authenticates a local user by email+password and, on success,
// issues an access token using the configured TTL.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("look up user: %w", err)
	}
	if u == nil || u.Disabled || !s.users.VerifyPassword(u, password) {
		return "", nil, fmt.Errorf("invalid credentials")
	}

	ttl := s.store.GetJWTConfig().AccessTokenTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	token, err := s.issuer.Issue(u, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("issue access token: %w", err)
	}
	return token, u, nil
}

// OAuthCallback upserts a user for the given provider identity and issues
// a gateway access token. The provider-side authorization flow itself is
// out of scope here; callers supply the already-verified provider profile.
func (s *Service) OAuthCallback(ctx context.Context, provider, providerUserID, email, name string) (string, *User, error) {
	u, err := s.users.UpsertOAuthUser(ctx, provider, providerUserID, email, name)
	if err != nil {
		return "", nil, fmt.Errorf("upsert oauth user: %w", err)
	}
	if u.Disabled {
		return "", nil, fmt.Errorf("user disabled")
	}

	ttl := s.store.GetJWTConfig().AccessTokenTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	token, err := s.issuer.Issue(u, ttl)
	if err != nil {
		return "", nil, fmt.Errorf("issue access token: %w", err)
	}
	return token, u, nil
}
