package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// refreshInterval is how often WatchKeyFile re-reads the key file;
// minRefreshRate skips a reload when the key was rotated more recently than
// that. A token with an unknown kid is rejected without a refresh.
const (
	refreshInterval = 5 * time.Minute
	minRefreshRate  = 10 * time.Second
)

// Issuer mints access tokens signed with the current RS256 key.
type Issuer struct {
	mu     sync.RWMutex
	key    *KeyMaterial
	issuer string
}

// NewIssuer builds an Issuer over the given signing key and `iss` claim.
func NewIssuer(key *KeyMaterial, issuerName string) *Issuer {
	return &Issuer{key: key, issuer: issuerName}
}

// Issue mints an access token for u with the given lifetime.
func (iss *Issuer) Issue(u *User, ttl time.Duration) (string, error) {
	iss.mu.RLock()
	key := iss.key
	iss.mu.RUnlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      u.ID,
		"email":    u.Email,
		"name":     u.Name,
		"provider": u.Provider,
		"type":     "access",
		"iss":      iss.issuer,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// RotateKey swaps in new signing key material for future Issue calls.
func (iss *Issuer) RotateKey(key *KeyMaterial) {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	iss.key = key
}

// CurrentKey returns the key currently used to sign new tokens.
func (iss *Issuer) CurrentKey() *KeyMaterial {
	iss.mu.RLock()
	defer iss.mu.RUnlock()
	return iss.key
}

// Verifier validates gateway access tokens: RS256 against the current key
// first, falling back to HS256 against a legacy shared secret when the
// caller enables it.
type Verifier struct {
	mu            sync.RWMutex
	key           *KeyMaterial
	legacySecret  []byte
	legacyEnabled bool
	lastRefresh   time.Time
	logger        zerolog.Logger
}

// NewVerifier builds a Verifier over the gateway's own signing key.
func NewVerifier(key *KeyMaterial, logger zerolog.Logger) *Verifier {
	return &Verifier{
		key:    key,
		logger: logger.With().Str("component", "identity.verifier").Logger(),
	}
}

// SetLegacySecret enables or disables the HS256 fallback path.
func (v *Verifier) SetLegacySecret(secret []byte, enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.legacySecret = secret
	v.legacyEnabled = enabled
}

// RotateKey swaps in new signing key material, used when an operator
// rotates the RS256 key.
func (v *Verifier) RotateKey(key *KeyMaterial) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.lastRefresh = time.Now()
}

// Verify parses and validates tokenString, returning decoded Claims. It
// rejects bad signatures, expired tokens, malformed tokens, and unknown
// key ids.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	v.mu.RLock()
	key := v.key
	legacySecret := v.legacySecret
	legacyEnabled := v.legacyEnabled
	v.mu.RUnlock()

	claims, err := v.verifyRS256(tokenString, key)
	if err == nil {
		return claims, nil
	}
	rsErr := err

	if legacyEnabled && len(legacySecret) > 0 {
		if claims, hsErr := v.verifyHS256(tokenString, legacySecret); hsErr == nil {
			return claims, nil
		}
	}

	return nil, fmt.Errorf("token verification failed: %w", rsErr)
}

func (v *Verifier) verifyRS256(tokenString string, key *KeyMaterial) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid != "" && kid != key.KeyID {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return &key.PrivateKey.PublicKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claimsFromToken(parsed)
}

func (v *Verifier) verifyHS256(tokenString string, secret []byte) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claimsFromToken(parsed)
}

// WatchKeyFile periodically reloads the signing key from keyPath so an
// operator can rotate it on disk without restarting the process. Reloads
// that fail (missing file, bad PEM) are logged and skipped; the current
// key stays in effect. Stops when ctx is cancelled.
func (v *Verifier) WatchKeyFile(ctx context.Context, keyPath string) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.mu.RLock()
			since := time.Since(v.lastRefresh)
			v.mu.RUnlock()
			if since < minRefreshRate {
				continue
			}
			key, err := LoadOrGenerateKey(keyPath)
			if err != nil {
				v.logger.Warn().Err(err).Msg("signing key reload failed, keeping current key")
				continue
			}
			if key.KeyID != v.currentKeyID() {
				v.RotateKey(key)
				v.logger.Info().Str("kid", key.KeyID).Msg("signing key rotated")
			}
		}
	}
}

// LegacyStatus reports whether the HS256 fallback path is currently enabled.
func (v *Verifier) LegacyStatus() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.legacyEnabled
}

func (v *Verifier) currentKeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key.KeyID
}

func claimsFromToken(t *jwt.Token) (*Claims, error) {
	if !t.Valid {
		return nil, fmt.Errorf("token not valid")
	}
	mc, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("malformed claims")
	}

	c := &Claims{}
	c.Subject, _ = mc["sub"].(string)
	c.Email, _ = mc["email"].(string)
	c.Name, _ = mc["name"].(string)
	c.Provider, _ = mc["provider"].(string)
	c.Type, _ = mc["type"].(string)
	if kid, ok := t.Header["kid"].(string); ok {
		c.KeyID = kid
	}
	if iat, ok := mc["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := mc["exp"].(float64); ok {
		c.Expiry = time.Unix(int64(exp), 0)
	}
	if c.Subject == "" || c.Type != "access" {
		return nil, fmt.Errorf("malformed claims")
	}
	return c, nil
}
