// Package identity is the Identity & Token Service (component D): user
// storage, JWT issuance and verification, and request-level caller
// resolution.
package identity

import "time"

// User is a gateway account. Provider-scoped: a local user has Provider
// "local"; an OAuth user has Provider set to the upstream provider name
// and ProviderUserID populated.
type User struct {
	ID             string    `duckdb:"id,pk,immutable" json:"id"`
	Email          string    `duckdb:"email" json:"email"`
	Name           string    `duckdb:"name" json:"name"`
	Provider       string    `duckdb:"provider,immutable" json:"provider"`
	ProviderUserID string    `duckdb:"provider_user_id,immutable" json:"provider_user_id,omitempty"`
	PasswordHash   string    `duckdb:"password_hash" json:"-"`
	Disabled       bool      `duckdb:"disabled" json:"disabled"`
	CreatedAt      time.Time `duckdb:"created_at,immutable" json:"created_at"`
}

// Claims is the decoded payload of a verified gateway access token.
type Claims struct {
	Subject  string    `json:"sub"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Provider string    `json:"provider"`
	Type     string    `json:"type"`
	IssuedAt time.Time `json:"iat"`
	Expiry   time.Time `json:"exp"`
	KeyID    string    `json:"-"`
}
