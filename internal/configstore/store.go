// Package configstore is the durable key/value config store (component B):
// origin allowlist, JWT issuance policy, and AD import settings. Readers
// cache; writers bump a monotonic version and every write emits an audit
// event (§4.B).
package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

// entry is the raw persisted row for one config key.
type entry struct {
	Key       string `duckdb:"key,pk"`
	ValueJSON string `duckdb:"value_json"`
	Version   int64  `duckdb:"version"`
}

// Store is the read-through-cached, write-through-versioned config KV.
type Store struct {
	mu     sync.RWMutex
	cache  map[string]entry
	table  *duckdb.Table[entry]
	db     *sql.DB
	audit  *audit.Log
	logger zerolog.Logger
}

// Open creates the config_entries table if needed, seeds the in-process
// cache from disk, and returns a ready Store.
func Open(ctx context.Context, db *sql.DB, auditLog *audit.Log, logger zerolog.Logger) (*Store, error) {
	schema := `CREATE TABLE IF NOT EXISTS config_entries (
		key VARCHAR PRIMARY KEY,
		value_json VARCHAR,
		version BIGINT
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create config_entries table: %w", err)
	}

	s := &Store{
		cache:  make(map[string]entry),
		table:  duckdb.NewTable[entry](db, "config_entries"),
		db:     db,
		audit:  auditLog,
		logger: logger.With().Str("component", "configstore").Logger(),
	}

	rows, err := s.table.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load config entries: %w", err)
	}
	for _, r := range rows {
		s.cache[r.Key] = *r
	}

	if err := s.ensureDefault(ctx, KeyOriginPolicy, DefaultOriginPolicy()); err != nil {
		return nil, err
	}
	if err := s.ensureDefault(ctx, KeyJWTConfig, DefaultJWTConfig()); err != nil {
		return nil, err
	}
	if err := s.ensureDefault(ctx, KeyADConfig, ADConfig{}); err != nil {
		return nil, err
	}
	if err := s.ensureDefault(ctx, KeyOAuthProviders, oauthProviderSet{}); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureDefault(ctx context.Context, key Key, def any) error {
	s.mu.RLock()
	_, ok := s.cache[string(key)]
	s.mu.RUnlock()
	if ok {
		return nil
	}
	return s.set(ctx, key, def, "", false)
}

// get reads a cached value and unmarshals it into out.
func (s *Store) get(key Key, out any) (int64, bool) {
	s.mu.RLock()
	e, ok := s.cache[string(key)]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	_ = json.Unmarshal([]byte(e.ValueJSON), out)
	return e.Version, true
}

// set persists a new value, bumps the version, updates the cache, and
// (unless this is first-boot default-seeding) emits a CONFIG_CHANGED audit
// event.
func (s *Store) set(ctx context.Context, key Key, value any, actorUserID string, emitAudit bool) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal config value for %s: %w", key, err)
	}

	s.mu.Lock()
	prev := s.cache[string(key)]
	next := entry{Key: string(key), ValueJSON: string(b), Version: prev.Version + 1}
	s.mu.Unlock()

	if err := s.table.Upsert(ctx, &next); err != nil {
		return fmt.Errorf("persist config entry %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[string(key)] = next
	s.mu.Unlock()

	if emitAudit && s.audit != nil {
		_, _ = s.audit.Write(ctx, audit.KindConfigChanged, audit.SeverityInfo, actorUserID, "config", string(key), true, map[string]any{
			"key":     key,
			"version": next.Version,
		})
	}
	return nil
}

// GetOriginPolicy returns the current origin allowlist policy.
func (s *Store) GetOriginPolicy() OriginPolicy {
	var p OriginPolicy
	if _, ok := s.get(KeyOriginPolicy, &p); !ok {
		return DefaultOriginPolicy()
	}
	return p
}

// SetOriginPolicy persists a new origin policy.
func (s *Store) SetOriginPolicy(ctx context.Context, p OriginPolicy, actorUserID string) error {
	return s.set(ctx, KeyOriginPolicy, p, actorUserID, true)
}

// GetJWTConfig returns the current token-issuance policy.
func (s *Store) GetJWTConfig() JWTConfig {
	var c JWTConfig
	if _, ok := s.get(KeyJWTConfig, &c); !ok {
		return DefaultJWTConfig()
	}
	return c
}

// SetJWTConfig persists a new token-issuance policy.
func (s *Store) SetJWTConfig(ctx context.Context, c JWTConfig, actorUserID string) error {
	return s.set(ctx, KeyJWTConfig, c, actorUserID, true)
}

// GetADConfig returns the current AD/LDAP import settings (never includes
// a bind password).
func (s *Store) GetADConfig() ADConfig {
	var c ADConfig
	_, _ = s.get(KeyADConfig, &c)
	return c
}

// SetADConfig persists new AD/LDAP import settings.
func (s *Store) SetADConfig(ctx context.Context, c ADConfig, actorUserID string) error {
	return s.set(ctx, KeyADConfig, c, actorUserID, true)
}

// ListOAuthProviders returns every configured external identity provider.
func (s *Store) ListOAuthProviders() []OAuthProvider {
	var set oauthProviderSet
	if _, ok := s.get(KeyOAuthProviders, &set); !ok {
		return nil
	}
	out := make([]OAuthProvider, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out
}

// GetOAuthProvider returns one provider by id.
func (s *Store) GetOAuthProvider(id string) (OAuthProvider, bool) {
	var set oauthProviderSet
	if _, ok := s.get(KeyOAuthProviders, &set); !ok {
		return OAuthProvider{}, false
	}
	p, ok := set[id]
	return p, ok
}

// AddOAuthProvider persists a new provider, or replaces an existing one
// with the same id (idempotent upsert, per §4.K).
func (s *Store) AddOAuthProvider(ctx context.Context, p OAuthProvider, actorUserID string) error {
	var set oauthProviderSet
	if _, ok := s.get(KeyOAuthProviders, &set); !ok || set == nil {
		set = oauthProviderSet{}
	}
	set[p.ID] = p
	return s.set(ctx, KeyOAuthProviders, set, actorUserID, true)
}

// RemoveOAuthProvider deletes a provider by id; removing an absent one is
// a no-op.
func (s *Store) RemoveOAuthProvider(ctx context.Context, id, actorUserID string) error {
	var set oauthProviderSet
	if _, ok := s.get(KeyOAuthProviders, &set); !ok || set == nil {
		return nil
	}
	if _, exists := set[id]; !exists {
		return nil
	}
	delete(set, id)
	return s.set(ctx, KeyOAuthProviders, set, actorUserID, true)
}
