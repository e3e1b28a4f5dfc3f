package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

// Store persists User records.
type Store struct {
	table  *duckdb.Table[User]
	db     *sql.DB
	logger zerolog.Logger
}

// OpenStore creates the users table if needed.
func OpenStore(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*Store, error) {
	schema := `CREATE TABLE IF NOT EXISTS users (
		id VARCHAR PRIMARY KEY,
		email VARCHAR,
		name VARCHAR,
		provider VARCHAR,
		provider_user_id VARCHAR,
		password_hash VARCHAR,
		disabled BOOLEAN,
		created_at TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create users table: %w", err)
	}
	return &Store{
		table:  duckdb.NewTable[User](db, "users"),
		db:     db,
		logger: logger.With().Str("component", "identity").Logger(),
	}, nil
}

// Count returns the number of users, used by the RBAC engine's first-run
// bootstrap check.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users")
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Get returns a user by id.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	return s.table.Get(ctx, id)
}

// FindByEmail returns the local user with the given email, if any.
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	users, err := s.table.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.Provider == "local" && u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

// CreateLocalUser creates a local user with a bcrypt-hashed password.
func (s *Store) CreateLocalUser(ctx context.Context, email, name, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Provider:     "local",
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.table.Insert(ctx, u); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// VerifyPassword checks a password against the user's stored hash.
func (s *Store) VerifyPassword(u *User, password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// UpsertOAuthUser finds or creates a user scoped to provider+providerUserID,
// refreshing email/name from the latest profile.
func (s *Store) UpsertOAuthUser(ctx context.Context, provider, providerUserID, email, name string) (*User, error) {
	users, err := s.table.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		if u.Provider == provider && u.ProviderUserID == providerUserID {
			u.Email = email
			u.Name = name
			if err := s.table.Update(ctx, u); err != nil {
				return nil, fmt.Errorf("update oauth user: %w", err)
			}
			return u, nil
		}
	}

	u := &User{
		ID:             uuid.NewString(),
		Email:          email,
		Name:           name,
		Provider:       provider,
		ProviderUserID: providerUserID,
		CreatedAt:      time.Now(),
	}
	if err := s.table.Insert(ctx, u); err != nil {
		return nil, fmt.Errorf("insert oauth user: %w", err)
	}
	return u, nil
}

// SetDisabled toggles a user's disabled flag.
func (s *Store) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return s.table.UpdateFields(ctx, id, map[string]any{"disabled": disabled})
}

// ListUsers returns every account, local and OAuth-provisioned alike.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.table.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// DeleteUser removes a local or OAuth account by id.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.table.Delete(ctx, id)
}

// SetPassword replaces a local user's password hash.
func (s *Store) SetPassword(ctx context.Context, id, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.table.UpdateFields(ctx, id, map[string]any{"password_hash": string(hash)})
}
