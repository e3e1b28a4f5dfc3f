package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

// Store persists roles, grants, and user-role assignments.
type Store struct {
	roles     *duckdb.Table[Role]
	grants    *duckdb.Table[Grant]
	userRoles *duckdb.Table[UserRole]
	db        *sql.DB
	logger    zerolog.Logger
}

// OpenStore creates the rbac tables if needed.
func OpenStore(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*Store, error) {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS roles (
			id VARCHAR PRIMARY KEY,
			name VARCHAR,
			description VARCHAR,
			permissions VARCHAR,
			is_system BOOLEAN,
			created_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS grants (
			id VARCHAR PRIMARY KEY,
			role_id VARCHAR,
			server_id VARCHAR,
			tool_name VARCHAR,
			condition VARCHAR,
			granted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id VARCHAR,
			role_id VARCHAR,
			PRIMARY KEY (user_id, role_id)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create rbac schema: %w", err)
		}
	}

	s := &Store{
		roles:     duckdb.NewTable[Role](db, "roles"),
		grants:    duckdb.NewTable[Grant](db, "grants"),
		userRoles: duckdb.NewTable[UserRole](db, "user_roles"),
		db:        db,
		logger:    logger.With().Str("component", "rbac").Logger(),
	}

	if err := s.ensureSystemRoles(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSystemRoles(ctx context.Context) error {
	defaults := []Role{
		{ID: RoleAdmin, Name: "Administrator", Description: "Full administrative access", Permissions: joinPermissions(AllPermissions()), IsSystem: true},
		{ID: RoleUser, Name: "User", Description: "Can execute granted tools", Permissions: joinPermissions([]Permission{PermToolView, PermToolExecute}), IsSystem: true},
		{ID: RoleViewer, Name: "Viewer", Description: "Can view granted tools only", Permissions: joinPermissions([]Permission{PermToolView}), IsSystem: true},
	}
	for i := range defaults {
		existing, err := s.roles.Get(ctx, defaults[i].ID)
		if err != nil {
			return fmt.Errorf("check system role %s: %w", defaults[i].ID, err)
		}
		if existing != nil {
			continue
		}
		defaults[i].CreatedAt = time.Now()
		if err := s.roles.Insert(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("seed system role %s: %w", defaults[i].ID, err)
		}
	}
	return nil
}

// GetRole returns a role by id.
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.roles.Get(ctx, id)
}

// ListRoles returns every role.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.roles.List(ctx, nil)
}

// CreateRole creates a user-defined (non-system) role.
func (s *Store) CreateRole(ctx context.Context, name, description string, perms []Permission) (*Role, error) {
	r := &Role{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Permissions: joinPermissions(perms),
		IsSystem:    false,
		CreatedAt:   time.Now(),
	}
	if err := s.roles.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	return r, nil
}

// SetRolePermissions updates permissions on a non-system role. System
// roles' permission sets may only grow, never shrink (§3 Role invariant).
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, perms []Permission) error {
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	if role == nil {
		return fmt.Errorf("role %s not found", roleID)
	}
	if role.IsSystem {
		existing := make(map[Permission]bool)
		for _, p := range splitPermissions(role.Permissions) {
			existing[p] = true
		}
		for _, p := range perms {
			existing[p] = true
		}
		merged := make([]Permission, 0, len(existing))
		for p := range existing {
			merged = append(merged, p)
		}
		perms = merged
	}
	return s.roles.UpdateFields(ctx, roleID, map[string]any{"permissions": joinPermissions(perms)})
}

// DeleteRole removes a non-system role along with its grants and
// assignments. Deleting a system role is rejected.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.roles.Get(ctx, roleID)
	if err != nil {
		return fmt.Errorf("load role: %w", err)
	}
	if role == nil {
		return nil
	}
	if role.IsSystem {
		return fmt.Errorf("system role %s cannot be deleted", roleID)
	}
	grants, err := s.GrantsForRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("list grants for role: %w", err)
	}
	for _, g := range grants {
		if err := s.grants.Delete(ctx, g.ID); err != nil {
			return fmt.Errorf("delete grant %s: %w", g.ID, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM user_roles WHERE role_id = ?", roleID); err != nil {
		return fmt.Errorf("delete assignments for role: %w", err)
	}
	return s.roles.Delete(ctx, roleID)
}

// AssignRole assigns roleID to userID, idempotently.
func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	return s.userRoles.Upsert(ctx, &UserRole{UserID: userID, RoleID: roleID})
}

// UnassignRole removes roleID from userID.
func (s *Store) UnassignRole(ctx context.Context, userID, roleID string) error {
	rows, err := s.userRoles.List(ctx, map[string]any{"user_id": userID, "role_id": roleID})
	if err != nil {
		return fmt.Errorf("look up assignment: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	return err
}

// RolesForUser returns the roles assigned to userID.
func (s *Store) RolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	assignments, err := s.userRoles.List(ctx, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	roles := make([]*Role, 0, len(assignments))
	for _, a := range assignments {
		r, err := s.roles.Get(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("load role %s: %w", a.RoleID, err)
		}
		if r != nil {
			roles = append(roles, r)
		}
	}
	return roles, nil
}

// GrantsForTool returns every grant across all roles for (serverID, toolName).
func (s *Store) GrantsForTool(ctx context.Context, serverID, toolName string) ([]*Grant, error) {
	return s.grants.List(ctx, map[string]any{"server_id": serverID, "tool_name": toolName})
}

// GrantsForRole returns every grant held by roleID.
func (s *Store) GrantsForRole(ctx context.Context, roleID string) ([]*Grant, error) {
	return s.grants.List(ctx, map[string]any{"role_id": roleID})
}

// AddGrant grants roleID access to (serverID, toolName), optionally gated
// by a CEL condition expression.
func (s *Store) AddGrant(ctx context.Context, roleID, serverID, toolName, condition string) (*Grant, error) {
	g := &Grant{
		ID:        uuid.NewString(),
		RoleID:    roleID,
		ServerID:  serverID,
		ToolName:  toolName,
		Condition: condition,
		GrantedAt: time.Now(),
	}
	if err := s.grants.Insert(ctx, g); err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	return g, nil
}

// RemoveGrant deletes a grant by id.
func (s *Store) RemoveGrant(ctx context.Context, grantID string) error {
	return s.grants.Delete(ctx, grantID)
}
