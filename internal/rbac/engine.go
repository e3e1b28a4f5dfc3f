package rbac

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
)

// Tool is the minimal view of an aggregated tool the engine needs to
// authorize or filter — the full schema lives in the discovery catalog.
type Tool struct {
	ServerID string
	Name     string
}

// Engine is the authorization surface consulted by the protocol gateway.
type Engine struct {
	store  *Store
	users  *identity.Store
	audit  *audit.Log
	cond   *conditionEvaluator
	logger zerolog.Logger
}

// NewEngine wires a rbac Store, the identity Store (for first-run
// bootstrap and role lookups), and the audit log together.
func NewEngine(store *Store, users *identity.Store, auditLog *audit.Log, logger zerolog.Logger) (*Engine, error) {
	cond, err := newConditionEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:  store,
		users:  users,
		audit:  auditLog,
		cond:   cond,
		logger: logger.With().Str("component", "rbac.engine").Logger(),
	}, nil
}

// hasAdminRole reports whether any of roles is the admin system role.
func hasAdminRole(roles []*Role) bool {
	for _, r := range roles {
		if r.ID == RoleAdmin {
			return true
		}
	}
	return false
}

func hasPermission(roles []*Role, perm Permission) bool {
	for _, r := range roles {
		if r.Has(perm) {
			return true
		}
	}
	return false
}

// CanViewTool reports whether userID may see (serverID, toolName) in its
// visible tool set.
func (e *Engine) CanViewTool(ctx context.Context, userID, serverID, toolName string) (bool, error) {
	roles, err := e.store.RolesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load roles for user: %w", err)
	}
	if hasAdminRole(roles) {
		return true, nil
	}
	for _, r := range roles {
		grants, err := e.store.GrantsForRole(ctx, r.ID)
		if err != nil {
			return false, fmt.Errorf("load grants for role %s: %w", r.ID, err)
		}
		for _, g := range grants {
			if g.ServerID == serverID && g.ToolName == toolName {
				return true, nil
			}
		}
	}
	return false, nil
}

// CanExecuteTool reports whether userID may invoke (serverID, toolName),
// optionally evaluating a CEL condition attached to the matching grant
// against evalVars (call arguments and identity). Default-deny: a tool
// with no grant anywhere may only be executed by admin.
func (e *Engine) CanExecuteTool(ctx context.Context, userID, serverID, toolName string, evalVars map[string]any) (bool, error) {
	roles, err := e.store.RolesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load roles for user: %w", err)
	}
	if hasAdminRole(roles) {
		return true, nil
	}
	if !hasPermission(roles, PermToolExecute) {
		return false, nil
	}

	allGrants, err := e.store.GrantsForTool(ctx, serverID, toolName)
	if err != nil {
		return false, fmt.Errorf("load grants for tool: %w", err)
	}
	if len(allGrants) == 0 {
		// Default-deny for grantable tools with no grant anywhere.
		return false, nil
	}

	roleIDs := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleIDs[r.ID] = true
	}
	for _, g := range allGrants {
		if !roleIDs[g.RoleID] {
			continue
		}
		if evalVars == nil {
			evalVars = map[string]any{}
		}
		evalVars["user_id"] = userID
		evalVars["server_id"] = serverID
		evalVars["tool_name"] = toolName
		ok, err := e.cond.eval(g.Condition, evalVars)
		if err != nil {
			e.logger.Warn().Err(err).Str("grant_id", g.ID).Msg("grant condition evaluation failed, denying")
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether userID holds perm via any assigned role,
// admin always included. Used by the admin control plane to gate
// coarse-grained endpoints (user/role/server/config management) that
// have no per-tool grant shape.
func (e *Engine) HasPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	roles, err := e.store.RolesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load roles for user: %w", err)
	}
	if hasAdminRole(roles) {
		return true, nil
	}
	return hasPermission(roles, perm), nil
}

// VisibleTools is the pure filter used by tools/list: it returns the
// subset of allTools that userID is allowed to view.
func (e *Engine) VisibleTools(ctx context.Context, userID string, allTools []Tool) ([]Tool, error) {
	roles, err := e.store.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles for user: %w", err)
	}
	if hasAdminRole(roles) {
		return allTools, nil
	}

	grantKey := make(map[string]bool)
	for _, r := range roles {
		grants, err := e.store.GrantsForRole(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("load grants for role %s: %w", r.ID, err)
		}
		for _, g := range grants {
			grantKey[g.ServerID+"\x00"+g.ToolName] = true
		}
	}

	visible := make([]Tool, 0, len(allTools))
	for _, t := range allTools {
		if grantKey[t.ServerID+"\x00"+t.Name] {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// Bootstrap runs the first-run check: if the user store is empty, it
// creates a local admin/admin account, assigns it the admin role, and
// emits a WARN-severity audit event instructing the operator to rotate
// the password. Safe to call on every startup.
func (e *Engine) Bootstrap(ctx context.Context) error {
	n, err := e.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}

	u, err := e.users.CreateLocalUser(ctx, "admin", "Administrator", "admin")
	if err != nil {
		return fmt.Errorf("create first-run admin: %w", err)
	}
	if err := e.store.AssignRole(ctx, u.ID, RoleAdmin); err != nil {
		return fmt.Errorf("assign admin role to first-run admin: %w", err)
	}

	if e.audit != nil {
		_, _ = e.audit.Write(ctx, audit.KindFirstRunAdminCreated, audit.SeverityWarn, u.ID, "user", u.ID, true, map[string]any{
			"message": "default admin/admin account created; rotate the password immediately",
		})
	}
	return nil
}
