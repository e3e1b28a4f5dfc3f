// Package discovery is Tool Discovery & Namespacing (component G): it
// aggregates the tool catalogs of every healthy upstream, assigns
// per-tool routing metadata, and resolves a caller-visible name back to
// its owning upstream, applying the collision policy from §4.G.
package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Entry is one tool as it appears in the aggregated catalog: the wire
// representation plus routing metadata that is hidden from unauthorized
// callers but kept for dispatch (§4.G).
type Entry struct {
	Tool           mcp.Tool `json:"tool"`
	ServerID       string   `json:"_server_id"`
	AccessRoles    []string `json:"_access_roles,omitempty"`
	OAuthProviders []string `json:"_oauth_providers,omitempty"`
}

// upstreamTool is the shape an upstream's tools/list entries are decoded
// from before being rewrapped as an mcp.Tool.
type upstreamTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func (u upstreamTool) toMCPTool() mcp.Tool {
	schema := u.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return mcp.NewToolWithRawSchema(u.Name, u.Description, schema)
}

// AmbiguousError is returned when a tool name resolves to more than one
// entry in a caller's visible set — the gateway maps it to the
// TOOL_AMBIGUOUS structured error kind.
type AmbiguousError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("tool name %q is ambiguous across servers %v", e.Name, e.Candidates)
}

// NotFoundError is returned when a tool name has no visible match.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}
