// Package registry is the Upstream Registry (component F): it holds
// UpstreamServer records, drives the add-server handshake through the
// transport client, and tracks health via periodic pings.
package registry

import "time"

// HealthStatus mirrors an upstream's last known health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	// HealthUnknown is the transient status before the first successful
	// initialize+tools/list handshake completes.
	HealthUnknown HealthStatus = "unknown"
)

// UpstreamServer is one registered upstream MCP endpoint (§3 "UpstreamServer").
type UpstreamServer struct {
	ID              string    `duckdb:"id,pk,immutable"`
	BaseURL         string    `duckdb:"base_url,immutable"`
	ToolSchemaJSON  string    `duckdb:"tool_schema_json"`
	CredentialJSON  string    `duckdb:"credential_json"`
	HealthStatus    string    `duckdb:"health_status"`
	LastHealthCheck time.Time `duckdb:"last_health_check"`
	RegisteredAt    time.Time `duckdb:"registered_at,immutable"`
}
