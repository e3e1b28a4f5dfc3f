package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

// Store is the durable side of the registry: server records and their
// discovered tool schemas.
type Store struct {
	servers *duckdb.Table[UpstreamServer]
	logger  zerolog.Logger
}

// OpenStore creates the upstream_servers table if needed.
func OpenStore(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*Store, error) {
	schema := `CREATE TABLE IF NOT EXISTS upstream_servers (
		id VARCHAR PRIMARY KEY,
		base_url VARCHAR,
		tool_schema_json VARCHAR,
		credential_json VARCHAR,
		health_status VARCHAR,
		last_health_check TIMESTAMP,
		registered_at TIMESTAMP
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create upstream_servers table: %w", err)
	}

	return &Store{
		servers: duckdb.NewTable[UpstreamServer](db, "upstream_servers"),
		logger:  logger.With().Str("component", "registry").Logger(),
	}, nil
}

// Create persists a new server record.
func (s *Store) Create(ctx context.Context, srv *UpstreamServer) error {
	return s.servers.Insert(ctx, srv)
}

// Get retrieves a server record by id.
func (s *Store) Get(ctx context.Context, id string) (*UpstreamServer, error) {
	return s.servers.Get(ctx, id)
}

// List returns every registered server.
func (s *Store) List(ctx context.Context) ([]*UpstreamServer, error) {
	return s.servers.List(ctx, nil)
}

// Delete removes a server record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.servers.Delete(ctx, id)
}

// UpdateToolSchema overwrites the discovered tool schema for a server.
func (s *Store) UpdateToolSchema(ctx context.Context, id, toolSchemaJSON string) error {
	return s.servers.UpdateFields(ctx, id, map[string]interface{}{
		"tool_schema_json": toolSchemaJSON,
	})
}

// UpdateHealth records a health status transition.
func (s *Store) UpdateHealth(ctx context.Context, id string, status HealthStatus, at time.Time) error {
	return s.servers.UpdateFields(ctx, id, map[string]interface{}{
		"health_status":     string(status),
		"last_health_check": at,
	})
}
