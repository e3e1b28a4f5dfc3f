// Package audit is the append-only security event log (component C).
//
// Every write persists before the originating request returns to the
// client (§4.C); nothing in this package ever updates or deletes a row.
// Audit ids are a monotonically increasing sequence within one process
// (invariant 4), generated from an in-memory counter seeded from the
// highest id already on disk at startup.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
)

// Kind enumerates the event kinds named across §4 and §7 of the gateway
// specification. It is a plain string, not a closed Go type, so storage
// and future kinds never require a migration.
type Kind string

const (
	KindSessionInitialized     Kind = "SESSION_INITIALIZED"
	KindSessionClosed          Kind = "SESSION_CLOSED"
	KindToolsListed            Kind = "TOOLS_LISTED"
	KindAuthzPermissionGranted Kind = "AUTHZ_PERMISSION_GRANTED"
	KindAuthzPermissionDenied  Kind = "AUTHZ_PERMISSION_DENIED"
	KindOriginRejected         Kind = "ORIGIN_REJECTED"
	KindConfigChanged          Kind = "CONFIG_CHANGED"
	KindUserCreated            Kind = "USER_CREATED"
	KindUserDisabled           Kind = "USER_DISABLED"
	KindRoleChanged            Kind = "ROLE_CHANGED"
	KindGrantChanged           Kind = "GRANT_CHANGED"
	KindServerRegistered       Kind = "SERVER_REGISTERED"
	KindServerUnregistered     Kind = "SERVER_UNREGISTERED"
	KindServerHealthChanged    Kind = "SERVER_HEALTH_CHANGED"
	KindFirstRunAdminCreated   Kind = "FIRST_RUN_ADMIN_CREATED"
	KindFirstRunBypass         Kind = "FIRST_RUN_BYPASS"
	KindUpstreamError          Kind = "UPSTREAM_ERROR"
	KindLoginSucceeded         Kind = "LOGIN_SUCCEEDED"
	KindLoginFailed            Kind = "LOGIN_FAILED"
	KindTokenRejected          Kind = "TOKEN_REJECTED"
)

// Severity is the log-level style severity tag on an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is one append-only audit record.
type Event struct {
	ID            int64     `duckdb:"id,pk,immutable" json:"id"`
	CorrelationID string    `duckdb:"correlation_id,immutable" json:"correlation_id"`
	Timestamp     time.Time `duckdb:"timestamp,immutable" json:"timestamp"`
	Kind          string    `duckdb:"kind,immutable" json:"kind"`
	Severity      string    `duckdb:"severity,immutable" json:"severity"`
	UserID        string    `duckdb:"user_id,immutable" json:"user_id,omitempty"`
	ResourceType  string    `duckdb:"resource_type,immutable" json:"resource_type,omitempty"`
	ResourceID    string    `duckdb:"resource_id,immutable" json:"resource_id,omitempty"`
	DetailsJSON   string    `duckdb:"details_json,immutable" json:"-"`
	Success       bool      `duckdb:"success,immutable" json:"success"`
}

// Details unmarshals the stored JSON payload.
func (e *Event) Details() map[string]any {
	if e.DetailsJSON == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(e.DetailsJSON), &m)
	return m
}

// Filter selects a subset of the log for List.
type Filter struct {
	Kind   string
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Stats summarizes the log over a time window.
type Stats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	BySeverity  map[string]int `json:"by_severity"`
	DeniedCount int            `json:"denied_count"`
}

// Log is the append-only audit writer/reader.
type Log struct {
	table     *duckdb.Table[Event]
	db        *sql.DB
	logger    zerolog.Logger
	nextID    int64
	retention time.Duration
}

// Open creates the audit_events table if needed and seeds the monotonic
// id counter from the current max id on disk.
func Open(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*Log, error) {
	schema := `CREATE TABLE IF NOT EXISTS audit_events (
		id BIGINT PRIMARY KEY,
		correlation_id VARCHAR,
		timestamp TIMESTAMP,
		kind VARCHAR,
		severity VARCHAR,
		user_id VARCHAR,
		resource_type VARCHAR,
		resource_id VARCHAR,
		details_json VARCHAR,
		success BOOLEAN
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create audit_events table: %w", err)
	}

	var maxID sql.NullInt64
	row := db.QueryRowContext(ctx, "SELECT MAX(id) FROM audit_events")
	if err := row.Scan(&maxID); err != nil {
		return nil, fmt.Errorf("seed audit id sequence: %w", err)
	}

	l := &Log{
		table:     duckdb.NewTable[Event](db, "audit_events"),
		db:        db,
		logger:    logger.With().Str("component", "audit").Logger(),
		retention: 90 * 24 * time.Hour,
	}
	l.nextID = maxID.Int64
	return l, nil
}

// Write appends an event. It persists synchronously before returning, per
// the append-only-and-durable-before-response requirement of §4.C.
func (l *Log) Write(ctx context.Context, kind Kind, severity Severity, userID, resourceType, resourceID string, success bool, details map[string]any) (Event, error) {
	detailsJSON := ""
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return Event{}, fmt.Errorf("marshal audit details: %w", err)
		}
		detailsJSON = string(b)
	}

	ev := Event{
		ID:            atomic.AddInt64(&l.nextID, 1),
		CorrelationID: uuid.NewString(),
		Timestamp:     timeNow(),
		Kind:          string(kind),
		Severity:      string(severity),
		UserID:        userID,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		DetailsJSON:   detailsJSON,
		Success:       success,
	}

	if err := l.table.Insert(ctx, &ev); err != nil {
		return Event{}, fmt.Errorf("persist audit event: %w", err)
	}

	logEvt := l.logger.Info()
	if severity == SeverityWarn {
		logEvt = l.logger.Warn()
	} else if severity == SeverityError {
		logEvt = l.logger.Error()
	}
	logEvt.Str("kind", ev.Kind).Str("user_id", ev.UserID).Bool("success", ev.Success).Msg("audit event")

	return ev, nil
}

// List returns events matching filter, most recent first.
func (l *Log) List(ctx context.Context, f Filter) ([]*Event, error) {
	b := duckdb.NewQueryBuilder("audit_events").
		Select("id", "correlation_id", "timestamp", "kind", "severity", "user_id", "resource_type", "resource_id", "details_json", "success").
		OrderBy("-id")

	if f.Kind != "" {
		b = b.Eq("kind", f.Kind)
	}
	if f.UserID != "" {
		b = b.Eq("user_id", f.UserID)
	}
	if !f.Since.IsZero() {
		b = b.Gte("timestamp", f.Since)
	}
	if !f.Until.IsZero() {
		b = b.Lte("timestamp", f.Until)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	b = b.Limit(limit)

	query, args, err := b.Build()
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.Timestamp, &e.Kind, &e.Severity, &e.UserID, &e.ResourceType, &e.ResourceID, &e.DetailsJSON, &e.Success); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// StatsSince summarizes events from `since` to now.
func (l *Log) StatsSince(ctx context.Context, since time.Time) (Stats, error) {
	events, err := l.List(ctx, Filter{Since: since, Limit: 1 << 20})
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByKind: map[string]int{}, BySeverity: map[string]int{}}
	for _, e := range events {
		stats.TotalEvents++
		stats.ByKind[e.Kind]++
		stats.BySeverity[e.Severity]++
		if e.Kind == string(KindAuthzPermissionDenied) || e.Kind == string(KindOriginRejected) {
			stats.DeniedCount++
		}
	}
	return stats, nil
}

// Retention returns the configured retention window (default 90 days).
func (l *Log) Retention() time.Duration { return l.retention }

// timeNow is a seam so the rest of the package never calls time.Now
// directly, keeping all wall-clock reads in one place for testability.
var timeNow = time.Now
