package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/transport"
)

// idNamespace seeds the deterministic server-id derivation (§3
// "Identity: server id derived from endpoint").
var idNamespace = uuid.MustParse("6f6e0c2d-6f2b-4f6a-9b8c-0a6d9b2d2f10")

// conn is the live, in-memory half of a registered server: its transport
// client, health watcher, and a cancelable context that scopes every
// in-flight call made through it.
type conn struct {
	server *UpstreamServer
	client *transport.Client
	cancel context.CancelFunc
	ctx    context.Context
}

// Registry is the in-memory view of registered upstreams, a map updated in
// place under an RWMutex, backed by Store for durability.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn

	store          *Store
	audit          *audit.Log
	logger         zerolog.Logger
	healthInterval time.Duration
	maxInFlight    int
	queueLimit     int
}

// New builds a Registry. healthInterval governs how often each upstream is
// pinged; maxInFlight/queueLimit bound each upstream's transport client.
func New(store *Store, auditLog *audit.Log, healthInterval time.Duration, maxInFlight, queueLimit int, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:          make(map[string]*conn),
		store:          store,
		audit:          auditLog,
		logger:         logger.With().Str("component", "registry").Logger(),
		healthInterval: healthInterval,
		maxInFlight:    maxInFlight,
		queueLimit:     queueLimit,
	}
}

func deriveServerID(baseURL string) string {
	return uuid.NewSHA1(idNamespace, []byte(baseURL)).String()
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// LoadFromStore restores every persisted server record on startup and
// resumes health watching, without repeating the initialize handshake
// (the cached tool schema is trusted until the next successful refresh).
func (r *Registry) LoadFromStore(ctx context.Context) error {
	servers, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list persisted servers: %w", err)
	}

	for _, srv := range servers {
		r.attach(srv)
	}
	return nil
}

// attach wires a server record into the live map: a pooled client, a
// per-server cancelable context, and a background health watcher.
func (r *Registry) attach(srv *UpstreamServer) {
	ctx, cancel := context.WithCancel(context.Background())
	client := transport.NewClient(srv.BaseURL, r.maxInFlight, r.queueLimit, r.logger)

	c := &conn{server: srv, client: client, cancel: cancel, ctx: ctx}

	r.mu.Lock()
	r.conns[srv.ID] = c
	r.mu.Unlock()

	watcher := transport.NewHealthWatcher(client, r.healthInterval, func(healthy bool) {
		r.onHealthChange(srv.ID, healthy)
	}, r.logger)

	go watcher.Run(ctx)
}

// AddServer runs the add-server flow from §4.F: validate, handshake,
// fetch tools, persist, mark healthy, start pinging.
func (r *Registry) AddServer(ctx context.Context, baseURL string) (*UpstreamServer, error) {
	if err := validateURL(baseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	id := deriveServerID(baseURL)

	r.mu.RLock()
	_, exists := r.conns[id]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("server already registered: %s", baseURL)
	}

	client := transport.NewClient(baseURL, r.maxInFlight, r.queueLimit, r.logger)
	if _, err := client.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize handshake failed: %w", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	schemaJSON, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("marshal tool schema: %w", err)
	}

	now := time.Now()
	srv := &UpstreamServer{
		ID:              id,
		BaseURL:         baseURL,
		ToolSchemaJSON:  string(schemaJSON),
		HealthStatus:    string(HealthHealthy),
		LastHealthCheck: now,
		RegisteredAt:    now,
	}

	if err := r.store.Create(ctx, srv); err != nil {
		return nil, fmt.Errorf("persist server record: %w", err)
	}

	r.attach(srv)

	if r.audit != nil {
		_, _ = r.audit.Write(ctx, audit.KindServerRegistered, audit.SeverityInfo, "", "upstream_server", id, true,
			map[string]any{"base_url": baseURL, "tool_count": len(tools)})
	}

	return srv, nil
}

// RemoveServer cancels the server's context — stopping its health watcher
// and any in-flight calls made through its client — then deletes it from
// both the live map and the durable store.
func (r *Registry) RemoveServer(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("server not found: %s", id)
	}
	c.cancel()

	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete server record: %w", err)
	}

	if r.audit != nil {
		_, _ = r.audit.Write(ctx, audit.KindServerUnregistered, audit.SeverityInfo, "", "upstream_server", id, true, nil)
	}
	return nil
}

// RefreshTools re-fetches an upstream's tool schema on demand (admin
// refresh, or re-registration per §4.G refresh triggers).
func (r *Registry) RefreshTools(ctx context.Context, id string) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("server not found: %s", id)
	}

	tools, err := c.client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("tools/list failed: %w", err)
	}
	schemaJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshal tool schema: %w", err)
	}

	if err := r.store.UpdateToolSchema(ctx, id, string(schemaJSON)); err != nil {
		return err
	}

	r.mu.Lock()
	c.server.ToolSchemaJSON = string(schemaJSON)
	r.mu.Unlock()
	return nil
}

// Get returns a snapshot of one server record, if registered.
func (r *Registry) Get(id string) (*UpstreamServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	srv := *c.server
	return &srv, true
}

// Client returns the transport client and scoped context for a server, so
// callers (the Protocol Gateway) issue calls that are canceled the moment
// the server is removed.
func (r *Registry) Client(id string) (*transport.Client, context.Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil, nil, false
	}
	return c.client, c.ctx, true
}

// ListAll returns a snapshot of every registered server, regardless of
// health.
func (r *Registry) ListAll() []*UpstreamServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*UpstreamServer, 0, len(r.conns))
	for _, c := range r.conns {
		srv := *c.server
		out = append(out, &srv)
	}
	return out
}

// ListHealthy returns only the servers currently marked healthy — the set
// that Tool Discovery (component G) aggregates its catalog from.
func (r *Registry) ListHealthy() []*UpstreamServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*UpstreamServer, 0, len(r.conns))
	for _, c := range r.conns {
		if c.server.HealthStatus == string(HealthHealthy) {
			srv := *c.server
			out = append(out, &srv)
		}
	}
	return out
}

func (r *Registry) onHealthChange(id string, healthy bool) {
	status := HealthUnhealthy
	if healthy {
		status = HealthHealthy
	}
	now := time.Now()

	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		c.server.HealthStatus = string(status)
		c.server.LastHealthCheck = now
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if err := r.store.UpdateHealth(ctx, id, status, now); err != nil {
		r.logger.Warn().Err(err).Str("server_id", id).Msg("failed to persist health transition")
	}

	if r.audit != nil {
		severity := audit.SeverityWarn
		if healthy {
			severity = audit.SeverityInfo
		}
		_, _ = r.audit.Write(ctx, audit.KindServerHealthChanged, severity, "", "upstream_server", id, healthy,
			map[string]any{"healthy": healthy})
	}
}
