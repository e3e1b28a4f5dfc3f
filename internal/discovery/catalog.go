package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/registry"
)

// RoleLookup resolves the access-role metadata attached to a catalog
// entry; callers normally wire this to the RBAC engine's grant lookups.
type RoleLookup func(serverID, toolName string) []string

// Catalog is the aggregated, namespaced view of every healthy upstream's
// tools (§4.G). Safe for concurrent use.
type Catalog struct {
	mu          sync.RWMutex
	byName      map[string][]Entry
	fingerprint uint64
	logger      zerolog.Logger
}

// New builds an empty catalog; call Refresh to populate it.
func New(logger zerolog.Logger) *Catalog {
	return &Catalog{
		byName: make(map[string][]Entry),
		logger: logger.With().Str("component", "discovery").Logger(),
	}
}

// Refresh rebuilds the catalog from the registry's currently healthy
// upstreams. It is called on server (re)registration and on explicit
// admin refresh (§4.G "Refresh").
func (c *Catalog) Refresh(ctx context.Context, reg *registry.Registry, roles RoleLookup) error {
	servers := reg.ListHealthy()

	byName := make(map[string][]Entry)
	for _, srv := range servers {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(srv.ToolSchemaJSON), &raw); err != nil {
			return fmt.Errorf("decode tool schema for server %s: %w", srv.ID, err)
		}

		for _, r := range raw {
			var ut upstreamTool
			if err := json.Unmarshal(r, &ut); err != nil {
				c.logger.Warn().Err(err).Str("server_id", srv.ID).Msg("skipping malformed tool entry")
				continue
			}

			entry := Entry{
				Tool:     ut.toMCPTool(),
				ServerID: srv.ID,
			}
			if roles != nil {
				entry.AccessRoles = roles(srv.ID, ut.Name)
			}
			byName[ut.Name] = append(byName[ut.Name], entry)
		}
	}

	c.mu.Lock()
	c.byName = byName
	c.fingerprint = fingerprintOf(byName)
	c.mu.Unlock()

	return nil
}

// fingerprintOf hashes a stable rendering of the catalog so callers can
// cheaply detect whether anything changed since their last read.
func fingerprintOf(byName map[string][]Entry) uint64 {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		for _, e := range byName[name] {
			sb.WriteString("|")
			sb.WriteString(e.ServerID)
		}
		sb.WriteString(";")
	}
	return xxh3.HashString(sb.String())
}

// Fingerprint returns the current catalog's content hash.
func (c *Catalog) Fingerprint() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fingerprint
}

// All returns every entry in the aggregated catalog, across all names.
func (c *Catalog) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0)
	for _, entries := range c.byName {
		out = append(out, entries...)
	}
	return out
}

// Lookup returns every entry registered under name, across servers — the
// raw candidate set before a caller's visible set narrows it (§4.G
// "Collision policy").
func (c *Catalog) Lookup(name string) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.byName[name]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Resolve picks the single entry named name out of a caller's visible
// set. Zero matches is NotFoundError; more than one is AmbiguousError —
// the caller already used an unqualified name that collided (§4.G).
func Resolve(name string, visible []Entry) (Entry, error) {
	var matches []Entry
	for _, e := range visible {
		if e.Tool.Name == name {
			matches = append(matches, e)
		}
	}

	switch len(matches) {
	case 0:
		return Entry{}, &NotFoundError{Name: name}
	case 1:
		return matches[0], nil
	default:
		serverIDs := make([]string, len(matches))
		for i, m := range matches {
			serverIDs[i] = m.ServerID
		}
		return Entry{}, &AmbiguousError{Name: name, Candidates: serverIDs}
	}
}
