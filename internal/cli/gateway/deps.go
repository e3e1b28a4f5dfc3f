package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/admin"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/config"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/configstore"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/discovery"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/duckdb"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/gateway"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/origin"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/session"
)

const (
	registryHealthInterval = 30 * time.Second
	registryMaxInFlight    = 8
	registryQueueLimit     = 16
)

// deps bundles every opened collaborator, shared by serve/token/bootstrap
// so each subcommand only wires what it actually uses.
type deps struct {
	db       *sql.DB
	audit    *audit.Log
	cfgStore *configstore.Store
	users    *identity.Store
	issuer   *identity.Issuer
	verifier *identity.Verifier
	identity *identity.Service
	rbacStr  *rbac.Store
	rbacEng  *rbac.Engine
	regStore *registry.Store
	registry *registry.Registry
	catalog  *discovery.Catalog
	sessions *session.Manager
}

// openDeps opens the durable store and every domain collaborator on top of
// it, running first-run bootstrap (admin/admin account, system roles). The
// returned closer must be called to release the database handle.
func openDeps(ctx context.Context, cfg *config.GatewayConfig, logger zerolog.Logger) (*deps, func() error, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	dsn := filepath.Join(cfg.DataDir, "gateway.duckdb")
	db, err := duckdb.OpenDB(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	closer := func() error { return db.Close() }

	auditLog, err := audit.Open(ctx, db, logger)
	if err != nil {
		return nil, closer, fmt.Errorf("open audit log: %w", err)
	}

	cfgStore, err := configstore.Open(ctx, db, auditLog, logger)
	if err != nil {
		return nil, closer, fmt.Errorf("open config store: %w", err)
	}

	userStore, err := identity.OpenStore(ctx, db, logger)
	if err != nil {
		return nil, closer, fmt.Errorf("open identity store: %w", err)
	}
	if len(cfg.AllowedOrigins) > 0 {
		// First boot is detected by an empty user table, before Bootstrap
		// creates the default admin below.
		nUsers, err := userStore.Count(ctx)
		if err != nil {
			return nil, closer, fmt.Errorf("count users: %w", err)
		}
		if nUsers == 0 {
			if err := seedOriginAllowlist(ctx, cfgStore, cfg.AllowedOrigins); err != nil {
				return nil, closer, fmt.Errorf("seed origin allowlist: %w", err)
			}
		}
	}

	keyPath := cfg.EncryptionKeyFile
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "gateway.key")
	}
	key, err := identity.LoadOrGenerateKey(keyPath)
	if err != nil {
		return nil, closer, fmt.Errorf("load signing key: %w", err)
	}
	jwtCfg := cfgStore.GetJWTConfig()
	issuer := identity.NewIssuer(key, jwtCfg.Issuer)
	verifier := identity.NewVerifier(key, logger)
	if cfg.JWTSecret != "" {
		verifier.SetLegacySecret([]byte(cfg.JWTSecret), jwtCfg.LegacyHS256Enabled)
	}
	idnService := identity.NewService(userStore, issuer, verifier, cfgStore, logger)

	rbacStore, err := rbac.OpenStore(ctx, db, logger)
	if err != nil {
		return nil, closer, fmt.Errorf("open rbac store: %w", err)
	}
	engine, err := rbac.NewEngine(rbacStore, userStore, auditLog, logger)
	if err != nil {
		return nil, closer, fmt.Errorf("build rbac engine: %w", err)
	}
	if err := engine.Bootstrap(ctx); err != nil {
		return nil, closer, fmt.Errorf("bootstrap rbac: %w", err)
	}

	regStore, err := registry.OpenStore(ctx, db, logger)
	if err != nil {
		return nil, closer, fmt.Errorf("open registry store: %w", err)
	}
	reg := registry.New(regStore, auditLog, registryHealthInterval, registryMaxInFlight, registryQueueLimit, logger)
	if err := reg.LoadFromStore(ctx); err != nil {
		return nil, closer, fmt.Errorf("load persisted upstream servers: %w", err)
	}

	catalog := discovery.New(logger)
	if err := catalog.Refresh(ctx, reg, nil); err != nil {
		logger.Warn().Err(err).Msg("initial tool discovery refresh failed, continuing with an empty catalog")
	}

	sessions := session.NewManager(auditLog, logger,
		session.WithBufferCap(cfg.EventBufferSize),
		session.WithInactivityTimeout(cfg.SessionIdleTimeout),
	)

	return &deps{
		db:       db,
		audit:    auditLog,
		cfgStore: cfgStore,
		users:    userStore,
		issuer:   issuer,
		verifier: verifier,
		identity: idnService,
		rbacStr:  rbacStore,
		rbacEng:  engine,
		regStore: regStore,
		registry: reg,
		catalog:  catalog,
		sessions: sessions,
	}, closer, nil
}

// seedOriginAllowlist unions cfg.AllowedOrigins into the persisted policy
// on first boot; hosts already in the allowlist are skipped, so a call that
// adds nothing writes nothing.
func seedOriginAllowlist(ctx context.Context, cfgStore *configstore.Store, hosts []string) error {
	policy := cfgStore.GetOriginPolicy()
	changed := false
	for _, h := range hosts {
		if !policy.Contains(h) {
			policy.Allowlist = append(policy.Allowlist, h)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return cfgStore.SetOriginPolicy(ctx, policy, "")
}

// buildGateway assembles the protocol gateway (served at /mcp).
func buildGateway(d *deps, logger zerolog.Logger) *gateway.Gateway {
	originValidator := origin.New(d.cfgStore, logger)
	return gateway.New(originValidator, d.identity, d.rbacEng, d.registry, d.catalog, d.sessions, d.audit, logger)
}

// buildAdmin assembles the admin control plane (served at /admin, /auth,
// and the JWKS well-known path).
func buildAdmin(d *deps, logger zerolog.Logger) *admin.Server {
	return admin.New(admin.Deps{
		Identity: d.identity,
		Users:    d.users,
		Issuer:   d.issuer,
		Verifier: d.verifier,
		RBAC:     d.rbacEng,
		RBACStr:  d.rbacStr,
		Config:   d.cfgStore,
		Registry: d.registry,
		Catalog:  d.catalog,
		Audit:    d.audit,
		Logger:   logger,
	})
}
