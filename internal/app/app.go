// Package app assembles the identity core from configuration. Both the
// HTTP server and the operator CLI start from here.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/handler"
	"github.com/aryan0dhankhar/identitycore/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/retry"
	"github.com/aryan0dhankhar/identitycore/internal/repository"
	"github.com/aryan0dhankhar/identitycore/internal/security"
	"github.com/aryan0dhankhar/identitycore/internal/service"
	"github.com/aryan0dhankhar/identitycore/pkg/cache"
	"github.com/aryan0dhankhar/identitycore/pkg/config"
	"github.com/aryan0dhankhar/identitycore/pkg/database"
)

// Default permission set installed into an empty in-memory store.
const (
	PermUserRead   = "user:read"
	PermUserUpdate = "user:update"
	PermUserDelete = "user:delete"
)

// Runtime is a started core plus the health checks of its collaborators.
type Runtime struct {
	Core          *service.Core
	Collaborators *service.Collaborators
	Checks        map[string]handler.Pinger
}

// Close releases the store and cache connections.
func (r *Runtime) Close() error {
	return r.Collaborators.Close()
}

// Open connects the configured store and cache, retrying while they come
// up, and builds the core over them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	retryCfg := retry.DefaultConfig()
	if cfg.StartupRetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.StartupRetryAttempts
	}

	checks := make(map[string]handler.Pinger, 2)
	var closers []io.Closer

	store, err := openStore(ctx, cfg, retryCfg, logger, checks, &closers)
	if err != nil {
		return nil, err
	}

	c, err := openCache(ctx, cfg, retryCfg, logger, checks, &closers)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	collab := service.NewCollaborators(store, c, closers...)
	core, err := service.NewCore(collab, CoreOptions(cfg), logger)
	if err != nil {
		_ = collab.Close()
		return nil, fmt.Errorf("build core: %w", err)
	}

	return &Runtime{Core: core, Collaborators: collab, Checks: checks}, nil
}

func openStore(ctx context.Context, cfg *config.Config, retryCfg *retry.Config, logger *slog.Logger, checks map[string]handler.Pinger, closers *[]io.Closer) (domain.CredentialStore, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory credential store; data is lost on exit")
		checks["store"] = handler.PingFunc(inProcess)
		return SeedMemoryStore(repository.NewMemoryStore(), cfg), nil
	}

	pool, err := database.NewConnectionPool(ctx, &database.Config{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		Retry:           retryCfg,
	}, logger)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, pool)
	checks["postgres"] = pool
	return repository.NewPostgresStore(pool.GetDB(), logger), nil
}

func openCache(ctx context.Context, cfg *config.Config, retryCfg *retry.Config, logger *slog.Logger, checks map[string]handler.Pinger, closers *[]io.Closer) (domain.Cache, error) {
	if cfg.CacheDriver == config.DriverMemory {
		logger.Warn("using in-memory cache; locks and revocations are process-local")
		checks["cache"] = handler.PingFunc(inProcess)
		return cache.New(), nil
	}

	client, err := retry.Do(ctx, retryCfg, logger, "redis connect", func(ctx context.Context) (*redis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, redis.Options{}, logger)
	})
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, client)
	checks["redis"] = client
	return client, nil
}

// inProcess reports in-memory collaborators as always reachable.
func inProcess(context.Context) error { return nil }

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}

// CoreOptions maps configuration onto service options.
func CoreOptions(cfg *config.Config) service.Options {
	return service.Options{
		TokenSecret: cfg.JWTSecret,
		TokenIssuer: cfg.JWTIssuer,
		TokenTTL:    cfg.TokenTTL,
		SnapshotTTL: cfg.SnapshotTTL,
		BcryptCost:  cfg.BcryptCost,
		Lockout: service.LockoutPolicy{
			Threshold: cfg.LockoutThreshold,
			Window:    cfg.LockoutWindow,
		},
		Policy: security.Policy{
			AdminRole:    cfg.AdminRole,
			ManagerRoles: cfg.ManagerRoles,
		},
		DefaultRole: cfg.DefaultRole,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.CacheBreakerFailures,
			OpenTimeout:      cfg.CacheBreakerOpenTimeout,
		},
	}
}

// SeedMemoryStore installs the admin, manager and default roles with the
// stock user permissions so a memory-backed process is usable.
func SeedMemoryStore(store *repository.MemoryStore, cfg *config.Config) *repository.MemoryStore {
	ctx := context.Background()
	for _, code := range []string{PermUserRead, PermUserUpdate, PermUserDelete} {
		store.AddPermission(code, domain.PermissionActive)
	}

	store.AddRole(cfg.AdminRole, "Administrator", "")
	_ = store.SetRolePermissions(ctx, cfg.AdminRole, []string{PermUserRead, PermUserUpdate, PermUserDelete})

	for _, code := range cfg.ManagerRoles {
		store.AddRole(code, "Manager", "")
		_ = store.SetRolePermissions(ctx, code, []string{PermUserRead, PermUserUpdate})
	}

	if cfg.DefaultRole != "" {
		store.AddRole(cfg.DefaultRole, "Member", "")
		_ = store.SetRolePermissions(ctx, cfg.DefaultRole, []string{PermUserRead})
	}
	return store
}

// Seed returns the bootstrap administrator configured in cfg.
func Seed(cfg *config.Config) service.AdminSeed {
	return service.AdminSeed{
		Username: cfg.BootstrapAdmin.Username,
		Email:    cfg.BootstrapAdmin.Email,
		Password: cfg.BootstrapAdmin.Password,
		TenantID: cfg.BootstrapAdmin.TenantID,
	}
}
