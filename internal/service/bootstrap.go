package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/cacheguard"
	"github.com/aryan0dhankhar/identitycore/internal/security"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
)

const (
	bootstrapLockName = "bootstrap-admin"
	bootstrapLockTTL  = 30 * time.Second
)

// AdminSeed describes the first administrator.
type AdminSeed struct {
	Username string
	Email    string
	Password string
	TenantID string
}

// Bootstrap seeds the first administrator. Workers race for a distributed
// lock so exactly one of them performs the seeding.
type Bootstrap struct {
	store     domain.CredentialStore
	hasher    *auth.PasswordHasher
	guard     *cacheguard.Guard
	snapshots *SnapshotService
	adminRole string
	logger    *slog.Logger
}

// NewBootstrap creates a Bootstrap for the policy's admin role.
func NewBootstrap(store domain.CredentialStore, hasher *auth.PasswordHasher, guard *cacheguard.Guard, snapshots *SnapshotService, policy security.Policy, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{
		store:     store,
		hasher:    hasher,
		guard:     guard,
		snapshots: snapshots,
		adminRole: policy.AdminRole,
		logger:    logger,
	}
}

// EnsureAdmin creates the seed account and grants it the admin role unless
// some user already holds that role. It reports whether this call changed
// anything. When the lock is held elsewhere, or the cache cannot be
// reached, it does nothing.
func (b *Bootstrap) EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	if seed.Username == "" || seed.Password == "" {
		return false, nil
	}

	var changed bool
	acquired, err := b.guard.WithLock(ctx, bootstrapLockName, bootstrapLockTTL, func(ctx context.Context) error {
		var err error
		changed, err = b.ensureAdmin(ctx, seed)
		return err
	})
	if err != nil {
		return false, err
	}
	if !acquired {
		b.logger.Info("admin bootstrap skipped: lock not acquired")
	}
	return changed, nil
}

func (b *Bootstrap) ensureAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	holders, err := b.store.ListUserIDsByRole(ctx, b.adminRole)
	if err != nil {
		return false, fmt.Errorf("list administrators: %w", err)
	}
	if len(holders) > 0 {
		return false, nil
	}

	user, err := b.store.FindUserByIdentifier(ctx, seed.Username)
	if err != nil {
		return false, fmt.Errorf("find seed user: %w", err)
	}

	roles := []string{b.adminRole}
	if user == nil {
		hash, err := b.hasher.Hash(seed.Password)
		if err != nil {
			return false, fmt.Errorf("hash seed password: %w", err)
		}
		user = &domain.User{
			Username:     seed.Username,
			Email:        seed.Email,
			PasswordHash: hash,
			TenantID:     seed.TenantID,
			State:        domain.Active(),
		}
		if err := b.store.CreateUser(ctx, user); err != nil {
			return false, fmt.Errorf("create seed user: %w", err)
		}
	} else {
		grants, err := b.store.ResolveRolesAndPermissions(ctx, user.ID)
		if err != nil {
			return false, fmt.Errorf("read seed user roles: %w", err)
		}
		roles = append(security.Aggregate(grants).Roles, b.adminRole)
	}

	if err := b.store.AssignRoles(ctx, user.ID, roles); err != nil {
		return false, fmt.Errorf("grant %s role: %w", b.adminRole, err)
	}
	b.snapshots.Invalidate(ctx, user.ID)
	b.logger.Info("administrator bootstrapped",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return true, nil
}
