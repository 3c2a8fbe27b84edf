package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/security"
	"github.com/aryan0dhankhar/identitycore/internal/security/audit"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
)

// ProfileUpdate carries the fields to change; nil means unchanged.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

// UserService owns every write path on users and roles. Each write deletes
// the affected snapshots before returning.
type UserService struct {
	store     domain.CredentialStore
	resolver  *security.Resolver
	snapshots *SnapshotService
	hasher    *auth.PasswordHasher
	lockout   LockoutPolicy
	audit     *audit.Logger
	now       func() time.Time
	logger    *slog.Logger
}

// NewUserService creates a user service.
func NewUserService(
	store domain.CredentialStore,
	resolver *security.Resolver,
	snapshots *SnapshotService,
	hasher *auth.PasswordHasher,
	lockout LockoutPolicy,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		store:     store,
		resolver:  resolver,
		snapshots: snapshots,
		hasher:    hasher,
		lockout:   lockout.normalized(),
		audit:     auditLog,
		now:       time.Now,
		logger:    logger,
	}
}

// authorizeRead lets callers read themselves, and managers read users of
// their tenant.
func (s *UserService) authorizeRead(ctx context.Context, actor *domain.Identity, targetID string) (*domain.User, error) {
	if actor == nil {
		return nil, domain.Insufficient("authentication required")
	}
	if actor.UserID != targetID && !s.resolver.IsManager(actor) {
		return nil, domain.Insufficient("requires a manager or administrator")
	}
	target, err := s.store.FindUserByID(ctx, targetID)
	if err != nil {
		return nil, domain.AsSystemError(err)
	}
	if err := s.resolver.CheckTenantAccess(actor, target.TenantID); err != nil {
		return nil, err
	}
	return target, nil
}

// authorizeMutation applies the escalation guards and the tenant check
// before any change to another user.
func (s *UserService) authorizeMutation(ctx context.Context, actor *domain.Identity, targetID string, selfAllowed bool) (*domain.User, error) {
	if actor == nil {
		return nil, domain.Insufficient("authentication required")
	}
	if selfAllowed && actor.UserID == targetID {
		target, err := s.store.FindUserByID(ctx, targetID)
		if err != nil {
			return nil, domain.AsSystemError(err)
		}
		return target, nil
	}
	if !s.resolver.IsManager(actor) {
		return nil, domain.Insufficient("requires a manager or administrator")
	}

	target, err := s.store.FindUserByID(ctx, targetID)
	if err != nil {
		return nil, domain.AsSystemError(err)
	}
	grants, err := s.store.ResolveRolesAndPermissions(ctx, targetID)
	if err != nil {
		return nil, domain.AsSystemError(err)
	}
	if err := s.resolver.GuardUserMutation(actor, target.TenantID, security.Aggregate(grants).Roles); err != nil {
		return nil, err
	}
	if err := s.resolver.CheckTenantAccess(actor, target.TenantID); err != nil {
		return nil, err
	}
	return target, nil
}

// GetUser returns the sanitized user.
func (s *UserService) GetUser(ctx context.Context, actor *domain.Identity, userID string) (*domain.PublicUser, error) {
	target, err := s.authorizeRead(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	pub := target.Sanitize(s.now())
	return &pub, nil
}

// Permissions returns the effective permission codes of userID.
func (s *UserService) Permissions(ctx context.Context, actor *domain.Identity, userID string) ([]string, error) {
	if _, err := s.authorizeRead(ctx, actor, userID); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Load(ctx, userID)
	if err != nil {
		return nil, domain.AsSystemError(err)
	}
	return snap.Permissions, nil
}

// UpdateProfile changes username, email or phone.
func (s *UserService) UpdateProfile(ctx context.Context, actor *domain.Identity, userID string, upd ProfileUpdate) (*domain.PublicUser, error) {
	if _, err := s.authorizeMutation(ctx, actor, userID, true); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateUser(ctx, userID, func(u *domain.User) error {
		username, email := u.Username, u.Email
		if upd.Username != nil {
			username = strings.TrimSpace(*upd.Username)
		}
		if upd.Email != nil {
			email = strings.TrimSpace(strings.ToLower(*upd.Email))
		}
		if err := validateIdentifiers(username, email); err != nil {
			return err
		}
		u.Username, u.Email = username, email
		if upd.Phone != nil {
			u.Phone = strings.TrimSpace(*upd.Phone)
		}
		return nil
	})
	if err != nil {
		return nil, domain.AsSystemError(err)
	}
	s.snapshots.Invalidate(ctx, userID)
	s.audit.LogUserChange(ctx, updated.TenantID, actor.UserID, "profile_update", userID)

	pub := updated.Sanitize(s.now())
	return &pub, nil
}

// AssignRoles replaces the target's roles.
func (s *UserService) AssignRoles(ctx context.Context, actor *domain.Identity, userID string, roleCodes []string) error {
	if err := s.resolver.GuardRoleAssignment(actor, roleCodes); err != nil {
		return err
	}
	target, err := s.authorizeMutation(ctx, actor, userID, false)
	if err != nil {
		return err
	}
	if err := s.store.AssignRoles(ctx, userID, roleCodes); err != nil {
		return domain.AsSystemError(err)
	}
	s.snapshots.Invalidate(ctx, userID)
	s.audit.LogUserChange(ctx, target.TenantID, actor.UserID, "roles_assign", userID)
	return nil
}

// SetRolePermissions replaces a role's permission set and invalidates
// every holder of the role. Administrators only.
func (s *UserService) SetRolePermissions(ctx context.Context, actor *domain.Identity, roleCode string, permissionCodes []string) error {
	if !s.resolver.IsAdmin(actor) {
		return domain.Insufficient("only administrators can change role permissions")
	}
	if err := s.store.SetRolePermissions(ctx, roleCode, permissionCodes); err != nil {
		return domain.AsSystemError(err)
	}
	holders, err := s.store.ListUserIDsByRole(ctx, roleCode)
	if err != nil {
		s.logger.Error("role permissions changed but holders could not be listed",
			slog.String("role", roleCode),
			slog.String("error", err.Error()),
		)
		return domain.AsSystemError(err)
	}
	s.snapshots.Invalidate(ctx, holders...)
	s.audit.LogUserChange(ctx, actor.TenantID, actor.UserID, "role_permissions_set", roleCode)
	return nil
}

// DeleteUser soft-deletes the target.
func (s *UserService) DeleteUser(ctx context.Context, actor *domain.Identity, userID string) error {
	return s.transition(ctx, actor, userID, "user_delete", true, func(u *domain.User, now time.Time) error {
		u.State = domain.DeletedAt(now)
		return nil
	})
}

// LockUser locks the target for d, or for the lockout window when d is not
// positive.
func (s *UserService) LockUser(ctx context.Context, actor *domain.Identity, userID string, d time.Duration) error {
	if d <= 0 {
		d = s.lockout.Window
	}
	return s.transition(ctx, actor, userID, "user_lock", true, func(u *domain.User, now time.Time) error {
		if u.State.IsDisabled() {
			return domain.Validation("account is disabled")
		}
		u.State = domain.LockedUntil(now.Add(d))
		return nil
	})
}

// UnlockUser clears any lock and the failure counter.
func (s *UserService) UnlockUser(ctx context.Context, actor *domain.Identity, userID string) error {
	return s.transition(ctx, actor, userID, "user_unlock", true, func(u *domain.User, _ time.Time) error {
		if _, locked := u.State.LockExpiry(); locked {
			u.State = domain.Active()
		}
		u.FailedAttempts = 0
		return nil
	})
}

// DisableUser deactivates the account; its tokens stop working at the
// next request.
func (s *UserService) DisableUser(ctx context.Context, actor *domain.Identity, userID string) error {
	return s.transition(ctx, actor, userID, "user_disable", true, func(u *domain.User, _ time.Time) error {
		u.State = domain.Disabled()
		return nil
	})
}

// EnableUser reactivates a disabled account.
func (s *UserService) EnableUser(ctx context.Context, actor *domain.Identity, userID string) error {
	return s.transition(ctx, actor, userID, "user_enable", true, func(u *domain.User, _ time.Time) error {
		if u.State.IsDisabled() {
			u.State = domain.Active()
			u.FailedAttempts = 0
		}
		return nil
	})
}

// ResetPassword sets a new password on behalf of the target.
func (s *UserService) ResetPassword(ctx context.Context, actor *domain.Identity, userID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.transition(ctx, actor, userID, "password_reset", false, func(u *domain.User, _ time.Time) error {
		u.PasswordHash = hash
		return nil
	})
}

// transition runs an administrative state change. Lifecycle changes on the
// caller's own account are refused.
func (s *UserService) transition(ctx context.Context, actor *domain.Identity, userID, action string, forbidSelf bool, mutate func(u *domain.User, now time.Time) error) error {
	if forbidSelf && actor != nil && actor.UserID == userID {
		return domain.Insufficient("cannot " + strings.TrimPrefix(action, "user_") + " your own account")
	}
	target, err := s.authorizeMutation(ctx, actor, userID, false)
	if err != nil {
		return err
	}
	now := s.now()
	if _, err := s.store.UpdateUser(ctx, userID, func(u *domain.User) error { return mutate(u, now) }); err != nil {
		return domain.AsSystemError(err)
	}
	s.snapshots.Invalidate(ctx, userID)
	s.audit.LogUserChange(ctx, target.TenantID, actor.UserID, action, userID)
	s.logger.Info("user updated",
		slog.String("action", action),
		slog.String("actor_id", actor.UserID),
		slog.String("user_id", userID),
	)
	return nil
}
