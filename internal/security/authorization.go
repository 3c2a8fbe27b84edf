package security

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

// Policy names the roles with special standing in authorization checks.
type Policy struct {
	// AdminRole bypasses tenant checks and may grant any role.
	AdminRole string
	// ManagerRoles may act on other users within their own tenant.
	ManagerRoles []string
}

// DefaultPolicy returns the stock role names.
func DefaultPolicy() Policy {
	return Policy{AdminRole: "admin", ManagerRoles: []string{"manager"}}
}

// Authorization is a user's roles and effective permission codes.
type Authorization struct {
	Roles       []string
	Permissions []string
}

// Resolver aggregates permissions from roles and enforces tenant and
// escalation rules.
type Resolver struct {
	store  domain.RoleStore
	policy Policy
	logger *slog.Logger
}

// NewResolver creates a resolver reading role grants from store.
func NewResolver(store domain.RoleStore, policy Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.AdminRole == "" {
		policy.AdminRole = DefaultPolicy().AdminRole
	}
	return &Resolver{store: store, policy: policy, logger: logger}
}

// Policy returns the resolver's role policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the deduplicated union of valid permission codes over
// the user's roles, in first-seen order.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	authz, err := r.ResolveAuthorization(ctx, userID)
	if err != nil {
		return nil, err
	}
	return authz.Permissions, nil
}

// ResolveAuthorization returns role codes and effective permissions.
func (r *Resolver) ResolveAuthorization(ctx context.Context, userID string) (*Authorization, error) {
	grants, err := r.store.ResolveRolesAndPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles for %s: %w", userID, err)
	}
	return Aggregate(grants), nil
}

// Aggregate folds role grants into an Authorization. Disabled or deleted
// permissions are dropped; duplicates across roles collapse.
func Aggregate(grants []domain.RoleGrant) *Authorization {
	authz := &Authorization{Roles: []string{}, Permissions: []string{}}
	seenRole := make(map[string]struct{}, len(grants))
	seenPerm := make(map[string]struct{})
	for _, g := range grants {
		if _, ok := seenRole[g.RoleCode]; !ok {
			seenRole[g.RoleCode] = struct{}{}
			authz.Roles = append(authz.Roles, g.RoleCode)
		}
		for _, p := range g.Permissions {
			if !p.Valid() {
				continue
			}
			if _, ok := seenPerm[p.Code]; ok {
				continue
			}
			seenPerm[p.Code] = struct{}{}
			authz.Permissions = append(authz.Permissions, p.Code)
		}
	}
	return authz
}

// IsAdmin reports whether id holds the administrator role.
func (r *Resolver) IsAdmin(id *domain.Identity) bool {
	return id != nil && id.HasAnyRole(r.policy.AdminRole)
}

// IsManager reports whether id holds the administrator or a manager role.
func (r *Resolver) IsManager(id *domain.Identity) bool {
	return r.IsAdmin(id) || (id != nil && id.HasAnyRole(r.policy.ManagerRoles...))
}

// HasRole fails with InsufficientPermissions unless id holds at least one
// of required. An empty requirement always passes.
func (r *Resolver) HasRole(id *domain.Identity, required ...string) error {
	if len(required) == 0 {
		return nil
	}
	if id != nil && id.HasAnyRole(required...) {
		return nil
	}
	r.logger.Warn("role check failed",
		slog.String("user_id", userIDOf(id)),
		slog.Any("required", required),
	)
	return domain.Insufficient(fmt.Sprintf("requires one of roles %v", required))
}

// CheckTenantAccess denies any non-admin whose tenant differs from
// requestedTenantID. It never consults the store, so the outcome does not
// depend on whether the requested resource exists.
func (r *Resolver) CheckTenantAccess(id *domain.Identity, requestedTenantID string) error {
	if r.IsAdmin(id) {
		return nil
	}
	if id != nil && id.TenantID == requestedTenantID {
		return nil
	}
	r.logger.Warn("tenant access denied",
		slog.String("user_id", userIDOf(id)),
		slog.String("requested_tenant", requestedTenantID),
	)
	return domain.ErrTenantAccessDenied
}

// GuardRoleAssignment stops a non-admin from granting the admin role.
func (r *Resolver) GuardRoleAssignment(actor *domain.Identity, roleCodes []string) error {
	if r.IsAdmin(actor) {
		return nil
	}
	for _, code := range roleCodes {
		if code == r.policy.AdminRole {
			return domain.Insufficient("only administrators can assign the " + code + " role")
		}
	}
	return nil
}

// GuardUserMutation stops a non-admin from modifying a manager or admin
// that belongs to a different tenant.
func (r *Resolver) GuardUserMutation(actor *domain.Identity, targetTenantID string, targetRoles []string) error {
	if r.IsAdmin(actor) {
		return nil
	}
	target := &domain.Identity{TenantID: targetTenantID, Roles: targetRoles}
	if !r.IsManager(target) {
		return nil
	}
	if actor != nil && actor.TenantID == targetTenantID {
		return nil
	}
	return domain.Insufficient("cannot modify a privileged user in another tenant")
}

func userIDOf(id *domain.Identity) string {
	if id == nil {
		return ""
	}
	return id.UserID
}
