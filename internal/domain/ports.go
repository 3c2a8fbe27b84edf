package domain

import (
	"context"
	"time"
)

// UserStore is the user half of the credential store.
type UserStore interface {
	// FindUserByIdentifier matches username, email or phone among
	// non-deleted users. It returns (nil, nil) when nothing matches.
	FindUserByIdentifier(ctx context.Context, identifier string) (*User, error)

	// FindUserByID returns ErrResourceNotFound for unknown or deleted users.
	FindUserByID(ctx context.Context, id string) (*User, error)

	// CreateUser inserts u, assigning ID and timestamps.
	CreateUser(ctx context.Context, u *User) error

	// UpdateUser loads the user under a row lock, applies mutate and writes
	// the result in the same transaction. An error from mutate rolls back
	// and is returned unchanged.
	UpdateUser(ctx context.Context, id string, mutate func(u *User) error) (*User, error)
}

// RoleStore is the role/permission half of the credential store.
type RoleStore interface {
	// ResolveRolesAndPermissions returns the user's non-deleted roles with
	// their attached permissions.
	ResolveRolesAndPermissions(ctx context.Context, userID string) ([]RoleGrant, error)

	// AssignRoles replaces the user's role memberships.
	AssignRoles(ctx context.Context, userID string, roleCodes []string) error

	// SetRolePermissions replaces a role's permission set.
	SetRolePermissions(ctx context.Context, roleCode string, permissionCodes []string) error

	// ListUserIDsByRole returns every non-deleted user holding roleCode.
	ListUserIDsByRole(ctx context.Context, roleCode string) ([]string, error)
}

// CredentialStore is the system of record. Every method may fail with
// ErrStoreUnavailable.
type CredentialStore interface {
	UserStore
	RoleStore
}

// Cache is the shared key-value layer. Every method may fail with
// ErrCacheUnavailable. Get reports a miss with ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}
