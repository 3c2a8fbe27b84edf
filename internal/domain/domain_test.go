package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("login: %w", NewError(CodeAccountLocked, "locked until later"))

	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, CodeAccountLocked, CodeOf(err))
	assert.Equal(t, CodeSystemError, CodeOf(errors.New("boom")))
}

func TestAsSystemError(t *testing.T) {
	assert.Nil(t, AsSystemError(nil))

	denied := Insufficient("cannot assign admin")
	assert.Same(t, denied, AsSystemError(denied))

	store := StoreUnavailable(errors.New("connection refused"))
	wrapped := AsSystemError(store)
	assert.Equal(t, CodeSystemError, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)

	raw := AsSystemError(errors.New("nil pointer"))
	assert.Equal(t, CodeSystemError, CodeOf(raw))
}

func TestLifecycleLockExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	locked := LockedUntil(now.Add(15 * time.Minute))

	assert.True(t, locked.IsLocked(now))
	assert.True(t, locked.IsLocked(now.Add(15*time.Minute-time.Nanosecond)))
	assert.False(t, locked.IsLocked(now.Add(15*time.Minute)))
	assert.Equal(t, StateActive, locked.Effective(now.Add(time.Hour)).Kind())
	assert.Equal(t, StateLocked, locked.Effective(now).Kind())
}

func TestLifecycleColumnsRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []Lifecycle{Active(), Disabled(), LockedUntil(now), DeletedAt(now)}
	for _, lc := range cases {
		status, lock, deleted := lc.Columns()
		assert.Equal(t, lc, LifecycleFromColumns(status, lock, deleted), lc.Kind().String())
	}

	// deletion dominates any other column
	got := LifecycleFromColumns(StatusDisabled, &now, &now)
	assert.True(t, got.IsDeleted())

	// a disabled account never reports a lock
	got = LifecycleFromColumns(StatusDisabled, &now, nil)
	assert.Equal(t, StateDisabled, got.Kind())
}

func TestIdentityRoleAndPermissionLookup(t *testing.T) {
	id := &Identity{Roles: []string{"support"}, Permissions: []string{"user:read"}}

	assert.True(t, id.HasAnyRole("admin", "support"))
	assert.False(t, id.HasAnyRole("admin"))
	assert.False(t, id.HasAnyRole())
	assert.True(t, id.HasPermission("user:read"))
	assert.False(t, id.HasPermission("user:update"))
}

func TestSanitizeHidesCredentials(t *testing.T) {
	now := time.Now()
	u := &User{ID: "u1", Username: "alice", PasswordHash: "secret", FailedAttempts: 3, State: LockedUntil(now.Add(-time.Minute))}
	pub := u.Sanitize(now)

	assert.Equal(t, "alice", pub.Username)
	assert.Equal(t, "active", pub.Status)
}

func TestUserIdentifiersSkipEmptyPhone(t *testing.T) {
	u := &User{Username: "alice", Email: "alice@example.com"}
	assert.Equal(t, []string{"alice", "alice@example.com"}, u.Identifiers())

	u.Phone = "+15550100"
	assert.Equal(t, []string{"alice", "alice@example.com", "+15550100"}, u.Identifiers())
}
