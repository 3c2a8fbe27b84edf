package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	p := LockoutPolicy{Threshold: 3, Window: 10 * time.Minute}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	u := &domain.User{State: domain.Active()}

	assert.False(t, p.RecordFailure(u, now))
	assert.False(t, p.RecordFailure(u, now))
	assert.True(t, p.RecordFailure(u, now))
	assert.Equal(t, 3, u.FailedAttempts)

	until, ok := u.State.LockExpiry()
	assert.True(t, ok)
	assert.Equal(t, now.Add(10*time.Minute), until)

	// further failures inside the window change nothing
	assert.False(t, p.RecordFailure(u, now.Add(time.Minute)))
	assert.Equal(t, 3, u.FailedAttempts)
}

func TestRecordFailureAfterElapsedLockStartsOver(t *testing.T) {
	p := DefaultLockoutPolicy()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	u := &domain.User{State: domain.LockedUntil(now.Add(-time.Second)), FailedAttempts: 5}

	assert.False(t, p.RecordFailure(u, now))
	assert.Equal(t, 1, u.FailedAttempts)
	assert.Equal(t, domain.StateActive, u.State.Kind())
}

func TestRecordFailureIgnoresInactiveAccounts(t *testing.T) {
	p := DefaultLockoutPolicy()
	now := time.Now()
	for _, state := range []domain.Lifecycle{domain.Disabled(), domain.DeletedAt(now)} {
		u := &domain.User{State: state, FailedAttempts: 4}
		assert.False(t, p.RecordFailure(u, now))
		assert.Equal(t, 4, u.FailedAttempts)
		assert.Equal(t, state, u.State)
	}
}

func TestRecordSuccessClearsLock(t *testing.T) {
	p := DefaultLockoutPolicy()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	u := &domain.User{State: domain.LockedUntil(now.Add(-time.Minute)), FailedAttempts: 5}

	p.RecordSuccess(u, now)
	assert.Equal(t, 0, u.FailedAttempts)
	assert.Equal(t, domain.StateActive, u.State.Kind())
	if assert.NotNil(t, u.LastLoginAt) {
		assert.Equal(t, now, *u.LastLoginAt)
	}
}

func TestLockoutPolicyDefaults(t *testing.T) {
	p := LockoutPolicy{}.normalized()
	assert.Equal(t, DefaultLockoutPolicy(), p)

	p = LockoutPolicy{Threshold: 2}.normalized()
	assert.Equal(t, 2, p.Threshold)
	assert.Equal(t, 15*time.Minute, p.Window)
}
