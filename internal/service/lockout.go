package service

import (
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

// LockoutPolicy is the brute-force guard applied to password logins.
type LockoutPolicy struct {
	// Threshold consecutive failures lock the account.
	Threshold int
	// Window is how long the lock lasts.
	Window time.Duration
}

// DefaultLockoutPolicy locks for 15 minutes after 5 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Window: 15 * time.Minute}
}

func (p LockoutPolicy) normalized() LockoutPolicy {
	def := DefaultLockoutPolicy()
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	return p
}

// RecordFailure applies one failed password attempt to u and reports
// whether this attempt moved the account into the locked state. Disabled
// and deleted accounts are left untouched; a lock that has already expired
// starts a fresh count.
func (p LockoutPolicy) RecordFailure(u *domain.User, now time.Time) bool {
	switch {
	case u.State.IsDeleted(), u.State.IsDisabled():
		return false
	case u.State.IsLocked(now):
		return false
	}
	if _, wasLocked := u.State.LockExpiry(); wasLocked {
		u.State = domain.Active()
		u.FailedAttempts = 0
	}

	u.FailedAttempts++
	if u.FailedAttempts >= p.Threshold {
		u.State = domain.LockedUntil(now.Add(p.Window))
		return true
	}
	return false
}

// RecordSuccess resets the failure counter, clears an elapsed lock and
// stamps the login time.
func (p LockoutPolicy) RecordSuccess(u *domain.User, now time.Time) {
	u.FailedAttempts = 0
	if _, locked := u.State.LockExpiry(); locked {
		u.State = domain.Active()
	}
	t := now
	u.LastLoginAt = &t
}
