package domain

import "time"

// StateKind tags a user's lifecycle state.
type StateKind uint8

const (
	StateActive StateKind = iota
	StateLocked
	StateDisabled
	StateDeleted
)

func (k StateKind) String() string {
	switch k {
	case StateActive:
		return "active"
	case StateLocked:
		return "locked"
	case StateDisabled:
		return "disabled"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Lifecycle is the single source of truth for a user's status, lock expiry
// and soft-delete marker. The zero value is Active.
type Lifecycle struct {
	kind StateKind
	at   time.Time // lock expiry for Locked, deletion time for Deleted
}

func Active() Lifecycle { return Lifecycle{kind: StateActive} }
func Disabled() Lifecycle { return Lifecycle{kind: StateDisabled} }
func LockedUntil(t time.Time) Lifecycle { return Lifecycle{kind: StateLocked, at: t} }
func DeletedAt(t time.Time) Lifecycle { return Lifecycle{kind: StateDeleted, at: t} }
func (l Lifecycle) Kind() StateKind { return l.kind }
func (l Lifecycle) IsDeleted() bool { return l.kind == StateDeleted }
func (l Lifecycle) IsDisabled() bool { return l.kind == StateDisabled }
func (l Lifecycle) IsLocked(now time.Time) bool {
	return l.kind == StateLocked && l.at.After(now)
}

// LockExpiry returns the lock expiry when the state is Locked, whether or
// not it has already elapsed.
func (l Lifecycle) LockExpiry() (time.Time, bool) {
	if l.kind != StateLocked {
		return time.Time{}, false
	}
	return l.at, true
}

// DeletedTime returns when the user was soft-deleted.
func (l Lifecycle) DeletedTime() (time.Time, bool) {
	if l.kind != StateDeleted {
		return time.Time{}, false
	}
	return l.at, true
}

// Effective collapses an elapsed lock back to Active.
func (l Lifecycle) Effective(now time.Time) Lifecycle {
	if l.kind == StateLocked && !l.at.After(now) {
		return Active()
	}
	return l
}

// LifecycleFromColumns rebuilds the tagged state from its persisted columns.
// Deletion wins over status, and a disabled account ignores any stale lock.
func LifecycleFromColumns(status string, lockUntil, deletedAt *time.Time) Lifecycle {
	switch {
	case deletedAt != nil:
		return DeletedAt(*deletedAt)
	case status == StatusDisabled:
		return Disabled()
	case lockUntil != nil:
		return LockedUntil(*lockUntil)
	default:
		return Active()
	}
}

// Columns is the inverse of LifecycleFromColumns.
func (l Lifecycle) Columns() (status string, lockUntil, deletedAt *time.Time) {
	status = StatusActive
	switch l.kind {
	case StateLocked:
		t := l.at
		lockUntil = &t
	case StateDisabled:
		status = StatusDisabled
	case StateDeleted:
		t := l.at
		deletedAt = &t
	}
	return status, lockUntil, deletedAt
}

// Persisted values of the users.status column.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User is the credential-bearing account record.
type User struct {
	ID             string
	Username       string
	Email          string
	Phone          string
	PasswordHash   string
	TenantID       string
	State          Lifecycle
	FailedAttempts int
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PublicUser is a User stripped of credential and counter fields.
type PublicUser struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	TenantID    string     `json:"tenantId"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Sanitize returns the representation safe to hand to callers.
func (u *User) Sanitize(now time.Time) PublicUser {
	return PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Phone:       u.Phone,
		TenantID:    u.TenantID,
		Status:      u.State.Effective(now).Kind().String(),
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// Clone returns a deep copy so store implementations can hand out records
// without sharing mutable state.
func (u *User) Clone() *User {
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// Identifiers returns the non-empty login identifiers of u. Username, email
// and phone share one namespace among live users.
func (u *User) Identifiers() []string {
	ids := make([]string, 0, 3)
	for _, v := range []string{u.Username, u.Email, u.Phone} {
		if v != "" {
			ids = append(ids, v)
		}
	}
	return ids
}
