package domain

import "time"

// Identity is the authenticated caller as seen by the core after the
// bearer token has been verified.
type Identity struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	TenantID    string    `json:"tenantId"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions,omitempty"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// HasAnyRole reports whether the identity holds at least one of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range i.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// HasPermission reports whether code is in the identity's effective set.
func (i *Identity) HasPermission(code string) bool {
	for _, p := range i.Permissions {
		if p == code {
			return true
		}
	}
	return false
}
