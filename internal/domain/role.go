package domain

// PermissionStatus is the validity status of a permission.
type PermissionStatus string

const (
	PermissionActive   PermissionStatus = "active"
	PermissionDisabled PermissionStatus = "disabled"
)

// Role groups permissions. TenantID is empty for global roles.
type Role struct {
	ID       string
	Code     string
	Name     string
	TenantID string
	Deleted  bool
}

// Permission is a node of the permission tree.
type Permission struct {
	ID       string
	Code     string
	ParentID string
	Status   PermissionStatus
	Deleted  bool
}

// UserRole links a user to a role.
type UserRole struct {
	UserID string
	RoleID string
}

// RolePermission links a role to a permission. DataScopeIDs are carried
// through untouched; row-level scoping is applied by the data owners.
type RolePermission struct {
	RoleID       string
	PermissionID string
	DataScopeIDs []string
}

// PermissionGrant is one permission reached through a role.
type PermissionGrant struct {
	Code         string
	Status       PermissionStatus
	Deleted      bool
	DataScopeIDs []string
}

// Valid reports whether the grant contributes to the effective set.
func (g PermissionGrant) Valid() bool {
	return g.Status == PermissionActive && !g.Deleted
}

// RoleGrant is a non-deleted role of a user with every permission attached
// to it, valid or not.
type RoleGrant struct {
	RoleCode    string
	Permissions []PermissionGrant
}
