package repository

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

var errInjectedOutage = errors.New("memory store marked unavailable")

type rolePermission struct {
	permissionCode string
	dataScopeIDs   []string
}

// MemoryStore is an in-process domain.CredentialStore for tests, the CLI
// and single-node development. One mutex serializes every call, which gives
// UpdateUser the same read-modify-write isolation as a row lock.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	roles       map[string]*domain.Role
	permissions map[string]*domain.Permission
	userRoles   map[string][]string
	rolePerms   map[string][]rolePermission
	unavailable bool
	now         func() time.Time
}

var _ domain.CredentialStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*domain.User),
		roles:       make(map[string]*domain.Role),
		permissions: make(map[string]*domain.Permission),
		userRoles:   make(map[string][]string),
		rolePerms:   make(map[string][]rolePermission),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// SetUnavailable makes every subsequent call fail with StoreUnavailable.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// AddRole registers a role. An empty tenantID makes it global.
func (s *MemoryStore) AddRole(code, name, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[code] = &domain.Role{ID: uuid.NewString(), Code: code, Name: name, TenantID: tenantID}
}

// DeleteRole soft-deletes a role.
func (s *MemoryStore) DeleteRole(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[code]; ok {
		r.Deleted = true
	}
}

// AddPermission registers a permission with the given status.
func (s *MemoryStore) AddPermission(code string, status domain.PermissionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[code] = &domain.Permission{ID: uuid.NewString(), Code: code, Status: status}
}

// SetPermissionStatus changes a permission's status.
func (s *MemoryStore) SetPermissionStatus(code string, status domain.PermissionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.permissions[code]; ok {
		p.Status = status
	}
}

// DeletePermission soft-deletes a permission.
func (s *MemoryStore) DeletePermission(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.permissions[code]; ok {
		p.Deleted = true
	}
}

func (s *MemoryStore) check() error {
	if s.unavailable {
		return domain.StoreUnavailable(errInjectedOutage)
	}
	return nil
}

// FindUserByIdentifier matches username, email or phone among non-deleted
// users, oldest first.
func (s *MemoryStore) FindUserByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var match *domain.User
	for _, u := range s.users {
		if u.State.IsDeleted() || identifier == "" {
			continue
		}
		if u.Username != identifier && u.Email != identifier && u.Phone != identifier {
			continue
		}
		if match == nil || u.CreatedAt.Before(match.CreatedAt) {
			match = u
		}
	}
	if match == nil {
		return nil, nil
	}
	return match.Clone(), nil
}

// FindUserByID returns a non-deleted user.
func (s *MemoryStore) FindUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok || u.State.IsDeleted() {
		return nil, domain.NotFound("user")
	}
	return u.Clone(), nil
}

// CreateUser inserts u, assigning an ID when empty.
func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := s.users[u.ID]; exists {
		return domain.Validation("user id already exists")
	}
	if err := s.unique(u); err != nil {
		return err
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u.Clone()
	return nil
}

// UpdateUser applies mutate to a copy and stores it only if mutate succeeds.
func (s *MemoryStore) UpdateUser(_ context.Context, id string, mutate func(u *domain.User) error) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	current, ok := s.users[id]
	if !ok || current.State.IsDeleted() {
		return nil, domain.NotFound("user")
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = id
	if err := s.unique(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.users[id] = next
	return next.Clone(), nil
}

// unique enforces identifier uniqueness among non-deleted users other
// than u itself. Username, email and phone share one namespace because
// login matches any of them. Callers hold s.mu.
func (s *MemoryStore) unique(u *domain.User) error {
	if u.State.IsDeleted() {
		return nil
	}
	mine := u.Identifiers()
	for id, other := range s.users {
		if id == u.ID || other.State.IsDeleted() {
			continue
		}
		for _, theirs := range other.Identifiers() {
			if slices.Contains(mine, theirs) {
				return domain.Validation("username, email or phone already in use")
			}
		}
	}
	return nil
}

// ResolveRolesAndPermissions returns the user's non-deleted roles with all
// attached permissions.
func (s *MemoryStore) ResolveRolesAndPermissions(_ context.Context, userID string) ([]domain.RoleGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var grants []domain.RoleGrant
	for _, code := range s.userRoles[userID] {
		role, ok := s.roles[code]
		if !ok || role.Deleted {
			continue
		}
		grant := domain.RoleGrant{RoleCode: code}
		for _, rp := range s.rolePerms[code] {
			p, ok := s.permissions[rp.permissionCode]
			if !ok {
				continue
			}
			grant.Permissions = append(grant.Permissions, domain.PermissionGrant{
				Code:         p.Code,
				Status:       p.Status,
				Deleted:      p.Deleted,
				DataScopeIDs: append([]string(nil), rp.dataScopeIDs...),
			})
		}
		grants = append(grants, grant)
	}
	return grants, nil
}

// AssignRoles replaces the user's role memberships.
func (s *MemoryStore) AssignRoles(_ context.Context, userID string, roleCodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if u, ok := s.users[userID]; !ok || u.State.IsDeleted() {
		return domain.NotFound("user")
	}
	codes := distinct(roleCodes)
	for _, code := range codes {
		if r, ok := s.roles[code]; !ok || r.Deleted {
			return domain.NotFound("role")
		}
	}
	s.userRoles[userID] = codes
	return nil
}

// SetRolePermissions replaces a role's permission set.
func (s *MemoryStore) SetRolePermissions(_ context.Context, roleCode string, permissionCodes []string) error {
	return s.SetRolePermissionsWithScopes(roleCode, permissionCodes, nil)
}

// SetRolePermissionsWithScopes is SetRolePermissions with data scope ids
// attached to every link.
func (s *MemoryStore) SetRolePermissionsWithScopes(roleCode string, permissionCodes, dataScopeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if r, ok := s.roles[roleCode]; !ok || r.Deleted {
		return domain.NotFound("role")
	}
	codes := distinct(permissionCodes)
	links := make([]rolePermission, 0, len(codes))
	for _, code := range codes {
		if p, ok := s.permissions[code]; !ok || p.Deleted {
			return domain.NotFound("permission")
		}
		links = append(links, rolePermission{permissionCode: code, dataScopeIDs: dataScopeIDs})
	}
	s.rolePerms[roleCode] = links
	return nil
}

// ListUserIDsByRole returns every non-deleted holder of roleCode.
func (s *MemoryStore) ListUserIDsByRole(_ context.Context, roleCode string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	ids := []string{}
	for userID, codes := range s.userRoles {
		if u, ok := s.users[userID]; !ok || u.State.IsDeleted() {
			continue
		}
		for _, c := range codes {
			if c == roleCode {
				ids = append(ids, userID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
