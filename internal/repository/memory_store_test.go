package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

func seedUser(t *testing.T, s *MemoryStore, username string) *domain.User {
	t.Helper()
	u := &domain.User{Username: username, Email: username + "@example.com", TenantID: "t1", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestMemoryStoreIdentifierLookup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := &domain.User{Username: "alice", Email: "alice@example.com", Phone: "+15550100", TenantID: "t1"}
	require.NoError(t, s.CreateUser(ctx, u))

	for _, ident := range []string{"alice", "alice@example.com", "+15550100"} {
		got, err := s.FindUserByIdentifier(ctx, ident)
		require.NoError(t, err)
		require.NotNil(t, got, ident)
		assert.Equal(t, u.ID, got.ID)
	}

	got, err := s.FindUserByIdentifier(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreUniquenessIgnoresDeletedUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := seedUser(t, s, "alice")

	err := s.CreateUser(ctx, &domain.User{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.UpdateUser(ctx, first.ID, func(u *domain.User) error {
		u.State = domain.DeletedAt(time.Now())
		return nil
	})
	require.NoError(t, err)

	_, err = s.FindUserByID(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	assert.NoError(t, s.CreateUser(ctx, &domain.User{Username: "alice", Email: "alice@example.com"}))
}

func TestMemoryStoreIdentifiersShareOneNamespace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	_, err := s.UpdateUser(ctx, bob.ID, func(u *domain.User) error {
		u.Phone = "alice"
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = s.CreateUser(ctx, &domain.User{Username: "bob@example.com", Email: "carol@example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := s.FindUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Phone, "rejected update is not applied")

	found, err := s.FindUserByIdentifier(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)
}

func TestMemoryStoreUpdateIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := seedUser(t, s, "alice")

	boom := errors.New("boom")
	_, err := s.UpdateUser(ctx, u.ID, func(u *domain.User) error {
		u.FailedAttempts = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedAttempts, "failed mutate must not leak")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateUser(ctx, u.ID, func(u *domain.User) error {
				u.FailedAttempts++
				return nil
			})
		}()
	}
	wg.Wait()
	got, err = s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.FailedAttempts, "concurrent increments must not be lost")
}

func TestMemoryStoreRoles(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := seedUser(t, s, "alice")
	s.AddRole("R1", "Role one", "")
	s.AddRole("R2", "Role two", "")
	for _, p := range []string{"A", "B", "C"} {
		s.AddPermission(p, domain.PermissionActive)
	}
	require.NoError(t, s.SetRolePermissionsWithScopes("R1", []string{"A", "B"}, []string{"scope-1"}))
	require.NoError(t, s.SetRolePermissions(ctx, "R2", []string{"B", "C"}))
	require.NoError(t, s.AssignRoles(ctx, u.ID, []string{"R1", "R2"}))

	grants, err := s.ResolveRolesAndPermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, []string{"scope-1"}, grants[0].Permissions[0].DataScopeIDs)

	holders, err := s.ListUserIDsByRole(ctx, "R2")
	require.NoError(t, err)
	assert.Equal(t, []string{u.ID}, holders)

	s.DeleteRole("R2")
	grants, err = s.ResolveRolesAndPermissions(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	assert.ErrorIs(t, s.AssignRoles(ctx, u.ID, []string{"ghost"}), domain.ErrResourceNotFound)
	assert.ErrorIs(t, s.SetRolePermissions(ctx, "R1", []string{"ghost"}), domain.ErrResourceNotFound)
	assert.ErrorIs(t, s.AssignRoles(ctx, "no-such-user", []string{"R1"}), domain.ErrResourceNotFound)
}

func TestMemoryStoreUnavailable(t *testing.T) {
	s := NewMemoryStore()
	s.SetUnavailable(true)
	_, err := s.FindUserByIdentifier(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = s.ResolveRolesAndPermissions(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
