package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/repository"
	"github.com/aryan0dhankhar/identitycore/pkg/cache"
)

const testPassword = "Correct1!"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type harness struct {
	clk   *clock
	store *repository.MemoryStore
	cache *cache.Cache
	core  *Core
}

// newHarness builds a core over the in-memory store and cache, seeded with
// the admin, manager, support and member roles.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithCache(t, nil)
}

func newHarnessWithCache(t *testing.T, c domain.Cache) *harness {
	t.Helper()
	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	store := repository.NewMemoryStore().WithClock(clk.Now)
	store.AddRole("admin", "Administrator", "")
	store.AddRole("manager", "Manager", "")
	store.AddRole("support", "Support", "")
	store.AddRole("member", "Member", "")
	for _, code := range []string{"user:read", "user:update", "user:delete"} {
		store.AddPermission(code, domain.PermissionActive)
	}
	require.NoError(t, store.SetRolePermissions(ctx, "manager", []string{"user:read", "user:update"}))
	require.NoError(t, store.SetRolePermissions(ctx, "support", []string{"user:read"}))

	mem := cache.New(cache.WithClock(clk.Now))
	if c == nil {
		c = mem
	}

	core, err := NewCore(NewCollaborators(store, c), Options{
		TokenSecret: "service-test-secret-0123456789",
		TokenTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
		DefaultRole: "member",
		Now:         clk.Now,
	}, quietLogger())
	require.NoError(t, err)

	return &harness{clk: clk, store: store, cache: mem, core: core}
}

// createUser registers username in tenantID with testPassword and, when
// roles are given, replaces the default role with them.
func (h *harness) createUser(t *testing.T, username, tenantID string, roles ...string) *domain.PublicUser {
	t.Helper()
	ctx := context.Background()
	pub, err := h.core.Auth.Register(ctx, RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
		TenantID: tenantID,
	})
	require.NoError(t, err)
	if len(roles) > 0 {
		require.NoError(t, h.store.AssignRoles(ctx, pub.ID, roles))
		h.core.Snapshots.Invalidate(ctx, pub.ID)
	}
	return pub
}

// identity returns the caller identity of userID as the gate would see it.
func (h *harness) identity(t *testing.T, userID string) *domain.Identity {
	t.Helper()
	snap, err := h.core.Snapshots.Load(context.Background(), userID)
	require.NoError(t, err)
	id := identityFromSnapshot(snap)
	return &id
}

func (h *harness) login(t *testing.T, identifier string) *LoginResult {
	t.Helper()
	res, err := h.core.Auth.Login(context.Background(), identifier, testPassword)
	require.NoError(t, err)
	return res
}

func (h *harness) storedUser(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := h.store.FindUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// brokenCache fails every call the way an unreachable Redis would.
type brokenCache struct{}

var errCacheDown = domain.CacheUnavailable(errors.New("dial tcp: connection refused"))

func (brokenCache) Get(context.Context, string) (string, bool, error) { return "", false, errCacheDown }
func (brokenCache) Set(context.Context, string, string, time.Duration) error {
	return errCacheDown
}
func (brokenCache) Del(context.Context, ...string) error { return errCacheDown }
func (brokenCache) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	return false, errCacheDown
}
func (brokenCache) ReleaseLock(context.Context, string) error { return errCacheDown }
