package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitycore/internal/observability/tracing"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/cacheguard"
	"github.com/aryan0dhankhar/identitycore/internal/security"
)

// DefaultSnapshotTTL bounds how long a snapshot may be served after a write
// whose invalidation failed.
const DefaultSnapshotTTL = 30 * time.Minute

// Snapshot is the cached profile and authorization of one user.
type Snapshot struct {
	UserID      string     `json:"userId"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone,omitempty"`
	TenantID    string     `json:"tenantId"`
	Status      string     `json:"status"`
	LockUntil   *time.Time `json:"lockUntil,omitempty"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions"`
	CachedAt    time.Time  `json:"cachedAt"`
}

// Usable reports whether the account may still act on issued tokens.
// A temporary lock only gates new logins.
func (s *Snapshot) Usable() bool {
	return s.Status != domain.StateDisabled.String() && s.Status != domain.StateDeleted.String()
}

// SnapshotService implements the read-through, invalidate-on-write
// protocol for user snapshots.
type SnapshotService struct {
	users    domain.UserStore
	resolver *security.Resolver
	guard    *cacheguard.Guard
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSnapshotService creates a snapshot service. A non-positive ttl falls
// back to DefaultSnapshotTTL.
func NewSnapshotService(users domain.UserStore, resolver *security.Resolver, guard *cacheguard.Guard, ttl time.Duration, logger *slog.Logger) *SnapshotService {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotService{
		users:    users,
		resolver: resolver,
		guard:    guard,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides time.Now for tests.
func (s *SnapshotService) WithClock(now func() time.Time) *SnapshotService {
	s.now = now
	return s
}

// Load returns the user's snapshot, rebuilding and caching it on a miss.
// Deleted or unknown users yield ResourceNotFound.
func (s *SnapshotService) Load(ctx context.Context, userID string) (snap *Snapshot, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "snapshot.load")
	span.SetAttributes(attribute.String("user.id", userID))
	defer func() { tracing.End(span, err) }()

	key := domain.ProfileKey(userID)
	if raw, ok := s.guard.Get(ctx, key); ok {
		var cached Snapshot
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			metrics.ObserveSnapshot("hit")
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &cached, nil
		}
		s.logger.Warn("discarding unreadable snapshot", slog.String("user_id", userID))
		s.guard.Delete(ctx, key)
	}
	metrics.ObserveSnapshot("miss")

	snap, err = s.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(snap); err == nil {
		s.guard.Set(ctx, key, string(raw), s.ttl)
	}
	return snap, nil
}

func (s *SnapshotService) build(ctx context.Context, userID string) (*Snapshot, error) {
	start := time.Now()
	defer func() { metrics.ObserveSnapshotLoad(time.Since(start)) }()

	var (
		user  *domain.User
		authz *security.Authorization
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = s.users.FindUserByID(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		authz, err = s.resolver.ResolveAuthorization(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	snap := &Snapshot{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Phone:       user.Phone,
		TenantID:    user.TenantID,
		Status:      user.State.Effective(now).Kind().String(),
		Roles:       authz.Roles,
		Permissions: authz.Permissions,
		CachedAt:    now.UTC(),
	}
	if until, ok := user.State.LockExpiry(); ok && until.After(now) {
		snap.LockUntil = &until
	}
	return snap, nil
}

// Invalidate deletes the snapshots of userIDs. It must run before the
// write that made them stale is reported as successful.
func (s *SnapshotService) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, domain.ProfileKey(id))
	}
	if !s.guard.Delete(ctx, keys...) {
		s.logger.Error("snapshot invalidation failed, stale entries live until ttl",
			slog.Int("users", len(userIDs)),
			slog.Duration("ttl", s.ttl),
		)
	}
}

// TTL returns the snapshot lifetime.
func (s *SnapshotService) TTL() time.Duration { return s.ttl }
