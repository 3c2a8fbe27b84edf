package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitycore/internal/observability/tracing"
	"github.com/aryan0dhankhar/identitycore/internal/security"
	"github.com/aryan0dhankhar/identitycore/internal/security/audit"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
)

// Requirements are the optional checks Authorize applies after
// authentication. Zero values skip the check.
type Requirements struct {
	Roles       []string
	TenantID    string
	Permissions []string
}

// Gate runs the per-request pipeline: verify token, load the caller's
// snapshot, then role, tenant and permission checks. It never retries.
type Gate struct {
	tokens    *auth.TokenService
	snapshots *SnapshotService
	resolver  *security.Resolver
	audit     *audit.Logger
	logger    *slog.Logger
}

// NewGate wires the request pipeline.
func NewGate(tokens *auth.TokenService, snapshots *SnapshotService, resolver *security.Resolver, auditLog *audit.Logger, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{tokens: tokens, snapshots: snapshots, resolver: resolver, audit: auditLog, logger: logger}
}

// Authenticate verifies token and returns the caller with roles, tenant and
// permissions taken from the current snapshot rather than the token claims.
func (g *Gate) Authenticate(ctx context.Context, token string) (id *domain.Identity, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "gate.authenticate")
	defer func() { tracing.End(span, err) }()

	claims, err := g.tokens.Verify(ctx, token)
	if err != nil {
		return nil, g.deny(ctx, nil, err)
	}
	span.SetAttributes(attribute.String("user.id", claims.UserID))

	snap, err := g.snapshots.Load(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return nil, g.deny(ctx, claims, domain.ErrAccountInactive)
		}
		return nil, g.deny(ctx, claims, domain.AsSystemError(err))
	}
	if !snap.Usable() {
		return nil, g.deny(ctx, claims, domain.ErrAccountInactive)
	}

	return &domain.Identity{
		UserID:      snap.UserID,
		Username:    snap.Username,
		Email:       snap.Email,
		TenantID:    snap.TenantID,
		Roles:       snap.Roles,
		Permissions: snap.Permissions,
		TokenID:     claims.TokenID,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// RequireRole passes when id holds at least one of roles.
func (g *Gate) RequireRole(id *domain.Identity, roles ...string) error {
	return g.resolver.HasRole(id, roles...)
}

// RequireTenant passes for administrators and members of tenantID.
func (g *Gate) RequireTenant(id *domain.Identity, tenantID string) error {
	return g.resolver.CheckTenantAccess(id, tenantID)
}

// RequirePermission passes when id holds every one of codes.
func (g *Gate) RequirePermission(id *domain.Identity, codes ...string) error {
	var missing []string
	for _, code := range codes {
		if id == nil || !id.HasPermission(code) {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return domain.Insufficient("missing permissions: " + strings.Join(missing, ", "))
	}
	return nil
}

// Authorize authenticates token and applies req, stopping at the first
// failure. On success the identity is attached to the returned context.
func (g *Gate) Authorize(ctx context.Context, token string, req Requirements) (context.Context, *domain.Identity, error) {
	id, err := g.Authenticate(ctx, token)
	if err != nil {
		return ctx, nil, err
	}
	ctx = ContextWithIdentity(ctx, id)

	if len(req.Roles) > 0 {
		if err := g.RequireRole(id, req.Roles...); err != nil {
			return ctx, id, g.deny(ctx, id, err)
		}
	}
	if req.TenantID != "" {
		if err := g.RequireTenant(id, req.TenantID); err != nil {
			return ctx, id, g.deny(ctx, id, err)
		}
	}
	if len(req.Permissions) > 0 {
		if err := g.RequirePermission(id, req.Permissions...); err != nil {
			return ctx, id, g.deny(ctx, id, err)
		}
	}
	return ctx, id, nil
}

func (g *Gate) deny(ctx context.Context, id *domain.Identity, err error) error {
	code := domain.CodeOf(err)
	metrics.ObserveDenial(string(code))
	var tenantID, userID string
	if id != nil {
		tenantID, userID = id.TenantID, id.UserID
	}
	g.audit.LogDenied(ctx, tenantID, userID, string(code))
	if code == domain.CodeSystemError {
		g.logger.Error("request gate failed", slog.String("error", err.Error()))
	}
	return err
}

type identityKey struct{}

// ContextWithIdentity attaches the authenticated caller to ctx.
func ContextWithIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller attached by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*domain.Identity)
	return id, ok && id != nil
}
