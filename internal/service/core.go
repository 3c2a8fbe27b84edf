package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/cacheguard"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/identitycore/internal/security"
	"github.com/aryan0dhankhar/identitycore/internal/security/audit"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
)

// Collaborators are the external systems the core is built on. They are
// constructed once at startup and passed in explicitly.
type Collaborators struct {
	Store domain.CredentialStore
	Cache domain.Cache

	closers []io.Closer
}

// NewCollaborators bundles store and cache. Any closers are closed, in
// reverse order, by Close.
func NewCollaborators(store domain.CredentialStore, cache domain.Cache, closers ...io.Closer) *Collaborators {
	return &Collaborators{Store: store, Cache: cache, closers: closers}
}

// Close releases every registered resource.
func (c *Collaborators) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options configures the core. Zero values take the documented defaults.
type Options struct {
	TokenSecret string
	TokenIssuer string
	TokenTTL    time.Duration
	SnapshotTTL time.Duration
	BcryptCost  int
	Lockout     LockoutPolicy
	Policy      security.Policy
	DefaultRole string
	Breaker     circuitbreaker.Config
	// Now overrides time.Now for every time-dependent component.
	Now func() time.Time
}

// Core is the assembled identity and access control core.
type Core struct {
	Guard     *cacheguard.Guard
	Resolver  *security.Resolver
	Hasher    *auth.PasswordHasher
	Tokens    *auth.TokenService
	Snapshots *SnapshotService
	Auth      *AuthService
	Users     *UserService
	Gate      *Gate
	Bootstrap *Bootstrap
}

// NewCore wires every component over c.
func NewCore(c *Collaborators, opts Options, logger *slog.Logger) (*Core, error) {
	if c == nil || c.Store == nil || c.Cache == nil {
		return nil, errors.New("store and cache are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Policy.AdminRole == "" {
		opts.Policy = security.DefaultPolicy()
	}
	if opts.Lockout == (LockoutPolicy{}) {
		opts.Lockout = DefaultLockoutPolicy()
	}

	breaker := circuitbreaker.New(opts.Breaker)
	if opts.Now != nil {
		breaker.WithClock(opts.Now)
	}
	guard := cacheguard.New(c.Cache, breaker, logger)

	hasher, err := auth.NewPasswordHasher(opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: opts.TokenSecret,
		Issuer: opts.TokenIssuer,
		TTL:    opts.TokenTTL,
	}, guard, logger)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	auditLog := audit.NewLogger(logger)
	resolver := security.NewResolver(c.Store, opts.Policy, logger)
	snapshots := NewSnapshotService(c.Store, resolver, guard, opts.SnapshotTTL, logger)
	authSvc := NewAuthService(c.Store, hasher, tokens, snapshots, opts.Lockout, opts.DefaultRole, auditLog, logger)
	users := NewUserService(c.Store, resolver, snapshots, hasher, opts.Lockout, auditLog, logger)

	if opts.Now != nil {
		tokens.WithClock(opts.Now)
		snapshots.WithClock(opts.Now)
		authSvc.now = opts.Now
		users.now = opts.Now
	}

	return &Core{
		Guard:     guard,
		Resolver:  resolver,
		Hasher:    hasher,
		Tokens:    tokens,
		Snapshots: snapshots,
		Auth:      authSvc,
		Users:     users,
		Gate:      NewGate(tokens, snapshots, resolver, auditLog, logger),
		Bootstrap: NewBootstrap(c.Store, hasher, guard, snapshots, opts.Policy, logger),
	}, nil
}
