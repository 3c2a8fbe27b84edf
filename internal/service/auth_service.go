package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitycore/internal/observability/tracing"
	"github.com/aryan0dhankhar/identitycore/internal/security/audit"
	"github.com/aryan0dhankhar/identitycore/internal/security/auth"
)

// AuthService handles authentication operations
type AuthService struct {
	store       domain.CredentialStore
	hasher      *auth.PasswordHasher
	tokens      *auth.TokenService
	snapshots   *SnapshotService
	lockout     LockoutPolicy
	defaultRole string
	audit       *audit.Logger
	now         func() time.Time
	logger      *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	store domain.CredentialStore,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenService,
	snapshots *SnapshotService,
	lockout LockoutPolicy,
	defaultRole string,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:       store,
		hasher:      hasher,
		tokens:      tokens,
		snapshots:   snapshots,
		lockout:     lockout.normalized(),
		defaultRole: defaultRole,
		audit:       auditLog,
		now:         time.Now,
		logger:      logger,
	}
}

// RegisterInput is a self-service account request.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
	TenantID string `json:"tenantId"`
}

// LoginResult represents login response
type LoginResult struct {
	User      domain.PublicUser `json:"user"`
	Identity  domain.Identity   `json:"identity"`
	Token     string            `json:"token"`
	TokenType string            `json:"tokenType"`
	ExpiresIn int               `json:"expiresIn"` // seconds
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Register creates an active account holding the default role.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.PublicUser, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	if err := validateIdentifiers(in.Username, in.Email); err != nil {
		return nil, err
	}
	if in.TenantID == "" {
		return nil, domain.Validation("tenant id is required")
	}

	for _, ident := range []string{in.Username, in.Email, in.Phone} {
		if ident == "" {
			continue
		}
		existing, err := s.store.FindUserByIdentifier(ctx, ident)
		if err != nil {
			return nil, domain.AsSystemError(err)
		}
		if existing != nil {
			return nil, domain.Validation("username, email or phone already in use")
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		TenantID:     in.TenantID,
		State:        domain.Active(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, domain.AsSystemError(err)
	}
	if s.defaultRole != "" {
		if err := s.store.AssignRoles(ctx, user.ID, []string{s.defaultRole}); err != nil {
			s.logger.Error("default role assignment failed",
				slog.String("user_id", user.ID),
				slog.String("role", s.defaultRole),
				slog.String("error", err.Error()),
			)
			return nil, domain.AsSystemError(err)
		}
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("tenant_id", user.TenantID),
	)
	pub := user.Sanitize(s.now())
	return &pub, nil
}

// Login verifies credentials, applies the lockout policy and issues a
// bearer token.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (res *LoginResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "auth.login")
	defer func() { tracing.End(span, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, s.loginFailed(ctx, nil, identifier, domain.Validation("identifier and password are required"))
	}

	user, err := s.store.FindUserByIdentifier(ctx, identifier)
	if err != nil {
		return nil, s.loginFailed(ctx, nil, identifier, domain.AsSystemError(err))
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		return nil, s.loginFailed(ctx, nil, identifier, domain.ErrInvalidCredentials)
	}
	span.SetAttributes(attribute.String("user.id", user.ID))

	now := s.now()
	if user.State.IsLocked(now) {
		return nil, s.loginFailed(ctx, user, identifier, domain.ErrAccountLocked)
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		if auth.IsHashCorrupt(user.PasswordHash) {
			s.logger.Error("stored password hash is unreadable", slog.String("user_id", user.ID))
		}
		return nil, s.loginFailed(ctx, user, identifier, s.recordFailure(ctx, user, now))
	}

	if user.State.IsDisabled() {
		return nil, s.loginFailed(ctx, user, identifier, domain.ErrAccountInactive)
	}

	updated, err := s.store.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		switch {
		case u.State.IsLocked(now):
			return domain.ErrAccountLocked
		case u.State.IsDisabled():
			return domain.ErrAccountInactive
		}
		s.lockout.RecordSuccess(u, now)
		return nil
	})
	if err != nil {
		return nil, s.loginFailed(ctx, user, identifier, loginStoreError(err))
	}
	s.snapshots.Invalidate(ctx, updated.ID)

	snap, err := s.snapshots.Load(ctx, updated.ID)
	if err != nil {
		return nil, s.loginFailed(ctx, updated, identifier, loginStoreError(err))
	}
	identity := identityFromSnapshot(snap)

	issued, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, s.loginFailed(ctx, updated, identifier, domain.AsSystemError(err))
	}
	identity.TokenID = issued.TokenID
	identity.ExpiresAt = issued.ExpiresAt

	metrics.ObserveLogin("success")
	s.audit.LogLogin(ctx, updated.TenantID, updated.ID, "", audit.StatusSuccess, "")
	s.logger.Info("login succeeded",
		slog.String("user_id", updated.ID),
		slog.String("tenant_id", updated.TenantID),
	)

	return &LoginResult{
		User:      updated.Sanitize(now),
		Identity:  identity,
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresIn: int(s.tokens.TTL().Seconds()),
		ExpiresAt: issued.ExpiresAt,
	}, nil
}

// recordFailure counts a wrong password in one transaction and returns
// the error to report: AccountLocked on the attempt that trips the lock,
// InvalidCredentials otherwise.
func (s *AuthService) recordFailure(ctx context.Context, user *domain.User, now time.Time) error {
	var tripped bool
	updated, err := s.store.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		tripped = s.lockout.RecordFailure(u, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrResourceNotFound) {
			return domain.ErrInvalidCredentials
		}
		return domain.AsSystemError(err)
	}
	if !tripped {
		return domain.ErrInvalidCredentials
	}

	s.snapshots.Invalidate(ctx, updated.ID)
	until, _ := updated.State.LockExpiry()
	metrics.IncrementLockouts()
	s.audit.LogLockout(ctx, updated.TenantID, updated.ID, until)
	s.logger.Warn("account locked after repeated failures",
		slog.String("user_id", updated.ID),
		slog.Int("failed_attempts", updated.FailedAttempts),
		slog.Time("lock_until", until),
	)
	return domain.ErrAccountLocked
}

func (s *AuthService) loginFailed(ctx context.Context, user *domain.User, identifier string, err error) error {
	code := string(domain.CodeOf(err))
	metrics.ObserveLogin(code)
	var tenantID, userID string
	if user != nil {
		tenantID, userID = user.TenantID, user.ID
	}
	s.audit.LogLogin(ctx, tenantID, userID, identifier, audit.StatusFailure, code)
	return err
}

// loginStoreError maps a user that vanished mid-login to InvalidCredentials.
func loginStoreError(err error) error {
	if errors.Is(err, domain.ErrResourceNotFound) {
		return domain.ErrInvalidCredentials
	}
	return domain.AsSystemError(err)
}

// Logout revokes token and drops the caller's cached snapshot.
func (s *AuthService) Logout(ctx context.Context, token string, identity *domain.Identity) error {
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return err
	}
	if identity != nil {
		s.snapshots.Invalidate(ctx, identity.UserID)
		s.audit.LogRevoke(ctx, identity.TenantID, identity.UserID)
	}
	return nil
}

// ChangePassword replaces the caller's password after checking the
// current one.
func (s *AuthService) ChangePassword(ctx context.Context, identity *domain.Identity, current, next string) error {
	if identity == nil {
		return domain.ErrInvalidCredentials
	}
	user, err := s.store.FindUserByID(ctx, identity.UserID)
	if err != nil {
		return domain.AsSystemError(err)
	}
	if !s.hasher.Compare(user.PasswordHash, current) {
		return domain.ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	_, err = s.store.UpdateUser(ctx, user.ID, func(u *domain.User) error {
		// The hash was checked outside the transaction; refuse if it moved.
		if u.PasswordHash != user.PasswordHash {
			return domain.ErrInvalidCredentials
		}
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return domain.AsSystemError(err)
	}
	s.snapshots.Invalidate(ctx, user.ID)
	s.audit.LogUserChange(ctx, user.TenantID, user.ID, "password_change", user.ID)
	return nil
}

func identityFromSnapshot(snap *Snapshot) domain.Identity {
	return domain.Identity{
		UserID:      snap.UserID,
		Username:    snap.Username,
		Email:       snap.Email,
		TenantID:    snap.TenantID,
		Roles:       snap.Roles,
		Permissions: snap.Permissions,
	}
}

func validateIdentifiers(username, email string) error {
	if username == "" || strings.ContainsAny(username, " \t@") || len(username) > 64 {
		return domain.Validation("username must be 1-64 characters without spaces or @")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return domain.Validation("email address is invalid")
	}
	return nil
}
