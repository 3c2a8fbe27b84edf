package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/cacheguard"
)

// Claims is the signed claim set carried by a bearer token.
type Claims struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	TenantID string   `json:"tenantId"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// IssuedToken is a freshly signed bearer token.
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// TokenService issues, verifies and revokes bearer tokens. Revocations are
// kept in the shared cache so every worker sees them.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	guard  *cacheguard.Guard
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService validates cfg and returns a TokenService.
func NewTokenService(cfg TokenConfig, guard *cacheguard.Guard, logger *slog.Logger) (*TokenService, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("token secret must be at least 16 bytes")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "identitycore"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		guard:  guard,
		now:    time.Now,
		logger: logger,
	}, nil
}

// WithClock overrides time.Now for tests.
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	ts.now = now
	return ts
}

// TTL returns the configured token lifetime.
func (ts *TokenService) TTL() time.Duration { return ts.ttl }

// Issue signs a token for id. The issue time is truncated to the second, the
// resolution of the exp claim, so the token is valid for exactly TTL.
func (ts *TokenService) Issue(id domain.Identity) (*IssuedToken, error) {
	if id.UserID == "" {
		return nil, domain.Validation("user id required")
	}
	issuedAt := ts.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ts.ttl)
	jti := uuid.NewString()

	claims := Claims{
		Username: id.Username,
		Email:    id.Email,
		Roles:    id.Roles,
		TenantID: id.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    ts.issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &IssuedToken{Token: signed, TokenID: jti, ExpiresAt: expiresAt}, nil
}

// Parse checks signature, issuer and expiry without consulting the
// blacklist.
func (ts *TokenService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return ts.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, domain.ErrTokenExpired
		}
		return nil, &domain.Error{Code: domain.CodeTokenMalformed, Message: "token is malformed", Err: err}
	}
	if !token.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, domain.ErrTokenMalformed
	}
	return claims, nil
}

// Verify returns the identity embedded in a valid, unrevoked token.
func (ts *TokenService) Verify(ctx context.Context, tokenString string) (*domain.Identity, error) {
	claims, err := ts.Parse(tokenString)
	if err != nil {
		metrics.ObserveTokenVerification(string(domain.CodeOf(err)))
		return nil, err
	}
	if ts.isRevoked(ctx, claims.ID) {
		metrics.ObserveTokenVerification(string(domain.CodeTokenRevoked))
		return nil, domain.ErrTokenRevoked
	}
	metrics.ObserveTokenVerification("valid")
	return &domain.Identity{
		UserID:    claims.Subject,
		Username:  claims.Username,
		Email:     claims.Email,
		TenantID:  claims.TenantID,
		Roles:     claims.Roles,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke blacklists the token until its natural expiry. Revoking an expired
// or already revoked token is a no-op.
func (ts *TokenService) Revoke(ctx context.Context, tokenString string) error {
	claims, err := ts.Parse(tokenString)
	switch {
	case errors.Is(err, domain.ErrTokenExpired):
		metrics.ObserveTokenRevocation("expired")
		return nil
	case err != nil:
		metrics.ObserveTokenRevocation("malformed")
		return err
	}

	remaining := claims.ExpiresAt.Time.Sub(ts.now())
	if remaining <= 0 {
		metrics.ObserveTokenRevocation("expired")
		return nil
	}
	if ts.guard == nil || !ts.guard.Store(ctx, domain.RevokedTokenKey(claims.ID), "1", remaining) {
		metrics.ObserveTokenRevocation("skipped")
		ts.logger.Error("token revocation not recorded, token stays valid until expiry",
			slog.String("jti", claims.ID),
			slog.String("user_id", claims.Subject),
			slog.Duration("remaining", remaining),
		)
		return nil
	}
	metrics.ObserveTokenRevocation("revoked")
	return nil
}

func (ts *TokenService) isRevoked(ctx context.Context, jti string) bool {
	if ts.guard == nil {
		return false
	}
	_, revoked := ts.guard.Lookup(ctx, domain.RevokedTokenKey(jti))
	return revoked
}

// ExtractToken pulls the bearer token out of an Authorization header value.
func ExtractToken(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", domain.ErrTokenMalformed
	}
	return parts[1], nil
}
