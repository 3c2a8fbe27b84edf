package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	identityredis "github.com/aryan0dhankhar/identitycore/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/cacheguard"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/circuitbreaker"
	"github.com/aryan0dhankhar/identitycore/pkg/cache"
)

const testSecret = "test-secret-with-enough-bytes"

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTokenService(t *testing.T, c domain.Cache, clk *clock) *TokenService {
	t.Helper()
	ts, err := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "identitycore", TTL: time.Hour},
		cacheguard.New(c, nil, quiet), quiet)
	require.NoError(t, err)
	return ts.WithClock(clk.Now)
}

func alice() domain.Identity {
	return domain.Identity{
		UserID:   "u-alice",
		Username: "alice",
		Email:    "alice@example.com",
		TenantID: "t1",
		Roles:    []string{"support"},
	}
}

func TestNewTokenServiceRejectsWeakConfig(t *testing.T) {
	_, err := NewTokenService(TokenConfig{Secret: "short", TTL: time.Hour}, nil, nil)
	assert.Error(t, err)
	_, err = NewTokenService(TokenConfig{Secret: testSecret}, nil, nil)
	assert.Error(t, err)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, cache.New(), clk)

	issued, err := ts.Issue(alice())
	require.NoError(t, err)
	assert.Equal(t, clk.t.Add(time.Hour), issued.ExpiresAt)

	id, err := ts.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.Equal(t, "t1", id.TenantID)
	assert.Equal(t, []string{"support"}, id.Roles)
	assert.Equal(t, issued.TokenID, id.TokenID)
}

func TestExpiryBoundary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 400_000_000, time.UTC)
	clk := &clock{t: start}
	ts := newTokenService(t, cache.New(), clk)
	ctx := context.Background()

	issued, err := ts.Issue(alice())
	require.NoError(t, err)
	issuedAt := start.Truncate(time.Second)

	clk.t = issuedAt.Add(time.Hour - time.Second)
	_, err = ts.Verify(ctx, issued.Token)
	require.NoError(t, err, "token must verify through T+D-1")

	clk.t = issuedAt.Add(time.Hour)
	_, err = ts.Verify(ctx, issued.Token)
	assert.ErrorIs(t, err, domain.ErrTokenExpired, "token must expire at T+D")
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, cache.New(), clk)
	ctx := context.Background()

	_, err := ts.Verify(ctx, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)

	issued, err := ts.Issue(alice())
	require.NoError(t, err)
	tampered := issued.Token[:len(issued.Token)-2] + "xx"
	_, err = ts.Verify(ctx, tampered)
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)

	other, err := NewTokenService(TokenConfig{Secret: "a-completely-different-secret", TTL: time.Hour}, nil, quiet)
	require.NoError(t, err)
	foreign, err := other.WithClock(clk.Now).Issue(alice())
	require.NoError(t, err)
	_, err = ts.Verify(ctx, foreign.Token)
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, cache.New(), clk)

	claims := jwt.RegisteredClaims{
		Subject:   "u-alice",
		ID:        "jti-1",
		Issuer:    "identitycore",
		ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ts.Verify(context.Background(), unsigned)
	assert.ErrorIs(t, err, domain.ErrTokenMalformed)
}

func TestRevokeBlacklistsUntilNaturalExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := identityredis.NewClient(context.Background(), "redis://"+mr.Addr(), identityredis.Options{}, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, client, clk)
	ctx := context.Background()

	issued, err := ts.Issue(alice())
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	require.NoError(t, ts.Revoke(ctx, issued.Token))

	_, err = ts.Verify(ctx, issued.Token)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	key := domain.RevokedTokenKey(issued.TokenID)
	assert.Equal(t, 50*time.Minute, mr.TTL(key), "blacklist entry must live exactly exp-now")

	require.NoError(t, ts.Revoke(ctx, issued.Token), "second revoke is a no-op")

	mr.FastForward(50 * time.Minute)
	assert.False(t, mr.Exists(key), "blacklist entry must be gone once the token expired")
}

func TestRevokeExpiredTokenIsSilent(t *testing.T) {
	c := cache.New()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, c, clk)

	issued, err := ts.Issue(alice())
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	require.NoError(t, ts.Revoke(context.Background(), issued.Token))
	_, ok, _ := c.Get(context.Background(), domain.RevokedTokenKey(issued.TokenID))
	assert.False(t, ok, "expired tokens need no blacklist entry")
}

func TestRevokeMalformedToken(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, cache.New(), clk)
	assert.ErrorIs(t, ts.Revoke(context.Background(), "garbage"), domain.ErrTokenMalformed)
}

func TestVerifyFailsOpenWhenCacheIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := identityredis.NewClient(context.Background(), "redis://"+mr.Addr(), identityredis.Options{}, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts := newTokenService(t, client, clk)
	issued, err := ts.Issue(alice())
	require.NoError(t, err)

	mr.SetError("ERR injected failure")
	id, err := ts.Verify(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", id.UserID)
	assert.NoError(t, ts.Revoke(context.Background(), issued.Token))
}

func TestRevocationSurvivesOpenBreaker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client, err := identityredis.NewClient(ctx, "redis://"+mr.Addr(), identityredis.Options{}, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	guard := cacheguard.New(client, cb, quiet)
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts, err := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "identitycore", TTL: time.Hour}, guard, quiet)
	require.NoError(t, err)
	ts.WithClock(clk.Now)

	before, err := ts.Issue(alice())
	require.NoError(t, err)
	after, err := ts.Issue(alice())
	require.NoError(t, err)
	require.NoError(t, ts.Revoke(ctx, before.Token))

	mr.SetError("ERR injected failure")
	guard.Get(ctx, "warmup-1")
	guard.Get(ctx, "warmup-2")
	require.Equal(t, circuitbreaker.StateOpen, cb.State())
	mr.SetError("")

	_, err = ts.Verify(ctx, before.Token)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)

	require.NoError(t, ts.Revoke(ctx, after.Token))
	_, err = ts.Verify(ctx, after.Token)
	assert.ErrorIs(t, err, domain.ErrTokenRevoked)
}

func TestExtractToken(t *testing.T) {
	tok, err := ExtractToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = ExtractToken("bearer   abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer a b"} {
		_, err := ExtractToken(h)
		assert.ErrorIs(t, err, domain.ErrTokenMalformed, h)
	}
}
