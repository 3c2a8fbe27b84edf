// Package cacheguard turns the shared cache into a best-effort accelerator.
// Every failure of the underlying domain.Cache is logged, counted and
// converted into a miss or a skipped write; nothing here ever returns a
// cache error to the caller.
package cacheguard

import (
	"context"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
	"github.com/aryan0dhankhar/identitycore/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitycore/internal/reliability/circuitbreaker"
)

// Guard wraps a domain.Cache. Reads, writes and lock attempts are skipped
// while the breaker is open; deletes, Lookup and Store are always
// attempted because they carry invalidations and revocations.
type Guard struct {
	cache   domain.Cache
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// New wraps cache. breaker may be nil.
func New(cache domain.Cache, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker != nil {
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			metrics.SetCacheBreakerState(int(to))
			logger.Warn("cache circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		})
	}
	return &Guard{cache: cache, breaker: breaker, logger: logger}
}

func (g *Guard) allow(op string) bool {
	if g.breaker == nil || g.breaker.Allow() {
		return true
	}
	metrics.ObserveCache(op, "skipped")
	return false
}

func (g *Guard) record(op, key string, err error) {
	if err == nil {
		if g.breaker != nil {
			g.breaker.Success()
		}
		return
	}
	if g.breaker != nil {
		g.breaker.Failure()
	}
	metrics.ObserveCache(op, "error")
	g.logger.Warn("cache call failed, continuing without cache",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// Get returns ok=false on a miss and on any cache failure.
func (g *Guard) Get(ctx context.Context, key string) (string, bool) {
	if !g.allow("get") {
		return "", false
	}
	return g.get(ctx, key)
}

// Lookup is Get without the breaker gate. Revocation checks use it so an
// open breaker never hides an entry the cache still holds.
func (g *Guard) Lookup(ctx context.Context, key string) (string, bool) {
	return g.get(ctx, key)
}

func (g *Guard) get(ctx context.Context, key string) (string, bool) {
	val, ok, err := g.cache.Get(ctx, key)
	g.record("get", key, err)
	if err != nil {
		return "", false
	}
	if ok {
		metrics.ObserveCache("get", "hit")
	} else {
		metrics.ObserveCache("get", "miss")
	}
	return val, ok
}

// Set reports whether the value was stored.
func (g *Guard) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !g.allow("set") {
		return false
	}
	return g.set(ctx, key, value, ttl)
}

// Store is Set without the breaker gate, for writes that must not be
// skipped while the cache might still be reachable.
func (g *Guard) Store(ctx context.Context, key, value string, ttl time.Duration) bool {
	return g.set(ctx, key, value, ttl)
}

func (g *Guard) set(ctx context.Context, key, value string, ttl time.Duration) bool {
	err := g.cache.Set(ctx, key, value, ttl)
	g.record("set", key, err)
	if err != nil {
		return false
	}
	metrics.ObserveCache("set", "ok")
	return true
}

// Delete reports whether the keys were removed.
func (g *Guard) Delete(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	err := g.cache.Del(ctx, keys...)
	g.record("del", keys[0], err)
	if err != nil {
		return false
	}
	metrics.ObserveCache("del", "ok")
	return true
}

// AcquireLock returns false when the lock is held elsewhere or the cache
// cannot be reached.
func (g *Guard) AcquireLock(ctx context.Context, name string, ttl time.Duration) bool {
	if !g.allow("lock") {
		return false
	}
	key := domain.LockKey(name)
	ok, err := g.cache.AcquireLock(ctx, key, ttl)
	g.record("lock", key, err)
	if err != nil {
		return false
	}
	if ok {
		metrics.ObserveCache("lock", "acquired")
	} else {
		metrics.ObserveCache("lock", "busy")
	}
	return ok
}

// ReleaseLock deletes the lock. A failed release is left to the TTL.
func (g *Guard) ReleaseLock(ctx context.Context, name string) {
	key := domain.LockKey(name)
	err := g.cache.ReleaseLock(ctx, key)
	g.record("unlock", key, err)
}

// WithLock runs fn while holding the named lock. It returns false without
// calling fn when the lock could not be taken.
func (g *Guard) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if !g.AcquireLock(ctx, name, ttl) {
		return false, nil
	}
	defer g.ReleaseLock(context.WithoutCancel(ctx), name)

	lockCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	return true, fn(lockCtx)
}
