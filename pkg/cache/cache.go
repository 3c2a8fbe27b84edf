package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry represents a cached value with expiration
type Entry struct {
	Value     string
	ExpiresAt time.Time
}

// Cache is an in-process implementation of the cache layer contract with
// per-key TTL and set-if-absent locks. It is only coherent inside a single
// process, so it backs tests and single-node development.
type Cache struct {
	mu    sync.Mutex
	items map[string]*Entry
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, letting tests move time forward.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a new cache
func New(opts ...Option) *Cache {
	c := &Cache{items: map[string]*Entry{}, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// live returns the entry for key if it has not expired, evicting it otherwise.
// Callers hold c.mu.
func (c *Cache) live(key string) (*Entry, bool) {
	entry, exists := c.items[key]
	if !exists {
		return nil, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return entry, true
}

// Get retrieves a value from the cache if it hasn't expired
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.live(key)
	if !ok {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// Set stores a value in the cache with a given TTL
func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("refusing to set %q without ttl", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &Entry{Value: value, ExpiresAt: c.now().Add(ttl)}
	return nil
}

// Del removes keys from the cache
func (c *Cache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

// AcquireLock stores name only if no live entry holds it.
func (c *Cache) AcquireLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock %q requires a ttl", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.live(name); held {
		return false, nil
	}
	c.items[name] = &Entry{Value: "locked", ExpiresAt: c.now().Add(ttl)}
	return true, nil
}

// ReleaseLock deletes the lock entry.
func (c *Cache) ReleaseLock(ctx context.Context, name string) error {
	return c.Del(ctx, name)
}

// TTL returns the remaining lifetime of key, or false if it is absent.
func (c *Cache) TTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.live(key)
	if !ok {
		return 0, false
	}
	return entry.ExpiresAt.Sub(c.now()), true
}

// Invalidate removes all items matching a prefix
func (c *Cache) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
}
