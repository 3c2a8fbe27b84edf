package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aryan0dhankhar/identitycore/internal/domain"
)

// Options bounds every call the client makes. Zero values fall back to
// the defaults below.
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Client implements domain.Cache on top of go-redis.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient creates a new Redis client and checks connectivity.
func NewClient(ctx context.Context, url string, o Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.DialTimeout = orDefault(o.DialTimeout, 5*time.Second)
	opts.ReadTimeout = orDefault(o.ReadTimeout, time.Second)
	opts.WriteTimeout = orDefault(o.WriteTimeout, time.Second)
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Get returns ok=false on a miss.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.CacheUnavailable(err)
	}
	return val, true, nil
}

// Set stores value with a TTL. A non-positive TTL is rejected so that no
// entry written by the core can outlive its business meaning.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("refusing to set %q without ttl", key)
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return domain.CacheUnavailable(err)
	}
	return nil
}

// Del removes keys; missing keys are not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return domain.CacheUnavailable(err)
	}
	return nil
}

// AcquireLock is SET NX with expiry.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock %q requires a ttl", name)
	}
	ok, err := c.rdb.SetNX(ctx, name, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, domain.CacheUnavailable(err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock key.
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	return c.Del(ctx, name)
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
