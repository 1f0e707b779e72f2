// Package cache provides a namespaced Dragonfly/Redis byte cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key this service writes.
const DefaultPrefix = "quest:"

// Cache wraps a Redis/Dragonfly client. Keys passed to Get and Set are
// stored under the cache prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// ParseURL validates a Redis connection URL and applies client timeouts.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return opts, nil
}

// New connects to the cache and pings it.
func New(ctx context.Context, url string, opts ...Option) (*Cache, error) {
	ropts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	c := NewWithClient(redis.NewClient(ropts), opts...)
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}
	return c, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *redis.Client, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key returns the stored form of key.
func (c *Cache) Key(key string) string {
	return c.prefix + key
}

// Get returns the value stored at key. A missing key is reported as
// ok=false with a nil error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value at key. A zero ttl keeps the key until evicted.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
