package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores GET responses keyed by method, URL, and query string.
type Cache interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error
}

// RedisStringClient is the minimal client surface used by RedisCache.
type RedisStringClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores serialized responses in Redis with a per-entry TTL.
type RedisCache struct {
	client    RedisStringClient
	keyPrefix string
}

// NewRedisCache constructs a Redis-backed response cache.
func NewRedisCache(client RedisStringClient) *RedisCache {
	return &RedisCache{client: client, keyPrefix: "webhook:"}
}

// Get returns the cached response for key, if present and unexpired.
func (c *RedisCache) Get(ctx context.Context, key string) (*Response, bool, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

// Set stores the response under key for ttl. Redis expires the entry itself.
func (c *RedisCache) Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.keyPrefix+key, data, ttl).Err()
}
