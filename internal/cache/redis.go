package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matt-riley/flagchain/internal/core"
)

// RedisCache shares flag definitions between evaluator instances. Entries are
// stored as JSON under "<prefix>:flag:<key>".
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: normalizePrefix(prefix)}
}

// NewRedisCacheFromURL dials the Redis server named by a redis:// or
// rediss:// URL.
func NewRedisCacheFromURL(rawURL, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCache(redis.NewClient(opts), prefix), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (core.FeatureFlag, bool, error) {
	if c.client == nil {
		return core.FeatureFlag{}, false, errNilClient
	}

	payload, err := c.client.Get(ctx, c.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.FeatureFlag{}, false, nil
	}
	if err != nil {
		return core.FeatureFlag{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var flag core.FeatureFlag
	if err := json.Unmarshal(payload, &flag); err != nil {
		return core.FeatureFlag{}, false, fmt.Errorf("decode cached flag %q: %w", key, err)
	}
	return flag, true, nil
}

// Set stores flag for ttl. Non-positive TTLs are ignored so entries never
// outlive the repository copy indefinitely.
func (c *RedisCache) Set(ctx context.Context, key string, flag core.FeatureFlag, ttl time.Duration) error {
	if c.client == nil {
		return errNilClient
	}
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode flag %q: %w", key, err)
	}
	if err := c.client.Set(ctx, c.dataKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return errNilClient
	}
	if err := c.client.Del(ctx, c.dataKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Ping checks connectivity to the Redis server.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return errNilClient
	}
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RedisCache) dataKey(key string) string {
	return fmt.Sprintf("%s:flag:%s", c.prefix, key)
}
