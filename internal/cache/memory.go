package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/matt-riley/flagchain/internal/core"
)

// DefaultMaxEntries bounds the in-process cache when no size is configured.
const DefaultMaxEntries = 10000

// MemoryCache is a bounded in-process flag cache with per-entry TTLs.
// Cached flags share their slices and maps with callers and must be treated
// as read-only.
type MemoryCache struct {
	cache otter.CacheWithVariableTTL[string, core.FeatureFlag]
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries flags.
// Pass 0 to use DefaultMaxEntries.
func NewMemoryCache(maxEntries int) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	cache, err := otter.MustBuilder[string, core.FeatureFlag](maxEntries).
		Cost(func(_ string, _ core.FeatureFlag) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("build memory cache: %w", err)
	}

	return &MemoryCache{cache: cache}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) (core.FeatureFlag, bool, error) {
	flag, ok := c.cache.Get(key)
	return flag, ok, nil
}

// Set stores flag for ttl. Non-positive TTLs are ignored.
func (c *MemoryCache) Set(_ context.Context, key string, flag core.FeatureFlag, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.cache.Set(key, flag, ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Len reports the number of cached flags.
func (c *MemoryCache) Len() int {
	return c.cache.Size()
}

func (c *MemoryCache) Close() error {
	c.cache.Close()
	return nil
}
