package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/medcanon-ai/platform/pkg/common/logger"
	"github.com/medcanon-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Cache stores conversion results keyed by (metric, value, unit, context).
// Repeated conversions of identical input are common during analysis and
// dry runs. A cache instance is owned by its converter and scoped to one
// run; there is no package-level cache.
type Cache interface {
	Get(ctx context.Context, key string) (*models.ConversionResult, bool)
	Set(ctx context.Context, key string, result models.ConversionResult)
}

// CacheKey builds the lookup key. The clinical context participates because
// it can shift validation verdicts.
func CacheKey(metric string, value float64, unit string, cc *models.ClinicalContext) string {
	fingerprint := ""
	if cc != nil {
		fingerprint = fmt.Sprintf("a%d|g%s|p%t|d%t", cc.Age, cc.Gender, cc.Pregnant, cc.OnDialysis)
	}
	return fmt.Sprintf("conversion:%s:%g:%s:%s", metric, value, unit, fingerprint)
}

// MemoryCache is a plain in-process cache, used standalone in tests and as
// the first tier in front of Redis.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.ConversionResult
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]models.ConversionResult)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*models.ConversionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if result, ok := c.entries[key]; ok {
		return &result, true
	}
	return nil, false
}

func (c *MemoryCache) Set(ctx context.Context, key string, result models.ConversionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache is a write-through cache layered over a local map so that a
// Redis outage degrades to in-process caching instead of failing lookups.
type RedisCache struct {
	client *redis.Client
	local  *MemoryCache
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, local: NewMemoryCache(), ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.ConversionResult, bool) {
	if result, ok := c.local.Get(ctx, key); ok {
		return result, true
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var result models.ConversionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	c.local.Set(ctx, key, result)
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result models.ConversionResult) {
	c.local.Set(ctx, key, result)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("key", key).Debug("conversion cache write failed")
	}
}
