package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache memoizes deterministic generation results (low-temperature
// config generation) keyed by a hash of the prompt inputs.
type ResponseCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewResponseCache(rdb *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{redis: rdb, ttl: ttl}
}

func (c *ResponseCache) Get(ctx context.Context, parts ...string) (string, bool, error) {
	val, err := c.redis.Get(ctx, cacheKey(parts...)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

func (c *ResponseCache) Set(ctx context.Context, value string, parts ...string) error {
	if err := c.redis.Set(ctx, cacheKey(parts...), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "netpilot:respcache:" + hex.EncodeToString(h.Sum(nil))
}
