package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the small KV surface the cached searcher needs. The second
// return of Get reports whether the key existed.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisCache adapts a redis client to Cache.
type RedisCache struct {
	rdb redis.Cmdable
}

func NewRedisCache(rdb redis.Cmdable) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// CachedSearcher serves repeated identical queries from the cache within the
// configured TTL. Cache failures degrade to the underlying searcher: a
// broken cache must never break retrieval.
type CachedSearcher struct {
	inner Searcher
	cache Cache
	ttl   time.Duration
}

func NewCachedSearcher(inner Searcher, cache Cache, ttl time.Duration) *CachedSearcher {
	return &CachedSearcher{inner: inner, cache: cache, ttl: ttl}
}

func (c *CachedSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	key := cacheKey(query, maxResults)

	raw, found, err := c.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "search cache read failed", "error", err)
	} else if found {
		var cached []Result
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			slog.DebugContext(ctx, "search cache hit", "query", query)
			return cached, nil
		}
		slog.WarnContext(ctx, "discarding corrupt search cache entry", "key", key)
	}

	results, err := c.inner.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(results); err == nil {
		if err := c.cache.Set(ctx, key, string(encoded), c.ttl); err != nil {
			slog.WarnContext(ctx, "search cache write failed", "error", err)
		}
	}
	return results, nil
}

func cacheKey(query string, maxResults int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", query, maxResults)))
	return "zen:search:" + hex.EncodeToString(sum[:16])
}
