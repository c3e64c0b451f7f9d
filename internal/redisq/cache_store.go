package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore persists cache entries and their tag reverse-index sets in
// Redis. Tag sets carry no TTL; stale members are dropped on invalidation.
type CacheStore struct {
	rdb  *redis.Client
	keys *Keys
}

// NewCacheStore creates a CacheStore over the shared client.
func NewCacheStore(rdb *redis.Client, keys *Keys) *CacheStore {
	return &CacheStore{rdb: rdb, keys: keys}
}

// Get returns the value for key and whether it was present.
func (s *CacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.keys.Cache(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes a value with a TTL and registers the key under each tag's
// reverse index in a single pipeline.
func (s *CacheStore) Set(ctx context.Context, key, value string, ttl time.Duration, tags []string) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, s.keys.Cache(key), value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, s.keys.Tag(tag), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// Delete removes cache entries by key.
func (s *CacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.keys.Cache(k)
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// TagMembers returns the cache keys registered under a tag.
func (s *CacheStore) TagMembers(ctx context.Context, tag string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, s.keys.Tag(tag)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tag %s: %w", tag, err)
	}
	return members, nil
}

// DeleteTags removes cache entries under any of the given tags plus the tag
// sets themselves, in one batch.
func (s *CacheStore) DeleteTags(ctx context.Context, tags []string, cacheKeys []string) error {
	pipe := s.rdb.Pipeline()
	if len(cacheKeys) > 0 {
		full := make([]string, len(cacheKeys))
		for i, k := range cacheKeys {
			full[i] = s.keys.Cache(k)
		}
		pipe.Del(ctx, full...)
	}
	for _, tag := range tags {
		pipe.Del(ctx, s.keys.Tag(tag))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate tags: %w", err)
	}
	return nil
}
