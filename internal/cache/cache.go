// Package cache provides a TTL cache with tag-based invalidation for
// derived/expensive reads. All backing-store access goes through the
// circuit breaker; this layer owns the CanExecute check.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/logger"
)

// ErrCircuitOpen is returned when the breaker rejects a backing-store call.
var ErrCircuitOpen = errors.New("cache backing store circuit open")

// Store is the backing-store surface the manager needs. The production
// implementation is redisq.CacheStore.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration, tags []string) error
	Delete(ctx context.Context, keys ...string) error
	TagMembers(ctx context.Context, tag string) ([]string, error)
	DeleteTags(ctx context.Context, tags []string, cacheKeys []string) error
}

// Manager is the shared cache manager. Tag additions from concurrent jobs
// are safe: the tag index lives in the backing store, not process memory.
type Manager struct {
	store      Store
	brk        *breaker.Breaker
	log        *logger.Logger
	defaultTTL time.Duration
}

// New creates a cache Manager.
func New(store Store, brk *breaker.Breaker, log *logger.Logger, defaultTTL time.Duration) *Manager {
	if log == nil {
		log = logger.GetDefault()
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &Manager{
		store:      store,
		brk:        brk,
		log:        log.WithField(logger.FieldComponent, "cache"),
		defaultTTL: defaultTTL,
	}
}

// guard runs fn under the circuit breaker, recording the outcome.
func (m *Manager) guard(fn func() error) error {
	if !m.brk.CanExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		m.brk.RecordFailure(err)
		return err
	}
	m.brk.RecordSuccess()
	return nil
}

// Get unmarshals the cached value for key into dest. Returns false on a miss
// (including when the circuit is open: a throttled cache read is a miss, not
// an error worth failing a request over).
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var raw string
	var found bool
	err := m.guard(func() error {
		var err error
		raw, found, err = m.store.Get(ctx, key)
		return err
	})
	if err == ErrCircuitOpen {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with the given TTL (0 uses the default) and
// associates it with the given tags at write time.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return m.guard(func() error {
		return m.store.Set(ctx, key, string(data), ttl, tags)
	})
}

// Delete removes entries by key.
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.guard(func() error {
		return m.store.Delete(ctx, keys...)
	})
}

// GetOrSet returns the cached value for key, computing and caching it via
// fill on a miss. A cache layer failure degrades to calling fill directly.
func (m *Manager) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fill func(ctx context.Context) (interface{}, error), tags ...string) error {
	found, err := m.Get(ctx, key, dest)
	if err != nil {
		m.log.WithError(err).Warn("cache read failed, falling through to source")
	}
	if found {
		return nil
	}

	value, err := fill(ctx)
	if err != nil {
		return err
	}

	if err := m.Set(ctx, key, value, ttl, tags...); err != nil {
		m.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}

	// Round-trip through JSON so dest is populated the same way as a hit.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode filled value for %s: %w", key, err)
	}
	return json.Unmarshal(data, dest)
}

// InvalidateByTags deletes every entry carrying any of the given tags in a
// single batch, then drops the tag sets.
func (m *Manager) InvalidateByTags(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var keys []string
	err := m.guard(func() error {
		for _, tag := range tags {
			members, err := m.store.TagMembers(ctx, tag)
			if err != nil {
				return err
			}
			for _, k := range members {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					keys = append(keys, k)
				}
			}
		}
		return m.store.DeleteTags(ctx, tags, keys)
	})
	if err != nil {
		return err
	}

	m.log.WithFields(logger.Fields{
		"tags": tags,
		"keys": len(keys),
	}).Debug("cache entries invalidated by tag")
	return nil
}
