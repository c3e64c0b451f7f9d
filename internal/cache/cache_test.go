package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/classlab/gradeflow/internal/breaker"
)

// memStore is an in-memory Store used by tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]string
	tags    map[string]map[string]struct{}
	failAll bool
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string]string),
		tags:    make(map[string]map[string]struct{}),
	}
}

func (s *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", false, errors.New("store down")
	}
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *memStore) Set(ctx context.Context, key, value string, ttl time.Duration, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.New("store down")
	}
	s.entries[key] = value
	for _, tag := range tags {
		if s.tags[tag] == nil {
			s.tags[tag] = make(map[string]struct{})
		}
		s.tags[tag][key] = struct{}{}
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *memStore) TagMembers(ctx context.Context, tag string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.tags[tag] {
		out = append(out, k)
	}
	return out, nil
}

func (s *memStore) DeleteTags(ctx context.Context, tags []string, cacheKeys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range cacheKeys {
		delete(s.entries, k)
	}
	for _, tag := range tags {
		delete(s.tags, tag)
	}
	return nil
}

func newTestManager(store Store) *Manager {
	return New(store, breaker.New(nil, nil), nil, time.Minute)
}

func TestManager_SetGet(t *testing.T) {
	m := newTestManager(newMemStore())
	ctx := context.Background()

	type stats struct {
		Count int `json:"count"`
	}

	if err := m.Set(ctx, "assignment:a1:stats", stats{Count: 7}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got stats
	found, err := m.Get(ctx, "assignment:a1:stats", &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if got.Count != 7 {
		t.Errorf("got count %d, want 7", got.Count)
	}
}

func TestManager_InvalidateByTags(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()

	m.Set(ctx, "k1", "v1", 0, "assignment:a1")
	m.Set(ctx, "k2", "v2", 0, "assignment:a1", "user:u1")
	m.Set(ctx, "k3", "v3", 0, "user:u2")

	if err := m.InvalidateByTags(ctx, "assignment:a1"); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}

	var s string
	if found, _ := m.Get(ctx, "k1", &s); found {
		t.Error("k1 should have been invalidated")
	}
	if found, _ := m.Get(ctx, "k2", &s); found {
		t.Error("k2 should have been invalidated")
	}
	if found, _ := m.Get(ctx, "k3", &s); !found {
		t.Error("k3 carries a different tag and should survive")
	}
}

func TestManager_InvalidateMultipleTags(t *testing.T) {
	m := newTestManager(newMemStore())
	ctx := context.Background()

	m.Set(ctx, "k1", "v1", 0, "t1")
	m.Set(ctx, "k2", "v2", 0, "t2")

	if err := m.InvalidateByTags(ctx, "t1", "t2"); err != nil {
		t.Fatalf("InvalidateByTags: %v", err)
	}

	var s string
	for _, k := range []string{"k1", "k2"} {
		if found, _ := m.Get(ctx, k, &s); found {
			t.Errorf("%s should have been invalidated", k)
		}
	}
}

func TestManager_GetOrSet(t *testing.T) {
	m := newTestManager(newMemStore())
	ctx := context.Background()

	calls := 0
	fill := func(ctx context.Context) (interface{}, error) {
		calls++
		return map[string]int{"n": calls}, nil
	}

	var got map[string]int
	if err := m.GetOrSet(ctx, "expensive", &got, 0, fill); err != nil {
		t.Fatalf("GetOrSet: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("got %d, want 1", got["n"])
	}

	if err := m.GetOrSet(ctx, "expensive", &got, 0, fill); err != nil {
		t.Fatalf("GetOrSet second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("fill called %d times, want 1 (second read should hit cache)", calls)
	}
}

func TestManager_GetOrSetFallsThroughWhenStoreDown(t *testing.T) {
	store := newMemStore()
	store.failAll = true
	m := newTestManager(store)
	ctx := context.Background()

	var got string
	err := m.GetOrSet(ctx, "k", &got, 0, func(ctx context.Context) (interface{}, error) {
		return "computed", nil
	})
	if err != nil {
		t.Fatalf("GetOrSet should degrade to fill, got error: %v", err)
	}
	if got != "computed" {
		t.Errorf("got %q, want %q", got, "computed")
	}
}

func TestManager_OpenCircuitReadsAsMiss(t *testing.T) {
	store := newMemStore()
	brk := breaker.New(&breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		MonitoringPeriod: time.Hour,
		MaxRequests:      1000,
	}, nil)
	m := New(store, brk, nil, time.Minute)
	ctx := context.Background()

	brk.RecordFailure(errors.New("redis gone"))

	var s string
	found, err := m.Get(ctx, "k", &s)
	if err != nil {
		t.Fatalf("open circuit should read as miss, got error: %v", err)
	}
	if found {
		t.Error("expected miss while circuit is open")
	}
}
