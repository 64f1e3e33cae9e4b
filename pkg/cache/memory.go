package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 10000

// MemoryCache is a bounded, process-local LRU whose entries expire a fixed
// TTL after they were written.
type MemoryCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, string]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMemorySize
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *MemoryCache) GetIfPresent(ctx context.Context, key string) (string, error) {
	v, ok := m.lru.Peek(key)
	if !ok || v == "" {
		return "", ErrMiss
	}
	return v, nil
}

func (m *MemoryCache) Put(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, value)
	return nil
}

func (m *MemoryCache) PutIfAbsent(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lru.Peek(key); ok {
		return false, nil
	}
	m.lru.Add(key, value)
	return true, nil
}

func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	// Contains does not check expiry, Peek does.
	_, ok := m.lru.Peek(key)
	return ok, nil
}

func (m *MemoryCache) Invalidate(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}
