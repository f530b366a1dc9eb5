package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. Expired entries are dropped lazily on read.
type MemoryCache struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (r *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	r.now = now
	return r
}

func (r *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, ok := r.entries.Load(key)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !r.now().Before(entry.expiresAt) {
		r.entries.CompareAndDelete(key, entry)
		return nil, nil
	}
	return entry.value, nil
}

// Put stores a copy of value. A non-positive ttl never expires.
func (r *MemoryCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.entries.Store(key, entry)
	return nil
}

func (r *MemoryCache) Forget(ctx context.Context, key string) error {
	r.entries.Delete(key)
	return nil
}
