package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	counter int64
	expires time.Time
}

// MemoryCache is a process-local Store for tests and single-node development.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]*memEntry), now: time.Now}
}

func (c *MemoryCache) live(key string) *memEntry {
	e, ok := c.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.data, key)
		return nil
	}
	return e
}

func (c *MemoryCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live(key) != nil {
		return false, nil
	}
	c.data[key] = &memEntry{value: append([]byte(nil), value...), expires: c.deadline(ttl)}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = &memEntry{value: append([]byte(nil), value...), expires: c.deadline(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memEntry{expires: c.deadline(window)}
		c.data[key] = e
	}
	e.counter++
	return e.counter, nil
}
