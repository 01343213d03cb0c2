package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is an in-process LRU cache with per-entry expiry. It is not
// shared between processes, so it relies on the invalidation channel for
// coherence.
type MemoryCache struct {
	entries *lru.LRU[string, []byte]
}

// NewMemoryCache holds at most size entries, each for ttl (zero means no expiry)
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size < 10 {
		size = 10
	}
	return &MemoryCache{
		entries: lru.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Get returns a copy of the stored value
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	value, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set stores a copy of value
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	c.entries.Add(key, append([]byte(nil), value...))
	return nil
}

// Unset removes key
func (c *MemoryCache) Unset(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	c.entries.Remove(key)
	return nil
}

// Flush removes every entry
func (c *MemoryCache) Flush(ctx context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of live entries
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
