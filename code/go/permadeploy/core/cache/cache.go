package cache

import (
	"errors"
	"time"

	kcache "github.com/koding/cache"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = kcache.ErrNotFound

type Cache interface {
	Add(key string, value interface{}) error
	Get(key string) (interface{}, error)
	Delete(key string) error
}

// memoryCache is a TTL cache; entries silently expire after ttl.
type memoryCache struct {
	inner *kcache.MemoryTTL
}

// NewMemoryCache returns a Cache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) Cache {
	c := kcache.NewMemoryWithTTL(ttl)
	c.StartGC(ttl)
	return &memoryCache{inner: c}
}

func (c *memoryCache) Add(key string, value interface{}) error {
	return c.inner.Set(key, value)
}

func (c *memoryCache) Get(key string) (interface{}, error) {
	return c.inner.Get(key)
}

func (c *memoryCache) Delete(key string) error {
	err := c.inner.Delete(key)
	if errors.Is(err, kcache.ErrNotFound) {
		return nil
	}
	return err
}
