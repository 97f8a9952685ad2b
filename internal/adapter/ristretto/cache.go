// Package ristretto implements the cache.Cache port on dgraph-io/ristretto.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/magnus-suite/magnus-sync/internal/port/cache"
)

// Cache is an in-process TTL cache. Admission is cost-based on the value's
// byte length.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

var _ cache.Cache = (*Cache)(nil)

// New creates a cache bounded to maxBytes.
func New(maxBytes int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Cache{inner: inner}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := c.inner.Get(key)
	return data, ok, nil
}

func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}
