// Package misscache remembers book ids the remote store recently confirmed
// do not exist, so repeated lookups of unknown ids do not spend requests
// against a rate-limited API.
package misscache

import (
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize and DefaultTTL bound the cache when no values are configured.
const (
	DefaultSize = 1024
	DefaultTTL  = 10 * time.Minute
)

// Cache is a bounded, expiring set of ids. It is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, struct{}]
}

// New creates a cache holding at most size ids, each for at most ttl.
func New(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 {
		return nil, errors.New("misscache: size must be positive")
	}
	if ttl <= 0 {
		return nil, errors.New("misscache: ttl must be positive")
	}
	return &Cache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}, nil
}

// Add records id as absent upstream.
func (c *Cache) Add(id string) {
	c.lru.Add(id, struct{}{})
}

// Contains reports whether id was recently confirmed absent.
func (c *Cache) Contains(id string) bool {
	// Peek checks expiry; Contains does not.
	_, ok := c.lru.Peek(id)
	return ok
}

// Forget removes id, for example after it turned up in a refresh.
func (c *Cache) Forget(id string) {
	c.lru.Remove(id)
}

// Purge drops every remembered id.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of remembered ids.
func (c *Cache) Len() int {
	return c.lru.Len()
}
