// Package listcache caches the rendered vcl.list body the dispatcher
// produces when no worker is attached, adapted from the teacher's
// pkg/history/cache in-memory tier — same "cache.Get/Put keyed by a
// generation marker" idea, but backed by hashicorp/golang-lru instead of
// the teacher's hand-rolled map+mutex L1Cache (that file's own TODO says
// to replace it with a real library; this is that replacement, applied to
// a different cache).
package listcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes rendered list bodies keyed by registry epoch: a counter
// the dispatcher bumps on every mutating command. Any mutation invalidates
// every previously cached body implicitly, since it will carry a new,
// never-seen epoch.
type Cache struct {
	lru  *lru.Cache[int64, string]
	hits int64
	miss int64
}

// New builds a Cache holding at most size rendered bodies.
func New(size int) (*Cache, error) {
	l, err := lru.New[int64, string](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached body for epoch, if present.
func (c *Cache) Get(epoch int64) (string, bool) {
	body, ok := c.lru.Get(epoch)
	if ok {
		c.hits++
	} else {
		c.miss++
	}
	return body, ok
}

// Put stores body under epoch.
func (c *Cache) Put(epoch int64, body string) {
	c.lru.Add(epoch, body)
}

// Stats returns (hits, misses) since construction, for the metrics package.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits, c.miss
}
