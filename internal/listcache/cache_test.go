package listcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullcache/cachemgr/internal/listcache"
)

func TestGetMissThenHitAfterPut(t *testing.T) {
	c, err := listcache.New(4)
	require.NoError(t, err)

	_, ok := c.Get(1)
	require.False(t, ok)

	c.Put(1, "active auto/warm A")
	body, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, "active auto/warm A", body)

	hits, misses := c.Stats()
	require.Equal(t, int64(1), hits)
	require.Equal(t, int64(1), misses)
}

func TestDifferentEpochIsACacheMiss(t *testing.T) {
	c, err := listcache.New(4)
	require.NoError(t, err)
	c.Put(1, "body at epoch 1")

	_, ok := c.Get(2)
	require.False(t, ok, "a new epoch must not see the old epoch's cached body")
}

func TestEvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	c, err := listcache.New(2)
	require.NoError(t, err)

	c.Put(1, "a")
	c.Put(2, "b")
	c.Put(3, "c")

	_, ok := c.Get(1)
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(3)
	require.True(t, ok)
}
