package embedcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheHitAndMiss(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)

	_, ok := c.Get("abc")
	require.False(t, ok)

	c.Put("abc", Entry{Vector: []float32{1, 2, 3}, Model: "m1"})
	entry, ok := c.Get("abc")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, entry.Vector)

	hits, misses := c.Stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Put("a", Entry{Vector: []float32{1}})
	c.Put("b", Entry{Vector: []float32{2}})
	c.Put("c", Entry{Vector: []float32{3}})

	_, ok := c.Get("a")
	require.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("c")
	require.True(t, ok)
}
