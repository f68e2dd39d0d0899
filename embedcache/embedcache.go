// Package embedcache fronts the truth store's persistent embedding cache
// with an in-process LRU, so a hot re-ingestion loop over many documents
// does not round-trip Postgres for every paragraph whose content hash was
// just seen.
package embedcache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// Entry is a cached embedding plus the model tag it was produced with, so a
// cache hit can still be invalidated by a model change.
type Entry struct {
	Vector []float32
	Model  string
}

// Cache is an LRU keyed by content hash, with hit/miss counters mirroring
// the timing/size logging the teacher repo does around every embedding call.
type Cache struct {
	inner  *lru.Cache
	hits   uint64
	misses uint64
}

// New builds a Cache holding up to size entries.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	inner, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached entry for contentHash, counting the lookup as a
// hit or a miss.
func (c *Cache) Get(contentHash string) (Entry, bool) {
	v, ok := c.inner.Get(contentHash)
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return Entry{}, false
	}
	atomic.AddUint64(&c.hits, 1)
	return v.(Entry), true
}

// Put stores an embedding under its content hash.
func (c *Cache) Put(contentHash string, entry Entry) {
	c.inner.Add(contentHash, entry)
}

// Stats returns cumulative hit and miss counts since the cache was created.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}
