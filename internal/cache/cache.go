// Package cache implements the analysis cache: a
// thread-safe, TTL-keyed memoization layer for semantic models,
// taint-flow result sets, and coupling findings.
package cache

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Key identifies one cached value: a content hash of the fact-store
// fingerprint, the policy fingerprint, and the analyzer version.
// hash/fnv is sufficient for an in-process cache key; collisions only
// cost a recomputation.
type Key struct {
	StoreFingerprint  uint64
	PolicyFingerprint uint64
	AnalyzerVersion   string
}

// NewKey hashes the three inputs into a single comparable Key.
func NewKey(storeFP, policyFP uint64, analyzerVersion string) Key {
	return Key{StoreFingerprint: storeFP, PolicyFingerprint: policyFP, AnalyzerVersion: analyzerVersion}
}

// Fingerprint hashes arbitrary byte content with fnv-1a, for callers that
// need to compute a StoreFingerprint/PolicyFingerprint from raw bytes.
func Fingerprint(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// Stats reports cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// Add merges another Stats into this one, for callers aggregating
// several caches into one RunSummary.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Hits:      s.Hits + o.Hits,
		Misses:    s.Misses + o.Misses,
		Evictions: s.Evictions + o.Evictions,
		Entries:   s.Entries + o.Entries,
	}
}

// entry wraps a cached value with its own expiry, so Put and PutTTL can
// give each entry a distinct TTL on top of the LRU's single default.
type entry[V any] struct {
	value   V
	expires time.Time
}

// Cache wraps expirable.LRU, which already synchronizes readers/writers
// internally and bounds entry count. Get treats an expired entry as
// absent without removing it; CleanupExpired physically removes expired
// entries. On top, relaxed atomic hit/miss/eviction counters and
// singleflight miss coalescing.
type Cache[V any] struct {
	lru        *lru.LRU[Key, entry[V]]
	defaultTTL time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	group singleflight.Group
}

// New builds a Cache with the given default TTL and maximum entry
// count. The LRU's own TTL backstop is set to
// zero (never), since per-entry expiry is enforced here.
func New[V any](defaultTTL time.Duration, maxEntries int) *Cache[V] {
	return &Cache[V]{
		lru:        lru.NewLRU[Key, entry[V]](maxEntries, nil, 0),
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached value for key, or the zero value and false if
// absent or expired. An expired entry is treated as absent but left in
// place for the next CleanupExpired pass.
func (c *Cache[V]) Get(key Key) (V, bool) {
	e, ok := c.lru.Get(key)
	if ok && time.Now().Before(e.expires) {
		c.hits.Add(1)
		return e.value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Put overwrites any existing entry, using the cache's default TTL.
func (c *Cache[V]) Put(key Key, value V) {
	c.PutTTL(key, value, c.defaultTTL)
}

// PutTTL overwrites any existing entry with an explicit per-entry TTL.
func (c *Cache[V]) PutTTL(key Key, value V, ttl time.Duration) {
	c.lru.Add(key, entry[V]{value: value, expires: time.Now().Add(ttl)})
}

// GetOrCompute coalesces concurrent misses for the same key via
// singleflight: only one caller actually runs compute; the rest join its
// result.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	sfKey := formatKey(key)
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		val, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, val)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func formatKey(k Key) string {
	h := fnv.New64a()
	var buf [8]byte
	putUint64(buf[:], k.StoreFingerprint)
	h.Write(buf[:])
	putUint64(buf[:], k.PolicyFingerprint)
	h.Write(buf[:])
	h.Write([]byte(k.AnalyzerVersion))
	return string(h.Sum(nil))
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// CleanupExpired removes every entry past its TTL, incrementing the
// eviction counter per removal. Idempotent.
func (c *Cache[V]) CleanupExpired() {
	now := time.Now()
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && !now.Before(e.expires) {
			c.lru.Remove(k)
			c.evictions.Add(1)
		}
	}
}

// Stats reports the cumulative counters and current entry count.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.lru.Len(),
	}
}
