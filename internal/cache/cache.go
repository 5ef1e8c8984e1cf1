// Package cache provides a bounded LRU keyed by normalized query text, so
// repeated questions skip embedding and generation entirely.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"unicode"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 256

// Normalize canonicalizes a query for use as a cache key: case-folded,
// punctuation stripped, whitespace collapsed. "What Causes Diabetes?" and
// "what causes diabetes" share one entry.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	pendingSpace := false
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

type entry[V any] struct {
	key   string
	value V
}

// Cache is a mutex-guarded LRU. Get refreshes recency; Put evicts the
// least-recently-used entry on overflow. Safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	items    map[string]*list.Element
}

// New creates a cache. Non-positive capacities fall back to
// DefaultCapacity.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get looks up the normalized query and refreshes its recency on a hit.
func (c *Cache[V]) Get(query string) (V, bool) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*entry[V]).value, true
}

// Put stores a value under the normalized query, evicting the
// least-recently-used entry when at capacity.
func (c *Cache[V]) Put(query string, value V) {
	key := Normalize(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value})

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[V]).key)
	}
}

// InvalidateAll empties the cache. Must be called after an index rebuild:
// cached answers cite a specific index snapshot.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}

// Len reports the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
