// ABOUTME: Thread-safe TTL cache for tracking already-rendered message IDs
// ABOUTME: Lets live clients merge history fetches with websocket events safely

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of seen message
// IDs. A live client marks every message it renders; a message arriving
// again, via the history fetch after a reconnect or via the overlap
// between history and the live stream, is detected and skipped.
// A doubly-linked list maintains insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a dedupe cache with the given TTL and maximum size.
// Expired entries are pruned lazily on writes; there is no background
// goroutine, so a Cache needs no Close.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks whether key has been seen and marks it
// if not. Returns true if the key was already seen (duplicate), false if
// it is new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && time.Since(entry.timestamp) < c.ttl {
		return true
	}

	c.markLocked(key)
	return false
}

// Mark records that a key has been seen.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Len reports the number of tracked keys, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	c.pruneExpiredLocked(now)

	// Evict oldest if still at capacity
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
	}
}

// pruneExpiredLocked drops entries older than the TTL, front-first.
func (c *Cache) pruneExpiredLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		key, _ := front.Value.(string)
		entry := c.seen[key]
		if entry == nil || now.Sub(entry.timestamp) <= c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}
