package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason says why an entry left the cache.
type EvictReason int

const (
	// EvictDeleted means the entry was removed with Delete.
	EvictDeleted EvictReason = iota
	// EvictExpired means the entry outlived its TTL.
	EvictExpired
	// EvictCapacity means the entry was the least recently used one when the
	// cache grew past its size.
	EvictCapacity
	// EvictReplaced means Set stored a new value under the same key.
	EvictReplaced
)

func (r EvictReason) String() string {
	switch r {
	case EvictDeleted:
		return "deleted"
	case EvictExpired:
		return "expired"
	case EvictCapacity:
		return "capacity"
	case EvictReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// EvictFunc is called once for every value that leaves the cache, after the
// cache lock has been released.
type EvictFunc[T any] func(key string, value T, reason EvictReason)

// LRUCache is an LRU cache with TTL and size-based eviction.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
	onEvict EvictFunc[T]
	now     func() time.Time
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

type eviction[T any] struct {
	key    string
	data   T
	reason EvictReason
}

// NewLRUCache creates a new LRU cache with TTL
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// OnEvict installs fn as the eviction callback and returns the cache.
func (c *LRUCache[T]) OnEvict(fn EvictFunc[T]) *LRUCache[T] {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
	return c
}

// Get retrieves a value from the cache. A hit refreshes the entry's
// position but not its expiry.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	var zero T

	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return zero, false
	}
	item := elem.Value.(*cacheItem[T])
	if c.now().After(item.expiresAt) {
		ev := c.removeElement(elem, EvictExpired)
		c.mu.Unlock()
		c.notify(ev)
		return zero, false
	}
	c.lru.MoveToFront(elem)
	c.mu.Unlock()
	return item.data, true
}

// Touch extends the expiry of key by a full TTL. It reports whether the key
// was present and still live.
func (c *LRUCache[T]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return false
	}
	item := elem.Value.(*cacheItem[T])
	now := c.now()
	if now.After(item.expiresAt) {
		return false
	}
	item.expiresAt = now.Add(c.ttl)
	c.lru.MoveToFront(elem)
	return true
}

// Set stores a value in the cache
func (c *LRUCache[T]) Set(key string, data T) {
	var evicted []eviction[T]

	c.mu.Lock()
	item := &cacheItem[T]{
		key:       key,
		data:      data,
		expiresAt: c.now().Add(c.ttl),
	}

	if elem, exists := c.items[key]; exists {
		old := elem.Value.(*cacheItem[T])
		evicted = append(evicted, eviction[T]{key: key, data: old.data, reason: EvictReplaced})
		elem.Value = item
		c.lru.MoveToFront(elem)
	} else {
		c.items[key] = c.lru.PushFront(item)
		for c.lru.Len() > c.maxSize {
			evicted = append(evicted, c.removeElement(c.lru.Back(), EvictCapacity))
		}
	}
	c.mu.Unlock()

	c.notify(evicted...)
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) bool {
	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false
	}
	ev := c.removeElement(elem, EvictDeleted)
	c.mu.Unlock()

	c.notify(ev)
	return true
}

// Purge removes every entry, reporting each one as deleted.
func (c *LRUCache[T]) Purge() int {
	c.mu.Lock()
	evicted := make([]eviction[T], 0, c.lru.Len())
	for elem := c.lru.Back(); elem != nil; elem = c.lru.Back() {
		evicted = append(evicted, c.removeElement(elem, EvictDeleted))
	}
	c.mu.Unlock()

	c.notify(evicted...)
	return len(evicted)
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	now := c.now()
	var evicted []eviction[T]
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*cacheItem[T]).expiresAt) {
			evicted = append(evicted, c.removeElement(elem, EvictExpired))
		}
		elem = next
	}
	c.mu.Unlock()

	c.notify(evicted...)
	return len(evicted)
}

// Size returns the current number of items in the cache
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRUCache[T]) removeElement(elem *list.Element, reason EvictReason) eviction[T] {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
	return eviction[T]{key: item.key, data: item.data, reason: reason}
}

func (c *LRUCache[T]) notify(evicted ...eviction[T]) {
	c.mu.Lock()
	fn := c.onEvict
	c.mu.Unlock()
	if fn == nil {
		return
	}
	for _, ev := range evicted {
		fn(ev.key, ev.data, ev.reason)
	}
}
