// ABOUTME: Generic thread-safe TTL cache with a size bound and oldest-first eviction
// ABOUTME: Backs the Matrix adapter's entity cache and its sync-event dedupe

package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
	element *list.Element
}

// Cache maps keys to values for at most ttl each, holding at most maxSize
// entries. Inserting past capacity evicts the least recently written entry.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*entry[K, V]
	order   *list.List // keys, oldest write at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts a goroutine sweeping expired entries once
// per sweep interval. Call Close to stop it.
func New[K comparable, V any](ttl time.Duration, maxSize int) *Cache[K, V] {
	c := newCache[K, V](ttl, maxSize, time.Now)
	go c.sweepLoop(time.Minute)
	return c
}

func newCache[K comparable, V any](ttl time.Duration, maxSize int, now func() time.Time) *Cache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache[K, V]{
		items:   make(map[K]*entry[K, V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Get returns the value for key if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, refreshing its expiry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// Seen reports whether key was already marked and unexpired, and marks it
// if not. The check and the mark happen under one lock.
func (c *Cache[K, V]) Seen(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok && c.now().Before(e.expires) {
		return true
	}
	c.setLocked(key, value)
	return false
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.order.Remove(e.element)
		delete(c.items, key)
	}
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	expires := c.now().Add(c.ttl)

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expires = expires
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.items) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest := front.Value.(K)
			c.order.Remove(front)
			delete(c.items, oldest)
		}
	}

	e := &entry[K, V]{key: key, value: value, expires: expires}
	e.element = c.order.PushBack(key)
	c.items[key] = e
}

func (c *Cache[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops every expired entry.
func (c *Cache[K, V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.items {
		if !now.Before(e.expires) {
			c.order.Remove(e.element)
			delete(c.items, key)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
