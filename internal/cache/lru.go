// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

// Package cache provides a bounded LRU cache with TTL used for
// per-request personalization state (taste profiles, blocklists) so one
// selection does not hit the store once per candidate. Instances are
// explicitly owned and passed to their consumers; there is no package
// singleton, so tests instantiate isolated caches.
package cache

import (
	"sync"
	"time"
)

// entry is a node in the doubly-linked recency list.
type entry struct {
	key       string
	value     interface{}
	prev      *entry
	next      *entry
	expiresAt time.Time
}

// LRU is a thread-safe least-recently-used cache with lazy TTL
// expiration. Get, Put, Remove, and eviction are all O(1), using a
// doubly-linked list for ordering and a map for lookup.
type LRU struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*entry

	// head.next is most recently used, tail.prev least recently used.
	head *entry
	tail *entry

	hits   int64
	misses int64

	// now allows tests to control time.
	now func() time.Time
}

// NewLRU creates a cache holding at most capacity entries, each living
// for ttl after insertion or update.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	c := &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
		now:      time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// SetClock overrides the cache's time source. Tests only.
func (c *LRU) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value for key. Expired entries are removed on
// access. A hit refreshes recency but not TTL.
func (c *LRU) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.remove(e)
		c.misses++
		return nil, false
	}

	c.moveToFront(e)
	c.hits++
	return e.value, true
}

// Put adds or replaces the value for key, evicting the least recently
// used entry when over capacity.
func (c *LRU) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove deletes key, reporting whether it was present.
func (c *LRU) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Len returns the number of entries, counting not-yet-collected
// expired ones.
func (c *LRU) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear drops all entries.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// CleanupExpired removes expired entries eagerly and returns how many
// were dropped. Lazy expiry keeps reads correct without this; it only
// bounds memory between accesses.
func (c *LRU) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			c.remove(e)
			removed++
		}
		e = prev
	}
	return removed
}

// Stats returns hit/miss counters and current size.
func (c *LRU) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// list operations, called with the lock held

func (c *LRU) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *LRU) remove(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

func (c *LRU) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.remove(oldest)
}
