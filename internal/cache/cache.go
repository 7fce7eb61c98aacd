// Package cache implements the always-on, size-bounded LRU described in
// spec.md §4.4: fresh entries are served directly, stale entries are
// served immediately while a background refresh runs, and entries are
// never evicted by TTL expiry alone — only by LRU capacity pressure or
// explicit invalidation.
//
// The LRU itself is grounded on the teacher's cache.Cache
// (cache/cache.go): a map keyed by the cache key paired with a
// container/list for recency, both guarded by one mutex.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Key identifies a cache entry. It ignores the inbound transaction ID and
// any EDNS options beyond qname/qtype/qclass, per spec.md §4.4.
type Key struct {
	Name  string
	Qtype uint16
	Class uint16
}

// KeyFromQuestion builds a Key from a DNS question, case-folding and
// trailing-dot-stripping the name so that lookups are insensitive to wire
// formatting differences.
func KeyFromQuestion(q dns.Question) Key {
	return Key{
		Name:  strings.ToLower(strings.TrimSuffix(q.Name, ".")),
		Qtype: q.Qtype,
		Class: q.Qclass,
	}
}

// Status reports what Get found.
type Status int

const (
	Miss Status = iota
	Fresh
	Stale
)

type entry struct {
	msg        *dns.Msg
	insertedAt time.Time
	minTTL     time.Duration
	refreshing bool
	elem       *list.Element
}

// Cache is a concurrency-safe, size-bounded, stale-while-revalidate LRU.
type Cache struct {
	maxSize int

	mu      sync.Mutex
	entries map[Key]*entry
	lru     *list.List // list of Key, most-recently-used at the back

	wg sync.WaitGroup // tracks in-flight background refreshes, for shutdown
}

// New returns a Cache that holds at most maxSize entries. maxSize == 0
// disables caching: Get always misses and Put never succeeds, per
// spec.md §8's boundary behavior.
func New(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		entries: map[Key]*entry{},
		lru:     list.New(),
	}
}

// Get looks up key and reports whether the entry is Fresh, Stale, or
// absent. LRU position is refreshed on both Fresh and Stale hits, per
// spec.md §4.4.
func (c *Cache) Get(key Key) (*dns.Msg, Status) {
	if c.maxSize == 0 {
		return nil, Miss
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, Miss
	}

	c.lru.MoveToBack(e.elem)

	if time.Since(e.insertedAt) < e.minTTL {
		return e.msg.Copy(), Fresh
	}
	return e.msg.Copy(), Stale
}

// Put inserts or overwrites the entry for key, evicting the
// least-recently-used entry if the cache is at capacity. Put is a no-op
// when the cache is disabled (maxSize == 0).
func (c *Cache) Put(key Key, msg *dns.Msg, ttl time.Duration) {
	if c.maxSize == 0 {
		return
	}
	if ttl < time.Second {
		ttl = time.Second // min_ttl is clamped to >= 1s, per spec.md §3
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.msg = msg.Copy()
		e.insertedAt = time.Now()
		e.minTTL = ttl
		e.refreshing = false
		c.lru.MoveToBack(e.elem)
		return
	}

	e := &entry{
		msg:        msg.Copy(),
		insertedAt: time.Now(),
		minTTL:     ttl,
	}
	e.elem = c.lru.PushBack(key)
	c.entries[key] = e

	c.evictLocked()
}

// MarkRefreshing atomically flips refreshing from false to true for key's
// entry and reports whether this call won the race. Callers that win are
// responsible for calling Put (on success) or ClearRefreshing (on failure).
// A key with no entry cannot be marked (it is already a Miss, which the
// caller resolves synchronously instead).
func (c *Cache) MarkRefreshing(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.refreshing {
		return false
	}
	e.refreshing = true
	return true
}

// ClearRefreshing resets the refreshing flag after a failed background
// refresh, so a later query may try again.
func (c *Cache) ClearRefreshing(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.refreshing = false
	}
}

// Invalidate explicitly removes key's entry, independent of LRU pressure.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, key)
	}
}

func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxSize {
		front := c.lru.Front()
		if front == nil {
			return
		}
		key := front.Value.(Key)
		c.lru.Remove(front)
		delete(c.entries, key)
	}
}

// Len reports the number of entries currently held, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Refresh runs fn in a tracked background goroutine, crediting or clearing
// the refreshing flag based on the outcome. It is the only way callers
// should launch the stale-while-revalidate background task, so Wait can
// reliably join every in-flight refresh at shutdown.
func (c *Cache) Refresh(key Key, fn func() (*dns.Msg, time.Duration, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		msg, ttl, err := fn()
		if err != nil {
			c.ClearRefreshing(key)
			return
		}
		c.Put(key, msg, ttl)
	}()
}

// Wait blocks until all in-flight background refreshes have completed,
// used by the server to avoid leaking goroutines on shutdown.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// MinTTL computes the minimum TTL across all answer RRs of msg, clamped to
// at least one second, per spec.md §3's cache entry definition.
func MinTTL(msg *dns.Msg) time.Duration {
	if msg == nil || len(msg.Answer) == 0 {
		return time.Second
	}
	min := msg.Answer[0].Header().Ttl
	for _, rr := range msg.Answer[1:] {
		if ttl := rr.Header().Ttl; ttl < min {
			min = ttl
		}
	}
	ttl := time.Duration(min) * time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
