// ABOUTME: Thread-safe TTL cache that claims client request ids exactly once
// ABOUTME: Guards message sends and broadcasts against double submission

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used by the HTTP API.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

type entry struct {
	claimedAt time.Time
	element   *list.Element
}

// Cache records claimed keys for a TTL, bounded in size. The oldest claim is
// evicted first when full.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*entry
	order   *list.List // keys oldest first
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache with the given TTL and maximum size. Non-positive values
// take the defaults. A background goroutine sweeps expired claims until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop(sweepInterval(c.ttl))
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		claims:  make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Key joins a scope and a client request id.
func Key(scope, requestID string) string {
	return scope + "\x00" + requestID
}

// Claim atomically marks key. It returns true the first time key is claimed
// within the TTL and false for every repeat.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.claims[key]; ok {
		if now.Sub(e.claimedAt) < c.ttl {
			return false
		}
		c.order.Remove(e.element)
		delete(c.claims, key)
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.claims[key] = &entry{
		claimedAt: now,
		element:   c.order.PushBack(key),
	}
	return true
}

// Release forgets key so the same request id may be retried, used when the
// claimed operation was rejected before doing anything.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.claims[key]; ok {
		c.order.Remove(e.element)
		delete(c.claims, key)
	}
}

// Len returns the number of live claims, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
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

// sweep drops expired claims. Claims are ordered by time, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.claims[key].claimedAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.claims, key)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
