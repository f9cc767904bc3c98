// ABOUTME: Tests for the request id dedupe cache
// ABOUTME: Uses an injected clock for TTL behavior

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return newCache(ttl, size, clock.now), clock
}

func TestCache_ClaimOnce(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.True(t, c.Claim("req-1"))
	assert.False(t, c.Claim("req-1"))
	assert.True(t, c.Claim("req-2"))
}

func TestCache_ClaimAfterExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	assert.True(t, c.Claim("req-1"))
	clock.advance(59 * time.Second)
	assert.False(t, c.Claim("req-1"))
	clock.advance(2 * time.Second)
	assert.True(t, c.Claim("req-1"))
}

func TestCache_Release(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.True(t, c.Claim("req-1"))
	c.Release("req-1")
	assert.True(t, c.Claim("req-1"), "released key can be claimed again")
	c.Release("never-claimed")
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)

	for i := range 3 {
		assert.True(t, c.Claim(fmt.Sprintf("k%d", i)))
		clock.advance(time.Second)
	}
	assert.True(t, c.Claim("k3"))
	assert.Equal(t, 3, c.Len())

	assert.True(t, c.Claim("k0"), "oldest was evicted")
	assert.False(t, c.Claim("k3"))
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.Claim("old")
	clock.advance(45 * time.Second)
	c.Claim("new")
	clock.advance(30 * time.Second)

	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Claim("new"))
}

func TestCache_ScopedKeys(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.True(t, c.Claim(Key("session-a", "req-1")))
	assert.True(t, c.Claim(Key("session-b", "req-1")))
	assert.False(t, c.Claim(Key("session-a", "req-1")))
}

func TestCache_ConcurrentClaimIsExclusive(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if c.Claim("contended") {
				wins.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Second, 10)
	c.Close()
	c.Close()
}
