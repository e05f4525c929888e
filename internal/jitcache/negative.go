package jitcache

import (
	"sync"
	"time"

	"medsl/internal/dsltypes"
)

const (
	// NegativeSlots bounds the ring buffer of remembered failures.
	NegativeSlots = 256
	shortCooldown = 10 * time.Second
	longCooldown  = 120 * time.Second
	maxRetries    = 2
)

type negativeEntry struct {
	key          uint64
	inUse        bool
	lastFailure  time.Time
	retryAfter   time.Time
	retriesLeft  int
	failureClass dsltypes.FailureClass
}

// NegativeCache remembers recent compile failures per key so repeated
// requests within a cooldown window skip the toolchain entirely.
// Ring-buffer eviction: once full, the oldest slot (by insertion
// order) is reused.
type NegativeCache struct {
	mu    sync.Mutex
	slots [NegativeSlots]negativeEntry
	next  int // next slot to (over)write on a brand new key
	nowFn func() time.Time
}

// NewNegativeCache creates an empty negative cache.
func NewNegativeCache() *NegativeCache {
	return &NegativeCache{nowFn: time.Now}
}

// Lookup returns the entry for key if one exists (expired or not —
// callers check RetryAfter themselves, matching the spec's "on hit
// whose retry_after is in the future" language).
func (c *NegativeCache) Lookup(key uint64) (class dsltypes.FailureClass, retryAfter time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].inUse && c.slots[i].key == key {
			return c.slots[i].failureClass, c.slots[i].retryAfter, true
		}
	}
	return dsltypes.FailureNone, time.Time{}, false
}

// RecordFailure stores or refreshes a failure for key, extending the
// cooldown once retries are exhausted (short while retries remain,
// long after they run out).
func (c *NegativeCache) RecordFailure(key uint64, class dsltypes.FailureClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()

	for i := range c.slots {
		if c.slots[i].inUse && c.slots[i].key == key {
			c.applyFailure(&c.slots[i], now, class)
			return
		}
	}
	for i := range c.slots {
		if !c.slots[i].inUse {
			c.slots[i] = negativeEntry{key: key, inUse: true, retriesLeft: maxRetries}
			c.applyFailure(&c.slots[i], now, class)
			return
		}
	}
	// Full: evict the ring-buffer's next slot.
	slot := &c.slots[c.next]
	*slot = negativeEntry{key: key, inUse: true, retriesLeft: maxRetries}
	c.applyFailure(slot, now, class)
	c.next = (c.next + 1) % NegativeSlots
}

func (c *NegativeCache) applyFailure(e *negativeEntry, now time.Time, class dsltypes.FailureClass) {
	e.lastFailure = now
	e.failureClass = class
	if e.retriesLeft > 0 {
		e.retriesLeft--
	}
	// This failure consumed a retry; once none remain, the second
	// and every later failure for the key gets the long window.
	if e.retriesLeft > 0 {
		e.retryAfter = now.Add(shortCooldown)
	} else {
		e.retryAfter = now.Add(longCooldown)
	}
}

// Clear removes any negative entry for key, called on a positive-
// cache hit per §4.5 step 1.
func (c *NegativeCache) Clear(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].inUse && c.slots[i].key == key {
			c.slots[i] = negativeEntry{}
			return
		}
	}
}
