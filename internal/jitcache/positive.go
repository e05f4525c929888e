// Package jitcache implements the three cooperating runtime caches
// described in §4.5 of the originating spec: an in-process positive
// cache of loaded kernels, an on-disk artifact cache, and an
// in-process negative cache of recent failures with cooldowns.
//
// The teacher's internal/module.ModuleLoader guards its cache map with
// a plain sync.RWMutex and the teacher's internal/concurrency package
// favors small mutex-guarded structs over elaborate lock-free designs;
// we follow the same shape here, with critical sections kept to slot
// lookup/update only (the design note in the originating spec is
// explicit that toolchain invocation must happen outside the lock).
package jitcache

import (
	"sync"
	"unsafe"
)

// PositiveSlots bounds the number of distinct kernels the process-wide
// positive cache retains for its lifetime (spec: "O(64) slots").
const PositiveSlots = 64

// Symbol is the narrow interface over a loaded, callable kernel. Both
// package nativecc and package embedcc implement it; the positive
// cache and the compiled-program container only ever see this
// interface, never backend-specific state.
type Symbol interface {
	// Invoke calls the kernel with the fixed C-ABI signature
	// int(const void**, void*, int64_t), returning its status.
	Invoke(inputs []unsafe.Pointer, output unsafe.Pointer, nitems int64) int
	// Close releases the loaded artifact. Safe to call once; the
	// caller (compiled program or positive cache) is responsible for
	// never double-closing — see PositiveCache.Bind.
	Close() error
}

type positiveEntry struct {
	key   uint64
	sym   Symbol
	inUse bool
}

// PositiveCache is the bounded, first-free-insertion positive cache.
// Duplicate keys return the already-cached handle; Bind itself closes
// the handle a caller opened speculatively before losing the race.
type PositiveCache struct {
	mu      sync.Mutex
	slots   [PositiveSlots]positiveEntry
	enabled bool
}

// NewPositiveCache creates a cache; enabled mirrors
// ME_DSL_JIT_POS_CACHE.
func NewPositiveCache(enabled bool) *PositiveCache {
	return &PositiveCache{enabled: enabled}
}

// Lookup returns the cached symbol for key, if any.
func (c *PositiveCache) Lookup(key uint64) (Symbol, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].inUse && c.slots[i].key == key {
			return c.slots[i].sym, true
		}
	}
	return nil, false
}

// Bind inserts sym under key into the first free slot, or — if the
// table is full — simply doesn't cache it (the table size bounds
// retention; it is not an error to fail to cache). If key is already
// present (a concurrent compile raced and won), the caller's sym is
// redundant and Bind closes it, returning the already-cached one
// instead.
//
// callerOwns reports whether the caller is now responsible for
// eventually closing the returned Symbol itself: true when the cache
// is disabled or its table was full and declined to retain sym, false
// whenever a slot (this call's own insertion, or an earlier racing
// one) now holds the reference and its lifetime governs Symbol
// instead.
func (c *PositiveCache) Bind(key uint64, sym Symbol) (cached Symbol, callerOwns bool) {
	if !c.enabled {
		return sym, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].inUse && c.slots[i].key == key {
			// A caller re-binding the exact handle already cached
			// (e.g. two waiters sharing one coalesced compile result)
			// has nothing redundant to close.
			if c.slots[i].sym != sym {
				sym.Close()
			}
			return c.slots[i].sym, false
		}
	}
	for i := range c.slots {
		if !c.slots[i].inUse {
			c.slots[i] = positiveEntry{key: key, sym: sym, inUse: true}
			return sym, false
		}
	}
	// Table full: caller keeps ownership and must close sym itself
	// when its compiled program is released.
	return sym, true
}
