// Package engine manages the process-wide lifecycle of the TLS engine's
// shared state: a reference-counted init/teardown protocol, a fixed table of
// lock slots, and a registry of dynamically created locks.
//
// The engine's shared state is not safe to use without this synchronization
// layer, so every holder (each socket factory) takes a reference with Acquire
// and drops it with Release. Init happens on the 0->1 transition, teardown on
// 1->0. The lock table must only be reached through this package's API.
package engine

import (
	"crypto/rand"
	"fmt"
	"sync"
)

// NumLockSlots is the declared slot count of the fixed lock table.
const NumLockSlots = 64

var lifecycle struct {
	mu      sync.Mutex
	refs    uint64
	table   []sync.Mutex
	dyn     map[uint64]*sync.Mutex
	nextDyn uint64
}

// Acquire takes one reference on the engine, initializing it on the first
// reference: the lock table is allocated and the random source is verified.
// A lock-table allocation failure is fatal to the caller; the engine cannot
// run safely without it, so the error is reported rather than retried.
func Acquire() error {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	if lifecycle.refs == 0 {
		if err := initialize(); err != nil {
			return err
		}
	}
	lifecycle.refs++
	return nil
}

// Release drops one reference, tearing the engine down on the last one.
// Releasing without a matching Acquire is a caller bug and panics.
func Release() {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	if lifecycle.refs == 0 {
		panic("engine: release without matching acquire")
	}
	lifecycle.refs--
	if lifecycle.refs == 0 {
		teardown()
	}
}

// Initialized reports whether the engine currently holds live state.
func Initialized() bool {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.table != nil
}

// Refs returns the current reference count.
func Refs() uint64 {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.refs
}

// initialize runs under lifecycle.mu.
func initialize() error {
	table, err := allocLockTable(NumLockSlots)
	if err != nil {
		return fmt.Errorf("engine: lock table: %w", err)
	}
	if err := seedRandom(); err != nil {
		return fmt.Errorf("engine: seed random source: %w", err)
	}
	lifecycle.table = table
	lifecycle.dyn = make(map[uint64]*sync.Mutex)
	return nil
}

// teardown runs under lifecycle.mu.
func teardown() {
	lifecycle.table = nil
	lifecycle.dyn = nil
	lifecycle.nextDyn = 0
}

func allocLockTable(slots int) ([]sync.Mutex, error) {
	if slots <= 0 {
		return nil, fmt.Errorf("invalid slot count %d", slots)
	}
	return make([]sync.Mutex, slots), nil
}

// seedRandom confirms the engine's entropy source is usable before any
// session depends on it.
func seedRandom() error {
	var buf [32]byte
	_, err := rand.Read(buf[:])
	return err
}

// LockSlot locks the fixed-table slot n. Slot indices wrap, mirroring how the
// engine keys its internal structures onto a fixed number of locks.
func LockSlot(n int) {
	slot(n).Lock()
}

// UnlockSlot unlocks the fixed-table slot n.
func UnlockSlot(n int) {
	slot(n).Unlock()
}

func slot(n int) *sync.Mutex {
	lifecycle.mu.Lock()
	table := lifecycle.table
	lifecycle.mu.Unlock()
	if table == nil {
		panic("engine: lock table used before initialization")
	}
	if n < 0 {
		n = -n
	}
	return &table[n%len(table)]
}

// NewDynLock creates an on-demand lock and returns its handle. The lock lives
// until DestroyDynLock or engine teardown.
func NewDynLock() uint64 {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	if lifecycle.dyn == nil {
		panic("engine: dynamic lock created before initialization")
	}
	lifecycle.nextDyn++
	id := lifecycle.nextDyn
	lifecycle.dyn[id] = &sync.Mutex{}
	return id
}

// LockDyn locks the dynamic lock id. Locking a destroyed or unknown handle is
// a no-op, matching the engine's tolerance for late callbacks.
func LockDyn(id uint64) {
	if m := dynLock(id); m != nil {
		m.Lock()
	}
}

// UnlockDyn unlocks the dynamic lock id.
func UnlockDyn(id uint64) {
	if m := dynLock(id); m != nil {
		m.Unlock()
	}
}

// DestroyDynLock frees the dynamic lock id once the owner signals it is no
// longer needed.
func DestroyDynLock(id uint64) {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	delete(lifecycle.dyn, id)
}

func dynLock(id uint64) *sync.Mutex {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.dyn[id]
}
