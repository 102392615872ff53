package sync

import (
	"runtime"
	"sync/atomic"
)

// Spinlock guards the per-backend foreign_completed list. It is spun on
// rather than parked because the critical section it protects is always
// a handful of pointer-sized writes (splice in/out of a small list) —
// exactly the case the design calls out as needing a spinlock instead of
// the central mutex. Grounded on code.hybscloud.com/spin's pause-on-
// contention idea (the pack's lfq package leans on that module for CPU
// pause instructions); this module doesn't pull in the cgo-free PAUSE
// wrapper itself since runtime.Gosched already yields the core back to
// the scheduler for the rare contended case without adding a direct
// dependency edge from this low-level package onto the driver stack.
type Spinlock struct {
	state atomic.Uint32
}

// Lock spins until the lock is acquired.
func (s *Spinlock) Lock() {
	for !s.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

// Unlock releases the lock.
func (s *Spinlock) Unlock() {
	s.state.Store(0)
}

// TryLock attempts to acquire the lock without spinning.
func (s *Spinlock) TryLock() bool {
	return s.state.CompareAndSwap(0, 1)
}
