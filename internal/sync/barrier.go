// Package sync supplements the standard sync package with the memory
// barrier and spinlock primitives the AIO core's concurrency model
// depends on directly (see the central mutex / per-backend spinlock /
// atomic-counter split in the package's design document).
package sync

import "sync/atomic"

// barrierDummy gives Sfence/Mfence a target for a fenced no-op. On x86-64
// atomic.AddInt64 compiles to LOCK XADD, which carries full fence
// semantics; no pack dependency wraps a bare memory fence more
// directly than this.
var barrierDummy int64

// Sfence issues a store-fence equivalent. Nothing in this module calls
// it; the generation bump in the AIO core fences with Mfence.
func Sfence() {
	atomic.AddInt64(&barrierDummy, 0)
}

// Mfence issues a full fence equivalent.
func Mfence() {
	atomic.AddInt64(&barrierDummy, 0)
}
