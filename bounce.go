package aio

import (
	"sync/atomic"

	"github.com/beejones/postgres/internal/resowner"
)

// pageSize is the alignment bounce buffers are allocated to; matches
// the common 4KiB page assumption the original makes when it
// page-aligns its bounce buffer pool.
const pageSize = 4096

// BounceBuffer is a refcounted, page-aligned shared buffer (spec §3
// "Bounce buffer", §4.12).
type BounceBuffer struct {
	Index    uint32
	buf      []byte
	refcount atomic.Int32
}

// Bytes returns the buffer's backing storage.
func (b *BounceBuffer) Bytes() []byte { return b.buf }

func newBounceBuffer(idx uint32, size int) *BounceBuffer {
	// over-allocate and slice to a page boundary, matching the
	// original's page-aligned allocation requirement.
	raw := make([]byte, size+pageSize)
	off := 0
	if r := uintptrAlign(raw); r != 0 {
		off = pageSize - r
	}
	return &BounceBuffer{Index: idx, buf: raw[off : off+size]}
}

// AcquireBounceBuffer pops a refcounted buffer (refcount set to 1) and
// registers it with the resource owner; when the pool is empty it
// drains the driver and retries, matching acquire()'s contract in
// spec §4.12.
func (b *Backend) AcquireBounceBuffer() (*BounceBuffer, error) {
	e := b.engine
	for {
		e.mu.Lock()
		if len(e.unusedBounce) > 0 {
			idx := e.unusedBounce[len(e.unusedBounce)-1]
			e.unusedBounce = e.unusedBounce[:len(e.unusedBounce)-1]
			bb := e.bounceBufs[idx]
			e.mu.Unlock()
			bb.refcount.Store(1)
			e.resOwner.Remember(resowner.Ref{Kind: resowner.KindBounceBuffer, Index: bb.Index})
			return bb, nil
		}
		e.mu.Unlock()

		if !e.drainAllContexts(b, true) {
			return nil, ErrBounceBufferExhausted
		}
	}
}

// AssociateBounceBuffer takes an extra reference on bb on behalf of
// slot (spec §4.12 associate()).
func (e *Engine) AssociateBounceBuffer(s *Slot, bb *BounceBuffer) {
	bb.refcount.Add(1)
	s.BounceBuf = bb
}

// ReleaseBounceBuffer decrements bb's refcount; on zero it returns to
// the free list (spec §4.12 release()).
func (e *Engine) ReleaseBounceBuffer(bb *BounceBuffer) {
	if bb.refcount.Add(-1) != 0 {
		return
	}
	e.resOwner.Forget(resowner.Ref{Kind: resowner.KindBounceBuffer, Index: bb.Index})
	e.mu.Lock()
	e.unusedBounce = append(e.unusedBounce, bb.Index)
	e.mu.Unlock()
}

func uintptrAlign(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return int(uintptr(pointerOf(b)) % pageSize)
}
