package aio

import "github.com/beejones/postgres/internal/ilist"

// applyConcurrencyLimit enforces b's per-backend inflight cap before a
// submission batch (spec §4.3). When the cap is reached it selects the
// oldest INFLIGHT slot — preferring issued over issued_abandoned —
// captures a handle under the central mutex, and waits on it. The loop
// re-reads the atomic inflight counter and tolerates the waited slot
// having completed into a different state, including having been
// released by another backend.
func (b *Backend) applyConcurrencyLimit() error {
	limit := int64(b.engine.cfg.IOMaxConcurrency)
	for b.inflightCount.Load() >= limit {
		h, ok := b.oldestInflightHandle()
		if !ok {
			// Nothing left to wait on (e.g. raced with a completion that
			// already dropped the count); re-check the counter.
			continue
		}
		if err := b.engine.waitHandle(b, h, true); err != nil {
			return err
		}
	}
	return nil
}

// oldestInflightHandle captures a handle to the oldest INFLIGHT slot
// this backend owns, under the central mutex, preferring the issued
// list over issued_abandoned (spec §4.3).
func (b *Backend) oldestInflightHandle() (Handle, bool) {
	e := b.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx, ok := ilist.PeekFront(e.ownerNodes, &b.issued); ok {
		return e.slots[idx].MakeHandle(), true
	}
	if idx, ok := ilist.PeekFront(e.ownerNodes, &b.issuedAbandoned); ok {
		return e.slots[idx].MakeHandle(), true
	}
	return Handle{}, false
}
