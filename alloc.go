package aio

import (
	"github.com/beejones/postgres/internal/ilist"
	"github.com/beejones/postgres/internal/resowner"
)

// Acquire returns a slot in IDLE state owned by b, blocking by
// draining driver completions when the free pool is empty (spec §4.1
// acquire()).
func (b *Backend) Acquire() (*Slot, error) {
	e := b.engine
	for {
		e.mu.Lock()
		idx, ok := ilist.PopFront(e.ownerNodes, &e.freeList)
		if ok {
			e.usedCount++
			e.mu.Unlock()

			s := e.slots[idx]
			s.UserReferenced = true
			s.SystemReferenced = false
			s.OwnerID = b.id
			s.setFlags(FlagIdle)
			ilist.PushBack(e.ownerNodes, &b.outstanding, int32(s.Index))
			s.loc = locOutstanding
			e.resOwner.Remember(resowner.Ref{Kind: resowner.KindAioHandle, Index: s.Index, Gen: s.Generation()})
			return s, nil
		}
		e.mu.Unlock()

		if !e.drainAllContexts(b, true) {
			return nil, ErrSlotTableExhausted
		}
	}
}

// Release clears the user reference on s (spec §4.1 release()).
//
// By the time a caller invokes Release, s is in one of two shapes:
//   - still system_referenced (PENDING/INFLIGHT/REAPED, or awaiting
//     completion dispatch): the user is abandoning an op it no longer
//     wants to wait on. The slot moves to issued_abandoned and
//     recycling is deferred to completion dispatch (§4.9 step 4).
//   - not system_referenced: either it was acquired and never prepared
//     (still linked on b.outstanding) or it already reached DONE and had
//     its local callback run, in which case completion dispatch or
//     WaitHandle already unlinked it from every list. Either way,
//     Release recycles it to UNUSED immediately.
func (b *Backend) Release(s *Slot) {
	e := b.engine
	s.UserReferenced = false

	e.mu.Lock()
	defer e.mu.Unlock()

	if s.SystemReferenced {
		from := b.listFor(s.loc)
		if ilist.Linked(e.ownerNodes, int32(s.Index)) && from == nil {
			// s is in transit through a central list this function
			// doesn't own (e.g. awaiting retry or a foreign drain);
			// UserReferenced is now false, so whichever dispatch or
			// retry path next visits it will recycle it instead of
			// requeuing it for a wait. Moving it here would require
			// unlinking from a list this function has no lock for.
			return
		}
		if from != nil {
			ilist.Remove(e.ownerNodes, from, int32(s.Index))
		}
		ilist.PushBack(e.ownerNodes, &b.issuedAbandoned, int32(s.Index))
		s.loc = locIssuedAbandoned
		return
	}

	if ilist.Linked(e.ownerNodes, int32(s.Index)) {
		if from := b.listFor(s.loc); from != nil {
			ilist.Remove(e.ownerNodes, from, int32(s.Index))
		}
	}
	b.recycleLocked(s)
}

// recycleLocked performs the UNUSED transition; caller holds e.mu and
// has already unlinked s from whatever owner-list held it, if any.
func (b *Backend) recycleLocked(s *Slot) {
	e := b.engine
	e.resOwner.Forget(resowner.Ref{Kind: resowner.KindAioHandle, Index: s.Index, Gen: s.Generation()})
	s.bumpGeneration()
	s.setFlags(FlagUnused)
	s.OwnerID = noBackend
	s.MergeWith = noSlot
	s.MergeHead = noSlot
	s.RetryCount = 0
	s.localCB = nil
	s.localCBCtx = nil
	if bb := s.BounceBuf; bb != nil {
		s.BounceBuf = nil
		e.mu.Unlock()
		e.ReleaseBounceBuffer(bb)
		e.mu.Lock()
	}
	ilist.PushBack(e.ownerNodes, &e.freeList, int32(s.Index))
	s.loc = locNone
	e.usedCount--
}

// MakeRef captures a stable handle for s (spec §4.1 make_ref()).
func (b *Backend) MakeRef(s *Slot) Handle { return s.MakeHandle() }
