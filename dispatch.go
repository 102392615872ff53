package aio

import (
	"syscall"

	"github.com/beejones/postgres/internal/driver"
	"github.com/beejones/postgres/internal/ilist"
)

// errnoOf recovers the errno a driver packed into a negative result
// (spec: "negative errno on failure, byte count on success").
func errnoOf(result int64) syscall.Errno {
	if result >= 0 {
		return 0
	}
	return syscall.Errno(-result)
}

// absorbCompletion routes one driver-reported completion through the
// chain-split and completion-dispatch algorithm (spec §4.9). reaper is
// the backend whose drain/submit call observed c — not necessarily the
// owner of every member slot in the chain, since one backend's driver
// context can report completions for chains another backend built.
//
// Grounded on pgaio_complete_ios: uncombine the kernel result across
// the merge chain, move every member through the REAPED sub-state
// (pgaio_drain's half of the split), then run each member's shared
// callback at most once and route finished members to DONE (foreign or
// local) or straight to recycle; unfinished members go on
// reapedUncompleted for Retry.
func (e *Engine) absorbCompletion(reaper *Backend, c driver.Completion) {
	head := e.slots[c.HeadIndex]
	members := e.chainMembers(head)
	e.uncombine(members, c.Result)

	for _, s := range members {
		e.reapOne(s)
	}
	for _, s := range members {
		e.dispatchOne(reaper, s)
	}
}

// reapOne is the drain-side half of the two-phase drain/dispatch split
// (pgaio_drain moving a completed IO from INFLIGHT onto reaped_ios
// before pgaio_call_shared_callback ever runs): it unlinks s from its
// owner's issued (or issued_abandoned) list, flips it into the REAPED
// sub-state, and enqueues it on the owner's reaped list, where it sits
// until dispatchOne pops it back off to run the shared callback.
func (e *Engine) reapOne(s *Slot) {
	e.mu.Lock()
	owner := e.backends[s.OwnerID]
	owner.inflightCount.Add(-1)
	unlinkFromOwnerList(e.ownerNodes, owner, s)
	s.clearFlags(subStateMask)
	s.addFlags(FlagReaped)
	ilist.PushBack(e.ownerNodes, &owner.reaped, int32(s.Index))
	s.loc = locReaped
	e.mu.Unlock()
}

// chainMembers walks the merge chain starting at head, following
// MergeWith (spec invariant 5). A singleton (unmerged) slot is its own
// one-element chain.
func (e *Engine) chainMembers(head *Slot) []*Slot {
	members := make([]*Slot, 0, 1)
	members = append(members, head)
	for cur := head; cur.MergeWith != noSlot; {
		next := e.slots[cur.MergeWith]
		members = append(members, next)
		cur = next
	}
	return members
}

// uncombine splits one kernel-reported result across a merged chain so
// that the sum of bytes assigned to members equals min(result, sum of
// member lengths) — testable property 6. Members are filled in chain
// order: each is fully satisfied while the result lasts, the member at
// which it runs out gets the remainder, and any later members get zero
// bytes. Grounded on pgaio_uncombine_one/pgaio_uncombine.
func (e *Engine) uncombine(members []*Slot, result int64) {
	if result < 0 {
		for _, s := range members {
			s.Result = result
			s.addFlags(FlagDriverReturned)
		}
		return
	}
	remaining := result
	for _, s := range members {
		want := s.Params.Length - s.Params.AlreadyDone
		assigned := remaining
		if assigned > want {
			assigned = want
		}
		if assigned < 0 {
			assigned = 0
		}
		s.Result = s.Params.AlreadyDone + assigned
		s.addFlags(FlagDriverReturned)
		remaining -= assigned
	}
}

// dispatchOne runs one member slot's shared callback (if not already
// called) and routes it to its next resting place. finished==false
// (either a soft I/O failure, or a shared callback that reports the op
// still needs work) marks the slot DONE|SHARED_FAILED and hands it to
// the retry path via reapedUncompleted, rather than completing it.
func (e *Engine) dispatchOne(reaper *Backend, s *Slot) {
	e.mu.Lock()
	owner := e.backends[s.OwnerID]
	e.mu.Unlock()

	finished := true
	if s.Result < 0 {
		code := mapErrnoToCode(errnoOf(s.Result))
		if code == CodeSoftFailure {
			finished = false
			s.addFlags(FlagSoftFail)
			e.metrics.RecordSoftFailure()
			e.observer.ObserveSoftFailure()
		} else {
			s.addFlags(FlagHardFail)
			e.metrics.RecordHardFailure()
			e.observer.ObserveHardFailure()
		}
	} else if cb := e.callbacks[s.OpType]; cb != nil && s.Flags()&FlagSharedCBCalled == 0 {
		finished = cb(s)
		s.addFlags(FlagSharedCBCalled)
	}
	owner.executedTotal.Add(1)
	e.metrics.RecordOp(s.OpType, uint64(maxI64(s.Result, 0)), 0, s.Result >= 0)
	e.observer.ObserveOp(s.OpType, uint64(maxI64(s.Result, 0)), 0, s.Result >= 0)

	if !finished {
		e.mu.Lock()
		unlinkFromOwnerList(e.ownerNodes, owner, s)
		s.clearFlags(subStateMask | FlagInProgress)
		s.addFlags(FlagDone | FlagSharedFailed)
		ilist.PushBack(e.ownerNodes, &e.reapedUncompleted, int32(s.Index))
		s.loc = locReapedUncompleted
		e.mu.Unlock()
		s.broadcast()
		return
	}

	e.mu.Lock()
	unlinkFromOwnerList(e.ownerNodes, owner, s)
	s.clearFlags(subStateMask | FlagInProgress)
	s.SystemReferenced = false

	if !s.UserReferenced {
		owner.recycleLocked(s)
		e.mu.Unlock()
		s.broadcast()
		return
	}

	s.addFlags(FlagDone)
	foreign := reaper != owner
	if foreign {
		s.addFlags(FlagForeignDone)
	}
	e.mu.Unlock()

	if foreign {
		owner.foreignMu.Lock()
		ilist.PushBack(e.ownerNodes, &owner.foreignCompleted, int32(s.Index))
		s.loc = locForeignCompleted
		owner.foreignMu.Unlock()
		owner.foreignCompletedTotal.Add(1)
	} else {
		e.mu.Lock()
		ilist.PushBack(e.ownerNodes, &owner.localCompleted, int32(s.Index))
		s.loc = locLocalCompleted
		e.mu.Unlock()
	}
	s.broadcast()
}

// unlinkFromOwnerList removes s from whichever owner-list currently
// holds it, per s.loc (normally issued, or issued_abandoned if Release
// raced with this completion). A slot already unlinked by a prior
// dispatch pass (e.g. Release running concurrently) is left alone.
func unlinkFromOwnerList(nodes []ilist.Node, owner *Backend, s *Slot) {
	if !ilist.Linked(nodes, int32(s.Index)) {
		return
	}
	if from := owner.listFor(s.loc); from != nil {
		ilist.Remove(nodes, from, int32(s.Index))
	}
}

// drainForeignAndDispatchLocal moves every completion other backends
// routed to b's mailbox onto b's local-completed list, then dispatches
// local callbacks serially with reentry guarding (spec §4.9 step 6,
// grounded on pgaio_transfer_foreign_to_local/pgaio_call_local_callbacks).
func (b *Backend) drainForeignAndDispatchLocal() {
	e := b.engine

	b.foreignMu.Lock()
	for {
		idx, ok := ilist.PopFront(e.ownerNodes, &b.foreignCompleted)
		if !ok {
			break
		}
		e.mu.Lock()
		ilist.PushBack(e.ownerNodes, &b.localCompleted, idx)
		e.slots[idx].loc = locLocalCompleted
		e.mu.Unlock()
	}
	b.foreignMu.Unlock()

	b.dispatchLocalCallbacks()
}

// dispatchLocalCallbacks drains b.localCompleted, running each slot's
// local callback at most once and recycling slots the owning backend
// no longer user-references. Guarded against reentry: a local callback
// that itself calls back into the engine must not trigger a second,
// nested drain of the same list.
func (b *Backend) dispatchLocalCallbacks() {
	if b.dispatching {
		return
	}
	b.dispatching = true
	defer func() { b.dispatching = false }()

	e := b.engine
	for {
		e.mu.Lock()
		idx, ok := ilist.PopFront(e.ownerNodes, &b.localCompleted)
		if !ok {
			e.mu.Unlock()
			return
		}
		s := e.slots[idx]
		e.mu.Unlock()

		if s.localCB != nil && s.Flags()&FlagLocalCBCalled == 0 {
			s.addFlags(FlagLocalCBCalled)
			s.localCB(s, s.localCBCtx)
		}

		if !s.UserReferenced {
			e.mu.Lock()
			b.recycleLocked(s)
			e.mu.Unlock()
		}
	}
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
