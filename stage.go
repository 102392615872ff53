package aio

import (
	"unsafe"

	"github.com/beejones/postgres/internal/driver"
	"github.com/beejones/postgres/internal/ilist"
)

// submitBatchSize bounds how many pending ops a backend accumulates
// before Prepare triggers an automatic Submit, matching invariant 6
// ("pending count of any backend never exceeds the submission batch
// limit") and mirroring the original's PGAIO_SUBMIT_BATCH_SIZE.
const submitBatchSize = 32

// Prepare moves slot from IDLE to PENDING and enqueues it on b's
// pending list (spec §4.2). It auto-submits when the pending count
// reaches the batch limit.
func (b *Backend) Prepare(slot *Slot, op OpType, params OpParams) error {
	if slot.Flags()&FlagIdle == 0 {
		return NewSlotError("PREPARE", slot.Index, b.id, CodeProtocolViolation, "slot not idle")
	}
	slot.OpType = op
	slot.Params = params
	slot.SystemReferenced = true
	slot.setFlags(FlagInProgress | FlagPending)

	b.moveOwner(b.engine.ownerNodes, slot, &b.outstanding, &b.pending, locPending)
	b.pendingCount++

	if b.pendingCount >= submitBatchSize {
		_, err := b.Submit(false)
		return err
	}
	return nil
}

// CanCombine reports whether two adjacent pending ops may be fused
// into one kernel submission (spec §4.2 "Merging").
func CanCombine(prev, next *Slot, scatterGather bool) bool {
	if prev.OpType != next.OpType {
		return false
	}
	if prev.OpType == OpWriteWAL {
		// WAL writes are never merged: WAL submits may intentionally
		// use short writes that a merge would silently undo. This is a
		// hard rule, not a dead branch (SPEC_FULL §9 Open Question 1).
		return false
	}
	if prev.Params.Fd != next.Params.Fd {
		return false
	}
	if prev.Params.Offset+prev.Params.Length != next.Params.Offset {
		return false
	}
	if prev.Params.AlreadyDone != 0 || next.Params.AlreadyDone != 0 {
		return false
	}
	if prev.Flags()&FlagRetry != 0 || next.Flags()&FlagRetry != 0 {
		return false
	}
	if !scatterGather && !buffersAdjacent(prev.Params.Buffer, next.Params.Buffer) {
		return false
	}
	return true
}

func buffersAdjacent(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	endOfA := uintptr(unsafe.Pointer(&a[0])) + uintptr(len(a))
	startOfB := uintptr(unsafe.Pointer(&b[0]))
	return endOfA == startOfB
}

// buildChains walks b's pending list in order, fusing adjacent
// compatible ops up to cfg.CombineLimit, and returns one driver.Chain
// per resulting group. Member slots are linked into the io-list's
// merge-chain role via MergeWith/MergeHead (spec invariant 5).
func (b *Backend) buildChains(scatterGather bool, limit int) []driver.Chain {
	e := b.engine
	var chains []driver.Chain
	var cur *driver.Chain
	var curHead *Slot
	count := 0

	ilist.Each(e.ownerNodes, &b.pending, func(idx int32) {
		s := e.slots[idx]
		if cur != nil && count < limit && CanCombine(curHead, s, scatterGather) {
			curHead.MergeWith = appendMerge(e, curHead, s)
			s.MergeHead = curHead.Index
			cur.Members = append(cur.Members, chainMember(s))
			count++
			return
		}
		chains = append(chains, driver.Chain{})
		cur = &chains[len(chains)-1]
		cur.HeadIndex = s.Index
		cur.Members = []driver.ChainMember{chainMember(s)}
		curHead = s
		curHead.MergeHead = s.Index
		curHead.MergeWith = noSlot
		count = 1
	})
	return chains
}

// appendMerge links tail onto the end of head's merge chain and
// returns head's (unchanged) MergeWith if head already has one, else
// wires head directly to tail. Chain traversal always starts at the
// head and follows MergeWith, so only the current tail's MergeWith
// needs updating.
func appendMerge(e *Engine, head *Slot, tail *Slot) uint32 {
	tail.MergeWith = noSlot
	last := head
	for last.MergeWith != noSlot {
		last = e.slots[last.MergeWith]
	}
	if last == head && head.MergeWith == noSlot && head != tail {
		head.addFlags(FlagMerge)
	}
	last.MergeWith = tail.Index
	return head.MergeWith
}

func chainMember(s *Slot) driver.ChainMember {
	return driver.ChainMember{
		SlotIndex: s.Index,
		Fd:        s.Params.Fd,
		Offset:    s.Params.Offset,
		Length:    s.Params.Length,
		Buffer:    s.Params.Buffer,
		Write:     isWrite(s.OpType),
		Barrier:   s.Params.Barrier,
		NoReorder: s.Params.NoReorder,
	}
}

func isWrite(op OpType) bool {
	switch op {
	case OpWriteBuffer, OpWriteWAL, OpWriteGeneric:
		return true
	default:
		return false
	}
}

// Submit drains b's pending list to the driver (spec §4.2 submit()).
// When drain is true, it first lets the limiter apply the backend's
// inflight cap (spec §4.3); callers that just want to flush without
// blocking pass false, same as the original's distinction between a
// plain submit and a submit that may need to wait.
func (b *Backend) Submit(drain bool) (int, error) {
	if b.pending.Len() == 0 {
		return 0, nil
	}
	e := b.engine

	if drain {
		if err := b.applyConcurrencyLimit(); err != nil {
			return 0, err
		}
	}

	ctx := b.nextContext()
	chains := b.buildChains(e.drv.SupportsScatterGather(), e.cfg.CombineLimit)

	for _, ch := range chains {
		head := e.slots[ch.HeadIndex]
		for _, m := range ch.Members {
			s := e.slots[m.SlotIndex]
			s.setFlags((s.Flags() &^ FlagPending) | FlagInflight)
			s.DriverContext = ctx
			b.moveOwner(e.ownerNodes, s, &b.pending, &b.issued, locIssued)
		}
		if len(ch.Members) > 1 {
			e.observer.ObserveMergedChain(len(ch.Members))
			e.metrics.RecordMergedChain(len(ch.Members))
		}
		_ = head
	}
	b.pendingCount = 0

	n, err := e.drv.Submit(ctx, chains)
	if err != nil {
		// Submission failure: immediate completion with a negative
		// result for every chain head (spec §7 "Submission failure").
		e.metrics.RecordSubmissionFailure()
		for _, ch := range chains {
			e.absorbCompletion(b, driver.Completion{HeadIndex: ch.HeadIndex, Result: -1, Context: ctx})
		}
		b.drainForeignAndDispatchLocal()
		return 0, err
	}

	b.inflightCount.Add(int64(n))
	b.submissionsTotal.Add(1)
	b.issuedTotal.Add(uint64(len(chains)))
	for _, ch := range chains {
		for _, m := range ch.Members {
			e.slots[m.SlotIndex].broadcast()
		}
	}
	return n, nil
}

func (b *Backend) nextContext() int {
	n := b.engine.drv.Contexts()
	if n == 0 {
		return 0
	}
	ctx := b.lastContext
	b.lastContext = (b.lastContext + 1) % n
	return ctx
}
