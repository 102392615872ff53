package aio

import "github.com/beejones/postgres/internal/ilist"

// Retry resubmits a slot that a shared callback or a soft I/O failure
// marked DONE|SHARED_FAILED, up to cfg.MaxRetries attempts (spec §4.11,
// SPEC_FULL §9 Open Question 2). Past the limit the slot is converted
// to a terminal hard failure instead of being requeued. b need not be
// s's owner — any backend waiting on the handle may drive a retry —
// but the requeue always lands on the owning backend's pending list.
func (b *Backend) Retry(s *Slot) error {
	e := b.engine

	e.mu.Lock()
	if s.Flags()&FlagSharedFailed == 0 {
		e.mu.Unlock()
		return nil // already retried/recycled by someone else
	}
	owner := e.backends[s.OwnerID]
	if ilist.Linked(e.ownerNodes, int32(s.Index)) {
		ilist.Remove(e.ownerNodes, &e.reapedUncompleted, int32(s.Index))
	}

	s.RetryCount++
	if s.RetryCount > e.cfg.MaxRetries {
		s.clearFlags(FlagSoftFail | FlagSharedFailed)
		s.addFlags(FlagDone | FlagHardFail)
		s.SystemReferenced = false
		e.metrics.RecordRetryExhausted()
		e.observer.ObserveRetry()

		if !s.UserReferenced {
			owner.recycleLocked(s)
		} else {
			ilist.PushBack(e.ownerNodes, &owner.localCompleted, int32(s.Index))
			s.loc = locLocalCompleted
		}
		e.mu.Unlock()
		s.broadcast()
		return NewSlotError("RETRY", s.Index, owner.id, CodeNotRetryable, "retry limit exhausted")
	}
	e.mu.Unlock()

	fd, err := e.reopen(s.Params.Tag)
	if err != nil {
		return WrapError("RETRY", err)
	}
	s.Params.Fd = fd
	s.Params.AlreadyDone = s.Result
	if s.Result < 0 {
		s.Params.AlreadyDone = 0
	}

	s.clearFlags(FlagDone | FlagSoftFail | FlagSharedFailed | FlagDriverReturned |
		FlagSharedCBCalled | FlagLocalCBCalled)
	s.addFlags(FlagInProgress | FlagPending | FlagRetry)
	s.MergeWith = noSlot
	s.MergeHead = s.Index

	e.mu.Lock()
	ilist.PushBack(e.ownerNodes, &owner.pending, int32(s.Index))
	s.loc = locPending
	e.mu.Unlock()
	owner.pendingCount++
	owner.retryTotalCount.Add(1)
	e.metrics.RecordRetry()
	e.observer.ObserveRetry()

	_, err = owner.Submit(false)
	return err
}
