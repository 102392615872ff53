package aio

// WaitHandle blocks until the operation referenced by h is no longer
// inflight, dispatching its local callback before returning (spec
// §4.10). A stale handle — the slot's generation has already moved on
// because it was reaped and recycled — returns immediately.
func (b *Backend) WaitHandle(h Handle) error {
	return b.engine.waitHandle(b, h, false)
}

// waitHandle implements wait-by-handle for both WaitHandle and the
// concurrency limiter's internal waits (internal controls nothing
// about the algorithm itself; it exists so callers reading a stack
// trace can tell which path triggered the wait).
func (e *Engine) waitHandle(b *Backend, h Handle, internal bool) error {
	s := e.slots[h.Index]

	if !s.HandleValid(h) {
		return nil
	}
	if s.OwnerID == b.id && s.Flags()&FlagPending != 0 {
		if _, err := b.Submit(false); err != nil {
			return err
		}
	}

	for {
		if !s.HandleValid(h) {
			return nil
		}
		if s.Flags()&(FlagInflight|FlagReaped) == 0 {
			break
		}

		ctx := s.DriverContext
		if err := e.drv.WaitOne(ctx, s.Index, h.Generation, s.Generation); err != nil {
			s.waitChange()
			continue
		}
		e.drainAllContexts(b, false)
	}

	if !s.HandleValid(h) {
		return nil
	}
	b.drainForeignAndDispatchLocal()

	switch f := s.Flags(); {
	case f&FlagSharedFailed != 0:
		if err := b.Retry(s); err != nil {
			return err
		}
		return e.waitHandle(b, h, internal)
	case f&FlagHardFail != 0:
		e.log.Warn("aio: operation completed with a hard failure", "slot", s.Index, "backend", b.id, "op", s.OpType.String())
		return NewSlotError("WAIT", s.Index, b.id, CodeHardFailure, "operation failed")
	default:
		return nil
	}
}
