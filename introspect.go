package aio

import "fmt"

// BackendStats is one row of the per-backend diagnostic table (spec
// §6): lifecycle counters plus the list-length gauges a debugger would
// want when a backend looks stuck.
type BackendStats struct {
	ID               BackendID
	Executed         uint64
	Issued           uint64
	Submissions      uint64
	ForeignCompleted uint64
	Retries          uint64
	Inflight         int64

	Unused          int
	Outstanding     int
	Pending         int
	IssuedLen       int
	IssuedAbandoned int
	Reaped          int
	LocalCompleted  int

	LastContext int
}

func (s BackendStats) String() string {
	return fmt.Sprintf(
		"backend[%d] executed=%d issued=%d submissions=%d foreign=%d retries=%d inflight=%d "+
			"lists{outstanding=%d pending=%d issued=%d abandoned=%d reaped=%d local=%d} ctx=%d",
		s.ID, s.Executed, s.Issued, s.Submissions, s.ForeignCompleted, s.Retries, s.Inflight,
		s.Outstanding, s.Pending, s.IssuedLen, s.IssuedAbandoned, s.Reaped, s.LocalCompleted,
		s.LastContext)
}

// Stats renders b's introspection row (spec §6 "per-backend diagnostic
// rendering").
func (b *Backend) Stats() BackendStats {
	return BackendStats{
		ID:               b.id,
		Executed:         b.executedTotal.Load(),
		Issued:           b.issuedTotal.Load(),
		Submissions:      b.submissionsTotal.Load(),
		ForeignCompleted: b.foreignCompletedTotal.Load(),
		Retries:          b.retryTotalCount.Load(),
		Inflight:         b.inflightCount.Load(),
		Outstanding:      b.outstanding.Len(),
		Pending:          b.pending.Len(),
		IssuedLen:        b.issued.Len(),
		IssuedAbandoned:  b.issuedAbandoned.Len(),
		Reaped:           b.reaped.Len(),
		LocalCompleted:   b.localCompleted.Len(),
		LastContext:      b.lastContext,
	}
}

// Backends returns a diagnostic row for every attached backend.
func (e *Engine) Backends() []BackendStats {
	e.mu.Lock()
	ids := make([]*Backend, 0, len(e.backends))
	for _, b := range e.backends {
		ids = append(ids, b)
	}
	e.mu.Unlock()

	rows := make([]BackendStats, len(ids))
	for i, b := range ids {
		rows[i] = b.Stats()
	}
	return rows
}

// SlotInfo mirrors one slot's state for the per-slot diagnostic reader
// (spec §6): index, op type, flag string, driver context, owner,
// generation, result, and the op params rendered as a string.
type SlotInfo struct {
	Index      uint32
	OpType     string
	Flags      string
	Context    int
	Owner      BackendID
	Generation uint64
	Result     int64
	Params     string
}

// Slots returns a diagnostic snapshot of every slot in the table.
func (e *Engine) Slots() []SlotInfo {
	rows := make([]SlotInfo, len(e.slots))
	for i, s := range e.slots {
		rows[i] = SlotInfo{
			Index:      s.Index,
			OpType:     s.OpType.String(),
			Flags:      s.Flags().String(),
			Context:    s.DriverContext,
			Owner:      s.OwnerID,
			Generation: s.Generation(),
			Result:     s.Result,
			Params: fmt.Sprintf("fd=%d off=%d len=%d done=%d barrier=%t",
				s.Params.Fd, s.Params.Offset, s.Params.Length, s.Params.AlreadyDone, s.Params.Barrier),
		}
	}
	return rows
}
