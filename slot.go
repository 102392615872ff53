// Package aio implements the core of an asynchronous I/O subsystem for
// a shared-memory, multi-process database server: a fixed slot table
// with generation-tagged handles, per-backend staging and merging,
// cross-process completion routing, a concurrency limiter, and a
// bounce-buffer pool, behind a pluggable kernel driver.
package aio

import (
	"fmt"
	"sync"
	"sync/atomic"

	ilsync "github.com/beejones/postgres/internal/sync"
)

// OpType tags the kind of operation a slot carries.
type OpType uint8

const (
	OpNop OpType = iota
	OpFsync
	OpFsyncWAL
	OpFlushRange
	OpReadBuffer
	OpWriteBuffer
	OpWriteWAL
	OpWriteGeneric
	numOpTypes
)

func (t OpType) String() string {
	switch t {
	case OpNop:
		return "NOP"
	case OpFsync:
		return "FSYNC"
	case OpFsyncWAL:
		return "FSYNC_WAL"
	case OpFlushRange:
		return "FLUSH_RANGE"
	case OpReadBuffer:
		return "READ_BUFFER"
	case OpWriteBuffer:
		return "WRITE_BUFFER"
	case OpWriteWAL:
		return "WRITE_WAL"
	case OpWriteGeneric:
		return "WRITE_GENERIC"
	default:
		return "UNKNOWN"
	}
}

// Flags is the per-slot state bitset (spec §3, §4.1).
type Flags uint32

const (
	FlagUnused Flags = 1 << iota
	FlagIdle
	FlagInProgress
	FlagPending
	FlagInflight
	FlagReaped
	FlagSharedCBCalled
	FlagLocalCBCalled
	FlagDone
	FlagForeignDone
	FlagMerge
	FlagRetry
	FlagHardFail
	FlagSoftFail
	FlagSharedFailed
	FlagDriverReturned
)

// lifecycleMask isolates the four mutually-exclusive top-level states
// (testable property 1 in SPEC_FULL §8).
const lifecycleMask = FlagUnused | FlagIdle | FlagInProgress | FlagDone

// subStateMask isolates the three mutually-exclusive IN_PROGRESS
// sub-states (testable property 2).
const subStateMask = FlagPending | FlagInflight | FlagReaped

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagUnused, "UNUSED"}, {FlagIdle, "IDLE"}, {FlagInProgress, "IN_PROGRESS"},
		{FlagPending, "PENDING"}, {FlagInflight, "INFLIGHT"}, {FlagReaped, "REAPED"},
		{FlagSharedCBCalled, "SHARED_CB_CALLED"}, {FlagLocalCBCalled, "LOCAL_CB_CALLED"},
		{FlagDone, "DONE"}, {FlagForeignDone, "FOREIGN_DONE"}, {FlagMerge, "MERGE"},
		{FlagRetry, "RETRY"}, {FlagHardFail, "HARD_FAIL"}, {FlagSoftFail, "SOFT_FAIL"},
		{FlagSharedFailed, "SHARED_FAILED"}, {FlagDriverReturned, "DRIVER_RETURNED"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// BackendID identifies a registered backend (this module's goroutine
// stand-in for a cooperating process; see SPEC_FULL §1).
type BackendID uint32

// noBackend is the sentinel owner_id for an unowned slot.
const noBackend BackendID = 0

// noSlot is the sentinel "no chain member" / "no context" index.
const noSlot uint32 = ^uint32(0)

// Handle is a stable, generation-checked reference to a slot (spec
// "Stable handle").
type Handle struct {
	Index      uint32
	Generation uint64
}

func (h Handle) String() string {
	return fmt.Sprintf("(%d,%d)", h.Index, h.Generation)
}

// OpParams is the discriminated union of per-op-type parameters (spec
// "op_params").
type OpParams struct {
	Fd          int
	Offset      int64
	Length      int64
	AlreadyDone int64
	Tag         FileTag
	Barrier     bool
	DataSync    bool
	NoReorder   bool
	Buffer      []byte
}

// FileTag is the identifying information retry uses to re-open a
// descriptor independently of whatever fd the slot last carried (spec
// §4.11): "re-open the file descriptor from the saved identifying tag".
type FileTag struct {
	Path string
	Seg  uint32 // e.g. WAL segment number, when relevant
}

// LocalCallback is the per-slot, owner-only completion hook (spec
// "on_completion_local").
type LocalCallback func(s *Slot, ctx any)

// SharedCallback is operation-type-specific completion logic, runs in
// whichever backend reaps the completion, addressed by small integer
// index rather than by pointer (spec §6 Callback ABI).
type SharedCallback func(s *Slot) (finished bool)

// Slot is one fixed record in the shared I/O table.
type Slot struct {
	Index uint32

	flags      atomic.Uint32
	generation atomic.Uint64

	OpType OpType
	Params OpParams

	UserReferenced   bool
	SystemReferenced bool
	OwnerID          BackendID
	DriverContext    int

	Result int64

	localCB    LocalCallback
	localCBCtx any

	// MergeWith links the next member of a merged chain, noSlot if none.
	// MergeHead is the chain head's index (equal to Index for the head
	// itself once merged, noSlot if the slot isn't part of any chain).
	MergeWith uint32
	MergeHead uint32

	RetryCount int

	// loc records which of the owner's owner-lists currently holds this
	// slot, since ilist.Node itself carries no list identity: every
	// function that moves a slot between owner-lists updates this
	// alongside the move, so a later unlink (Release, dispatch, Retry)
	// can resolve the right *ilist.List to pass to ilist.Remove without
	// guessing from list lengths.
	loc ownerLocation

	BounceBuf *BounceBuffer

	mu   sync.Mutex
	cond *sync.Cond
}

func newSlot(idx uint32) *Slot {
	s := &Slot{Index: idx, MergeWith: noSlot, MergeHead: noSlot}
	s.cond = sync.NewCond(&s.mu)
	s.flags.Store(uint32(FlagUnused))
	return s
}

// Flags reads the slot's flag bitset with acquire semantics, as any
// non-owner reader must (spec §4.1).
func (s *Slot) Flags() Flags { return Flags(s.flags.Load()) }

// setFlags writes the flag bitset with release semantics. Callers must
// be either the slot's current owner or hold the central mutex, per
// invariant 1.
func (s *Slot) setFlags(f Flags) { s.flags.Store(uint32(f)) }

func (s *Slot) addFlags(f Flags) { s.setFlags(s.Flags() | f) }

func (s *Slot) clearFlags(f Flags) { s.setFlags(s.Flags() &^ f) }

// Generation reads the generation counter with acquire semantics.
func (s *Slot) Generation() uint64 { return s.generation.Load() }

// bumpGeneration increments generation, paired with a full barrier per
// spec §4.1 ("changes to generation ... are paired with a full
// barrier"). Must be called only when the slot is becoming UNUSED or
// IDLE (invariant 4).
func (s *Slot) bumpGeneration() {
	ilsync.Mfence()
	s.generation.Add(1)
	ilsync.Mfence()
}

// SetLocalCallback registers s's owner-only completion hook, carrying
// an arbitrary caller context (spec "on_completion_local"). Must be
// called by s's owner before Submit; dispatch clears it on recycle.
func (s *Slot) SetLocalCallback(cb LocalCallback, ctx any) {
	s.localCB = cb
	s.localCBCtx = ctx
}

// MakeHandle captures a stable (index, generation) reference.
func (s *Slot) MakeHandle() Handle {
	return Handle{Index: s.Index, Generation: s.Generation()}
}

// HandleValid reports whether h still refers to the same logical
// operation as when it was captured (testable property 4).
func (s *Slot) HandleValid(h Handle) bool {
	return s.Generation() == h.Generation
}

// broadcast wakes any waiter parked on this slot's condition variable.
// Callers must not hold the slot's own mutex; per spec §4.9 step 5 this
// is always called after dropping the central mutex.
func (s *Slot) broadcast() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// waitChange parks until the next broadcast on this slot. Used by
// wait-by-handle's fallback raw condition-variable sleep (spec §4.10
// step 3, "otherwise call driver wait_one ... otherwise raw CV sleep").
func (s *Slot) waitChange() {
	s.mu.Lock()
	s.cond.Wait()
	s.mu.Unlock()
}

// String renders the slot for introspection (spec §6 "per-slot
// diagnostic rendering").
func (s *Slot) String() string {
	return fmt.Sprintf("slot[%d] op=%s flags=%s ctx=%d owner=%d gen=%d result=%d params={fd=%d off=%d len=%d done=%d}",
		s.Index, s.OpType, s.Flags(), s.DriverContext, s.OwnerID, s.Generation(), s.Result,
		s.Params.Fd, s.Params.Offset, s.Params.Length, s.Params.AlreadyDone)
}
