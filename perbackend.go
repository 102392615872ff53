package aio

import (
	"sync/atomic"

	"github.com/beejones/postgres/internal/ilist"
	ilsync "github.com/beejones/postgres/internal/sync"
)

// Backend is this module's stand-in for a cooperating process (spec
// §3 "Per-backend state", SPEC_FULL §1 Go adaptation note): a goroutine
// registered with the Engine via Attach, owning its own eight
// lifecycle lists plus counters and an atomic inflight count.
//
// Every list header here indexes into the Engine's shared owner-node
// array (see Engine.ownerNodes) — a slot is linked into at most one of
// these eight lists at a time, satisfying invariant 2's "at most one
// owner-list" half directly, since all eight lists share one Node slot
// per index.
type Backend struct {
	id     BackendID
	engine *Engine

	unused           ilist.List
	outstanding      ilist.List
	pending          ilist.List
	issued           ilist.List
	issuedAbandoned  ilist.List
	reaped           ilist.List
	localCompleted   ilist.List
	foreignCompleted ilist.List
	foreignMu        ilsync.Spinlock

	inflightCount atomic.Int64

	pendingCount int
	lastContext  int

	// dispatching guards dispatchLocalCallbacks against reentry: a local
	// callback running recycleLocked or otherwise touching the engine
	// must not recursively re-enter the same backend's dispatch loop.
	dispatching bool

	// Introspection counters (spec §6).
	executedTotal         atomic.Uint64
	issuedTotal           atomic.Uint64
	submissionsTotal      atomic.Uint64
	foreignCompletedTotal atomic.Uint64
	retryTotalCount       atomic.Uint64
}

// ownerLocation names one of a backend's owner-lists, so a slot can
// record which one currently holds it (see Slot.loc).
type ownerLocation uint8

const (
	locNone ownerLocation = iota
	locOutstanding
	locPending
	locIssued
	locIssuedAbandoned
	locReaped
	locLocalCompleted

	// locReapedUncompleted and locForeignCompleted mark a slot linked
	// into one of the two central, cross-backend-locked lists
	// (Engine.reapedUncompleted, Backend.foreignCompleted) that listFor
	// deliberately does not resolve: removing from them needs e.mu or
	// foreignMu respectively, not just the owner-list bookkeeping
	// Release/dispatch share. Code touching those lists manages their
	// own linkage directly; this tag exists so listFor's "unmapped"
	// fallback (nil) is reached on purpose, not by a stale value.
	locReapedUncompleted
	locForeignCompleted
)

// listFor resolves loc to the concrete list on b, or nil for locNone,
// locReapedUncompleted and locForeignCompleted.
func (b *Backend) listFor(loc ownerLocation) *ilist.List {
	switch loc {
	case locOutstanding:
		return &b.outstanding
	case locPending:
		return &b.pending
	case locIssued:
		return &b.issued
	case locIssuedAbandoned:
		return &b.issuedAbandoned
	case locReaped:
		return &b.reaped
	case locLocalCompleted:
		return &b.localCompleted
	default:
		return nil
	}
}

// ID returns the backend's identifier.
func (b *Backend) ID() BackendID { return b.id }

// InflightCount returns the backend's current atomic inflight counter.
func (b *Backend) InflightCount() int64 { return b.inflightCount.Load() }

// moveOwner transitions s from one owner-list to another, the shape
// every state-machine transition in this file takes (spec §4.1/§4.2):
// unlink from from (if currently linked there) and link onto the tail
// of to, recording toLoc on s so a later unlink can resolve the right
// list without guessing.
func (b *Backend) moveOwner(nodes []ilist.Node, s *Slot, from *ilist.List, to *ilist.List, toLoc ownerLocation) {
	if from != nil && ilist.Linked(nodes, int32(s.Index)) {
		ilist.Remove(nodes, from, int32(s.Index))
	}
	if to != nil {
		ilist.PushBack(nodes, to, int32(s.Index))
	}
	s.loc = toLoc
}
