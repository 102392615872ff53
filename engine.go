package aio

import (
	"sync"

	"github.com/beejones/postgres/internal/aioconf"
	"github.com/beejones/postgres/internal/driver"
	"github.com/beejones/postgres/internal/ilist"
	"github.com/beejones/postgres/internal/logging"
	"github.com/beejones/postgres/internal/resowner"
)

// Engine is the AIO core's process-wide mutable state (spec §9
// "Process-wide mutable state"): the slot table, the central free
// pool, the bounce-buffer pool, and the set of attached backends.
// Its lifetime is the duration of the enclosing program; Detach
// asserts all of a backend's lists are empty, matching the design's
// expectation of "a single initialization point and a teardown".
type Engine struct {
	cfg aioconf.Config

	// mu is the central process-wide exclusive mutex (spec §5
	// "Shared-resource policy"): guards the central free pool,
	// used_count, unused_bounce_buffers, issued_abandoned membership,
	// and reaped_uncompleted.
	mu sync.Mutex

	slots []*Slot

	// ownerNodes backs every per-backend owner-list, shared across all
	// backends since a given slot index is linked into at most one of
	// them at a time (invariant 2). ioNodes is allocated per slot but
	// nothing links into it; merge chains are tracked through
	// Slot.MergeWith/MergeHead instead.
	ownerNodes []ilist.Node
	ioNodes    []ilist.Node

	freeList ilist.List // central free pool, indices into slots
	usedCount int

	bounceBufs   []*BounceBuffer
	unusedBounce []uint32

	reapedUncompleted ilist.List // central list the retry path collects from

	backends      map[BackendID]*Backend
	nextBackendID BackendID

	callbacks [numOpTypes]SharedCallback

	metrics  *Metrics
	observer Observer
	resOwner resowner.Owner
	log      *logging.Logger

	drv driver.Driver

	// reopen recovers a file descriptor from a slot's FileTag at retry
	// time, since the fd an op last carried may belong to a descriptor
	// table entry that has since been closed (spec §4.11). Defaults to
	// reporting CodeDescriptorFailure — callers that use retry must
	// supply one via WithReopen.
	reopen ReopenFunc
}

// ReopenFunc re-derives an open file descriptor from a FileTag, used
// by Retry to recover from a descriptor that went stale between the
// original submission and a retry.
type ReopenFunc func(tag FileTag) (int, error)

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }
func WithResourceOwner(o resowner.Owner) Option { return func(e *Engine) { e.resOwner = o } }
func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.log = l } }
func WithReopen(f ReopenFunc) Option { return func(e *Engine) { e.reopen = f } }

// NewEngine allocates the slot table and bounce-buffer pool per cfg
// and wires drv as the kernel-facing driver (spec §4.1's "central free
// pool", §4.12's bounce buffer pool, §1's "pluggable kernel driver").
func NewEngine(cfg aioconf.Config, drv driver.Driver, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		slots:      make([]*Slot, cfg.MaxAioInProgress),
		ownerNodes: make([]ilist.Node, cfg.MaxAioInProgress),
		ioNodes:    make([]ilist.Node, cfg.MaxAioInProgress),
		backends:   make(map[BackendID]*Backend),
		metrics:    NewMetrics(),
		observer:   NoOpObserver{},
		resOwner:   resowner.Nop{},
		log:        logging.Default(),
		drv:        drv,
		reopen: func(FileTag) (int, error) {
			return -1, NewError("RETRY", CodeDescriptorFailure, "no ReopenFunc configured")
		},
	}
	e.freeList = ilist.List{}
	for i := range e.slots {
		e.slots[i] = newSlot(uint32(i))
		ilist.PushBack(e.ownerNodes, &e.freeList, int32(i))
	}

	e.bounceBufs = make([]*BounceBuffer, cfg.MaxAioBounceBuffers)
	e.unusedBounce = make([]uint32, 0, cfg.MaxAioBounceBuffers)
	for i := range e.bounceBufs {
		e.bounceBufs[i] = newBounceBuffer(uint32(i), int(cfg.MaxAioInProgress))
		e.unusedBounce = append(e.unusedBounce, uint32(i))
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterCallback installs the shared completion callback for op,
// addressable by its OpType index rather than by function pointer
// (spec §6 Callback ABI).
func (e *Engine) RegisterCallback(op OpType, cb SharedCallback) {
	e.callbacks[op] = cb
}

// Attach registers a new backend (spec's "process") and returns a
// handle used for every subsequent call into the engine.
func (e *Engine) Attach() *Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextBackendID++
	b := &Backend{id: e.nextBackendID, engine: e}
	e.backends[b.id] = b
	return b
}

// Detach removes a backend. Per spec §5 "Cancellation", the caller
// must have already waited out every I/O it still references before
// detaching; Detach asserts the backend's lists are empty.
func (e *Engine) Detach(b *Backend) {
	b.foreignMu.Lock()
	foreign := b.foreignCompleted.Len()
	b.foreignMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if b.unused.Len() != 0 || b.outstanding.Len() != 0 || b.pending.Len() != 0 ||
		b.issued.Len() != 0 || b.issuedAbandoned.Len() != 0 || b.reaped.Len() != 0 ||
		b.localCompleted.Len() != 0 || foreign != 0 {
		panic(NewError("DETACH", CodeProtocolViolation, "backend detached with outstanding work"))
	}
	delete(e.backends, b.id)
}

// Metrics returns the engine's built-in metrics.
func (e *Engine) Metrics() *Metrics { return e.metrics }

func (e *Engine) slot(idx uint32) *Slot { return e.slots[idx] }

// drainAllContexts drains every driver context once, without holding
// the central mutex, per the "drains all contexts (without lock) and
// retries" pattern pgaio_io_get/pgaio_bounce_buffer_get use when their
// free pool is empty. reaper is the backend whose drain loop is doing
// the observing — not necessarily the owner of whatever it reaps,
// hence "foreign" completion routing in absorbCompletion. It returns
// whether any completion was observed.
func (e *Engine) drainAllContexts(reaper *Backend, block bool) bool {
	any := false
	for ctx := 0; ctx < e.drv.Contexts(); ctx++ {
		completions, err := e.drv.Drain(ctx, block && ctx == 0)
		if err != nil {
			continue
		}
		if len(completions) > 0 {
			any = true
		}
		for _, c := range completions {
			e.absorbCompletion(reaper, c)
		}
	}
	if any {
		reaper.drainForeignAndDispatchLocal()
	}
	return any
}
