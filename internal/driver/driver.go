// Package driver declares the abstract kernel-facing surface the AIO
// core submits work through (spec §4.4). Concrete drivers — ring,
// posix, completion-port, worker — live in sibling packages and are
// selected at startup by aioconf.Config.AioType.
//
// Generalized from "io_uring specifically" to the four operations
// every driver in this design must expose.
package driver

// Chain describes one merged (or singleton) submission unit: a chain
// head slot index plus the full ordered list of member slot indices
// whose declared lengths the driver must be able to report back to the
// core for split-completion (spec §4.9 step 1).
type Chain struct {
	HeadIndex uint32
	Members   []ChainMember
	Context   int
}

// ChainMember is one op fused into a Chain.
type ChainMember struct {
	SlotIndex uint32
	Fd        int
	Offset    int64
	Length    int64
	Buffer    []byte
	Write     bool
	Barrier   bool
	NoReorder bool
}

// Completion is one driver-reported result, keyed by chain head index.
type Completion struct {
	HeadIndex uint32
	Result    int64 // negative errno on failure, byte count on success
	Context   int
}

// Driver is the abstract interface every kernel backend implements.
type Driver interface {
	// Submit issues chains on the given context, returning the number of
	// chain heads actually accepted by the kernel (spec: "nsubmitted").
	Submit(context int, chains []Chain) (nsubmitted int, err error)

	// Drain collects completions from the given context. If block is
	// true, it waits for at least one; otherwise it returns immediately
	// with whatever is ready.
	Drain(context int, block bool) ([]Completion, error)

	// WaitOne blocks until the slot identified by headIndex/generation is
	// no longer inflight, or the generation no longer matches (meaning it
	// was already reaped and recycled by someone else).
	WaitOne(context int, headIndex uint32, generation uint64, currentGeneration func() uint64) error

	// Retry resubmits a single previously-failed chain member as a fresh
	// singleton chain.
	Retry(context int, member ChainMember) error

	// Contexts returns the number of independent driver contexts.
	Contexts() int

	// SupportsScatterGather reports whether the driver can submit
	// non-adjacent buffers as one kernel operation (affects merge
	// eligibility in spec §4.2's last bullet).
	SupportsScatterGather() bool

	// Close tears the driver down. Per SPEC_FULL §5, contexts that do not
	// survive process exit must ensure shared slot state is consistent
	// before this is called.
	Close() error
}
