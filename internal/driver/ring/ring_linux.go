//go:build linux

// Package ring implements the io_uring driver.Driver backend via
// github.com/iceber/iouring-go. K independent ring contexts are opened
// up front — aioconf.Config.RingContexts — each with its own
// submission lock and completion channel, so backends fan out across
// rings instead of contending on one.
package ring

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/iceber/iouring-go"

	"github.com/beejones/postgres/internal/driver"
)

type ringCtx struct {
	iour    *iouring.IOURing
	results chan iouring.Result
	mu      sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]pendingChain // requestID -> chain bookkeeping
	completed []driver.Completion
}

type pendingChain struct {
	headIndex uint32
	remaining int
	total     int64
}

// Driver is the io_uring driver.Driver implementation.
type Driver struct {
	contexts []*ringCtx
}

// New opens n independent io_uring instances, each sized for depth
// in-flight submission queue entries.
func New(n, depth int) (*Driver, error) {
	if n < 1 {
		n = 1
	}
	d := &Driver{contexts: make([]*ringCtx, n)}
	for i := range d.contexts {
		iour, err := iouring.New(uint(depth))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("ring: open context %d: %w", i, err)
		}
		d.contexts[i] = &ringCtx{
			iour:    iour,
			results: make(chan iouring.Result, depth),
			pending: make(map[uint64]pendingChain),
		}
	}
	return d, nil
}

func prepMember(m driver.ChainMember) iouring.PrepRequest {
	if m.Write {
		return iouring.Pwrite(m.Fd, m.Buffer, uint64(m.Offset))
	}
	return iouring.Pread(m.Fd, m.Buffer, uint64(m.Offset))
}

// Submit issues every chain as one or more SQEs on context, fused into
// a single iouring submission batch; chain members share a requestID
// bookkeeping entry so the eventual per-SQE completions can be folded
// back into one driver.Completion per chain head.
func (d *Driver) Submit(context int, chains []driver.Chain) (int, error) {
	c := d.contexts[context]
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, ch := range chains {
		reqs := make([]iouring.PrepRequest, len(ch.Members))
		for i, m := range ch.Members {
			reqs[i] = prepMember(m)
		}
		reqID, err := c.iour.SubmitRequests(reqs, c.results)
		if err != nil {
			return n, err
		}
		c.pendingMu.Lock()
		c.pending[reqID] = pendingChain{headIndex: ch.HeadIndex, remaining: len(ch.Members)}
		c.pendingMu.Unlock()
		n++
	}
	return n, nil
}

// drainResults folds ready iouring.Result values into c.completed,
// non-blocking unless block is true.
func (c *ringCtx) drainResults(block bool) {
	for {
		select {
		case res := <-c.results:
			c.fold(res)
		default:
			if !block {
				return
			}
			res := <-c.results
			c.fold(res)
			block = false
		}
	}
}

func (c *ringCtx) fold(res iouring.Result) {
	reqID := res.RequestID()
	n, err := res.ReturnInt()

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	pc, ok := c.pending[reqID]
	if !ok {
		return
	}
	if err != nil {
		pc.total = -int64(syscall.EIO)
		if errno, ok := err.(syscall.Errno); ok {
			pc.total = -int64(errno)
		}
	} else if pc.total >= 0 {
		pc.total += int64(n)
	}
	pc.remaining--
	if pc.remaining <= 0 {
		c.completed = append(c.completed, driver.Completion{HeadIndex: pc.headIndex, Result: pc.total})
		delete(c.pending, reqID)
		return
	}
	c.pending[reqID] = pc
}

func (d *Driver) Drain(context int, block bool) ([]driver.Completion, error) {
	c := d.contexts[context]
	c.drainResults(block)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := c.completed
	c.completed = nil
	return out, nil
}

func (d *Driver) WaitOne(context int, headIndex uint32, generation uint64, currentGeneration func() uint64) error {
	c := d.contexts[context]
	for currentGeneration() == generation {
		c.pendingMu.Lock()
		found := false
		for _, comp := range c.completed {
			if comp.HeadIndex == headIndex {
				found = true
				break
			}
		}
		c.pendingMu.Unlock()
		if found {
			return nil
		}
		c.drainResults(true)
	}
	return nil
}

func (d *Driver) Retry(context int, member driver.ChainMember) error {
	_, err := d.Submit(context, []driver.Chain{{
		HeadIndex: member.SlotIndex,
		Members:   []driver.ChainMember{member},
		Context:   context,
	}})
	return err
}

func (d *Driver) Contexts() int { return len(d.contexts) }

// SupportsScatterGather is true: io_uring SQEs are independent kernel
// operations even when fused into one submission batch, so merge
// eligibility doesn't require physically adjacent buffers.
func (d *Driver) SupportsScatterGather() bool { return true }

func (d *Driver) Close() error {
	var first error
	for _, c := range d.contexts {
		if c == nil || c.iour == nil {
			continue
		}
		if err := c.iour.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ driver.Driver = (*Driver)(nil)
