// Package worker implements the portable driver.Driver fallback: a
// fixed pool of goroutines performing blocking syscalls synchronously
// on behalf of whichever backend submitted a chain, used whenever no
// native async facility (io_uring, POSIX AIO, IOCP) is available or
// selected (spec §4.8, aioconf.DriverWorker).
//
// Lifecycle follows a NewRunner/Start/Stop shape: a goroutine loop
// fed by a work queue. The shared submission queue uses
// code.hybscloud.com/lfq's documented "Worker Pool (MPMC)" usage
// pattern.
package worker

import (
	"sync"

	"code.hybscloud.com/lfq"
	"golang.org/x/sys/unix"

	"github.com/beejones/postgres/internal/driver"
)

// job is one chain member queued for a worker, carrying enough context
// to perform the syscall and report back without touching the core's
// slot table directly.
type job struct {
	headIndex uint32
	context   int
	member    driver.ChainMember
	remaining *int32 // shared countdown across a chain's members
	total     *int64 // shared accumulated result across a chain's members
}

// Driver is the worker-pool driver.Driver implementation.
type Driver struct {
	queue *lfq.MPMC[job]

	mu        sync.Mutex
	cond      *sync.Cond
	pending   bool
	completed map[int][]driver.Completion

	wg       sync.WaitGroup
	stopping bool
	stopCh   chan struct{}
}

// New starts n worker goroutines draining a shared MPMC queue of depth
// queueSize. n and queueSize come from aioconf.Config's AioWorkers and
// AioWorkerQueueSize.
func New(n, queueSize int) *Driver {
	if n < 1 {
		n = 1
	}
	d := &Driver{
		queue:     lfq.NewMPMC[job](queueSize),
		completed: make(map[int][]driver.Completion),
		stopCh:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

func (d *Driver) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		j, ok := d.queue.Pop()
		if !ok {
			d.mu.Lock()
			for !d.pending && !d.stopping {
				d.cond.Wait()
			}
			d.pending = false
			stopping := d.stopping
			d.mu.Unlock()
			if stopping {
				return
			}
			continue
		}
		d.run(j)
	}
}

func (d *Driver) run(j job) {
	n, err := performIO(j.member)
	d.mu.Lock()
	if err != nil {
		*j.total = -int64(errnoOf(err))
	} else if *j.total >= 0 {
		*j.total += int64(n)
	}
	if decrementAndCheck(j.remaining) {
		d.completed[j.context] = append(d.completed[j.context], driver.Completion{
			HeadIndex: j.headIndex,
			Result:    *j.total,
			Context:   j.context,
		})
		d.cond.Broadcast()
	}
	d.mu.Unlock()
}

func decrementAndCheck(remaining *int32) bool {
	*remaining--
	return *remaining == 0
}

func performIO(m driver.ChainMember) (int, error) {
	if m.Write {
		return unix.Pwrite(m.Fd, m.Buffer, m.Offset)
	}
	return unix.Pread(m.Fd, m.Buffer, m.Offset)
}

func errnoOf(err error) unix.Errno {
	if e, ok := err.(unix.Errno); ok {
		return e
	}
	return unix.EIO
}

// Submit enqueues every chain member as a job; a chain's members share
// a countdown so the completion is reported once, after the last
// member runs, with the chain's accumulated result (spec §4.9's
// uncombine then splits that aggregate back across members).
func (d *Driver) Submit(context int, chains []driver.Chain) (int, error) {
	for _, ch := range chains {
		remaining := int32(len(ch.Members))
		total := new(int64)
		for _, m := range ch.Members {
			j := job{
				headIndex: ch.HeadIndex,
				context:   context,
				member:    m,
				remaining: &remaining,
				total:     total,
			}
			for !d.queue.Push(j) {
				// Shared queue is momentarily full; give workers a chance
				// to drain before retrying, matching the bounded-queue
				// backpressure code.hybscloud.com/lfq documents.
			}
		}
		d.mu.Lock()
		d.pending = true
		d.cond.Broadcast()
		d.mu.Unlock()
	}
	return len(chains), nil
}

// Drain returns completions accumulated for context so far. block is
// ignored: Drain never waits, and returns an empty slice when nothing
// has completed yet.
func (d *Driver) Drain(context int, block bool) ([]driver.Completion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.completed[context]
	d.completed[context] = nil
	return out, nil
}

// WaitOne blocks on the same condition variable run() broadcasts on
// until headIndex shows up in context's completion backlog, or
// generation no longer matches (the slot was reaped and recycled by
// someone else already draining this context).
func (d *Driver) WaitOne(context int, headIndex uint32, generation uint64, currentGeneration func() uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for currentGeneration() == generation {
		for _, c := range d.completed[context] {
			if c.HeadIndex == headIndex {
				return nil
			}
		}
		d.cond.Wait()
	}
	return nil
}

// Retry resubmits a single chain member as a singleton chain.
func (d *Driver) Retry(context int, member driver.ChainMember) error {
	_, err := d.Submit(context, []driver.Chain{{
		HeadIndex: member.SlotIndex,
		Members:   []driver.ChainMember{member},
		Context:   context,
	}})
	return err
}

// Contexts reports one logical context: the worker driver has no
// per-context kernel resource to partition, every chain shares one
// submission queue and one completion map keyed by the caller's
// chosen context number regardless.
func (d *Driver) Contexts() int { return 1 }

// SupportsScatterGather is false: each chain member is issued as an
// independent pread/pwrite, so merge-eligibility still requires
// adjacent buffers (stage.go's CanCombine) even though nothing here
// actually fuses them into one syscall.
func (d *Driver) SupportsScatterGather() bool { return false }

func (d *Driver) Close() error {
	d.mu.Lock()
	d.stopping = true
	d.cond.Broadcast()
	d.mu.Unlock()
	close(d.stopCh)
	d.wg.Wait()
	return nil
}

var _ driver.Driver = (*Driver)(nil)
