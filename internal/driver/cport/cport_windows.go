//go:build windows

// Package cport implements the driver.Driver backend on Windows I/O
// completion ports: a goroutine-per-poller dispatch loop pulling
// completion packets off a shared IOCP and folding multi-member
// chains into one driver.Completion.
package cport

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/beejones/postgres/internal/driver"
)

// overlappedJob embeds the OVERLAPPED structure Windows writes back
// into, with the bookkeeping needed to resolve a completion packet
// back to a chain head and fold multi-member chains into one result.
type overlappedJob struct {
	ov        windows.Overlapped
	headIndex uint32
	context   int
	remaining *int32
	total     *int64
}

// Driver is the IOCP driver.Driver implementation: one completion
// port shared by every context (Windows IOCPs are already safely
// multiplexed across handles), with per-context completion queues and
// a shared condition variable so the rest of the core's
// context-addressing model still applies.
type Driver struct {
	port windows.Handle

	mu        sync.Mutex
	cond      *sync.Cond
	completed map[int][]driver.Completion

	stop chan struct{}
	wg   sync.WaitGroup

	contexts int
}

// New creates a shared IOCP and starts a fixed pool of poller
// goroutines pulling completion packets off it.
func New(contexts, pollers int) (*Driver, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, uint32(pollers))
	if err != nil {
		return nil, err
	}
	d := &Driver{
		port:      port,
		completed: make(map[int][]driver.Completion),
		stop:      make(chan struct{}),
		contexts:  contexts,
	}
	d.cond = sync.NewCond(&d.mu)
	for i := 0; i < pollers; i++ {
		d.wg.Add(1)
		go d.poll()
	}
	return d, nil
}

// RegisterFile associates fd with the driver's completion port, as
// every handle this driver submits I/O against must be before its
// first overlapped operation.
func (d *Driver) RegisterFile(fd windows.Handle) error {
	_, err := windows.CreateIoCompletionPort(fd, d.port, 0, 0)
	return err
}

func (d *Driver) poll() {
	defer d.wg.Done()
	for {
		var n uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(d.port, &n, &key, &ov, windows.INFINITE)
		select {
		case <-d.stop:
			return
		default:
		}
		if ov == nil {
			continue
		}
		j := (*overlappedJob)(unsafe.Pointer(ov))
		d.fold(j, int64(n), err)
	}
}

func (d *Driver) fold(j *overlappedJob, n int64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		*j.total = -int64(windows.ERROR_GEN_FAILURE)
		if errno, ok := err.(syscall.Errno); ok {
			*j.total = -int64(errno)
		}
	} else if *j.total >= 0 {
		*j.total += n
	}
	*j.remaining--
	if *j.remaining <= 0 {
		d.completed[j.context] = append(d.completed[j.context],
			driver.Completion{HeadIndex: j.headIndex, Result: *j.total, Context: j.context})
		d.cond.Broadcast()
	}
}

func (d *Driver) Submit(context int, chains []driver.Chain) (int, error) {
	for _, ch := range chains {
		remaining := int32(len(ch.Members))
		total := new(int64)
		for _, m := range ch.Members {
			j := &overlappedJob{headIndex: ch.HeadIndex, context: context, remaining: &remaining, total: total}
			j.ov.Offset = uint32(m.Offset)
			j.ov.OffsetHigh = uint32(m.Offset >> 32)

			fd := windows.Handle(m.Fd)
			var err error
			if m.Write {
				err = windows.WriteFile(fd, m.Buffer, nil, &j.ov)
			} else {
				err = windows.ReadFile(fd, m.Buffer, nil, &j.ov)
			}
			if err != nil && err != windows.ERROR_IO_PENDING {
				return 0, err
			}
		}
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

// WaitOne blocks on the same condition variable fold broadcasts on
// until headIndex appears in context's backlog, or generation no
// longer matches (reaped and recycled by another backend already).
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

func (d *Driver) Retry(context int, member driver.ChainMember) error {
	_, err := d.Submit(context, []driver.Chain{{
		HeadIndex: member.SlotIndex,
		Members:   []driver.ChainMember{member},
		Context:   context,
	}})
	return err
}

func (d *Driver) Contexts() int { return d.contexts }

// SupportsScatterGather is false: each member is an independent
// ReadFile/WriteFile call, so merge eligibility still requires
// adjacent buffers.
func (d *Driver) SupportsScatterGather() bool { return false }

func (d *Driver) Close() error {
	close(d.stop)
	windows.CloseHandle(d.port)
	d.wg.Wait()
	return nil
}

var _ driver.Driver = (*Driver)(nil)
