package aio

import (
	"sync"

	"github.com/beejones/postgres/internal/driver"
)

// MockDriver is an in-memory driver.Driver for engine-level tests that
// don't depend on a real kernel facility: Submit performs the I/O
// against an in-process byte store immediately and queues the result
// for the next Drain, rather than touching any actual file descriptor.
// It tracks call counts and supports a one-shot forced failure for
// exercising the retry/failure paths without a real kernel facility.
type MockDriver struct {
	mu          sync.Mutex
	files       map[int][]byte
	completions map[int][]driver.Completion
	contexts    int
	scatter     bool

	SubmitCalls int
	DrainCalls  int
	FailNext    error

	// FailResultOnce, if non-zero, is reported as the result of the next
	// chain's completion instead of its real byte count — a
	// one-shot way to force a soft (EAGAIN/EINTR) or hard I/O failure
	// through the normal completion path, as opposed to FailNext which
	// rejects the whole submission before it reaches the driver.
	FailResultOnce int64

	// FailResultAlways, if non-zero, is reported for every submission
	// until a caller resets it to zero, for exercising repeated-failure
	// paths like retry exhaustion.
	FailResultAlways int64
}

// NewMockDriver returns a MockDriver with n independent contexts, each
// with its own completion queue, and a backing byte store per fd that
// callers seed via SetFile.
func NewMockDriver(contexts int) *MockDriver {
	if contexts < 1 {
		contexts = 1
	}
	return &MockDriver{
		files:       make(map[int][]byte),
		completions: make(map[int][]driver.Completion),
		contexts:    contexts,
		scatter:     true,
	}
}

// SetFile seeds fd's backing bytes for reads and writes.
func (d *MockDriver) SetFile(fd int, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[fd] = data
}

// FileBytes returns fd's current backing bytes.
func (d *MockDriver) FileBytes(fd int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[fd]
}

func (d *MockDriver) Submit(context int, chains []driver.Chain) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SubmitCalls++

	if d.FailNext != nil {
		err := d.FailNext
		d.FailNext = nil
		return 0, err
	}

	for _, ch := range chains {
		result := d.runChain(ch)
		if d.FailResultAlways != 0 {
			result = d.FailResultAlways
		} else if d.FailResultOnce != 0 {
			result = d.FailResultOnce
			d.FailResultOnce = 0
		}
		d.completions[context] = append(d.completions[context], driver.Completion{
			HeadIndex: ch.HeadIndex,
			Result:    result,
			Context:   context,
		})
	}
	return len(chains), nil
}

func (d *MockDriver) runChain(ch driver.Chain) int64 {
	var total int64
	for _, m := range ch.Members {
		buf := d.files[m.Fd]
		if int64(len(buf)) < m.Offset+m.Length {
			grown := make([]byte, m.Offset+m.Length)
			copy(grown, buf)
			buf = grown
			d.files[m.Fd] = buf
		}
		region := buf[m.Offset : m.Offset+m.Length]
		if m.Write {
			copy(region, m.Buffer)
		} else {
			copy(m.Buffer, region)
		}
		total += m.Length
	}
	return total
}

func (d *MockDriver) Drain(context int, block bool) ([]driver.Completion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DrainCalls++
	out := d.completions[context]
	d.completions[context] = nil
	return out, nil
}

func (d *MockDriver) WaitOne(context int, headIndex uint32, generation uint64, currentGeneration func() uint64) error {
	return nil
}

func (d *MockDriver) Retry(context int, member driver.ChainMember) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completions[context] = append(d.completions[context], driver.Completion{
		HeadIndex: member.SlotIndex,
		Result:    member.Length,
		Context:   context,
	})
	return nil
}

func (d *MockDriver) Contexts() int { return d.contexts }

func (d *MockDriver) SupportsScatterGather() bool { return d.scatter }

func (d *MockDriver) Close() error { return nil }

var _ driver.Driver = (*MockDriver)(nil)
