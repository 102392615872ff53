package aio

import (
	"testing"

	"github.com/beejones/postgres/internal/aioconf"
)

func testEngine(t *testing.T, cfg aioconf.Config) (*Engine, *MockDriver) {
	t.Helper()
	drv := NewMockDriver(2)
	e := NewEngine(cfg, drv)
	return e, drv
}

func smallConfig() aioconf.Config {
	cfg := aioconf.DefaultConfig()
	cfg.MaxAioInProgress = 16
	cfg.MaxAioBounceBuffers = 4
	cfg.IOMaxConcurrency = 128
	cfg.CombineLimit = 16
	return cfg
}

func TestAcquirePrepareSubmitWriteThenRead(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 64))

	write := []byte("hello, world!!!")
	s, err := b.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := b.Prepare(s, OpWriteBuffer, OpParams{Fd: 1, Offset: 0, Length: int64(len(write)), Buffer: write}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	h := b.MakeRef(s)
	if _, err := b.Submit(false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := b.WaitHandle(h); err != nil {
		t.Fatalf("WaitHandle: %v", err)
	}
	if got := drv.FileBytes(1)[:len(write)]; string(got) != string(write) {
		t.Errorf("file bytes = %q, want %q", got, write)
	}
	b.Release(s)

	readBuf := make([]byte, len(write))
	s2, err := b.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := b.Prepare(s2, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: int64(len(readBuf)), Buffer: readBuf}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	h2 := b.MakeRef(s2)
	if _, err := b.Submit(false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := b.WaitHandle(h2); err != nil {
		t.Fatalf("WaitHandle: %v", err)
	}
	if string(readBuf) != string(write) {
		t.Errorf("read back %q, want %q", readBuf, write)
	}
	if s2.Result != int64(len(write)) {
		t.Errorf("Result = %d, want %d", s2.Result, len(write))
	}
	b.Release(s2)
}

// TestLifecycleMutualExclusion exercises testable properties 1 and 2: the
// four top-level states are mutually exclusive, as are the three
// IN_PROGRESS sub-states, at every observed point in a slot's life.
func TestLifecycleMutualExclusion(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))

	check := func(label string, f Flags) {
		if n := popcount(uint32(f & lifecycleMask)); n != 1 {
			t.Errorf("%s: lifecycle mask has %d bits set in %s", label, n, f)
		}
	}

	s, err := b.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	check("after acquire", s.Flags())

	buf := make([]byte, 4)
	if err := b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	check("after prepare", s.Flags())
	if n := popcount(uint32(s.Flags() & subStateMask)); n != 1 {
		t.Errorf("after prepare: sub-state mask has %d bits set in %s", n, s.Flags())
	}

	h := b.MakeRef(s)
	if _, err := b.Submit(false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := b.WaitHandle(h); err != nil {
		t.Fatalf("WaitHandle: %v", err)
	}
	check("after completion", s.Flags())
	if s.Flags()&(FlagInflight|FlagPending|FlagReaped) != 0 {
		t.Errorf("after completion: stale sub-state bits survived in %s", s.Flags())
	}
	b.Release(s)
	check("after release", s.Flags())
}

func popcount(x uint32) int {
	n := 0
	for x != 0 {
		n += int(x & 1)
		x >>= 1
	}
	return n
}

func TestHandleInvalidAfterRecycle(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))

	s, _ := b.Acquire()
	buf := make([]byte, 4)
	_ = b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf})
	h := b.MakeRef(s)
	_, _ = b.Submit(false)
	if err := b.WaitHandle(h); err != nil {
		t.Fatalf("WaitHandle: %v", err)
	}
	b.Release(s)

	if s.HandleValid(h) {
		t.Errorf("handle captured before recycle should be invalid after recycle")
	}
}

func TestMergeAdjacentWrites(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 64))

	backing := make([]byte, 32)
	for i := range backing {
		backing[i] = byte(i)
	}

	s1, _ := b.Acquire()
	s2, _ := b.Acquire()
	if err := b.Prepare(s1, OpWriteBuffer, OpParams{Fd: 1, Offset: 0, Length: 16, Buffer: backing[:16]}); err != nil {
		t.Fatalf("Prepare s1: %v", err)
	}
	if err := b.Prepare(s2, OpWriteBuffer, OpParams{Fd: 1, Offset: 16, Length: 16, Buffer: backing[16:]}); err != nil {
		t.Fatalf("Prepare s2: %v", err)
	}

	h1, h2 := b.MakeRef(s1), b.MakeRef(s2)
	if _, err := b.Submit(false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s1.MergeWith != s2.Index {
		t.Errorf("s1.MergeWith = %d, want %d (merged chain)", s1.MergeWith, s2.Index)
	}
	if s1.Flags()&FlagMerge == 0 {
		t.Errorf("s1 missing FlagMerge after combine")
	}
	if drv.SubmitCalls != 1 {
		t.Errorf("SubmitCalls = %d, want 1 (one merged chain)", drv.SubmitCalls)
	}
	if err := b.WaitHandle(h1); err != nil {
		t.Fatalf("WaitHandle h1: %v", err)
	}
	if err := b.WaitHandle(h2); err != nil {
		t.Fatalf("WaitHandle h2: %v", err)
	}
	if s1.Result != 16 || s2.Result != 16 {
		t.Errorf("Result = %d,%d, want 16,16 (uncombine split evenly)", s1.Result, s2.Result)
	}
	if got := drv.FileBytes(1)[:32]; string(got) != string(backing) {
		t.Errorf("file bytes = %v, want %v", got, backing)
	}
	b.Release(s1)
	b.Release(s2)
}

func TestDetachPanicsOnOutstandingWork(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))

	s, _ := b.Acquire()
	buf := make([]byte, 4)
	_ = b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf})

	defer func() {
		if recover() == nil {
			t.Errorf("Detach with a pending slot should panic")
		}
		b.Release(s)
	}()
	e.Detach(b)
}

func TestSubmissionFailureCompletesImmediately(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))
	drv.FailNext = ErrSlotTableExhausted

	s, _ := b.Acquire()
	buf := make([]byte, 4)
	_ = b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf})
	h := b.MakeRef(s)
	if _, err := b.Submit(false); err == nil {
		t.Fatalf("Submit: expected submission failure")
	}
	if err := b.WaitHandle(h); err == nil {
		t.Errorf("WaitHandle: expected hard failure after a submission failure")
	}
	if e.Metrics().SubmissionFailures.Load() != 1 {
		t.Errorf("SubmissionFailures = %d, want 1", e.Metrics().SubmissionFailures.Load())
	}
}
