package aio

import "testing"

// TestConcurrencyLimitForcesWait exercises applyConcurrencyLimit's core
// behavior (spec §4.3): once a backend's inflight count reaches its
// configured cap, the next drain-triggering Submit must block on the
// oldest inflight slot until it completes, rather than accepting more
// work into the driver.
func TestConcurrencyLimitForcesWait(t *testing.T) {
	cfg := smallConfig()
	cfg.IOMaxConcurrency = 1
	e, drv := testEngine(t, cfg)
	b := e.Attach()
	drv.SetFile(1, make([]byte, 32))

	buf1 := make([]byte, 4)
	s1, _ := b.Acquire()
	if err := b.Prepare(s1, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf1}); err != nil {
		t.Fatalf("Prepare s1: %v", err)
	}
	h1 := b.MakeRef(s1)
	if _, err := b.Submit(true); err != nil {
		t.Fatalf("Submit s1: %v", err)
	}
	if b.InflightCount() != 1 {
		t.Fatalf("InflightCount after first submit = %d, want 1", b.InflightCount())
	}

	buf2 := make([]byte, 4)
	s2, _ := b.Acquire()
	if err := b.Prepare(s2, OpReadBuffer, OpParams{Fd: 1, Offset: 4, Length: 4, Buffer: buf2}); err != nil {
		t.Fatalf("Prepare s2: %v", err)
	}
	h2 := b.MakeRef(s2)

	// Second submit must drain s1 to stay under the cap of 1 before it
	// can issue s2 at all.
	if _, err := b.Submit(true); err != nil {
		t.Fatalf("Submit s2: %v", err)
	}
	if s1.Flags()&FlagDone == 0 {
		t.Errorf("s1 should have completed as a side effect of the concurrency wait")
	}

	if err := b.WaitHandle(h1); err != nil {
		t.Fatalf("WaitHandle h1: %v", err)
	}
	if err := b.WaitHandle(h2); err != nil {
		t.Fatalf("WaitHandle h2: %v", err)
	}
	b.Release(s1)
	b.Release(s2)
}

// TestOldestInflightHandleFallsBackToAbandoned exercises the fallback
// half of applyConcurrencyLimit's handle selection: with the plain
// issued list empty, an abandoned (released-while-inflight) slot is
// picked.
func TestOldestInflightHandleFallsBackToAbandoned(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 32))

	buf := make([]byte, 4)
	s, _ := b.Acquire()
	if err := b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	h := b.MakeRef(s)
	if _, err := b.Submit(false); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Abandon the slot while it is still inflight: it moves to
	// issued_abandoned rather than being recycled immediately.
	b.Release(s)
	if s.loc != locIssuedAbandoned {
		t.Fatalf("s.loc = %v, want locIssuedAbandoned", s.loc)
	}

	got, ok := b.oldestInflightHandle()
	if !ok {
		t.Fatalf("oldestInflightHandle: expected a handle")
	}
	if got.Index != s.Index {
		t.Errorf("oldestInflightHandle returned index %d, want %d", got.Index, s.Index)
	}

	if err := e.waitHandle(b, h, true); err != nil {
		t.Fatalf("waitHandle: %v", err)
	}
}
