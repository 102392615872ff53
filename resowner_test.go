package aio

import (
	"testing"

	"github.com/beejones/postgres/internal/resowner"
)

// TestResourceOwnerTracksHandleAndBounceBufferLifecycle exercises both
// call sites the core makes into a resowner.Owner: acquiring a slot
// remembers a KindAioHandle ref and recycling it forgets the same ref,
// exactly as acquiring/releasing a bounce buffer does for
// KindBounceBuffer (mirroring ResourceOwnerRememberAioHandle/
// ForgetAioHandle alongside the existing bounce buffer tracking).
func TestResourceOwnerTracksHandleAndBounceBufferLifecycle(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxAioBounceBuffers = 1
	drv := NewMockDriver(2)
	tracking := resowner.NewTracking()
	e := NewEngine(cfg, drv, WithResourceOwner(tracking))
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))

	s, err := b.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if out := tracking.Outstanding(); len(out) != 1 || out[0].Kind != resowner.KindAioHandle {
		t.Fatalf("Outstanding() after Acquire = %+v, want one KindAioHandle ref", out)
	}

	bb, err := b.AcquireBounceBuffer()
	if err != nil {
		t.Fatalf("AcquireBounceBuffer: %v", err)
	}
	if out := tracking.Outstanding(); len(out) != 2 {
		t.Fatalf("Outstanding() after AcquireBounceBuffer = %+v, want two refs", out)
	}

	e.ReleaseBounceBuffer(bb)
	if out := tracking.Outstanding(); len(out) != 1 || out[0].Kind != resowner.KindAioHandle {
		t.Fatalf("Outstanding() after ReleaseBounceBuffer = %+v, want only the handle ref left", out)
	}

	b.Release(s)
	if out := tracking.Outstanding(); len(out) != 0 {
		t.Errorf("Outstanding() after Release = %+v, want none (no leaked handle registration)", out)
	}
}
