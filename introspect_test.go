package aio

import (
	"strings"
	"testing"
)

func TestBackendStatsReflectsSubmittedWork(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))

	buf := make([]byte, 4)
	s, _ := b.Acquire()
	if err := b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	h := b.MakeRef(s)
	if _, err := b.Submit(false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := b.WaitHandle(h); err != nil {
		t.Fatalf("WaitHandle: %v", err)
	}

	stats := b.Stats()
	if stats.Executed != 1 {
		t.Errorf("Executed = %d, want 1", stats.Executed)
	}
	if stats.Submissions != 1 {
		t.Errorf("Submissions = %d, want 1", stats.Submissions)
	}
	if stats.ID != b.ID() {
		t.Errorf("ID = %d, want %d", stats.ID, b.ID())
	}
	if !strings.Contains(stats.String(), "backend[") {
		t.Errorf("String() = %q, missing expected prefix", stats.String())
	}

	rows := e.Backends()
	if len(rows) != 1 || rows[0].ID != b.ID() {
		t.Errorf("Backends() = %+v, want one row for backend %d", rows, b.ID())
	}
	b.Release(s)
}

func TestSlotsSnapshotReflectsState(t *testing.T) {
	e, drv := testEngine(t, smallConfig())
	b := e.Attach()
	drv.SetFile(1, make([]byte, 16))

	buf := make([]byte, 4)
	s, _ := b.Acquire()
	if err := b.Prepare(s, OpReadBuffer, OpParams{Fd: 1, Offset: 0, Length: 4, Buffer: buf}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	rows := e.Slots()
	if len(rows) != smallConfig().MaxAioInProgress {
		t.Fatalf("Slots() returned %d rows, want %d", len(rows), smallConfig().MaxAioInProgress)
	}
	row := rows[s.Index]
	if row.OpType != "READ_BUFFER" {
		t.Errorf("OpType = %q, want READ_BUFFER", row.OpType)
	}
	if row.Owner != b.ID() {
		t.Errorf("Owner = %d, want %d", row.Owner, b.ID())
	}
	if !strings.Contains(row.Flags, "PENDING") {
		t.Errorf("Flags = %q, want to contain PENDING", row.Flags)
	}
	b.Release(s)
}
