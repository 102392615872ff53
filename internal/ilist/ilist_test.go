package ilist

import "testing"

func TestPushBackAndPopFrontOrder(t *testing.T) {
	nodes := make([]Node, 4)
	var l List

	PushBack(nodes, &l, 0)
	PushBack(nodes, &l, 1)
	PushBack(nodes, &l, 2)
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}

	var got []int32
	for {
		idx, ok := PopFront(nodes, &l)
		if !ok {
			break
		}
		got = append(got, idx)
	}
	want := []int32{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if !l.Empty() {
		t.Errorf("list should be empty after draining")
	}
}

func TestPushFrontReversesOrder(t *testing.T) {
	nodes := make([]Node, 3)
	var l List
	PushFront(nodes, &l, 0)
	PushFront(nodes, &l, 1)
	PushFront(nodes, &l, 2)

	var got []int32
	Each(nodes, &l, func(idx int32) { got = append(got, idx) })
	want := []int32{2, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRemoveFromMiddle(t *testing.T) {
	nodes := make([]Node, 3)
	var l List
	PushBack(nodes, &l, 0)
	PushBack(nodes, &l, 1)
	PushBack(nodes, &l, 2)

	Remove(nodes, &l, 1)
	if Linked(nodes, 1) {
		t.Errorf("node 1 should be unlinked after Remove")
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d, want 2", l.Len())
	}

	var got []int32
	Each(nodes, &l, func(idx int32) { got = append(got, idx) })
	want := []int32{0, 2}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPeekFrontDoesNotUnlink(t *testing.T) {
	nodes := make([]Node, 2)
	var l List
	PushBack(nodes, &l, 0)

	idx, ok := PeekFront(nodes, &l)
	if !ok || idx != 0 {
		t.Fatalf("PeekFront = (%d, %v), want (0, true)", idx, ok)
	}
	if !Linked(nodes, 0) {
		t.Errorf("PeekFront must not unlink")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestPopFrontOnEmptyListReportsFalse(t *testing.T) {
	var l List
	nodes := make([]Node, 1)
	if _, ok := PopFront(nodes, &l); ok {
		t.Errorf("PopFront on an empty list should report false")
	}
}

func TestPushBackOfLinkedNodePanics(t *testing.T) {
	nodes := make([]Node, 2)
	var l List
	PushBack(nodes, &l, 0)

	defer func() {
		if recover() == nil {
			t.Errorf("PushBack of an already-linked node should panic")
		}
	}()
	PushBack(nodes, &l, 0)
}

func TestRemoveOfUnlinkedNodePanics(t *testing.T) {
	nodes := make([]Node, 1)
	var l List

	defer func() {
		if recover() == nil {
			t.Errorf("Remove of an unlinked node should panic")
		}
	}()
	Remove(nodes, &l, 0)
}

// TestNodeIsPerRoleNotPerElement exercises the package doc's claim that
// one element can be linked into independent list roles simultaneously
// as long as each role has its own Node slice.
func TestNodeIsPerRoleNotPerElement(t *testing.T) {
	ownerNodes := make([]Node, 2)
	ioNodes := make([]Node, 2)
	var owner, io List

	PushBack(ownerNodes, &owner, 0)
	PushBack(ioNodes, &io, 0)

	if !Linked(ownerNodes, 0) || !Linked(ioNodes, 0) {
		t.Fatalf("element 0 should be linked in both independent roles")
	}
	Remove(ownerNodes, &owner, 0)
	if Linked(ownerNodes, 0) {
		t.Errorf("removing from the owner role should not affect it")
	}
	if !Linked(ioNodes, 0) {
		t.Errorf("removing from the owner role must not unlink the io role")
	}
}
