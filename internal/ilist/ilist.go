// Package ilist provides an index-addressed intrusive doubly-linked list.
//
// Slots live in one fixed shared array; linking them by pointer would be
// unsafe across process-style reuse, so membership is expressed as a pair
// of int32 indices (prev/next) stored alongside each element, with a
// sentinel for "not linked". A List only ever holds head/tail indices and
// a length; callers supply the backing Node slice on every call, which
// keeps this package usable for more than one list role per element
// (an owner-list role and an io-list role, in this module's case).
package ilist

// None is the sentinel index meaning "no element".
const None int32 = -1

// Node is the embedded linkage for one list role on one element.
type Node struct {
	prev, next int32
	linked     bool
}

// List is the head/tail anchor for one set of linked elements.
type List struct {
	head, tail int32
	len        int
}

// Len returns the number of linked elements.
func (l *List) Len() int { return l.len }

// Empty reports whether the list has no elements.
func (l *List) Empty() bool { return l.len == 0 }

// PushBack links idx at the tail of l. idx must not already be linked in l.
func PushBack(nodes []Node, l *List, idx int32) {
	n := &nodes[idx]
	if n.linked {
		panic("ilist: PushBack of already-linked node")
	}
	n.prev = None
	n.next = None
	n.linked = true
	if l.len > 0 {
		n.prev = l.tail
		nodes[l.tail].next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
	l.len++
}

// PushFront links idx at the head of l.
func PushFront(nodes []Node, l *List, idx int32) {
	n := &nodes[idx]
	if n.linked {
		panic("ilist: PushFront of already-linked node")
	}
	n.next = None
	n.prev = None
	n.linked = true
	if l.len > 0 {
		n.next = l.head
		nodes[l.head].prev = idx
	} else {
		l.tail = idx
	}
	l.head = idx
	l.len++
}

// Remove unlinks idx from l. idx must currently be linked in l.
func Remove(nodes []Node, l *List, idx int32) {
	n := &nodes[idx]
	if !n.linked {
		panic("ilist: Remove of unlinked node")
	}
	if n.prev != None {
		nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != None {
		nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = None, None
	n.linked = false
	l.len--
}

// PopFront removes and returns the head element, or (None, false) if empty.
func PopFront(nodes []Node, l *List) (int32, bool) {
	if l.len == 0 {
		return None, false
	}
	idx := l.head
	Remove(nodes, l, idx)
	return idx, true
}

// PeekFront returns the head element without unlinking it, or (None, false) if empty.
func PeekFront(nodes []Node, l *List) (int32, bool) {
	if l.len == 0 {
		return None, false
	}
	return l.head, true
}

// Linked reports whether idx is currently linked (in whatever list last linked it).
func Linked(nodes []Node, idx int32) bool { return nodes[idx].linked }

// Each walks l head-to-tail calling fn on each index. fn must not mutate l.
func Each(nodes []Node, l *List, fn func(idx int32)) {
	if l.len == 0 {
		return
	}
	for idx := l.head; idx != None; idx = nodes[idx].next {
		fn(idx)
	}
}
