package aio

import "unsafe"

// pointerOf returns the address of a byte slice's backing array, used
// only to compute page alignment for bounce buffers.
func pointerOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
