package jit

import "fmt"

// Heap is a fixed-size arena of executable code. Platform-specific
// files implement newHeap and writeProtected, which performs the copy
// together with the W^X transition it needs on hosts that refuse to map
// memory both writable and executable at once.
type Heap struct {
	mem  []byte
	size uint64
	curr uint64
	rwx  bool // true if mem is mapped RWX and needs no protection toggling
}

// Size reports the heap's total capacity in bytes.
func (h *Heap) Size() uint64 { return h.size }

// Base returns the current write offset, the address a block about to
// be compiled will be placed at.
func (h *Heap) Base() uint64 { return h.curr }

// Write appends code to the heap and returns its offset, toggling the
// host's write-protection around the copy on platforms that enforce
// W^X (see heap_darwin_arm64.go); single-mapped RWX heaps skip the
// toggle entirely.
func (h *Heap) Write(code []byte) (uint64, error) {
	if h.curr+uint64(len(code)) > h.size {
		return 0, fmt.Errorf("jit: code heap exhausted (%d/%d bytes)", h.curr, h.size)
	}
	off := h.curr
	if err := h.writeProtected(off, code); err != nil {
		return 0, err
	}
	h.curr += uint64(len(code))
	flushIcache(h.execPtr(off), len(code))
	return off, nil
}

func (h *Heap) reset() { h.curr = 0 }

// execPtr returns the address of the executable view of the heap at
// offset off. Every platform this module supports maps the heap once
// (RWX, or on Darwin/arm64 with write permission toggled in place)
// rather than maintaining a separate RW shadow mapping, so the
// executable and writable views always share the same address.
func (h *Heap) execPtr(off uint64) uintptr {
	if len(h.mem) == 0 {
		return 0
	}
	return uintptrOf(&h.mem[off])
}
