//go:build linux || (darwin && !arm64)

package jit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// newHeap maps a single RWX region. Linux PaX/hardened kernels and
// some container seccomp profiles refuse PROT_EXEC|PROT_WRITE
// together; that failure propagates up as a Cache allocation error,
// which New documents as a fallback to interpreter-only execution.
func newHeap(size uint64) (*Heap, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap rwx heap: %w", err)
	}
	return &Heap{mem: mem, size: size, rwx: true}, nil
}

func (h *Heap) writeProtected(off uint64, code []byte) error {
	copy(h.mem[off:], code)
	return nil
}
