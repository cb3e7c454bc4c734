//go:build !linux && !darwin

package jit

import "fmt"

// newHeap has no supported mapping strategy on this platform/build
// configuration; New returns this error and internal/machine turns it
// into an interpreter-only
// fallback rather than a fatal error.
func newHeap(size uint64) (*Heap, error) {
	return nil, fmt.Errorf("jit: no executable heap strategy for this platform")
}

func (h *Heap) writeProtected(off uint64, code []byte) error {
	return fmt.Errorf("jit: heap not executable on this platform")
}
