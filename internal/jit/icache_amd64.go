//go:build amd64

package jit

// amd64 keeps the instruction cache coherent with writes to memory the
// CPU can fetch from, so flushing is a no-op.
func flushIcache(addr uintptr, size int) {}

// SupportsCoalescedFlush reports whether the host can defer
// per-block flushes to one flush covering a whole compiled batch.
func SupportsCoalescedFlush() bool { return true }
