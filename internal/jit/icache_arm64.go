//go:build arm64 && !darwin

package jit

// Non-Darwin arm64 hosts would need the DC CIVAC/IC IVAU instruction
// sequence rvjit.c hand-rolls for GNU_EXTS targets; without a cgo
// bridge or inline assembly this module has no way to issue it, so
// this is a stub rather than a real flush.
func flushIcache(addr uintptr, size int) {}

func SupportsCoalescedFlush() bool { return false }
