//go:build !amd64 && !arm64 && !riscv64

package jit

func flushIcache(addr uintptr, size int) {}

func SupportsCoalescedFlush() bool { return false }
