//go:build riscv64

package jit

// RISC-V hosts use a global icache flush scheme (there is no
// per-range SBI or syscall mandated by the base ISA that every kernel
// implements identically), so a per-block flush degrades to "flush
// everything" and callers should coalesce. This module is not
// cross-compiled for a riscv64 host in any pipeline that exercises it,
// so the syscall itself is left unimplemented rather than guessed at.
func flushIcache(addr uintptr, size int) {}

func SupportsCoalescedFlush() bool { return true }
