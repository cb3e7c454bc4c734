package riscv

import (
	"testing"

	"github.com/tinyhart/rvcore/internal/csr"
)

// ecall encodes the ECALL instruction (no operands).
const ecallInsn = 0x00000073

func TestEcallFromUserDelegatedToSupervisor(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, ecallInsn)

	h.CSR.Priv = csr.User
	h.CSR.Medeleg |= 1 << uint(csr.CauseEcallFromU)
	h.CSR.Stvec = RAMBase + 0x100

	h.run(t, 1)

	if h.CSR.Priv != csr.Supervisor {
		t.Fatalf("priv = %v, want Supervisor after delegated ECALL", h.CSR.Priv)
	}
	if h.CSR.Scause != uint64(csr.CauseEcallFromU) {
		t.Fatalf("scause = %#x, want CauseEcallFromU", h.CSR.Scause)
	}
	if h.CSR.Mcause != 0 {
		t.Fatalf("mcause = %#x, want untouched (trap was delegated)", h.CSR.Mcause)
	}
	if h.PC != h.CSR.Stvec {
		t.Fatalf("pc = %#x, want stvec %#x", h.PC, h.CSR.Stvec)
	}
}

func TestEcallFromUserNotDelegatedStaysInMachine(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, ecallInsn)

	h.CSR.Priv = csr.User
	// Medeleg left zero: no delegation configured.
	h.CSR.Mtvec = RAMBase + 0x200

	h.run(t, 1)

	if h.CSR.Priv != csr.Machine {
		t.Fatalf("priv = %v, want Machine when ECALL is not delegated", h.CSR.Priv)
	}
	if h.CSR.Mcause != uint64(csr.CauseEcallFromU) {
		t.Fatalf("mcause = %#x, want CauseEcallFromU", h.CSR.Mcause)
	}
	if h.PC != h.CSR.Mtvec {
		t.Fatalf("pc = %#x, want mtvec %#x", h.PC, h.CSR.Mtvec)
	}
}

// sv39Satp builds a satp value selecting Sv39 mode with the given root
// page table physical page number.
func sv39Satp(rootPPN uint64) uint64 {
	const modeSv39 = 8
	return modeSv39<<60 | rootPPN
}

func TestSv39InstructionPageFault(t *testing.T) {
	h := newTestHart(t, 64)

	// Root page table at RAMBase+0x1000, left entirely zeroed (no valid
	// entries), so any walk through it faults at level 2 immediately.
	rootTablePhys := RAMBase + 0x1000
	h.CSR.Satp = sv39Satp(rootTablePhys >> 12)
	h.CSR.Priv = csr.Supervisor
	h.CSR.Stvec = RAMBase + 0x2000

	// PC must itself be a canonical Sv39 address; reuse RAMBase's own
	// value as the faulting fetch address by leaving PC untouched.
	h.run(t, 1)

	if h.CSR.Priv != csr.Machine {
		t.Fatalf("priv = %v, want Machine (medeleg clear, trap not delegated to S-mode)", h.CSR.Priv)
	}
	if h.CSR.Mcause != uint64(csr.CauseInsnPageFault) {
		t.Fatalf("mcause = %#x, want CauseInsnPageFault", h.CSR.Mcause)
	}
	if h.PC != h.CSR.Mtvec {
		t.Fatalf("pc = %#x, want mtvec %#x", h.PC, h.CSR.Mtvec)
	}
}

func TestSv39DelegatedInstructionPageFaultGoesToSMode(t *testing.T) {
	h := newTestHart(t, 64)

	rootTablePhys := RAMBase + 0x1000
	h.CSR.Satp = sv39Satp(rootTablePhys >> 12)
	h.CSR.Priv = csr.User
	h.CSR.Medeleg |= 1 << uint(csr.CauseInsnPageFault)
	h.CSR.Stvec = RAMBase + 0x2000

	h.run(t, 1)

	if h.CSR.Priv != csr.Supervisor {
		t.Fatalf("priv = %v, want Supervisor after delegated page fault from U-mode", h.CSR.Priv)
	}
	if h.CSR.Scause != uint64(csr.CauseInsnPageFault) {
		t.Fatalf("scause = %#x, want CauseInsnPageFault", h.CSR.Scause)
	}
}
