package riscv

import (
	"testing"

	"github.com/tinyhart/rvcore/internal/csr"
	"github.com/tinyhart/rvcore/internal/membus"
)

// newTestHart builds a bare-mode (no paging) hart with RAM at the reset
// vector, ready to run hand-assembled instruction streams.
func newTestHart(t *testing.T, xlen int) *Hart {
	t.Helper()
	bus := membus.New(RAMBase, membus.NewRAM(64*1024))
	h := New(0, xlen, bus)
	return h
}

func (h *Hart) loadProgram(t *testing.T, insns ...uint32) {
	t.Helper()
	for i, insn := range insns {
		if err := h.Bus.Write32(RAMBase+uint64(i*4), insn); err != nil {
			t.Fatalf("loadProgram: %v", err)
		}
	}
}

func (h *Hart) run(t *testing.T, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		if err := h.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

// encodeR builds an R-type instruction.
func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

// encodeI builds an I-type instruction.
func encodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

// encodeS builds an S-type instruction.
func encodeS(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (u&0x1f)<<7 | opcode
}

// encodeB builds a B-type instruction.
func encodeB(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	b12 := (u >> 12) & 1
	b11 := (u >> 11) & 1
	b10_5 := (u >> 5) & 0x3f
	b4_1 := (u >> 1) & 0xf
	return b12<<31 | b10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | b4_1<<8 | b11<<7 | opcode
}

// encodeU builds a U-type instruction.
func encodeU(opcode, rd uint32, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | rd<<7 | opcode
}

// encodeJ builds a J-type instruction.
func encodeJ(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	b20 := (u >> 20) & 1
	b19_12 := (u >> 12) & 0xff
	b11 := (u >> 11) & 1
	b10_1 := (u >> 1) & 0x3ff
	return b20<<31 | b10_1<<21 | b11<<20 | b19_12<<12 | rd<<7 | opcode
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encodeI(opOpImm, rd, 0, rs1, imm) }

func TestAddi(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, addi(1, 0, 42))
	h.run(t, 1)
	if h.X[1] != 42 {
		t.Fatalf("x1 = %d, want 42", h.X[1])
	}
	if h.PC != RAMBase+4 {
		t.Fatalf("pc = %#x, want %#x", h.PC, RAMBase+4)
	}
}

func TestAddiNegative(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, addi(1, 0, -1))
	h.run(t, 1)
	if h.X[1] != ^uint64(0) {
		t.Fatalf("x1 = %#x, want all-ones", h.X[1])
	}
}

func TestAddRV64Overflow(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = 0x7fffffffffffffff
	h.X[2] = 1
	h.loadProgram(t, encodeR(opOp, 3, 0, 1, 2, 0))
	h.run(t, 1)
	if h.X[3] != 0x8000000000000000 {
		t.Fatalf("x3 = %#x, want 0x8000000000000000", h.X[3])
	}
}

// On RV32, register values are stored zero-extended in the 64-bit X
// array; ADD/SLT must treat them as 32-bit signed quantities, not
// reinterpret the zero-extended bit pattern as a huge positive int64.
func TestAddRV32TruncatesAndWraps(t *testing.T) {
	h := newTestHart(t, 32)
	h.X[1] = 0xffffffff // -1 as a 32-bit value
	h.X[2] = 1
	h.loadProgram(t, encodeR(opOp, 3, 0, 1, 2, 0))
	h.run(t, 1)
	if h.X[3] != 0 {
		t.Fatalf("x3 = %#x, want 0 (wraps to zero)", h.X[3])
	}
}

func TestSltRV32SignCorrectness(t *testing.T) {
	h := newTestHart(t, 32)
	h.X[1] = 0xffffffff // -1
	h.X[2] = 1
	// SLT x3, x1, x2 -> -1 < 1 is true
	h.loadProgram(t, encodeR(opOp, 3, 2, 1, 2, 0))
	h.run(t, 1)
	if h.X[3] != 1 {
		t.Fatalf("x3 = %d, want 1 (slt treats x1 as negative)", h.X[3])
	}
}

func TestSraRV32SignExtendsWithin32Bits(t *testing.T) {
	h := newTestHart(t, 32)
	h.X[1] = 0x80000000 // INT32_MIN
	// SRAI x2, x1, 4
	h.loadProgram(t, encodeI(opOpImm, 2, 5, 1, 4|(0x20<<5)))
	h.run(t, 1)
	want := uint64(0xf8000000) // INT32_MIN >> 4, zero-extended on RV32
	if h.X[2] != want {
		t.Fatalf("x2 = %#x, want %#x", h.X[2], want)
	}
}

func TestAddiwIllegalOnRV32(t *testing.T) {
	h := newTestHart(t, 32)
	h.loadProgram(t, encodeI(opOpImm32, 1, 0, 0, 1))
	if err := h.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	// Illegal instruction should have trapped into the CSR file, not
	// advanced PC past the faulting instruction via the normal path.
	if h.CSR.Mcause != uint64(csr.CauseIllegalInsn) {
		t.Fatalf("mcause = %#x, want illegal-instruction", h.CSR.Mcause)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = RAMBase + 0x100
	h.X[2] = 0x1122334455667788
	h.loadProgram(t,
		encodeS(opStore, 3, 1, 2, 0), // SD x2, 0(x1)
		encodeI(opLoad, 3, 3, 1, 0),  // LD x3, 0(x1)
	)
	h.run(t, 2)
	if h.X[3] != 0x1122334455667788 {
		t.Fatalf("x3 = %#x, want 0x1122334455667788", h.X[3])
	}
}

func TestLoadByteSignExtends(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = RAMBase + 0x200
	if err := h.Bus.Write8(RAMBase+0x200, 0xff); err != nil {
		t.Fatal(err)
	}
	h.loadProgram(t, encodeI(opLoad, 2, 0, 1, 0)) // LB x2, 0(x1)
	h.run(t, 1)
	if h.X[2] != ^uint64(0) {
		t.Fatalf("x2 = %#x, want all-ones (sign-extended -1)", h.X[2])
	}
}

func TestBranchTaken(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = 5
	h.X[2] = 5
	h.loadProgram(t,
		encodeB(opBranch, 0, 1, 2, 8), // BEQ x1, x2, +8
		addi(3, 0, 111),               // skipped
		addi(4, 0, 222),               // landed on
	)
	h.run(t, 2)
	if h.X[3] != 0 {
		t.Fatalf("x3 = %d, want 0 (branch should have skipped it)", h.X[3])
	}
	if h.X[4] != 222 {
		t.Fatalf("x4 = %d, want 222", h.X[4])
	}
}

func TestJalLinksAndJumps(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, encodeJ(opJal, 1, 8))
	h.run(t, 1)
	if h.X[1] != RAMBase+4 {
		t.Fatalf("x1 = %#x, want return address %#x", h.X[1], RAMBase+4)
	}
	if h.PC != RAMBase+8 {
		t.Fatalf("pc = %#x, want %#x", h.PC, RAMBase+8)
	}
}

func TestLuiAuipc(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t,
		encodeU(opLui, 1, 0x12345000),
		encodeU(opAuipc, 2, 0x1000),
	)
	h.run(t, 2)
	if h.X[1] != 0x12345000 {
		t.Fatalf("x1 = %#x, want 0x12345000", h.X[1])
	}
	if h.X[2] != RAMBase+4+0x1000 {
		t.Fatalf("x2 = %#x, want %#x", h.X[2], RAMBase+4+0x1000)
	}
}

func TestMulDivSigned(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = ^uint64(0) - 5 // -6 as a 64-bit two's complement value
	h.X[2] = uint64(int64(3))
	h.loadProgram(t,
		encodeR(opOp, 3, 0, 1, 2, 1), // MUL
		encodeR(opOp, 4, 4, 1, 2, 1), // DIV
	)
	h.run(t, 2)
	if int64(h.X[3]) != -18 {
		t.Fatalf("x3 = %d, want -18", int64(h.X[3]))
	}
	if int64(h.X[4]) != -2 {
		t.Fatalf("x4 = %d, want -2", int64(h.X[4]))
	}
}

func TestDivByZero(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = 5
	h.X[2] = 0
	h.loadProgram(t, encodeR(opOp, 3, 4, 1, 2, 1)) // DIV
	h.run(t, 1)
	if h.X[3] != ^uint64(0) {
		t.Fatalf("x3 = %#x, want -1 per RISC-V div-by-zero semantics", h.X[3])
	}
}

func TestCsrrwRoundTrip(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = 0x42
	// CSRRW x2, mscratch, x1
	h.loadProgram(t, encodeI(opSystem, 2, 1, 1, 0x340))
	h.run(t, 1)
	if h.CSR.Mscratch != 0x42 {
		t.Fatalf("mscratch = %#x, want 0x42", h.CSR.Mscratch)
	}
}

func TestEcallFromMachineTraps(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, 0x00000073) // ECALL
	h.run(t, 1)
	if h.CSR.Mcause != uint64(csr.CauseEcallFromM) {
		t.Fatalf("mcause = %#x, want ecall-from-M", h.CSR.Mcause)
	}
	if h.PC != h.CSR.Mtvec {
		t.Fatalf("pc = %#x, want mtvec %#x", h.PC, h.CSR.Mtvec)
	}
}

func TestWfiSetsWaitEvent(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, 0x10500073) // WFI
	h.run(t, 1)
	if !h.WaitEvent.Load() {
		t.Fatal("WaitEvent should be set after WFI")
	}
}

func TestAmoswap(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[1] = RAMBase + 0x300
	h.X[2] = 99
	if err := h.Bus.Write32(RAMBase+0x300, 11); err != nil {
		t.Fatal(err)
	}
	// AMOSWAP.W x3, x2, (x1): funct7 top5=0b00001, aq/rl=0
	insn := encodeR(opAMO, 3, 2, 1, 2, 0b0000100)
	h.loadProgram(t, insn)
	h.run(t, 1)
	if h.X[3] != 11 {
		t.Fatalf("x3 = %d, want old value 11", h.X[3])
	}
	v, _ := h.Bus.Read32(RAMBase + 0x300)
	if v != 99 {
		t.Fatalf("mem = %d, want 99", v)
	}
}

func TestCompressedAddi(t *testing.T) {
	h := newTestHart(t, 64)
	// C.LI x1, 5: funct3=010, rd=1, imm=5 -> quadrant 1
	// encoding: 0 1 0 | imm[5] | rd[4:0] | imm[4:0] | 01
	var insn uint16 = 0b010<<13 | 0<<12 | 1<<7 | 5<<2 | 0b01
	if err := h.Bus.Write16(RAMBase, insn); err != nil {
		t.Fatal(err)
	}
	h.run(t, 1)
	if h.X[1] != 5 {
		t.Fatalf("x1 = %d, want 5", h.X[1])
	}
	if h.PC != RAMBase+2 {
		t.Fatalf("pc = %#x, want %#x (compressed insns advance by 2)", h.PC, RAMBase+2)
	}
}

func TestCompressedJalrLinksToHalfWordPastItself(t *testing.T) {
	h := newTestHart(t, 64)
	h.X[2] = RAMBase + 0x100
	// C.JALR x2: quadrant 2, funct3=100, bit12=1, rs2=0, rs1=2
	var insn uint16 = 0b100<<13 | 1<<12 | 2<<7 | 0<<2 | 0b10
	if err := h.Bus.Write16(RAMBase, insn); err != nil {
		t.Fatal(err)
	}
	h.run(t, 1)
	if h.X[1] != RAMBase+2 {
		t.Fatalf("ra = %#x, want %#x (compressed JALR is 2 bytes wide)", h.X[1], RAMBase+2)
	}
	if h.PC != RAMBase+0x100 {
		t.Fatalf("pc = %#x, want %#x", h.PC, RAMBase+0x100)
	}
}

func TestSelfJumpParks(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, encodeJ(opJal, 0, 0)) // j . (park loop)
	h.run(t, 1)
	if h.PC != RAMBase {
		t.Fatalf("pc = %#x, want %#x (a jump to itself must not fall through)", h.PC, RAMBase)
	}
	h.run(t, 1)
	if h.PC != RAMBase {
		t.Fatalf("pc = %#x, want %#x (park loop should still be parked)", h.PC, RAMBase)
	}
}

func TestSelfBranchTakenParks(t *testing.T) {
	h := newTestHart(t, 64)
	h.loadProgram(t, encodeB(opBranch, 0, 0, 0, 0)) // beqz x0, . (always taken)
	h.run(t, 1)
	if h.PC != RAMBase {
		t.Fatalf("pc = %#x, want %#x (a taken self-branch must not fall through)", h.PC, RAMBase)
	}
}
