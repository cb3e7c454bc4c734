// Package riscv implements the per-hart interpreter: instruction fetch
// and decode, the integer/M/A/F/D/C execution units, and trap delivery
// wired against internal/csr and internal/mmu. A Hart owns no threads
// of its own; internal/machine drives Step in a loop per goroutine.
package riscv

import (
	"fmt"
	"sync/atomic"

	"github.com/tinyhart/rvcore/internal/bitops"
	"github.com/tinyhart/rvcore/internal/csr"
	"github.com/tinyhart/rvcore/internal/membus"
	"github.com/tinyhart/rvcore/internal/mmu"
)

// Fixed physical memory map; internal/config has no fields that move it.
const (
	RAMBase   uint64 = 0x8000_0000
	CLINTBase uint64 = 0x0200_0000
	CLINTSize uint64 = 0x000c_0000
	PLICBase  uint64 = 0x0c00_0000
	PLICSize  uint64 = 0x0400_0000
	UARTBase  uint64 = 0x1000_0000
	UARTSize  uint64 = 0x0000_1000
)

// Trap is a decoded exception or interrupt ready for delivery through
// the CSR file.
type Trap struct {
	Cause csr.Cause
	Tval  uint64
}

func (t *Trap) Error() string { return fmt.Sprintf("trap: cause=%#x tval=%#x", uint64(t.Cause), t.Tval) }

func trap(cause csr.Cause, tval uint64) error { return &Trap{Cause: cause, Tval: tval} }

// Hart is one RISC-V hardware thread: architectural register state,
// its own CSR file, MMU/TLB, and a reference to the shared bus.
type Hart struct {
	ID   uint64
	XLEN int

	X  [32]uint64
	F  [32]uint64
	PC uint64

	CSR *csr.File
	MMU *mmu.MMU
	Bus *membus.Bus

	Reservation      uint64
	ReservationValid bool

	// WaitEvent is true while the hart is suspended in WFI. Cleared
	// with Store(release) by whatever makes an interrupt pending;
	// observed with Load(acquire) by the scheduler's wait loop.
	WaitEvent atomic.Bool

	Compressed bool // true if the last-fetched instruction was 16-bit

	// branched is set by JAL/JALR/taken-branch/MRET/SRET to tell Step
	// that PC already holds the next fetch address, so a control
	// transfer whose target equals the instruction's own address (a
	// park loop, a taken self-branch) is never mistaken for a fallthrough.
	branched bool

	// OnStore, if set, is called with the physical address and size of
	// every successful guest store, so a translation cache sitting above
	// the hart can invalidate any compiled block covering that page.
	OnStore func(physAddr, size uint64)
}

// New creates a hart of the given XLEN (32 or 64) and hart ID, sharing
// bus among every hart on the same machine.
func New(id uint64, xlen int, bus *membus.Bus) *Hart {
	h := &Hart{ID: id, XLEN: xlen, Bus: bus}
	h.CSR = csr.New(xlen, id)
	h.MMU = mmu.New(busAdapter{bus}, xlen)
	h.Reset()
	return h
}

// busAdapter narrows membus.Bus to the mmu.Bus interface.
type busAdapter struct{ b *membus.Bus }

func (a busAdapter) Read32(addr uint64) (uint32, error)  { return a.b.Read32(addr) }
func (a busAdapter) Write32(addr uint64, v uint32) error { return a.b.Write32(addr, v) }
func (a busAdapter) Read64(addr uint64) (uint64, error)  { return a.b.Read64(addr) }
func (a busAdapter) Write64(addr uint64, v uint64) error { return a.b.Write64(addr, v) }

// Reset restores power-on state and places PC at the reset vector.
func (h *Hart) Reset() {
	for i := range h.X {
		h.X[i] = 0
	}
	for i := range h.F {
		h.F[i] = 0
	}
	h.PC = RAMBase
	h.CSR.Reset()
	h.MMU.Flush()
	h.ReservationValid = false
	h.WaitEvent.Store(false)
}

func (h *Hart) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return h.X[reg]
}

func (h *Hart) WriteReg(reg uint32, val uint64) {
	if reg != 0 {
		if h.XLEN == 32 {
			val = bitops.ZeroExtend32(val)
		}
		h.X[reg] = val
	}
}

// access identifies a memory operation kind for translation/fault
// reporting.
type access = mmu.Access

const (
	accRead    = mmu.AccessRead
	accWrite   = mmu.AccessWrite
	accExecute = mmu.AccessExecute
)

func (h *Hart) translate(vaddr uint64, acc access) (uint64, error) {
	paddr, err := h.MMU.Translate(h.CSR, vaddr, acc)
	if err != nil {
		if pf, ok := err.(*mmu.PageFault); ok {
			return 0, trap(pf.Cause, pf.Vaddr)
		}
		return 0, err
	}
	return paddr, nil
}

func (h *Hart) loadFault(acc access, vaddr uint64) error {
	switch acc {
	case accWrite:
		return trap(csr.CauseStoreAccessFault, vaddr)
	case accExecute:
		return trap(csr.CauseInsnAccessFault, vaddr)
	default:
		return trap(csr.CauseLoadAccessFault, vaddr)
	}
}

func (h *Hart) Read8(vaddr uint64) (uint8, error) {
	p, err := h.translate(vaddr, accRead)
	if err != nil {
		return 0, err
	}
	v, err := h.Bus.Read8(p)
	if err != nil {
		return 0, h.loadFault(accRead, vaddr)
	}
	return v, nil
}

func (h *Hart) Read16(vaddr uint64) (uint16, error) {
	p, err := h.translate(vaddr, accRead)
	if err != nil {
		return 0, err
	}
	v, err := h.Bus.Read16(p)
	if err != nil {
		return 0, h.loadFault(accRead, vaddr)
	}
	return v, nil
}

func (h *Hart) Read32(vaddr uint64) (uint32, error) {
	p, err := h.translate(vaddr, accRead)
	if err != nil {
		return 0, err
	}
	v, err := h.Bus.Read32(p)
	if err != nil {
		return 0, h.loadFault(accRead, vaddr)
	}
	return v, nil
}

func (h *Hart) Read64(vaddr uint64) (uint64, error) {
	p, err := h.translate(vaddr, accRead)
	if err != nil {
		return 0, err
	}
	v, err := h.Bus.Read64(p)
	if err != nil {
		return 0, h.loadFault(accRead, vaddr)
	}
	return v, nil
}

func (h *Hart) Write8(vaddr uint64, val uint8) error {
	p, err := h.translate(vaddr, accWrite)
	if err != nil {
		return err
	}
	if err := h.Bus.Write8(p, val); err != nil {
		return h.loadFault(accWrite, vaddr)
	}
	if h.OnStore != nil {
		h.OnStore(p, 1)
	}
	return nil
}

func (h *Hart) Write16(vaddr uint64, val uint16) error {
	p, err := h.translate(vaddr, accWrite)
	if err != nil {
		return err
	}
	if err := h.Bus.Write16(p, val); err != nil {
		return h.loadFault(accWrite, vaddr)
	}
	if h.OnStore != nil {
		h.OnStore(p, 2)
	}
	return nil
}

func (h *Hart) Write32(vaddr uint64, val uint32) error {
	p, err := h.translate(vaddr, accWrite)
	if err != nil {
		return err
	}
	if err := h.Bus.Write32(p, val); err != nil {
		return h.loadFault(accWrite, vaddr)
	}
	if h.OnStore != nil {
		h.OnStore(p, 4)
	}
	return nil
}

func (h *Hart) Write64(vaddr uint64, val uint64) error {
	p, err := h.translate(vaddr, accWrite)
	if err != nil {
		return err
	}
	if err := h.Bus.Write64(p, val); err != nil {
		return h.loadFault(accWrite, vaddr)
	}
	if h.OnStore != nil {
		h.OnStore(p, 8)
	}
	return nil
}

// fetch reads the next instruction at PC, translating through the MMU
// with an execute access and resolving compressed vs. full width.
func (h *Hart) fetch() (uint32, error) {
	p, err := h.translate(h.PC, accExecute)
	if err != nil {
		return 0, err
	}
	lo, err := h.Bus.Read16(p)
	if err != nil {
		return 0, h.loadFault(accExecute, h.PC)
	}
	if lo&0x3 != 0x3 {
		h.Compressed = true
		return uint32(lo), nil
	}
	h.Compressed = false
	hi, err := h.Bus.Read16(p + 2)
	if err != nil {
		return 0, h.loadFault(accExecute, h.PC)
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

// Step fetches, decodes, and executes one instruction, delivering any
// resulting trap through the CSR file and leaving PC at the next
// fetch address. Guest traps are not reported through the returned
// error; WFI sets WaitEvent so the caller (internal/machine) can
// suspend the goroutine instead of busy-looping.
func (h *Hart) Step() error {
	if cause, ok := h.CSR.PendingInterrupt(); ok {
		h.deliver(cause, 0)
		return nil
	}

	insn, err := h.fetch()
	if err != nil {
		h.deliverErr(err)
		return nil
	}

	if h.Compressed {
		expanded, err := ExpandCompressed(uint16(insn))
		if err != nil {
			h.deliverErr(err)
			return nil
		}
		insn = expanded
	}

	h.branched = false
	if err := h.execute(insn); err != nil {
		h.deliverErr(err)
		return nil
	}
	if !h.branched {
		h.PC += h.insnWidth()
	}
	return nil
}

// insnWidth returns the byte width of the instruction last fetched: 2
// for compressed, 4 otherwise. Link-producing instructions (JAL,
// JALR) use it to compute the return address, and Step uses it to
// advance PC past non-control-transfer instructions.
func (h *Hart) insnWidth() uint64 {
	if h.Compressed {
		return 2
	}
	return 4
}

func (h *Hart) deliverErr(err error) {
	if t, ok := err.(*Trap); ok {
		h.deliver(t.Cause, t.Tval)
		return
	}
	h.deliver(csr.CauseIllegalInsn, 0)
}

func (h *Hart) deliver(cause csr.Cause, tval uint64) {
	h.PC = h.CSR.Enter(cause, tval, h.PC)
}

// execute dispatches a fully-expanded 32-bit instruction through the
// opcode/funct3 table.
func (h *Hart) execute(insn uint32) error {
	idx := dispatchIndex(insn)
	fn := dispatchTable[idx]
	if fn == nil {
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	return fn(h, insn)
}
