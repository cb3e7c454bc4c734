// Package csr implements the privileged register file: CSR storage,
// read/modify/write semantics with privilege and read-only enforcement,
// interrupt prioritization, and trap delegation between M-mode and
// S-mode. It has no notion of instruction decode or memory; callers
// (internal/riscv) hand it a CSR address and a value and get back
// either a result or an illegal-instruction fault.
package csr

import "fmt"

// Priv is a RISC-V privilege level.
type Priv uint8

const (
	User       Priv = 0
	Supervisor Priv = 1
	Machine    Priv = 3
)

func (p Priv) String() string {
	switch p {
	case User:
		return "U"
	case Supervisor:
		return "S"
	case Machine:
		return "M"
	default:
		return fmt.Sprintf("Priv(%d)", uint8(p))
	}
}

// Cause is a trap cause. Bit 63 set marks an interrupt.
type Cause uint64

const interruptBit Cause = 1 << 63

func (c Cause) IsInterrupt() bool { return c&interruptBit != 0 }
func (c Cause) Code() uint64      { return uint64(c &^ interruptBit) }

// Exception causes.
const (
	CauseInsnAddrMisaligned  Cause = 0
	CauseInsnAccessFault     Cause = 1
	CauseIllegalInsn         Cause = 2
	CauseBreakpoint          Cause = 3
	CauseLoadAddrMisaligned  Cause = 4
	CauseLoadAccessFault     Cause = 5
	CauseStoreAddrMisaligned Cause = 6
	CauseStoreAccessFault    Cause = 7
	CauseEcallFromU          Cause = 8
	CauseEcallFromS          Cause = 9
	CauseEcallFromM          Cause = 11
	CauseInsnPageFault       Cause = 12
	CauseLoadPageFault       Cause = 13
	CauseStorePageFault      Cause = 15
)

// Interrupt causes.
const (
	CauseSSoftwareInt Cause = interruptBit | 1
	CauseMSoftwareInt Cause = interruptBit | 3
	CauseSTimerInt    Cause = interruptBit | 5
	CauseMTimerInt    Cause = interruptBit | 7
	CauseSExternalInt Cause = interruptBit | 9
	CauseMExternalInt Cause = interruptBit | 11
)

// mstatus bits (also used, masked, as the sstatus view).
const (
	StatusSIE  uint64 = 1 << 1
	StatusMIE  uint64 = 1 << 3
	StatusSPIE uint64 = 1 << 5
	StatusUBE  uint64 = 1 << 6
	StatusMPIE uint64 = 1 << 7
	StatusSPP  uint64 = 1 << 8
	StatusMPP  uint64 = 3 << 11
	StatusFS   uint64 = 3 << 13
	StatusMPRV uint64 = 1 << 17
	StatusSUM  uint64 = 1 << 18
	StatusMXR  uint64 = 1 << 19
	StatusTVM  uint64 = 1 << 20
	StatusTW   uint64 = 1 << 21
	StatusTSR  uint64 = 1 << 22
	StatusSD   uint64 = 1 << 63

	StatusMPPShift = 11
)

// UXL/SXL live at bits [33:32]/[35:34] of mstatus on RV64 and select the
// effective XLEN visible to U-mode/S-mode; a single-XLEN hart keeps them
// fixed at MXL64 throughout.
const (
	StatusUXLShift = 32
	StatusSXLShift = 34
	MXL32          = 1
	MXL64          = 2
)

// mip/mie bits.
const (
	MipSSIP uint64 = 1 << 1
	MipMSIP uint64 = 1 << 3
	MipSTIP uint64 = 1 << 5
	MipMTIP uint64 = 1 << 7
	MipSEIP uint64 = 1 << 9
	MipMEIP uint64 = 1 << 11
)

// misa extension bits.
const (
	MisaA uint64 = 1 << 0
	MisaC uint64 = 1 << 2
	MisaD uint64 = 1 << 3
	MisaF uint64 = 1 << 5
	MisaI uint64 = 1 << 8
	MisaM uint64 = 1 << 12
	MisaS uint64 = 1 << 18
	MisaU uint64 = 1 << 20
)

// menvcfg bits.
const (
	MenvcfgSTCE uint64 = 1 << 63 // Sstc: stimecmp is armed
)

// Fault reports a CSR access violation — always translated by the
// caller into an illegal-instruction exception.
type Fault struct {
	Addr uint16
}

func (f *Fault) Error() string { return fmt.Sprintf("csr: illegal access to 0x%03x", f.Addr) }

// File holds one hart's complete privileged register state.
type File struct {
	XLEN   int // 32 or 64
	HartID uint64
	Priv   Priv

	// Machine mode.
	Mstatus  uint64
	Misa     uint64
	Medeleg  uint64
	Mideleg  uint64
	Mie      uint64
	Mtvec    uint64
	Mcounteren uint64
	Mscratch uint64
	Mepc     uint64
	Mcause   uint64
	Mtval    uint64
	Mip      uint64
	Menvcfg  uint64
	Mseccfg  uint64
	Mcycle   uint64
	Minstret uint64

	// Supervisor mode.
	Stvec      uint64
	Scounteren uint64
	Sscratch   uint64
	Sepc       uint64
	Scause     uint64
	Stval      uint64
	Satp       uint64
	Senvcfg    uint64
	Stimecmp   uint64 // Sstc extension

	// PMP, stubbed RAZ/WI per configuration (no PMP enforcement).
	PMPCfg  [4]uint64
	PMPAddr [16]uint64

	// Machine hardware performance monitors 3..31, all RAZ/WI.
	MHPMCounter [29]uint64
	MHPMEvent   [29]uint64

	// Floating point.
	Fflags uint8
	Frm    uint8

	// TimeSource reads the machine-wide mtime value backing the time,
	// cycle, and Sstc comparison CSRs. Injected by the owning machine
	// so every hart observes the same monotonic clock.
	TimeSource func() uint64

	// Seed supplies 16 bits of entropy per read of the seed CSR.
	Seed func() uint16
}

// New creates a CSR file for a hart of the given XLEN (32 or 64) and
// hart ID, with machine mode and RV64GC (or RV32GC) misa preset.
func New(xlen int, hartID uint64) *File {
	f := &File{XLEN: xlen, HartID: hartID}
	f.Reset()
	return f
}

// Reset restores power-on state: machine mode, all CSRs zeroed except
// misa, mhartid, stimecmp (all ones, so it never fires before being
// programmed) and, on RV64, mstatus.UXL/SXL (MXL64).
func (f *File) Reset() {
	f.Priv = Machine
	mxl := uint64(MXL64)
	if f.XLEN == 32 {
		mxl = MXL32
	}
	shift := uint64(62)
	if f.XLEN == 32 {
		shift = 30
	}
	f.Misa = (mxl << shift) | MisaI | MisaM | MisaA | MisaF | MisaD | MisaC | MisaS | MisaU
	f.Mstatus = 0
	if f.XLEN == 64 {
		f.Mstatus = MXL64<<StatusUXLShift | MXL64<<StatusSXLShift
	}
	f.Medeleg, f.Mideleg = 0, 0
	f.Mie, f.Mip = 0, 0
	f.Mtvec, f.Mepc, f.Mcause, f.Mtval, f.Mscratch = 0, 0, 0, 0, 0
	f.Stvec, f.Sepc, f.Scause, f.Stval, f.Sscratch, f.Satp = 0, 0, 0, 0, 0, 0
	f.Stimecmp = ^uint64(0)
	f.Mcounteren, f.Scounteren = 0, 0
	f.Menvcfg, f.Senvcfg, f.Mseccfg = 0, 0, 0
	f.Mcycle, f.Minstret = 0, 0
	f.Fflags, f.Frm = 0, 0
	for i := range f.PMPCfg {
		f.PMPCfg[i] = 0
	}
	for i := range f.PMPAddr {
		f.PMPAddr[i] = 0
	}
	for i := range f.MHPMCounter {
		f.MHPMCounter[i], f.MHPMEvent[i] = 0, 0
	}
}

func (f *File) time() uint64 {
	if f.TimeSource == nil {
		return 0
	}
	return f.TimeSource()
}

func (f *File) wordMask() uint64 {
	if f.XLEN == 32 {
		return 0xffff_ffff
	}
	return ^uint64(0)
}
