package csr

// CSR addresses. Bits [9:8] of the address give the minimum privilege
// required to access it; bits [11:10] == 0b11 mark it read-only. Both
// rules are enforced generically in Read/Write rather than per entry.
const (
	AddrFflags uint16 = 0x001
	AddrFrm    uint16 = 0x002
	AddrFcsr   uint16 = 0x003
	AddrSeed   uint16 = 0x015

	AddrCycle   uint16 = 0xC00
	AddrTime    uint16 = 0xC01
	AddrInstret uint16 = 0xC02
	AddrCycleH  uint16 = 0xC80
	AddrTimeH   uint16 = 0xC81
	AddrInstretH uint16 = 0xC82

	AddrSstatus    uint16 = 0x100
	AddrSie        uint16 = 0x104
	AddrStvec      uint16 = 0x105
	AddrScounteren uint16 = 0x106
	AddrSenvcfg    uint16 = 0x10A
	AddrSscratch   uint16 = 0x140
	AddrSepc       uint16 = 0x141
	AddrScause     uint16 = 0x142
	AddrStval      uint16 = 0x143
	AddrSip        uint16 = 0x144
	AddrStimecmp   uint16 = 0x14D
	AddrStimecmpH  uint16 = 0x15D
	AddrSatp       uint16 = 0x180

	AddrMstatus    uint16 = 0x300
	AddrMisa       uint16 = 0x301
	AddrMedeleg    uint16 = 0x302
	AddrMideleg    uint16 = 0x303
	AddrMie        uint16 = 0x304
	AddrMtvec      uint16 = 0x305
	AddrMcounteren uint16 = 0x306
	AddrMenvcfg    uint16 = 0x30A
	AddrMscratch   uint16 = 0x340
	AddrMepc       uint16 = 0x341
	AddrMcause     uint16 = 0x342
	AddrMtval      uint16 = 0x343
	AddrMip        uint16 = 0x344
	AddrMseccfg    uint16 = 0x747

	AddrPMPCfg0  uint16 = 0x3A0
	AddrPMPAddr0 uint16 = 0x3B0

	AddrMcycle    uint16 = 0xB00
	AddrMinstret  uint16 = 0xB02
	AddrMcycleH   uint16 = 0xB80
	AddrMinstretH uint16 = 0xB82
	AddrMhpmcounter3 uint16 = 0xB03
	AddrMhpmevent3   uint16 = 0x323
	AddrHpmcounter3  uint16 = 0xC03

	AddrMvendorid uint16 = 0xF11
	AddrMarchid   uint16 = 0xF12
	AddrMimpid    uint16 = 0xF13
	AddrMhartid   uint16 = 0xF14
)

// sstatus exposes only this subset of mstatus.
const sstatusMask = StatusSIE | StatusSPIE | StatusUBE | StatusSPP |
	StatusFS | StatusSUM | StatusMXR | StatusSD

// writable bits of mstatus.
const mstatusWriteMask = StatusSIE | StatusMIE | StatusSPIE | StatusMPIE |
	StatusSPP | StatusMPP | StatusFS | StatusMPRV | StatusSUM |
	StatusMXR | StatusTVM | StatusTW | StatusTSR

// csrDesc describes one CSR's access semantics. get/set operate on the
// raw register; a write to a readOnly entry, or to one with a nil set,
// is an illegal access. A non-nil set that discards its argument
// implements hardwired-read, write-ignored behavior for a register that
// does still hold a real value (e.g. misa).
type csrDesc struct {
	minPriv  Priv
	readOnly bool
	get      func(f *File) uint64
	set      func(f *File, v uint64)
}

var table = map[uint16]*csrDesc{}

func reg(addr uint16, minPriv Priv, get func(f *File) uint64, set func(f *File, v uint64)) {
	table[addr] = &csrDesc{minPriv: minPriv, get: get, set: set}
}

func ro(addr uint16, minPriv Priv, get func(f *File) uint64) {
	table[addr] = &csrDesc{minPriv: minPriv, readOnly: true, get: get}
}

// razwi registers a bank of read-any-zero/write-ignored registers, used
// for PMP and the hardware performance monitor banks this core does not
// implement beyond the architectural minimum of appearing present.
func razwi(addr uint16, minPriv Priv) {
	table[addr] = &csrDesc{minPriv: minPriv, get: func(*File) uint64 { return 0 }, set: func(*File, uint64) {}}
}

func init() {
	reg(AddrFflags, User, func(f *File) uint64 { return uint64(f.Fflags) }, func(f *File, v uint64) { f.Fflags = uint8(v & 0x1f) })
	reg(AddrFrm, User, func(f *File) uint64 { return uint64(f.Frm) }, func(f *File, v uint64) { f.Frm = uint8(v & 0x7) })
	reg(AddrFcsr, User,
		func(f *File) uint64 { return uint64(f.Fflags) | uint64(f.Frm)<<5 },
		func(f *File, v uint64) { f.Fflags = uint8(v & 0x1f); f.Frm = uint8((v >> 5) & 0x7) })

	ro(AddrSeed, Machine, func(f *File) uint64 {
		if f.Seed == nil {
			return 0
		}
		const opstReady = 0x3 << 30
		return opstReady | uint64(f.Seed())
	})

	ro(AddrCycle, User, func(f *File) uint64 { return f.Mcycle & f.wordMask() })
	ro(AddrTime, User, func(f *File) uint64 { return f.time() & f.wordMask() })
	ro(AddrInstret, User, func(f *File) uint64 { return f.Minstret & f.wordMask() })
	if true {
		// RV32-only upper-half shadows; harmless to register for RV64
		// since nothing reaches them (XLEN selects instruction width,
		// not CSR table membership) but kept conditional for clarity.
		ro(AddrCycleH, User, func(f *File) uint64 { return f.Mcycle >> 32 })
		ro(AddrTimeH, User, func(f *File) uint64 { return f.time() >> 32 })
		ro(AddrInstretH, User, func(f *File) uint64 { return f.Minstret >> 32 })
	}

	reg(AddrSstatus, Supervisor,
		func(f *File) uint64 { return f.Mstatus & sstatusMask },
		func(f *File, v uint64) { f.writeMstatus((f.Mstatus &^ sstatusMask) | (v & sstatusMask)) })
	reg(AddrSie, Supervisor,
		func(f *File) uint64 { return f.Mie & f.Mideleg },
		func(f *File, v uint64) { f.Mie = (f.Mie &^ f.Mideleg) | (v & f.Mideleg) })
	reg(AddrStvec, Supervisor, func(f *File) uint64 { return f.Stvec }, func(f *File, v uint64) { f.Stvec = v })
	reg(AddrScounteren, Supervisor, func(f *File) uint64 { return f.Scounteren }, func(f *File, v uint64) { f.Scounteren = v })
	reg(AddrSenvcfg, Supervisor, func(f *File) uint64 { return f.Senvcfg }, func(f *File, v uint64) { f.Senvcfg = v & 0x1 })
	reg(AddrSscratch, Supervisor, func(f *File) uint64 { return f.Sscratch }, func(f *File, v uint64) { f.Sscratch = v })
	reg(AddrSepc, Supervisor, func(f *File) uint64 { return f.Sepc }, func(f *File, v uint64) { f.Sepc = v &^ 1 })
	reg(AddrScause, Supervisor, func(f *File) uint64 { return f.Scause }, func(f *File, v uint64) { f.Scause = v })
	reg(AddrStval, Supervisor, func(f *File) uint64 { return f.Stval }, func(f *File, v uint64) { f.Stval = v })
	reg(AddrSip, Supervisor,
		func(f *File) uint64 { return f.Mip & f.Mideleg },
		func(f *File, v uint64) { f.Mip = (f.Mip &^ (MipSSIP & f.Mideleg)) | (v & MipSSIP & f.Mideleg) })
	reg(AddrStimecmp, Supervisor, func(f *File) uint64 { return f.Stimecmp & f.wordMask() }, func(f *File, v uint64) {
		if f.XLEN == 32 {
			f.Stimecmp = (f.Stimecmp &^ 0xffff_ffff) | v
		} else {
			f.Stimecmp = v
		}
	})
	ro(AddrStimecmpH, Supervisor, func(f *File) uint64 { return f.Stimecmp >> 32 })
	reg(AddrSatp, Supervisor, func(f *File) uint64 { return f.Satp }, func(f *File, v uint64) { f.Satp = v })

	reg(AddrMstatus, Machine, func(f *File) uint64 { return f.Mstatus }, func(f *File, v uint64) { f.writeMstatus(v) })
	// misa is WARL: this core fixes XLEN and the extension set, so a
	// write that asks for anything else is silently legalized away
	// rather than trapped.
	reg(AddrMisa, Machine, func(f *File) uint64 { return f.Misa }, func(f *File, v uint64) {})
	reg(AddrMedeleg, Machine, func(f *File) uint64 { return f.Medeleg }, func(f *File, v uint64) { f.Medeleg = v & 0xb3ff })
	reg(AddrMideleg, Machine, func(f *File) uint64 { return f.Mideleg },
		func(f *File, v uint64) { f.Mideleg = v & (MipSSIP | MipSTIP | MipSEIP) })
	reg(AddrMie, Machine, func(f *File) uint64 { return f.Mie },
		func(f *File, v uint64) { f.Mie = v & (MipSSIP | MipMSIP | MipSTIP | MipMTIP | MipSEIP | MipMEIP) })
	reg(AddrMtvec, Machine, func(f *File) uint64 { return f.Mtvec }, func(f *File, v uint64) { f.Mtvec = v })
	reg(AddrMcounteren, Machine, func(f *File) uint64 { return f.Mcounteren }, func(f *File, v uint64) { f.Mcounteren = v })
	reg(AddrMenvcfg, Machine, func(f *File) uint64 { return f.Menvcfg }, func(f *File, v uint64) { f.Menvcfg = v })
	reg(AddrMscratch, Machine, func(f *File) uint64 { return f.Mscratch }, func(f *File, v uint64) { f.Mscratch = v })
	reg(AddrMepc, Machine, func(f *File) uint64 { return f.Mepc }, func(f *File, v uint64) { f.Mepc = v &^ 1 })
	reg(AddrMcause, Machine, func(f *File) uint64 { return f.Mcause }, func(f *File, v uint64) { f.Mcause = v })
	reg(AddrMtval, Machine, func(f *File) uint64 { return f.Mtval }, func(f *File, v uint64) { f.Mtval = v })
	reg(AddrMip, Machine, func(f *File) uint64 { return f.Mip }, func(f *File, v uint64) {
		const writable = MipSSIP | MipSTIP | MipSEIP
		f.Mip = (f.Mip &^ writable) | (v & writable)
	})
	reg(AddrMseccfg, Machine, func(f *File) uint64 { return f.Mseccfg }, func(f *File, v uint64) { f.Mseccfg = v })

	reg(AddrMcycle, Machine, func(f *File) uint64 { return f.Mcycle & f.wordMask() }, func(f *File, v uint64) { f.Mcycle = v })
	reg(AddrMinstret, Machine, func(f *File) uint64 { return f.Minstret & f.wordMask() }, func(f *File, v uint64) { f.Minstret = v })
	reg(AddrMcycleH, Machine, func(f *File) uint64 { return f.Mcycle >> 32 }, func(f *File, v uint64) {
		f.Mcycle = (f.Mcycle & 0xffff_ffff) | (v << 32)
	})
	reg(AddrMinstretH, Machine, func(f *File) uint64 { return f.Minstret >> 32 }, func(f *File, v uint64) {
		f.Minstret = (f.Minstret & 0xffff_ffff) | (v << 32)
	})

	ro(AddrMvendorid, Machine, func(*File) uint64 { return 0 })
	ro(AddrMarchid, Machine, func(*File) uint64 { return 0 })
	ro(AddrMimpid, Machine, func(*File) uint64 { return 0 })
	ro(AddrMhartid, Machine, func(f *File) uint64 { return f.HartID })

	// PMP: stubbed RAZ/WI (no PMP enforcement, spec-permitted minimum).
	for i := uint16(0); i < 4; i++ {
		razwi(AddrPMPCfg0+i, Machine)
	}
	for i := uint16(0); i < 16; i++ {
		razwi(AddrPMPAddr0+i, Machine)
	}

	// Machine hardware performance monitors 3..31 and their event
	// selectors, and the matching unprivileged hpmcounter shadow: all
	// RAZ/WI, per spec.
	for i := uint16(0); i < 29; i++ {
		razwi(AddrMhpmcounter3+i, Machine)
		razwi(AddrMhpmcounter3+0x80+i, Machine)
		razwi(AddrMhpmevent3+i, Machine)
		razwi(AddrHpmcounter3+i, User)
		razwi(AddrHpmcounter3+0x80+i, User)
	}
}

func (f *File) writeMstatus(v uint64) {
	f.Mstatus = (f.Mstatus &^ mstatusWriteMask) | (v & mstatusWriteMask)
	// MPP==2 is reserved (there is no privilege level 2); WARL fields
	// must clamp an illegal write rather than let it stick.
	if Priv((f.Mstatus&StatusMPP)>>StatusMPPShift) == 2 {
		f.Mstatus &^= StatusMPP
	}
	if f.Mstatus&StatusFS == StatusFS {
		f.Mstatus |= StatusSD
	} else {
		f.Mstatus &^= StatusSD
	}
}

// Read performs a privileged CSR read, returning a *Fault if the
// current privilege level is insufficient or the address is unmapped.
func (f *File) Read(addr uint16) (uint64, error) {
	d, ok := table[addr]
	if !ok {
		return 0, &Fault{Addr: addr}
	}
	if f.Priv < minReqPriv(addr, d.minPriv) {
		return 0, &Fault{Addr: addr}
	}
	return d.get(f), nil
}

// Write performs a privileged CSR write. Writes to read-only CSRs or
// CSRs the current privilege cannot reach return a *Fault.
func (f *File) Write(addr uint16, val uint64) error {
	d, ok := table[addr]
	if !ok {
		return &Fault{Addr: addr}
	}
	if f.Priv < minReqPriv(addr, d.minPriv) {
		return &Fault{Addr: addr}
	}
	if addr>>10 == 3 {
		return &Fault{Addr: addr}
	}
	if d.readOnly || d.set == nil {
		return &Fault{Addr: addr}
	}
	d.set(f, val)
	return nil
}

// minReqPriv takes the higher of the address-encoded minimum privilege
// and the descriptor's own, so a bank registered generically (e.g. the
// hpmcounter shadow at User) can still be tightened per-entry.
func minReqPriv(addr uint16, descMin Priv) Priv {
	encoded := Priv((addr >> 8) & 3)
	if encoded > descMin {
		return encoded
	}
	return descMin
}
