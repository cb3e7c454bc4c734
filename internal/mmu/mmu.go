// Package mmu implements the software MMU and TLB: Sv32/Sv39/Sv48/Sv57
// page table walks, PTE permission and A/D-bit handling, and a
// direct-mapped TLB shared by the fetch, load, and store paths.
package mmu

import "github.com/tinyhart/rvcore/internal/csr"

// Access names the kind of memory access being translated, matching
// the encoding csr page-fault causes are chosen from.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessExecute
)

// Page table entry flags, common to every paging mode this core
// implements.
const (
	PteV = 1 << 0
	PteR = 1 << 1
	PteW = 1 << 2
	PteX = 1 << 3
	PteU = 1 << 4
	PteG = 1 << 5
	PteA = 1 << 6
	PteD = 1 << 7
)

const pageShift = 12
const pageSize = 1 << pageShift

// satp MODE field values.
const (
	satpModeBare = 0
	satpModeSv32 = 1 // RV32 only
	satpModeSv39 = 8
	satpModeSv48 = 9
	satpModeSv57 = 10
)

type pagingMode struct {
	levels    int
	vpnBits   int
	ppnBits   int
	signBit   int // address bits above this must equal bit `signBit`, for canonical-address checks; 0 means no check (Sv32)
	pteEntrySize uint64
}

var modes = map[uint64]pagingMode{
	satpModeSv32: {levels: 2, vpnBits: 10, ppnBits: 22, signBit: 0, pteEntrySize: 4},
	satpModeSv39: {levels: 3, vpnBits: 9, ppnBits: 44, signBit: 38, pteEntrySize: 8},
	satpModeSv48: {levels: 4, vpnBits: 9, ppnBits: 44, signBit: 47, pteEntrySize: 8},
	satpModeSv57: {levels: 5, vpnBits: 9, ppnBits: 44, signBit: 56, pteEntrySize: 8},
}

// Bus is the subset of the physical bus the MMU needs to walk page
// tables: word-sized reads/writes at physical addresses.
type Bus interface {
	Read32(addr uint64) (uint32, error)
	Write32(addr uint64, v uint32) error
	Read64(addr uint64) (uint64, error)
	Write64(addr uint64, v uint64) error
}

// tlbEntry caches one completed translation. generation ties the entry
// to the MMU's flush counter instead of a bool, so a global flush is
// a single increment rather than a scan over every entry.
type tlbEntry struct {
	generation uint64
	vpn        uint64
	ppn        uint64
	flags      uint64
	pageSize   uint64
	asid       uint16
}

const tlbSize = 256

// MMU translates virtual addresses for one hart.
type MMU struct {
	bus        Bus
	xlen       int
	tlb        [tlbSize]tlbEntry
	generation uint64
}

// New creates an MMU for a hart of the given XLEN backed by bus.
func New(bus Bus, xlen int) *MMU {
	return &MMU{bus: bus, xlen: xlen, generation: 1}
}

// Flush invalidates every TLB entry.
func (m *MMU) Flush() {
	m.generation++
}

// FlushEntry invalidates the mapping for a single virtual address,
// honoring asid like sfence.vma rs1,rs2 where rs2 names an ASID.
func (m *MMU) FlushEntry(vaddr uint64, asid uint16, matchASID bool) {
	vpn := vaddr >> pageShift
	idx := vpn & (tlbSize - 1)
	e := &m.tlb[idx]
	if e.generation == m.generation && e.vpn == vpn && (!matchASID || e.asid == asid || e.flags&PteG != 0) {
		e.generation = 0
	}
}

// Translate resolves a virtual address to a physical address for the
// given access kind, consulting the TLB before walking page tables.
func (m *MMU) Translate(f *csr.File, vaddr uint64, access Access) (uint64, error) {
	mode := m.satpMode(f.Satp)
	if mode == satpModeBare {
		return vaddr, nil
	}

	priv := f.Priv
	if f.Priv == csr.Machine && access != AccessExecute && f.Mstatus&csr.StatusMPRV != 0 {
		priv = csr.Priv((f.Mstatus & csr.StatusMPP) >> csr.StatusMPPShift)
	}
	if priv == csr.Machine {
		return vaddr, nil
	}

	pm, ok := modes[mode]
	if !ok {
		return vaddr, nil
	}

	vpn := vaddr >> pageShift
	idx := vpn & (tlbSize - 1)
	e := &m.tlb[idx]
	asid := m.asid(f.Satp, pm)

	if e.generation == m.generation && e.vpn == vpn && (e.asid == asid || e.flags&PteG != 0) {
		if err := m.checkPermissions(f, e.flags, access, priv, vaddr); err != nil {
			return 0, err
		}
		if e.flags&PteA != 0 && !(access == AccessWrite && e.flags&PteD == 0) {
			return (e.ppn << pageShift) | (vaddr & (e.pageSize - 1)), nil
		}
		// Accessed/dirty bit needs setting; fall through to a real walk
		// so the backing PTE in memory is updated too.
	}

	paddr, flags, walkedPageSize, err := m.walk(f, vaddr, access, priv, pm)
	if err != nil {
		return 0, err
	}

	e.generation = m.generation
	e.vpn = vpn
	e.ppn = paddr >> pageShift
	e.flags = flags
	e.pageSize = walkedPageSize
	e.asid = asid
	return paddr, nil
}

func (m *MMU) satpMode(satp uint64) uint64 {
	if m.xlen == 32 {
		return satp >> 31
	}
	return satp >> 60
}

func (m *MMU) asid(satp uint64, pm pagingMode) uint16 {
	if m.xlen == 32 {
		return uint16((satp >> 22) & 0x1ff)
	}
	return uint16((satp >> 44) & 0xffff)
}

func (m *MMU) rootPPN(satp uint64, pm pagingMode) uint64 {
	mask := uint64(1)<<pm.ppnBits - 1
	return satp & mask
}

func (m *MMU) walk(f *csr.File, vaddr uint64, access Access, priv csr.Priv, pm pagingMode) (uint64, uint64, uint64, error) {
	if pm.signBit != 0 {
		top := int64(vaddr) >> pm.signBit
		if top != 0 && top != -1 {
			return 0, 0, 0, m.pageFault(access, vaddr)
		}
	}

	vpnMask := uint64(1)<<pm.vpnBits - 1
	pteAddr := m.rootPPN(f.Satp, pm) << pageShift
	size := uint64(pageSize)

	for level := pm.levels - 1; level >= 0; level-- {
		shift := pageShift + level*pm.vpnBits
		vpn := (vaddr >> shift) & vpnMask
		pteAddr += vpn * pm.pteEntrySize

		pte, err := m.readPTE(pteAddr, pm)
		if err != nil {
			return 0, 0, 0, m.pageFault(access, vaddr)
		}
		if pte&PteV == 0 || (pte&PteR == 0 && pte&PteW != 0) {
			return 0, 0, 0, m.pageFault(access, vaddr)
		}

		if pte&(PteR|PteX) != 0 {
			if level > 0 {
				misalignMask := uint64(1)<<(level*pm.vpnBits) - 1
				if (pte>>10)&misalignMask != 0 {
					return 0, 0, 0, m.pageFault(access, vaddr)
				}
				size = 1 << (pageShift + level*pm.vpnBits)
			}

			if err := m.checkPermissions(f, pte, access, priv, vaddr); err != nil {
				return 0, 0, 0, err
			}

			needA := pte&PteA == 0
			needD := access == AccessWrite && pte&PteD == 0
			if needA || needD {
				newPte := pte | PteA
				if access == AccessWrite {
					newPte |= PteD
				}
				if err := m.writePTE(pteAddr, pm, newPte); err != nil {
					return 0, 0, 0, m.pageFault(access, vaddr)
				}
				pte = newPte
			}

			ppnMask := uint64(1)<<pm.ppnBits - 1
			ppn := (pte >> 10) & ppnMask
			if level > 0 {
				superMask := uint64(1)<<(level*pm.vpnBits) - 1
				ppn = (ppn &^ superMask) | ((vaddr >> pageShift) & superMask)
			}
			paddr := (ppn << pageShift) | (vaddr & (size - 1))
			return paddr, pte, size, nil
		}

		ppnMask := uint64(1)<<pm.ppnBits - 1
		pteAddr = ((pte >> 10) & ppnMask) << pageShift
	}
	return 0, 0, 0, m.pageFault(access, vaddr)
}

func (m *MMU) readPTE(addr uint64, pm pagingMode) (uint64, error) {
	if pm.pteEntrySize == 4 {
		v, err := m.bus.Read32(addr)
		return uint64(v), err
	}
	return m.bus.Read64(addr)
}

func (m *MMU) writePTE(addr uint64, pm pagingMode, val uint64) error {
	if pm.pteEntrySize == 4 {
		return m.bus.Write32(addr, uint32(val))
	}
	return m.bus.Write64(addr, val)
}

func (m *MMU) checkPermissions(f *csr.File, pte uint64, access Access, priv csr.Priv, vaddr uint64) error {
	if priv == csr.User {
		if pte&PteU == 0 {
			return m.pageFault(access, vaddr)
		}
	} else if pte&PteU != 0 && f.Mstatus&csr.StatusSUM == 0 {
		return m.pageFault(access, vaddr)
	}

	switch access {
	case AccessRead:
		if pte&PteR == 0 {
			if f.Mstatus&csr.StatusMXR != 0 && pte&PteX != 0 {
				return nil
			}
			return m.pageFault(access, vaddr)
		}
	case AccessWrite:
		if pte&PteW == 0 {
			return m.pageFault(access, vaddr)
		}
	case AccessExecute:
		if pte&PteX == 0 {
			return m.pageFault(access, vaddr)
		}
	}
	return nil
}

func (m *MMU) pageFault(access Access, vaddr uint64) error {
	switch access {
	case AccessRead:
		return &PageFault{Cause: csr.CauseLoadPageFault, Vaddr: vaddr}
	case AccessWrite:
		return &PageFault{Cause: csr.CauseStorePageFault, Vaddr: vaddr}
	default:
		return &PageFault{Cause: csr.CauseInsnPageFault, Vaddr: vaddr}
	}
}

// PageFault reports a translation failure; the interpreter turns it
// into a trap with Cause and Vaddr as the tval.
type PageFault struct {
	Cause csr.Cause
	Vaddr uint64
}

func (p *PageFault) Error() string { return "mmu: page fault" }
