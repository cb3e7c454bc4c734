package riscv

import "github.com/tinyhart/rvcore/internal/csr"

// execSystem implements ECALL/EBREAK/MRET/SRET/WFI/SFENCE.VMA and the
// CSRRW/CSRRS/CSRRC family (immediate and register forms).
func execSystem(h *Hart, insn uint32) error {
	f3 := funct3(insn)

	if f3 == 0 {
		switch insn {
		case 0x00000073: // ECALL
			return execEcall(h)
		case 0x00100073: // EBREAK
			return trap(csr.CauseBreakpoint, h.PC)
		case 0x30200073: // MRET
			if h.CSR.Priv != csr.Machine {
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			h.PC = h.CSR.Xret(csr.Machine)
			h.branched = true
			return nil
		case 0x10200073: // SRET
			if h.CSR.Priv < csr.Supervisor {
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			if h.CSR.Priv == csr.Supervisor && h.CSR.Mstatus&csr.StatusTSR != 0 {
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			h.PC = h.CSR.Xret(csr.Supervisor)
			h.branched = true
			return nil
		case 0x10500073: // WFI
			if h.CSR.Priv < csr.Machine && h.CSR.Mstatus&csr.StatusTW != 0 {
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			h.WaitEvent.Store(true)
			return nil
		default:
			if (insn>>25) == 0b0001001 { // SFENCE.VMA rs1,rs2
				if h.CSR.Priv < csr.Supervisor {
					return trap(csr.CauseIllegalInsn, uint64(insn))
				}
				r1, r2 := rs1(insn), rs2(insn)
				if r1 == 0 {
					h.MMU.Flush()
				} else {
					vaddr := h.ReadReg(r1)
					h.MMU.FlushEntry(vaddr, uint16(h.ReadReg(r2)), r2 != 0)
				}
				return nil
			}
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
	}

	addr := uint16(insn >> 20)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)

	rs1Val := h.ReadReg(rs1Reg)
	if f3 >= 5 {
		rs1Val = uint64(rs1Reg) // immediate forms carry a 5-bit zero-extended immediate in rs1
	}

	csrVal, err := h.CSR.Read(addr)
	if err != nil {
		return csrFault(err, addr)
	}

	var writeVal uint64
	var doWrite bool
	switch f3 & 3 {
	case 1: // CSRRW(I)
		writeVal = rs1Val
		doWrite = true
	case 2: // CSRRS(I)
		writeVal = csrVal | rs1Val
		doWrite = rs1Reg != 0
	case 3: // CSRRC(I)
		writeVal = csrVal &^ rs1Val
		doWrite = rs1Reg != 0
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}

	if doWrite {
		if err := h.CSR.Write(addr, writeVal); err != nil {
			return csrFault(err, addr)
		}
		switch addr {
		case csr.AddrSatp, csr.AddrMstatus, csr.AddrSstatus:
			// Translation depends on satp and mstatus.MPRV/MPP/SUM/MXR.
			h.MMU.Flush()
		}
	}

	h.WriteReg(rdReg, csrVal)
	return nil
}

func csrFault(err error, addr uint16) error {
	if f, ok := err.(*csr.Fault); ok {
		return trap(csr.CauseIllegalInsn, uint64(f.Addr))
	}
	_ = addr
	return trap(csr.CauseIllegalInsn, uint64(addr))
}

func execEcall(h *Hart) error {
	switch h.CSR.Priv {
	case csr.User:
		return trap(csr.CauseEcallFromU, 0)
	case csr.Supervisor:
		return trap(csr.CauseEcallFromS, 0)
	default:
		return trap(csr.CauseEcallFromM, 0)
	}
}
