package riscv

import "github.com/tinyhart/rvcore/internal/csr"

// execLoad implements LB/LH/LW/LD/LBU/LHU/LWU.
func execLoad(h *Hart, insn uint32) error {
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immI(insn))
	f3 := funct3(insn)

	var val uint64
	var err error
	switch f3 {
	case 0b000: // LB
		v, e := h.Read8(addr)
		val, err = uint64(int64(int8(v))), e
	case 0b001: // LH
		v, e := h.Read16(addr)
		val, err = uint64(int64(int16(v))), e
	case 0b010: // LW
		v, e := h.Read32(addr)
		val, err = uint64(int64(int32(v))), e
	case 0b011: // LD
		if h.XLEN != 64 {
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		val, err = h.Read64(addr)
	case 0b100: // LBU
		v, e := h.Read8(addr)
		val, err = uint64(v), e
	case 0b101: // LHU
		v, e := h.Read16(addr)
		val, err = uint64(v), e
	case 0b110: // LWU
		if h.XLEN != 64 {
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		v, e := h.Read32(addr)
		val, err = uint64(v), e
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	if err != nil {
		return err
	}
	h.WriteReg(rd(insn), val)
	return nil
}

// execStore implements SB/SH/SW/SD.
func execStore(h *Hart, insn uint32) error {
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immS(insn))
	val := h.ReadReg(rs2(insn))

	switch funct3(insn) {
	case 0b000: // SB
		return h.Write8(addr, uint8(val))
	case 0b001: // SH
		return h.Write16(addr, uint16(val))
	case 0b010: // SW
		return h.Write32(addr, uint32(val))
	case 0b011: // SD
		if h.XLEN != 64 {
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		return h.Write64(addr, val)
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
}

// execAMO implements the A extension: LR/SC and the read-modify-write
// AMO* operations, word- and doubleword-sized.
func execAMO(h *Hart, insn uint32) error {
	f3 := funct3(insn)
	f5 := funct7(insn) >> 2

	addr := h.ReadReg(rs1(insn))
	rs2Val := h.ReadReg(rs2(insn))

	switch f3 {
	case 0b010: // 32-bit
		if addr&3 != 0 {
			return trap(csr.CauseStoreAddrMisaligned, addr)
		}
		return execAMO32(h, insn, addr, rs2Val, f5)
	case 0b011: // 64-bit
		if h.XLEN != 64 {
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		if addr&7 != 0 {
			return trap(csr.CauseStoreAddrMisaligned, addr)
		}
		return execAMO64(h, insn, addr, rs2Val, f5)
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
}

func execAMO32(h *Hart, insn uint32, addr, rs2Val uint64, f5 uint32) error {
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.W
		val, err := h.Read32(addr)
		if err != nil {
			return err
		}
		h.WriteReg(rdReg, uint64(int64(int32(val))))
		h.Reservation = addr
		h.ReservationValid = true
		return nil

	case 0b00011: // SC.W
		if !h.ReservationValid || h.Reservation != addr {
			h.WriteReg(rdReg, 1)
			return nil
		}
		if err := h.Write32(addr, uint32(rs2Val)); err != nil {
			return err
		}
		h.WriteReg(rdReg, 0)
		h.ReservationValid = false
		return nil

	default:
		oldVal, err := h.Read32(addr)
		if err != nil {
			return err
		}
		var newVal uint32
		switch f5 {
		case 0b00001: // AMOSWAP.W
			newVal = uint32(rs2Val)
		case 0b00000: // AMOADD.W
			newVal = oldVal + uint32(rs2Val)
		case 0b00100: // AMOXOR.W
			newVal = oldVal ^ uint32(rs2Val)
		case 0b01100: // AMOAND.W
			newVal = oldVal & uint32(rs2Val)
		case 0b01000: // AMOOR.W
			newVal = oldVal | uint32(rs2Val)
		case 0b10000: // AMOMIN.W
			if int32(oldVal) < int32(rs2Val) {
				newVal = oldVal
			} else {
				newVal = uint32(rs2Val)
			}
		case 0b10100: // AMOMAX.W
			if int32(oldVal) > int32(rs2Val) {
				newVal = oldVal
			} else {
				newVal = uint32(rs2Val)
			}
		case 0b11000: // AMOMINU.W
			if oldVal < uint32(rs2Val) {
				newVal = oldVal
			} else {
				newVal = uint32(rs2Val)
			}
		case 0b11100: // AMOMAXU.W
			if oldVal > uint32(rs2Val) {
				newVal = oldVal
			} else {
				newVal = uint32(rs2Val)
			}
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		if err := h.Write32(addr, newVal); err != nil {
			return err
		}
		h.WriteReg(rdReg, uint64(int64(int32(oldVal))))
		return nil
	}
}

func execAMO64(h *Hart, insn uint32, addr, rs2Val uint64, f5 uint32) error {
	rdReg := rd(insn)

	switch f5 {
	case 0b00010: // LR.D
		val, err := h.Read64(addr)
		if err != nil {
			return err
		}
		h.WriteReg(rdReg, val)
		h.Reservation = addr
		h.ReservationValid = true
		return nil

	case 0b00011: // SC.D
		if !h.ReservationValid || h.Reservation != addr {
			h.WriteReg(rdReg, 1)
			return nil
		}
		if err := h.Write64(addr, rs2Val); err != nil {
			return err
		}
		h.WriteReg(rdReg, 0)
		h.ReservationValid = false
		return nil

	default:
		oldVal, err := h.Read64(addr)
		if err != nil {
			return err
		}
		var newVal uint64
		switch f5 {
		case 0b00001: // AMOSWAP.D
			newVal = rs2Val
		case 0b00000: // AMOADD.D
			newVal = oldVal + rs2Val
		case 0b00100: // AMOXOR.D
			newVal = oldVal ^ rs2Val
		case 0b01100: // AMOAND.D
			newVal = oldVal & rs2Val
		case 0b01000: // AMOOR.D
			newVal = oldVal | rs2Val
		case 0b10000: // AMOMIN.D
			if int64(oldVal) < int64(rs2Val) {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		case 0b10100: // AMOMAX.D
			if int64(oldVal) > int64(rs2Val) {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		case 0b11000: // AMOMINU.D
			if oldVal < rs2Val {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		case 0b11100: // AMOMAXU.D
			if oldVal > rs2Val {
				newVal = oldVal
			} else {
				newVal = rs2Val
			}
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		if err := h.Write64(addr, newVal); err != nil {
			return err
		}
		h.WriteReg(rdReg, oldVal)
		return nil
	}
}
