package riscv

import (
	"github.com/tinyhart/rvcore/internal/bitops"
	"github.com/tinyhart/rvcore/internal/csr"
)

// execLui implements LUI.
func execLui(h *Hart, insn uint32) error {
	h.WriteReg(rd(insn), uint64(immU(insn)))
	return nil
}

// execAuipc implements AUIPC.
func execAuipc(h *Hart, insn uint32) error {
	h.WriteReg(rd(insn), uint64(int64(h.PC)+immU(insn)))
	return nil
}

// execJal implements JAL.
func execJal(h *Hart, insn uint32) error {
	target := uint64(int64(h.PC) + immJ(insn))
	h.WriteReg(rd(insn), h.PC+h.insnWidth())
	h.PC = target
	h.branched = true
	return nil
}

// execJalr implements JALR.
func execJalr(h *Hart, insn uint32) error {
	target := uint64(int64(h.ReadReg(rs1(insn)))+immI(insn)) &^ uint64(1)
	h.WriteReg(rd(insn), h.PC+h.insnWidth())
	h.PC = target
	h.branched = true
	return nil
}

// execBranch implements BEQ/BNE/BLT/BGE/BLTU/BGEU.
func execBranch(h *Hart, insn uint32) error {
	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))

	var taken bool
	switch funct3(insn) {
	case 0b000: // BEQ
		taken = r1 == r2
	case 0b001: // BNE
		taken = r1 != r2
	case 0b100: // BLT
		taken = int64(r1) < int64(r2)
	case 0b101: // BGE
		taken = int64(r1) >= int64(r2)
	case 0b110: // BLTU
		taken = r1 < r2
	case 0b111: // BGEU
		taken = r1 >= r2
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}

	if taken {
		h.PC = uint64(int64(h.PC) + immB(insn))
		h.branched = true
	}
	return nil
}

// shiftMask returns the mask applied to a shift amount's register
// operand: the low 5 bits for a 32-bit XLEN, the low 6 for 64-bit.
func (h *Hart) shiftMask() uint64 {
	if h.XLEN == 32 {
		return 0x1f
	}
	return 0x3f
}

// execOpImm implements ADDI/SLTI/SLTIU/XORI/ORI/ANDI/SLLI/SRLI/SRAI,
// operating on the full XLEN width (32-bit registers are kept
// sign-correct by truncating through int32 when XLEN==32).
func execOpImm(h *Hart, insn uint32) error {
	imm := immI(insn)
	f3 := funct3(insn)

	if h.XLEN == 32 {
		r1 := int32(uint32(h.ReadReg(rs1(insn))))
		sh := shamt32(insn)
		var val int32
		switch f3 {
		case 0b000:
			val = r1 + int32(imm)
		case 0b001:
			val = int32(uint32(r1) << sh)
		case 0b010:
			if int64(r1) < imm {
				val = 1
			}
		case 0b011:
			if uint32(r1) < uint32(imm) {
				val = 1
			}
		case 0b100:
			val = r1 ^ int32(imm)
		case 0b101:
			if (insn>>30)&1 == 1 {
				val = r1 >> sh
			} else {
				val = int32(uint32(r1) >> sh)
			}
		case 0b110:
			val = r1 | int32(imm)
		case 0b111:
			val = r1 & int32(imm)
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		h.WriteReg(rd(insn), uint64(val))
		return nil
	}

	r1 := h.ReadReg(rs1(insn))
	sh := shamt(insn)
	var val uint64
	switch f3 {
	case 0b000: // ADDI
		val = uint64(int64(r1) + imm)
	case 0b001: // SLLI
		val = r1 << sh
	case 0b010: // SLTI
		if int64(r1) < imm {
			val = 1
		}
	case 0b011: // SLTIU
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100: // XORI
		val = r1 ^ uint64(imm)
	case 0b101: // SRLI/SRAI
		if (insn>>30)&1 == 1 {
			val = uint64(int64(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110: // ORI
		val = r1 | uint64(imm)
	case 0b111: // ANDI
		val = r1 & uint64(imm)
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), val)
	return nil
}

// execOpImm32 implements ADDIW/SLLIW/SRLIW/SRAIW. RV32 has no W-suffixed
// immediate-ALU opcode; a hart with XLEN==32 traps this as illegal.
func execOpImm32(h *Hart, insn uint32) error {
	if h.XLEN != 64 {
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	r1 := uint32(h.ReadReg(rs1(insn)))
	imm := int32(immI(insn))
	sh := shamt32(insn)

	var val int32
	switch funct3(insn) {
	case 0b000: // ADDIW
		val = int32(r1) + imm
	case 0b001: // SLLIW
		val = int32(r1 << sh)
	case 0b101: // SRLIW/SRAIW
		if (insn>>30)&1 == 1 {
			val = int32(r1) >> sh
		} else {
			val = int32(r1 >> sh)
		}
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), uint64(val))
	return nil
}

// execOp implements the register-register ALU ops, dispatching to the
// M extension when funct7 selects it, and narrowing to 32-bit
// arithmetic when XLEN==32.
func execOp(h *Hart, insn uint32) error {
	f7 := funct7(insn)
	if f7 == 0b0000001 {
		return execOpM(h, insn)
	}

	f3 := funct3(insn)
	if h.XLEN == 32 {
		r1 := int32(uint32(h.ReadReg(rs1(insn))))
		r2 := int32(uint32(h.ReadReg(rs2(insn))))
		var val int32
		switch f3 {
		case 0b000:
			if f7 == 0b0100000 {
				val = r1 - r2
			} else {
				val = r1 + r2
			}
		case 0b001:
			val = int32(uint32(r1) << (uint32(r2) & 0x1f))
		case 0b010:
			if r1 < r2 {
				val = 1
			}
		case 0b011:
			if uint32(r1) < uint32(r2) {
				val = 1
			}
		case 0b100:
			val = r1 ^ r2
		case 0b101:
			if f7 == 0b0100000 {
				val = r1 >> (uint32(r2) & 0x1f)
			} else {
				val = int32(uint32(r1) >> (uint32(r2) & 0x1f))
			}
		case 0b110:
			val = r1 | r2
		case 0b111:
			val = r1 & r2
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		h.WriteReg(rd(insn), uint64(val))
		return nil
	}

	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))
	var val uint64
	switch f3 {
	case 0b000: // ADD/SUB
		if f7 == 0b0100000 {
			val = uint64(int64(r1) - int64(r2))
		} else {
			val = uint64(int64(r1) + int64(r2))
		}
	case 0b001: // SLL
		val = r1 << (r2 & h.shiftMask())
	case 0b010: // SLT
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b011: // SLTU
		if r1 < r2 {
			val = 1
		}
	case 0b100: // XOR
		val = r1 ^ r2
	case 0b101: // SRL/SRA
		if f7 == 0b0100000 {
			val = uint64(int64(r1) >> (r2 & h.shiftMask()))
		} else {
			val = r1 >> (r2 & h.shiftMask())
		}
	case 0b110: // OR
		val = r1 | r2
	case 0b111: // AND
		val = r1 & r2
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), val)
	return nil
}

// execOpM implements the M-extension register-register operations
// (MUL/MULH/MULHSU/MULHU/DIV/DIVU/REM/REMU), narrowed to 32 bits on
// an RV32 hart.
func execOpM(h *Hart, insn uint32) error {
	f3 := funct3(insn)
	if h.XLEN == 32 {
		r1 := int32(uint32(h.ReadReg(rs1(insn))))
		r2 := int32(uint32(h.ReadReg(rs2(insn))))
		var val int32
		switch f3 {
		case 0b000: // MUL
			val = r1 * r2
		case 0b001: // MULH
			val = int32(bitops.MulH64(int64(r1), int64(r2)))
		case 0b010: // MULHSU
			val = int32(bitops.MulHSU64(int64(r1), uint64(uint32(r2))))
		case 0b011: // MULHU
			hi, _ := bitops.MulHU64(uint64(uint32(r1)), uint64(uint32(r2)))
			val = int32(uint32(hi))
		case 0b100: // DIV
			if r2 == 0 {
				val = -1
			} else if r1 == -1<<31 && r2 == -1 {
				val = r1
			} else {
				val = r1 / r2
			}
		case 0b101: // DIVU
			if r2 == 0 {
				val = -1
			} else {
				val = int32(uint32(r1) / uint32(r2))
			}
		case 0b110: // REM
			if r2 == 0 {
				val = r1
			} else if r1 == -1<<31 && r2 == -1 {
				val = 0
			} else {
				val = r1 % r2
			}
		case 0b111: // REMU
			if r2 == 0 {
				val = r1
			} else {
				val = int32(uint32(r1) % uint32(r2))
			}
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		h.WriteReg(rd(insn), uint64(val))
		return nil
	}

	r1 := h.ReadReg(rs1(insn))
	r2 := h.ReadReg(rs2(insn))
	var val uint64
	switch f3 {
	case 0b000: // MUL
		val = uint64(int64(r1) * int64(r2))
	case 0b001: // MULH
		val = uint64(bitops.MulH64(int64(r1), int64(r2)))
	case 0b010: // MULHSU
		val = uint64(bitops.MulHSU64(int64(r1), r2))
	case 0b011: // MULHU
		hi, _ := bitops.MulHU64(r1, r2)
		val = hi
	case 0b100: // DIV
		if r2 == 0 {
			val = ^uint64(0)
		} else if r1 == uint64(1<<63) && r2 == ^uint64(0) {
			val = r1
		} else {
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101: // DIVU
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110: // REM
		if r2 == 0 {
			val = r1
		} else if r1 == uint64(1<<63) && r2 == ^uint64(0) {
			val = 0
		} else {
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111: // REMU
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), val)
	return nil
}

// execOp32 implements ADDW/SUBW/SLLW/SRLW/SRAW and the W-suffixed M
// extension. RV32 has no such opcode; traps illegal there.
func execOp32(h *Hart, insn uint32) error {
	if h.XLEN != 64 {
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	f7 := funct7(insn)
	if f7 == 0b0000001 {
		return execOp32M(h, insn)
	}

	r1 := uint32(h.ReadReg(rs1(insn)))
	r2 := uint32(h.ReadReg(rs2(insn)))
	var val int32
	switch funct3(insn) {
	case 0b000: // ADDW/SUBW
		if f7 == 0b0100000 {
			val = int32(r1) - int32(r2)
		} else {
			val = int32(r1) + int32(r2)
		}
	case 0b001: // SLLW
		val = int32(r1 << (r2 & 0x1f))
	case 0b101: // SRLW/SRAW
		if f7 == 0b0100000 {
			val = int32(r1) >> (r2 & 0x1f)
		} else {
			val = int32(r1 >> (r2 & 0x1f))
		}
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), uint64(val))
	return nil
}

func execOp32M(h *Hart, insn uint32) error {
	r1 := uint32(h.ReadReg(rs1(insn)))
	r2 := uint32(h.ReadReg(rs2(insn)))
	var val int32
	switch funct3(insn) {
	case 0b000: // MULW
		val = int32(r1) * int32(r2)
	case 0b100: // DIVW
		if r2 == 0 {
			val = -1
		} else if r1 == uint32(1<<31) && r2 == ^uint32(0) {
			val = int32(r1)
		} else {
			val = int32(r1) / int32(r2)
		}
	case 0b101: // DIVUW
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110: // REMW
		if r2 == 0 {
			val = int32(r1)
		} else if r1 == uint32(1<<31) && r2 == ^uint32(0) {
			val = 0
		} else {
			val = int32(r1) % int32(r2)
		}
	case 0b111: // REMUW
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), uint64(val))
	return nil
}

// execMiscMem implements FENCE/FENCE.I as no-ops: the interpreter has
// no speculative reordering or split instruction/data caches to flush.
func execMiscMem(h *Hart, insn uint32) error {
	switch funct3(insn) {
	case 0b000, 0b001:
		return nil
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
}
