package riscv

import (
	"math"

	"github.com/tinyhart/rvcore/internal/csr"
)

// Floating-point rounding mode encodings (funct3/frm).
const (
	roundNearestEven = 0
	roundDynamic     = 7
)

const statusFSShift = 13

// f32ToU64/u64ToF32 implement NaN-boxing: a single-precision value
// stored in an F register has its upper 32 bits all ones so a later
// double-precision read can detect it was boxed.
func f32ToU64(f float32) uint64 {
	return 0xffffffff00000000 | uint64(math.Float32bits(f))
}

func u64ToF32(val uint64) float32 {
	if (val >> 32) != 0xffffffff {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(val))
}

func f64ToU64(f float64) uint64  { return math.Float64bits(f) }
func u64ToF64(val uint64) float64 { return math.Float64frombits(val) }

func setFS(h *Hart, state uint64) {
	h.CSR.Mstatus = (h.CSR.Mstatus &^ csr.StatusFS) | (state << statusFSShift)
	if state == 3 {
		h.CSR.Mstatus |= csr.StatusSD
	}
}

// execLoadFP implements FLW/FLD.
func execLoadFP(h *Hart, insn uint32) error {
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immI(insn))
	rdReg := rd(insn)

	switch funct3(insn) {
	case 0b010: // FLW
		val, err := h.Read32(addr)
		if err != nil {
			return err
		}
		h.F[rdReg] = f32ToU64(math.Float32frombits(val))
	case 0b011: // FLD
		val, err := h.Read64(addr)
		if err != nil {
			return err
		}
		h.F[rdReg] = val
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	setFS(h, 3)
	return nil
}

// execStoreFP implements FSW/FSD.
func execStoreFP(h *Hart, insn uint32) error {
	addr := uint64(int64(h.ReadReg(rs1(insn))) + immS(insn))
	rs2Reg := rs2(insn)

	switch funct3(insn) {
	case 0b010: // FSW
		return h.Write32(addr, uint32(h.F[rs2Reg]))
	case 0b011: // FSD
		return h.Write64(addr, h.F[rs2Reg])
	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
}

// execOpFP implements the R-type OP-FP instructions: arithmetic,
// comparisons, classification, and conversions between S/D and the
// integer registers. Rounding always uses the host's round-to-nearest
// behavior regardless of frm/rm; only RNE is exact among the
// dynamically selectable modes, a documented fidelity gap since Go's
// math package has no per-call rounding-mode control.
func execOpFP(h *Hart, insn uint32) error {
	f7 := funct7(insn)
	f3 := funct3(insn)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)
	rs2Reg := rs2(insn)
	isDouble := f7&1 == 1

	switch f7 >> 2 {
	case 0b00000: // FADD
		if isDouble {
			h.F[rdReg] = f64ToU64(u64ToF64(h.F[rs1Reg]) + u64ToF64(h.F[rs2Reg]))
		} else {
			h.F[rdReg] = f32ToU64(u64ToF32(h.F[rs1Reg]) + u64ToF32(h.F[rs2Reg]))
		}
		setFS(h, 3)

	case 0b00001: // FSUB
		if isDouble {
			h.F[rdReg] = f64ToU64(u64ToF64(h.F[rs1Reg]) - u64ToF64(h.F[rs2Reg]))
		} else {
			h.F[rdReg] = f32ToU64(u64ToF32(h.F[rs1Reg]) - u64ToF32(h.F[rs2Reg]))
		}
		setFS(h, 3)

	case 0b00010: // FMUL
		if isDouble {
			h.F[rdReg] = f64ToU64(u64ToF64(h.F[rs1Reg]) * u64ToF64(h.F[rs2Reg]))
		} else {
			h.F[rdReg] = f32ToU64(u64ToF32(h.F[rs1Reg]) * u64ToF32(h.F[rs2Reg]))
		}
		setFS(h, 3)

	case 0b00011: // FDIV
		if isDouble {
			h.F[rdReg] = f64ToU64(u64ToF64(h.F[rs1Reg]) / u64ToF64(h.F[rs2Reg]))
		} else {
			h.F[rdReg] = f32ToU64(u64ToF32(h.F[rs1Reg]) / u64ToF32(h.F[rs2Reg]))
		}
		setFS(h, 3)

	case 0b01011: // FSQRT
		if isDouble {
			h.F[rdReg] = f64ToU64(math.Sqrt(u64ToF64(h.F[rs1Reg])))
		} else {
			h.F[rdReg] = f32ToU64(float32(math.Sqrt(float64(u64ToF32(h.F[rs1Reg])))))
		}
		setFS(h, 3)

	case 0b00100: // FSGNJ/FSGNJN/FSGNJX
		if isDouble {
			a, b := h.F[rs1Reg], h.F[rs2Reg]
			signB := b & (1 << 63)
			switch f3 {
			case 0b000:
				h.F[rdReg] = (a &^ (1 << 63)) | signB
			case 0b001:
				h.F[rdReg] = (a &^ (1 << 63)) | (^signB & (1 << 63))
			case 0b010:
				h.F[rdReg] = (a &^ (1 << 63)) | ((a & (1 << 63)) ^ signB)
			default:
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
		} else {
			a, b := uint32(h.F[rs1Reg]), uint32(h.F[rs2Reg])
			signB := b & (1 << 31)
			var result uint32
			switch f3 {
			case 0b000:
				result = (a &^ (1 << 31)) | signB
			case 0b001:
				result = (a &^ (1 << 31)) | (^signB & (1 << 31))
			case 0b010:
				result = (a &^ (1 << 31)) | ((a & (1 << 31)) ^ signB)
			default:
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			h.F[rdReg] = f32ToU64(math.Float32frombits(result))
		}
		setFS(h, 3)

	case 0b00101: // FMIN/FMAX
		if isDouble {
			a, b := u64ToF64(h.F[rs1Reg]), u64ToF64(h.F[rs2Reg])
			if f3 == 0b000 {
				h.F[rdReg] = f64ToU64(math.Min(a, b))
			} else {
				h.F[rdReg] = f64ToU64(math.Max(a, b))
			}
		} else {
			a, b := float64(u64ToF32(h.F[rs1Reg])), float64(u64ToF32(h.F[rs2Reg]))
			if f3 == 0b000 {
				h.F[rdReg] = f32ToU64(float32(math.Min(a, b)))
			} else {
				h.F[rdReg] = f32ToU64(float32(math.Max(a, b)))
			}
		}
		setFS(h, 3)

	case 0b10100: // FEQ/FLT/FLE
		var result uint64
		var a, b float64
		if isDouble {
			a, b = u64ToF64(h.F[rs1Reg]), u64ToF64(h.F[rs2Reg])
		} else {
			a, b = float64(u64ToF32(h.F[rs1Reg])), float64(u64ToF32(h.F[rs2Reg]))
		}
		switch f3 {
		case 0b010:
			if a == b {
				result = 1
			}
		case 0b001:
			if a < b {
				result = 1
			}
		case 0b000:
			if a <= b {
				result = 1
			}
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		h.WriteReg(rdReg, result)

	case 0b11000: // FCVT.W/WU/L/LU.S/D
		var a float64
		if isDouble {
			a = u64ToF64(h.F[rs1Reg])
		} else {
			a = float64(u64ToF32(h.F[rs1Reg]))
		}
		var result int64
		switch rs2Reg {
		case 0b00000:
			result = int64(int32(a))
		case 0b00001:
			result = int64(int32(uint32(a)))
		case 0b00010:
			result = int64(a)
		case 0b00011:
			result = int64(uint64(a))
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}
		h.WriteReg(rdReg, uint64(result))

	case 0b11010: // FCVT.S/D.W/WU/L/LU
		if isDouble {
			var result float64
			switch rs2Reg {
			case 0b00000:
				result = float64(int32(h.ReadReg(rs1Reg)))
			case 0b00001:
				result = float64(uint32(h.ReadReg(rs1Reg)))
			case 0b00010:
				result = float64(int64(h.ReadReg(rs1Reg)))
			case 0b00011:
				result = float64(h.ReadReg(rs1Reg))
			default:
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			h.F[rdReg] = f64ToU64(result)
		} else {
			var result float32
			switch rs2Reg {
			case 0b00000:
				result = float32(int32(h.ReadReg(rs1Reg)))
			case 0b00001:
				result = float32(uint32(h.ReadReg(rs1Reg)))
			case 0b00010:
				result = float32(int64(h.ReadReg(rs1Reg)))
			case 0b00011:
				result = float32(h.ReadReg(rs1Reg))
			default:
				return trap(csr.CauseIllegalInsn, uint64(insn))
			}
			h.F[rdReg] = f32ToU64(result)
		}
		setFS(h, 3)

	case 0b11100: // FMV.X.W/D, FCLASS
		switch f3 {
		case 0b000:
			if isDouble {
				h.WriteReg(rdReg, h.F[rs1Reg])
			} else {
				h.WriteReg(rdReg, uint64(int64(int32(h.F[rs1Reg]))))
			}
		case 0b001:
			if isDouble {
				h.WriteReg(rdReg, classifyF64(u64ToF64(h.F[rs1Reg])))
			} else {
				h.WriteReg(rdReg, classifyF32(u64ToF32(h.F[rs1Reg])))
			}
		default:
			return trap(csr.CauseIllegalInsn, uint64(insn))
		}

	case 0b11110: // FMV.W/D.X
		if isDouble {
			h.F[rdReg] = h.ReadReg(rs1Reg)
		} else {
			h.F[rdReg] = f32ToU64(math.Float32frombits(uint32(h.ReadReg(rs1Reg))))
		}
		setFS(h, 3)

	case 0b01000: // FCVT.S.D / FCVT.D.S
		if isDouble {
			h.F[rdReg] = f64ToU64(float64(u64ToF32(h.F[rs1Reg])))
		} else {
			h.F[rdReg] = f32ToU64(float32(u64ToF64(h.F[rs1Reg])))
		}
		setFS(h, 3)

	default:
		return trap(csr.CauseIllegalInsn, uint64(insn))
	}
	return nil
}

// execFMA implements FMADD/FMSUB/FNMSUB/FNMADD.
func execFMA(h *Hart, insn uint32, op uint32) error {
	rdReg := rd(insn)
	rs1Reg := rs1(insn)
	rs2Reg := rs2(insn)
	rs3Reg := rs3(insn)

	if funct2(insn)&1 == 1 {
		a, b, c := u64ToF64(h.F[rs1Reg]), u64ToF64(h.F[rs2Reg]), u64ToF64(h.F[rs3Reg])
		var result float64
		switch op {
		case opMadd:
			result = a*b + c
		case opMsub:
			result = a*b - c
		case opNmsub:
			result = -(a * b) + c
		case opNmadd:
			result = -(a * b) - c
		}
		h.F[rdReg] = f64ToU64(result)
	} else {
		a, b, c := u64ToF32(h.F[rs1Reg]), u64ToF32(h.F[rs2Reg]), u64ToF32(h.F[rs3Reg])
		var result float32
		switch op {
		case opMadd:
			result = a*b + c
		case opMsub:
			result = a*b - c
		case opNmsub:
			result = -(a * b) + c
		case opNmadd:
			result = -(a * b) - c
		}
		h.F[rdReg] = f32ToU64(result)
	}
	setFS(h, 3)
	return nil
}

func classifyF32(f float32) uint64 {
	bits := math.Float32bits(f)
	sign := bits >> 31
	exp := (bits >> 23) & 0xff
	frac := bits & 0x7fffff

	switch {
	case exp == 0xff && frac != 0:
		if frac&(1<<22) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == 0xff:
		if sign != 0 {
			return 1 << 0
		}
		return 1 << 7
	case exp == 0 && frac == 0:
		if sign != 0 {
			return 1 << 3
		}
		return 1 << 4
	case exp == 0:
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	case sign != 0:
		return 1 << 1
	default:
		return 1 << 6
	}
}

func classifyF64(f float64) uint64 {
	bits := math.Float64bits(f)
	sign := bits >> 63
	exp := (bits >> 52) & 0x7ff
	frac := bits & 0xfffffffffffff

	switch {
	case exp == 0x7ff && frac != 0:
		if frac&(1<<51) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == 0x7ff:
		if sign != 0 {
			return 1 << 0
		}
		return 1 << 7
	case exp == 0 && frac == 0:
		if sign != 0 {
			return 1 << 3
		}
		return 1 << 4
	case exp == 0:
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	case sign != 0:
		return 1 << 1
	default:
		return 1 << 6
	}
}
