// Package executor applies bit-precise semantics to a register file and a
// paged memory given a single decoded instruction. It never loops and it
// never decides when the program as a whole is finished; that is the VM
// driver's job. Step either returns a continuation (next PC, gas cost) or
// a terminal exit condition.
package executor

import (
	"fmt"
	"math/bits"

	"github.com/andyjsbell/pvm-dart/pkg/decoder"
	"github.com/andyjsbell/pvm-dart/pkg/pagedmem"
)

// NumRegisters is the size of the register file.
const NumRegisters = decoder.NumRegisters

// ExitReason is one of the five terminal tags a run can end with.
type ExitReason int

const (
	// RegularHalt is reserved for a future ret/halt instruction; no opcode
	// in the current instruction set signals it.
	RegularHalt ExitReason = iota
	Panic
	OutOfGas
	PageFault
	HostCall
)

func (r ExitReason) String() string {
	switch r {
	case RegularHalt:
		return "regular-halt"
	case Panic:
		return "panic"
	case OutOfGas:
		return "out-of-gas"
	case PageFault:
		return "page-fault"
	case HostCall:
		return "host-call"
	default:
		return fmt.Sprintf("exit-reason(%d)", int(r))
	}
}

// State is the complete, mutable machine state the executor steps: the
// register file, the program counter, remaining gas, and paged memory. The
// VM driver owns the single instance of this that exists per run.
type State struct {
	Registers [NumRegisters]uint64
	PC        uint64
	Gas       int64
	Memory    *pagedmem.Memory

	// ExitReason and ExitData are populated by the VM driver once the run
	// terminates; both are the zero value while the run is still in
	// progress.
	ExitReason ExitReason
	ExitData   string
}

// Exit describes a terminal outcome: one of the five exit reasons plus an
// opaque descriptive payload.
type Exit struct {
	Reason ExitReason
	Data   string
}

// Result is what Step returns: either a continuation (Exit == nil, use
// NextPC/GasCost) or a terminal Exit (NextPC equals the PC the instruction
// was fetched at; the executor never advances the PC itself on exit).
type Result struct {
	NextPC  uint64
	GasCost uint64
	Exit    *Exit
}

func cont(nextPC uint64, gasCost uint64) Result {
	return Result{NextPC: nextPC, GasCost: gasCost}
}

func terminal(pc uint64, reason ExitReason, format string, args ...any) Result {
	return Result{NextPC: pc, Exit: &Exit{Reason: reason, Data: fmt.Sprintf(format, args...)}}
}

// Step consumes one decoded instruction and mutates st accordingly.
func Step(d decoder.Decoded, st *State) Result {
	gas := decoder.GasCost(d.Op.Opcode)
	nextPC := d.PC + 4

	switch d.Op.Mnemonic {

	case "trap":
		return terminal(d.PC, Panic, "trap")

	case "fallthrough":
		return cont(nextPC, gas)

	case "ecalli":
		return terminal(d.PC, HostCall, "%d", d.Imm)

	case "load_imm_64":
		st.Registers[d.Reg1] = uint64(d.RegImm)
		return cont(nextPC, gas)

	case "store_imm_u8":
		return storeImm(st, d, nextPC, 1)
	case "store_imm_u16":
		return storeImm(st, d, nextPC, 2)
	case "store_imm_u32":
		return storeImm(st, d, nextPC, 4)
	case "store_imm_u64":
		return storeImm(st, d, nextPC, 8)

	case "jump":
		target := uint64(int64(d.PC) + d.Offset)
		return cont(target, gas)

	case "jump_ind":
		target := (st.Registers[d.Reg1] + uint64(d.RegImm)) &^ 3
		return cont(target, gas)

	case "load_imm":
		st.Registers[d.Reg1] = uint64(d.RegImm)
		return cont(nextPC, gas)

	case "load_u8":
		return load(st, d, nextPC, 1, false)
	case "load_i8":
		return load(st, d, nextPC, 1, true)
	case "load_u16":
		return load(st, d, nextPC, 2, false)
	case "load_i16":
		return load(st, d, nextPC, 2, true)
	case "load_u32":
		return load(st, d, nextPC, 4, false)
	case "load_i32":
		return load(st, d, nextPC, 4, true)
	case "load_u64":
		return load(st, d, nextPC, 8, false)

	case "store_u8":
		return store(st, d, nextPC, 1)
	case "store_u16":
		return store(st, d, nextPC, 2)
	case "store_u32":
		return store(st, d, nextPC, 4)
	case "store_u64":
		return store(st, d, nextPC, 8)

	case "move_reg":
		st.Registers[d.Reg1] = st.Registers[d.Reg2]
		return cont(nextPC, gas)

	case "sbrk":
		n := st.Registers[d.Reg2]
		pagesNeeded := (n + pagedmem.PageSize - 1) / pagedmem.PageSize
		base := st.Memory.MappedPageCount() * pagedmem.PageSize
		for i := uint64(0); i < pagesNeeded; i++ {
			st.Memory.Allocate(st.Memory.MappedPageCount(), pagedmem.ReadWrite)
		}
		st.Registers[d.Reg1] = base
		return cont(nextPC, gas)

	case "count_set_bits":
		st.Registers[d.Reg1] = uint64(bits.OnesCount64(st.Registers[d.Reg2]))
		return cont(nextPC, gas)
	case "leading_zero_bits":
		st.Registers[d.Reg1] = uint64(bits.LeadingZeros64(st.Registers[d.Reg2]))
		return cont(nextPC, gas)
	case "trailing_zero_bits":
		st.Registers[d.Reg1] = uint64(bits.TrailingZeros64(st.Registers[d.Reg2]))
		return cont(nextPC, gas)
	case "sign_extend_8":
		st.Registers[d.Reg1] = uint64(decoder.SignExtend(st.Registers[d.Reg2]&0xFF, 8))
		return cont(nextPC, gas)
	case "sign_extend_16":
		st.Registers[d.Reg1] = uint64(decoder.SignExtend(st.Registers[d.Reg2]&0xFFFF, 16))
		return cont(nextPC, gas)
	case "sign_extend_32":
		st.Registers[d.Reg1] = uint64(decoder.SignExtend(st.Registers[d.Reg2]&0xFFFFFFFF, 32))
		return cont(nextPC, gas)
	case "zero_extend_8":
		st.Registers[d.Reg1] = st.Registers[d.Reg2] & 0xFF
		return cont(nextPC, gas)
	case "zero_extend_16":
		st.Registers[d.Reg1] = st.Registers[d.Reg2] & 0xFFFF
		return cont(nextPC, gas)
	case "rotate_left":
		amt := uint(st.Registers[d.Reg2] & 63)
		st.Registers[d.Reg3] = bits.RotateLeft64(st.Registers[d.Reg1], int(amt))
		return cont(nextPC, gas)
	case "rotate_right":
		amt := uint(st.Registers[d.Reg2] & 63)
		st.Registers[d.Reg3] = bits.RotateLeft64(st.Registers[d.Reg1], -int(amt))
		return cont(nextPC, gas)

	case "add_32":
		return cont32(st, d, nextPC, gas, func(a, b uint32) uint32 { return a + b })
	case "sub_32":
		return cont32(st, d, nextPC, gas, func(a, b uint32) uint32 { return a - b })
	case "mul_32":
		return cont32(st, d, nextPC, gas, func(a, b uint32) uint32 { return a * b })
	case "div_u_32":
		return cont32(st, d, nextPC, gas, divU32)
	case "div_s_32":
		return cont32(st, d, nextPC, gas, divS32)
	case "rem_u_32":
		return cont32(st, d, nextPC, gas, remU32)
	case "rem_s_32":
		return cont32(st, d, nextPC, gas, remS32)
	case "shl_32":
		return cont32(st, d, nextPC, gas, func(a, b uint32) uint32 { return a << (b & 31) })
	case "shr_u_32":
		return cont32(st, d, nextPC, gas, func(a, b uint32) uint32 { return a >> (b & 31) })
	case "shr_s_32":
		return cont32(st, d, nextPC, gas, func(a, b uint32) uint32 {
			return uint32(int32(a) >> (b & 31))
		})

	case "add_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a + b })
	case "sub_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a - b })
	case "mul_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a * b })
	case "div_u_64":
		return cont64(st, d, nextPC, gas, divU64)
	case "div_s_64":
		return cont64(st, d, nextPC, gas, divS64)
	case "rem_u_64":
		return cont64(st, d, nextPC, gas, remU64)
	case "rem_s_64":
		return cont64(st, d, nextPC, gas, remS64)
	case "shl_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a << (b & 63) })
	case "shr_u_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a >> (b & 63) })
	case "shr_s_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 {
			return uint64(int64(a) >> (b & 63))
		})

	case "and_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a & b })
	case "or_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a | b })
	case "xor_64":
		return cont64(st, d, nextPC, gas, func(a, b uint64) uint64 { return a ^ b })
	case "cmp_eq":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return a == b }))
	case "cmp_ne":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return a != b }))
	case "cmp_lt_u":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return a < b }))
	case "cmp_lt_s":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return int64(a) < int64(b) }))
	case "cmp_le_u":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return a <= b }))
	case "cmp_le_s":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return int64(a) <= int64(b) }))
	case "cmp_ge_s":
		return cont64(st, d, nextPC, gas, boolU64(func(a, b uint64) bool { return int64(a) >= int64(b) }))

	default:
		return terminal(d.PC, Panic, "unimplemented opcode: %s", d.Op.Mnemonic)
	}
}

func boolU64(pred func(a, b uint64) bool) func(a, b uint64) uint64 {
	return func(a, b uint64) uint64 {
		if pred(a, b) {
			return 1
		}
		return 0
	}
}

// cont32 computes op on the low 32 bits of the two source registers modulo
// 2^32, then sign-extends the 32-bit result to 64 bits before writing it
// back — the fixed rule for every *_32 arithmetic/bitwise instruction.
//
// Three-reg operand order is (src1, src2, dst): "op r_src1 r_src2 r_dst".
// This is the convention that reproduces spec.md's worked example
// (`add_64 r0 r1 r2` leaving the sum in r2).
func cont32(st *State, d decoder.Decoded, nextPC uint64, gas uint64, op func(a, b uint32) uint32) Result {
	a := uint32(st.Registers[d.Reg1])
	b := uint32(st.Registers[d.Reg2])
	result := op(a, b)
	st.Registers[d.Reg3] = uint64(decoder.SignExtend(uint64(result), 32))
	return cont(nextPC, gas)
}

// cont64 computes op on the two 64-bit source registers and writes the
// result back unmodified (no sign extension: 64-bit lanes are already
// machine width). Same (src1, src2, dst) order as cont32.
func cont64(st *State, d decoder.Decoded, nextPC uint64, gas uint64, op func(a, b uint64) uint64) Result {
	a := st.Registers[d.Reg1]
	b := st.Registers[d.Reg2]
	st.Registers[d.Reg3] = op(a, b)
	return cont(nextPC, gas)
}

func divU32(a, b uint32) uint32 {
	if b == 0 {
		return 0xFFFFFFFF
	}
	return a / b
}

func divS32(a, b uint32) uint32 {
	sa, sb := int32(a), int32(b)
	if sb == 0 {
		return uint32(int32(-1))
	}
	if sa == -1<<31 && sb == -1 {
		return a
	}
	return uint32(sa / sb)
}

func remU32(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

func remS32(a, b uint32) uint32 {
	sa, sb := int32(a), int32(b)
	if sb == 0 {
		return a
	}
	if sa == -1<<31 && sb == -1 {
		return 0
	}
	return uint32(sa % sb)
}

func divU64(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func divS64(a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	if sb == 0 {
		return uint64(int64(-1))
	}
	if sa == -1<<63 && sb == -1 {
		return a
	}
	return uint64(sa / sb)
}

func remU64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

func remS64(a, b uint64) uint64 {
	sa, sb := int64(a), int64(b)
	if sb == 0 {
		return a
	}
	if sa == -1<<63 && sb == -1 {
		return 0
	}
	return uint64(sa % sb)
}

// load implements load_u8/i8/u16/i16/u32/i32/u64: the effective address is
// registers[reg]+imm; the same register is overwritten with the loaded,
// width-appropriately extended value.
func load(st *State, d decoder.Decoded, nextPC uint64, width int, signed bool) Result {
	addr := st.Registers[d.Reg1] + uint64(d.RegImm)
	raw, err := st.Memory.Read(addr, uint64(width))
	if err != nil {
		return pageFaultExit(d.PC, err)
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(raw[i])
	}
	if signed {
		v = uint64(decoder.SignExtend(v, uint(width*8)))
	}
	st.Registers[d.Reg1] = v
	return cont(nextPC, decoder.GasCost(d.Op.Opcode))
}

// store implements store_u8..u64: the effective address is
// registers[reg]+imm; the low width bytes of that same register's current
// value are written, little-endian.
func store(st *State, d decoder.Decoded, nextPC uint64, width int) Result {
	addr := st.Registers[d.Reg1] + uint64(d.RegImm)
	v := st.Registers[d.Reg1]
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	if err := st.Memory.Write(addr, buf); err != nil {
		return pageFaultExit(d.PC, err)
	}
	return cont(nextPC, decoder.GasCost(d.Op.Opcode))
}

// storeImm implements store_imm_u8..u64: the address is registers[reg]
// alone (no offset, since the immediate field carries the value to store),
// and the value is the low width bytes of the 20-bit immediate.
func storeImm(st *State, d decoder.Decoded, nextPC uint64, width int) Result {
	addr := st.Registers[d.Reg1]
	v := uint64(d.RegImm)
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	if err := st.Memory.Write(addr, buf); err != nil {
		return pageFaultExit(d.PC, err)
	}
	return cont(nextPC, decoder.GasCost(d.Op.Opcode))
}

func pageFaultExit(pc uint64, err error) Result {
	if pf, ok := err.(*pagedmem.PageFault); ok {
		return terminal(pc, PageFault, "page fault at page %d (addr 0x%x)", pf.Index, pf.Addr)
	}
	return terminal(pc, PageFault, "%s", err.Error())
}
