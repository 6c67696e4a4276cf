package treeir

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/wasmelt/wasmelt/wasm"
	"github.com/wasmelt/wasmelt/wasm/ieee754"
	"github.com/wasmelt/wasmelt/wasm/moremath"
)

// frame is the per-call register file: arguments, locals, the stack slot
// variables up to the high-water mark, and the dispatch register L.
type frame struct {
	regs []uint64
	l    uint32
}

// expr is a compiled expression over a call frame.
type expr func(fr *frame) uint64

type stmtKind byte

const (
	stmtKindExpr stmtKind = iota
	stmtKindJump
	stmtKindBranchIf
	stmtKindBranchIfZero
	stmtKindBrTable
	stmtKindReturn
	stmtKindTrap
	stmtKindDispatch
	stmtKindMultiCall
)

type stmt struct {
	kind stmtKind
	// slot is the destination register of an expression statement, or -1.
	slot int
	expr expr
	jmp  *jumpTarget
	// table holds the br_table targets; the default target is last.
	table []*jumpTarget
	// base and count describe a return statement's result registers.
	base, count int
	// cases maps the dispatch register to statement addresses.
	cases map[uint32]uint64
	// multi performs a multi-value call and scatters the results.
	multi func(fr *frame)
	text  string
}

func (c *compiler) slotText(slot int) string { return fmt.Sprintf("s%d", slot) }

func (c *compiler) localText(index int) string {
	if index < c.numArgs {
		return fmt.Sprintf("a%d", index)
	}
	return fmt.Sprintf("l%d", index-c.numArgs)
}

func typeName(t wasm.ValueType) string {
	switch t {
	case wasm.ValueTypeI32:
		return "i32"
	case wasm.ValueTypeI64:
		return "i64"
	case wasm.ValueTypeF32:
		return "f32"
	case wasm.ValueTypeF64:
		return "f64"
	}
	return "?"
}

// emitStatement converts one finalized top-level node into a statement.
func (c *compiler) emitStatement(ptr int32) *stmt {
	op := c.ast.opcode(ptr)

	// Calls returning two or more values destructure into consecutive
	// slots and cannot be expressed as a single expression.
	if op == wasm.OpcodeCall || op == wasm.OpcodeCallIndirect {
		if s := c.emitMultiCall(ptr); s != nil {
			return s
		}
	}

	e, text := c.compileExpr(ptr)
	if out := c.ast.outSlot(ptr); out > 0 {
		return &stmt{
			kind: stmtKindExpr, slot: c.regOf(out), expr: e,
			text: c.slotText(out) + " = " + text,
		}
	}
	return &stmt{kind: stmtKindExpr, slot: -1, expr: e, text: text}
}

// emitMultiCall returns nil unless the call has return arity two or more.
func (c *compiler) emitMultiCall(ptr int32) *stmt {
	op := c.ast.opcode(ptr)
	e := c.e
	mod := c.f.ModuleInstance
	argBase := int(c.ast.imm(ptr, 1))

	var sig *wasm.FunctionType
	var target *wasm.FunctionInstance
	if op == wasm.OpcodeCall {
		target = mod.Functions[c.ast.imm(ptr, 0)]
		sig = target.Signature
	} else {
		sig = mod.Types[c.ast.imm(ptr, 0)]
	}
	arity := len(sig.ReturnTypes)
	if arity < 2 {
		return nil
	}

	nargs := len(sig.InputTypes)
	base := c.regOf(argBase)
	resultBase := base

	var multi func(fr *frame)
	var text string
	if op == wasm.OpcodeCall {
		multi = func(fr *frame) {
			results := e.call(target, fr.regs[base:base+nargs])
			copy(fr.regs[resultBase:resultBase+arity], results)
		}
		text = fmt.Sprintf("s%d..s%d = call f[%d](%s)",
			argBase, argBase+arity-1, c.ast.imm(ptr, 0), argRangeText(argBase, nargs))
	} else {
		tables := mod.Tables
		funcReg := c.regOf(argBase + nargs)
		multi = func(fr *frame) {
			target := e.resolveIndirect(tables, fr.regs[funcReg], sig)
			results := e.call(target, fr.regs[base:base+nargs])
			copy(fr.regs[resultBase:resultBase+arity], results)
		}
		text = fmt.Sprintf("s%d..s%d = call_indirect t[s%d](%s)",
			argBase, argBase+arity-1, argBase+nargs, argRangeText(argBase, nargs))
	}
	return &stmt{kind: stmtKindMultiCall, slot: -1, multi: multi, text: text}
}

func argRangeText(argBase, nargs int) string {
	switch nargs {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("s%d", argBase)
	default:
		return fmt.Sprintf("s%d..s%d", argBase, argBase+nargs-1)
	}
}

func (c *compiler) childExpr(ptr int32, i int) (expr, string) {
	w := c.ast.child(ptr, i)
	if w < 0 {
		reg := c.regOf(int(-w))
		return func(fr *frame) uint64 { return fr.regs[reg] }, c.slotText(int(-w))
	}
	return c.compileExpr(w)
}

func f32bits(v float32) uint64 { return uint64(math.Float32bits(v)) }

func f32of(v uint64) float32 { return math.Float32frombits(uint32(v)) }

func f64of(v uint64) float64 { return math.Float64frombits(v) }

// compileExpr lowers the node at ptr to an executable closure plus its
// textual rendering. The AST arena stays valid only until the block is
// reset, so everything the closure needs is captured now.
func (c *compiler) compileExpr(ptr int32) (expr, string) {
	op := c.ast.opcode(ptr)
	mod := c.f.ModuleInstance
	mem := mod.Memory
	e := c.e

	name := opcodeName(op)

	switch op {
	case wasm.OpcodeI32Const:
		v := uint64(uint32(c.ast.imm(ptr, 0)))
		return func(fr *frame) uint64 { return v }, fmt.Sprintf("%d:i32", int32(uint32(v)))
	case wasm.OpcodeI64Const:
		v := c.constants[c.ast.imm(ptr, 0)]
		return func(fr *frame) uint64 { return v }, fmt.Sprintf("%d:i64", int64(v))
	case wasm.OpcodeF32Const:
		v := uint64(ieee754.LoadFloat32Bits(c.body, uint64(uint32(c.ast.imm(ptr, 0)))))
		return func(fr *frame) uint64 { return v }, fmt.Sprintf("f32:0x%08x", uint32(v))
	case wasm.OpcodeF64Const:
		v := ieee754.LoadFloat64Bits(c.body, uint64(uint32(c.ast.imm(ptr, 0))))
		return func(fr *frame) uint64 { return v }, fmt.Sprintf("f64:0x%016x", v)
	case wasm.OpcodeLocalGet:
		reg := int(c.ast.imm(ptr, 0))
		return func(fr *frame) uint64 { return fr.regs[reg] }, c.localText(reg)
	case wasm.OpcodeLocalSet:
		a, at := c.childExpr(ptr, 0)
		reg := int(c.ast.imm(ptr, 0))
		return func(fr *frame) uint64 {
			fr.regs[reg] = a(fr)
			return 0
		}, c.localText(reg) + " = " + at
	case wasm.OpcodeLocalTee:
		a, at := c.childExpr(ptr, 0)
		reg := int(c.ast.imm(ptr, 0))
		return func(fr *frame) uint64 {
			v := a(fr)
			fr.regs[reg] = v
			return v
		}, fmt.Sprintf("%s(%s, %s)", name, c.localText(reg), at)
	case wasm.OpcodeGlobalGet:
		g := mod.Globals[c.ast.imm(ptr, 0)]
		idx := c.ast.imm(ptr, 0)
		return func(fr *frame) uint64 { return g.Val }, fmt.Sprintf("g[%d]", idx)
	case wasm.OpcodeGlobalSet:
		a, at := c.childExpr(ptr, 0)
		g := mod.Globals[c.ast.imm(ptr, 0)]
		idx := c.ast.imm(ptr, 0)
		return func(fr *frame) uint64 {
			g.Val = a(fr)
			return 0
		}, fmt.Sprintf("g[%d] = %s", idx, at)

	case wasm.OpcodeCall:
		target := mod.Functions[c.ast.imm(ptr, 0)]
		nargs := len(target.Signature.InputTypes)
		base := c.regOf(int(c.ast.imm(ptr, 1)))
		idx := c.ast.imm(ptr, 0)
		argBase := int(c.ast.imm(ptr, 1))
		return func(fr *frame) uint64 {
			results := e.call(target, fr.regs[base:base+nargs])
			if len(results) > 0 {
				return results[0]
			}
			return 0
		}, fmt.Sprintf("call f[%d](%s)", idx, argRangeText(argBase, nargs))
	case wasm.OpcodeCallIndirect:
		sig := mod.Types[c.ast.imm(ptr, 0)]
		nargs := len(sig.InputTypes)
		argBase := int(c.ast.imm(ptr, 1))
		base := c.regOf(argBase)
		funcReg := c.regOf(argBase + nargs)
		tables := mod.Tables
		return func(fr *frame) uint64 {
			target := e.resolveIndirect(tables, fr.regs[funcReg], sig)
			results := e.call(target, fr.regs[base:base+nargs])
			if len(results) > 0 {
				return results[0]
			}
			return 0
		}, fmt.Sprintf("call_indirect t[s%d](%s)", argBase+nargs, argRangeText(argBase, nargs))

	case wasm.OpcodeSelect:
		cond, ct := c.childExpr(ptr, 0)
		v1, t1 := c.childExpr(ptr, 1)
		v2, t2 := c.childExpr(ptr, 2)
		// WebAssembly evaluates both value operands before the condition.
		return func(fr *frame) uint64 {
			x := v1(fr)
			y := v2(fr)
			if cond(fr) != 0 {
				return x
			}
			return y
		}, fmt.Sprintf("%s(%s, %s, %s)", name, ct, t1, t2)

	case opBool:
		a, at := c.childExpr(ptr, 0)
		return func(fr *frame) uint64 {
			if a(fr) != 0 {
				return 1
			}
			return 0
		}, fmt.Sprintf("%s(%s)", name, at)
	case opBoolNot:
		a, at := c.childExpr(ptr, 0)
		return func(fr *frame) uint64 {
			if a(fr) == 0 {
				return 1
			}
			return 0
		}, fmt.Sprintf("%s(%s)", name, at)
	case opBoolToInt, opToS64:
		a, at := c.childExpr(ptr, 0)
		return a, fmt.Sprintf("%s(%s)", name, at)
	case opToU32, wasm.OpcodeI32WrapI64:
		a, at := c.childExpr(ptr, 0)
		return func(fr *frame) uint64 { return uint64(uint32(a(fr))) },
			fmt.Sprintf("%s(%s)", name, at)

	case wasm.OpcodeMemorySize:
		return func(fr *frame) uint64 { return uint64(mem.PageCount()) }, name
	case wasm.OpcodeMemoryGrow:
		a, at := c.childExpr(ptr, 0)
		return func(fr *frame) uint64 {
			return uint64(uint32(mem.PageGrow(uint32(a(fr)))))
		}, fmt.Sprintf("%s(%s)", name, at)
	case opMemoryCopy:
		d, dt := c.childExpr(ptr, 0)
		s, st := c.childExpr(ptr, 1)
		n, nt := c.childExpr(ptr, 2)
		return func(fr *frame) uint64 {
			dst := uint32(d(fr))
			src := uint32(s(fr))
			cnt := uint32(n(fr))
			copy(mem.Buffer[dst:uint64(dst)+uint64(cnt)], mem.Buffer[src:uint64(src)+uint64(cnt)])
			return 0
		}, fmt.Sprintf("%s(%s, %s, %s)", name, dt, st, nt)
	case opMemoryFill:
		d, dt := c.childExpr(ptr, 0)
		v, vt := c.childExpr(ptr, 1)
		n, nt := c.childExpr(ptr, 2)
		return func(fr *frame) uint64 {
			dst := uint32(d(fr))
			val := byte(v(fr))
			cnt := uint32(n(fr))
			seg := mem.Buffer[dst : uint64(dst)+uint64(cnt)]
			for i := range seg {
				seg[i] = val
			}
			return 0
		}, fmt.Sprintf("%s(%s, %s, %s)", name, dt, vt, nt)
	}

	if op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Load32U || op == opU32Load || op == opS64Load {
		return c.compileLoad(ptr, op, mem, name)
	}
	if op >= wasm.OpcodeI32Store && op <= wasm.OpcodeI64Store32 {
		return c.compileStore(ptr, op, mem, name)
	}

	switch c.ast.childCount(ptr) {
	case 1:
		return c.compileUnop(ptr, op, name)
	case 2:
		return c.compileBinop(ptr, op, name)
	}
	panic(fmt.Errorf("emit of opcode 0x%02x: %w", op, wasm.ErrInternal))
}

func (c *compiler) compileLoad(ptr int32, op wasm.Opcode, mem *wasm.MemoryInstance, name string) (expr, string) {
	a, at := c.childExpr(ptr, 0)
	off := uint64(uint32(c.ast.imm(ptr, 0)))
	text := fmt.Sprintf("%s(%s, +%d)", name, at, off)
	switch op {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		return func(fr *frame) uint64 {
			return uint64(binary.LittleEndian.Uint32(mem.Buffer[a(fr)+off:]))
		}, text
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		return func(fr *frame) uint64 {
			return binary.LittleEndian.Uint64(mem.Buffer[a(fr)+off:])
		}, text
	case wasm.OpcodeI32Load8S:
		return func(fr *frame) uint64 {
			return uint64(uint32(int32(int8(mem.Buffer[a(fr)+off]))))
		}, text
	case wasm.OpcodeI32Load8U, opU32Load:
		return func(fr *frame) uint64 {
			return uint64(mem.Buffer[a(fr)+off])
		}, text
	case wasm.OpcodeI32Load16S:
		return func(fr *frame) uint64 {
			return uint64(uint32(int32(int16(binary.LittleEndian.Uint16(mem.Buffer[a(fr)+off:])))))
		}, text
	case wasm.OpcodeI32Load16U:
		return func(fr *frame) uint64 {
			return uint64(binary.LittleEndian.Uint16(mem.Buffer[a(fr)+off:]))
		}, text
	case wasm.OpcodeI64Load8S:
		return func(fr *frame) uint64 {
			return uint64(int64(int8(mem.Buffer[a(fr)+off])))
		}, text
	case wasm.OpcodeI64Load8U, opS64Load:
		return func(fr *frame) uint64 {
			return uint64(mem.Buffer[a(fr)+off])
		}, text
	case wasm.OpcodeI64Load16S:
		return func(fr *frame) uint64 {
			return uint64(int64(int16(binary.LittleEndian.Uint16(mem.Buffer[a(fr)+off:]))))
		}, text
	case wasm.OpcodeI64Load16U:
		return func(fr *frame) uint64 {
			return uint64(binary.LittleEndian.Uint16(mem.Buffer[a(fr)+off:]))
		}, text
	case wasm.OpcodeI64Load32S:
		return func(fr *frame) uint64 {
			return uint64(int64(int32(binary.LittleEndian.Uint32(mem.Buffer[a(fr)+off:]))))
		}, text
	case wasm.OpcodeI64Load32U:
		return func(fr *frame) uint64 {
			return uint64(binary.LittleEndian.Uint32(mem.Buffer[a(fr)+off:]))
		}, text
	}
	panic(fmt.Errorf("emit of load 0x%02x: %w", op, wasm.ErrInternal))
}

func (c *compiler) compileStore(ptr int32, op wasm.Opcode, mem *wasm.MemoryInstance, name string) (expr, string) {
	a, at := c.childExpr(ptr, 0)
	v, vt := c.childExpr(ptr, 1)
	off := uint64(uint32(c.ast.imm(ptr, 0)))
	text := fmt.Sprintf("%s(%s, +%d, %s)", name, at, off, vt)
	switch op {
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store:
		return func(fr *frame) uint64 {
			base := a(fr) + off
			binary.LittleEndian.PutUint32(mem.Buffer[base:], uint32(v(fr)))
			return 0
		}, text
	case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		return func(fr *frame) uint64 {
			base := a(fr) + off
			binary.LittleEndian.PutUint64(mem.Buffer[base:], v(fr))
			return 0
		}, text
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		return func(fr *frame) uint64 {
			base := a(fr) + off
			mem.Buffer[base] = byte(v(fr))
			return 0
		}, text
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		return func(fr *frame) uint64 {
			base := a(fr) + off
			binary.LittleEndian.PutUint16(mem.Buffer[base:], uint16(v(fr)))
			return 0
		}, text
	case wasm.OpcodeI64Store32:
		return func(fr *frame) uint64 {
			base := a(fr) + off
			binary.LittleEndian.PutUint32(mem.Buffer[base:], uint32(v(fr)))
			return 0
		}, text
	}
	panic(fmt.Errorf("emit of store 0x%02x: %w", op, wasm.ErrInternal))
}

func (c *compiler) compileUnop(ptr int32, op wasm.Opcode, name string) (expr, string) {
	a, at := c.childExpr(ptr, 0)
	text := fmt.Sprintf("%s(%s)", name, at)

	var f func(v uint64) uint64
	switch op {
	case wasm.OpcodeI32Eqz:
		f = func(v uint64) uint64 {
			if uint32(v) == 0 {
				return 1
			}
			return 0
		}
	case wasm.OpcodeI64Eqz:
		f = func(v uint64) uint64 {
			if v == 0 {
				return 1
			}
			return 0
		}
	case wasm.OpcodeI32Clz:
		f = func(v uint64) uint64 { return uint64(bits.LeadingZeros32(uint32(v))) }
	case wasm.OpcodeI32Ctz:
		f = func(v uint64) uint64 { return uint64(bits.TrailingZeros32(uint32(v))) }
	case wasm.OpcodeI32Popcnt:
		f = func(v uint64) uint64 { return uint64(bits.OnesCount32(uint32(v))) }
	case wasm.OpcodeI64Clz:
		f = func(v uint64) uint64 { return uint64(bits.LeadingZeros64(v)) }
	case wasm.OpcodeI64Ctz:
		f = func(v uint64) uint64 { return uint64(bits.TrailingZeros64(v)) }
	case wasm.OpcodeI64Popcnt:
		f = func(v uint64) uint64 { return uint64(bits.OnesCount64(v)) }

	case wasm.OpcodeF32Abs:
		f = func(v uint64) uint64 { return v &^ (1 << 31) }
	case wasm.OpcodeF32Neg:
		f = func(v uint64) uint64 { return f32bits(-f32of(v)) }
	case wasm.OpcodeF32Ceil:
		f = func(v uint64) uint64 { return f32bits(float32(math.Ceil(float64(f32of(v))))) }
	case wasm.OpcodeF32Floor:
		f = func(v uint64) uint64 { return f32bits(float32(math.Floor(float64(f32of(v))))) }
	case wasm.OpcodeF32Trunc:
		f = func(v uint64) uint64 { return f32bits(float32(math.Trunc(float64(f32of(v))))) }
	case wasm.OpcodeF32Nearest:
		f = func(v uint64) uint64 { return f32bits(moremath.WasmCompatNearestF32(f32of(v))) }
	case wasm.OpcodeF32Sqrt:
		f = func(v uint64) uint64 { return f32bits(float32(math.Sqrt(float64(f32of(v))))) }
	case wasm.OpcodeF64Abs:
		f = func(v uint64) uint64 { return v &^ (1 << 63) }
	case wasm.OpcodeF64Neg:
		f = func(v uint64) uint64 { return math.Float64bits(-f64of(v)) }
	case wasm.OpcodeF64Ceil:
		f = func(v uint64) uint64 { return math.Float64bits(math.Ceil(f64of(v))) }
	case wasm.OpcodeF64Floor:
		f = func(v uint64) uint64 { return math.Float64bits(math.Floor(f64of(v))) }
	case wasm.OpcodeF64Trunc:
		f = func(v uint64) uint64 { return math.Float64bits(math.Trunc(f64of(v))) }
	case wasm.OpcodeF64Nearest:
		f = func(v uint64) uint64 { return math.Float64bits(moremath.WasmCompatNearestF64(f64of(v))) }
	case wasm.OpcodeF64Sqrt:
		f = func(v uint64) uint64 { return math.Float64bits(math.Sqrt(f64of(v))) }

	case wasm.OpcodeI32TruncF32S:
		f = func(v uint64) uint64 { return uint64(uint32(truncToInt32(float64(f32of(v))))) }
	case wasm.OpcodeI32TruncF32U:
		f = func(v uint64) uint64 { return uint64(truncToUint32(float64(f32of(v)))) }
	case wasm.OpcodeI32TruncF64S:
		f = func(v uint64) uint64 { return uint64(uint32(truncToInt32(f64of(v)))) }
	case wasm.OpcodeI32TruncF64U:
		f = func(v uint64) uint64 { return uint64(truncToUint32(f64of(v))) }
	case wasm.OpcodeI64TruncF32S:
		f = func(v uint64) uint64 { return uint64(truncToInt64(float64(f32of(v)))) }
	case wasm.OpcodeI64TruncF32U:
		f = func(v uint64) uint64 { return truncToUint64(float64(f32of(v))) }
	case wasm.OpcodeI64TruncF64S:
		f = func(v uint64) uint64 { return uint64(truncToInt64(f64of(v))) }
	case wasm.OpcodeI64TruncF64U:
		f = func(v uint64) uint64 { return truncToUint64(f64of(v)) }

	case wasm.OpcodeI64ExtendI32S:
		f = func(v uint64) uint64 { return uint64(int64(int32(uint32(v)))) }
	case wasm.OpcodeF32ConvertI32S:
		f = func(v uint64) uint64 { return f32bits(float32(int32(uint32(v)))) }
	case wasm.OpcodeF32ConvertI32U:
		f = func(v uint64) uint64 { return f32bits(float32(uint32(v))) }
	case wasm.OpcodeF32ConvertI64S:
		f = func(v uint64) uint64 { return f32bits(float32(int64(v))) }
	case wasm.OpcodeF32ConvertI64U:
		f = func(v uint64) uint64 { return f32bits(float32(v)) }
	case wasm.OpcodeF32DemoteF64:
		f = func(v uint64) uint64 { return f32bits(float32(f64of(v))) }
	case wasm.OpcodeF64ConvertI32S:
		f = func(v uint64) uint64 { return math.Float64bits(float64(int32(uint32(v)))) }
	case wasm.OpcodeF64ConvertI32U:
		f = func(v uint64) uint64 { return math.Float64bits(float64(uint32(v))) }
	case wasm.OpcodeF64ConvertI64S:
		f = func(v uint64) uint64 { return math.Float64bits(float64(int64(v))) }
	case wasm.OpcodeF64ConvertI64U:
		f = func(v uint64) uint64 { return math.Float64bits(float64(v)) }
	case wasm.OpcodeF64PromoteF32:
		f = func(v uint64) uint64 { return math.Float64bits(float64(f32of(v))) }

	case wasm.OpcodeI32Extend8S:
		f = func(v uint64) uint64 { return uint64(uint32(int32(int8(uint8(v))))) }
	case wasm.OpcodeI32Extend16S:
		f = func(v uint64) uint64 { return uint64(uint32(int32(int16(uint16(v))))) }
	case wasm.OpcodeI64Extend8S:
		f = moremath.I64Extend8S
	case wasm.OpcodeI64Extend16S:
		f = moremath.I64Extend16S
	case wasm.OpcodeI64Extend32S:
		f = moremath.I64Extend32S

	case opI32TruncSatF32S:
		f = func(v uint64) uint64 { return uint64(uint32(moremath.I32TruncSatF64S(float64(f32of(v))))) }
	case opI32TruncSatF32U:
		f = func(v uint64) uint64 { return uint64(moremath.I32TruncSatF64U(float64(f32of(v)))) }
	case opI32TruncSatF64S:
		f = func(v uint64) uint64 { return uint64(uint32(moremath.I32TruncSatF64S(f64of(v)))) }
	case opI32TruncSatF64U:
		f = func(v uint64) uint64 { return uint64(moremath.I32TruncSatF64U(f64of(v))) }
	case opI64TruncSatF32S:
		f = func(v uint64) uint64 { return uint64(moremath.I64TruncSatF64S(float64(f32of(v)))) }
	case opI64TruncSatF32U:
		f = func(v uint64) uint64 { return moremath.I64TruncSatF64U(float64(f32of(v))) }
	case opI64TruncSatF64S:
		f = func(v uint64) uint64 { return uint64(moremath.I64TruncSatF64S(f64of(v))) }
	case opI64TruncSatF64U:
		f = func(v uint64) uint64 { return moremath.I64TruncSatF64U(f64of(v)) }
	default:
		panic(fmt.Errorf("emit of unary 0x%02x: %w", op, wasm.ErrInternal))
	}
	return func(fr *frame) uint64 { return f(a(fr)) }, text
}

// Trapping float-to-integer conversions, the WebAssembly MVP behavior.
func truncToInt32(v float64) int32 {
	v = math.Trunc(v)
	if math.IsNaN(v) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if v < math.MinInt32 || v > math.MaxInt32 {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return int32(v)
}

func truncToUint32(v float64) uint32 {
	v = math.Trunc(v)
	if math.IsNaN(v) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if v < 0 || v > math.MaxUint32 {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return uint32(v)
}

func truncToInt64(v float64) int64 {
	v = math.Trunc(v)
	res := int64(v)
	if math.IsNaN(v) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if v < math.MinInt64 || (v > 0 && res < 0) {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return res
}

func truncToUint64(v float64) uint64 {
	v = math.Trunc(v)
	res := uint64(v)
	if math.IsNaN(v) {
		panic(wasm.ErrRuntimeInvalidConversionToInteger)
	} else if v < 0 || v > float64(res) {
		panic(wasm.ErrRuntimeIntegerOverflow)
	}
	return res
}

func (c *compiler) compileBinop(ptr int32, op wasm.Opcode, name string) (expr, string) {
	a, at := c.childExpr(ptr, 0)
	b, bt := c.childExpr(ptr, 1)
	text := fmt.Sprintf("%s(%s, %s)", name, at, bt)

	var f func(x, y uint64) uint64
	switch op {
	case wasm.OpcodeI32Eq:
		f = func(x, y uint64) uint64 { return b2i(uint32(x) == uint32(y)) }
	case wasm.OpcodeI32Ne:
		f = func(x, y uint64) uint64 { return b2i(uint32(x) != uint32(y)) }
	case wasm.OpcodeI32LtS:
		f = func(x, y uint64) uint64 { return b2i(int32(x) < int32(y)) }
	case wasm.OpcodeI32LtU:
		f = func(x, y uint64) uint64 { return b2i(uint32(x) < uint32(y)) }
	case wasm.OpcodeI32GtS:
		f = func(x, y uint64) uint64 { return b2i(int32(x) > int32(y)) }
	case wasm.OpcodeI32GtU:
		f = func(x, y uint64) uint64 { return b2i(uint32(x) > uint32(y)) }
	case wasm.OpcodeI32LeS:
		f = func(x, y uint64) uint64 { return b2i(int32(x) <= int32(y)) }
	case wasm.OpcodeI32LeU:
		f = func(x, y uint64) uint64 { return b2i(uint32(x) <= uint32(y)) }
	case wasm.OpcodeI32GeS:
		f = func(x, y uint64) uint64 { return b2i(int32(x) >= int32(y)) }
	case wasm.OpcodeI32GeU:
		f = func(x, y uint64) uint64 { return b2i(uint32(x) >= uint32(y)) }
	case wasm.OpcodeI64Eq:
		f = func(x, y uint64) uint64 { return b2i(x == y) }
	case wasm.OpcodeI64Ne:
		f = func(x, y uint64) uint64 { return b2i(x != y) }
	case wasm.OpcodeI64LtS:
		f = func(x, y uint64) uint64 { return b2i(int64(x) < int64(y)) }
	case wasm.OpcodeI64LtU:
		f = func(x, y uint64) uint64 { return b2i(x < y) }
	case wasm.OpcodeI64GtS:
		f = func(x, y uint64) uint64 { return b2i(int64(x) > int64(y)) }
	case wasm.OpcodeI64GtU:
		f = func(x, y uint64) uint64 { return b2i(x > y) }
	case wasm.OpcodeI64LeS:
		f = func(x, y uint64) uint64 { return b2i(int64(x) <= int64(y)) }
	case wasm.OpcodeI64LeU:
		f = func(x, y uint64) uint64 { return b2i(x <= y) }
	case wasm.OpcodeI64GeS:
		f = func(x, y uint64) uint64 { return b2i(int64(x) >= int64(y)) }
	case wasm.OpcodeI64GeU:
		f = func(x, y uint64) uint64 { return b2i(x >= y) }
	case wasm.OpcodeF32Eq:
		f = func(x, y uint64) uint64 { return b2i(f32of(x) == f32of(y)) }
	case wasm.OpcodeF32Ne:
		f = func(x, y uint64) uint64 { return b2i(f32of(x) != f32of(y)) }
	case wasm.OpcodeF32Lt:
		f = func(x, y uint64) uint64 { return b2i(f32of(x) < f32of(y)) }
	case wasm.OpcodeF32Gt:
		f = func(x, y uint64) uint64 { return b2i(f32of(x) > f32of(y)) }
	case wasm.OpcodeF32Le:
		f = func(x, y uint64) uint64 { return b2i(f32of(x) <= f32of(y)) }
	case wasm.OpcodeF32Ge:
		f = func(x, y uint64) uint64 { return b2i(f32of(x) >= f32of(y)) }
	case wasm.OpcodeF64Eq:
		f = func(x, y uint64) uint64 { return b2i(f64of(x) == f64of(y)) }
	case wasm.OpcodeF64Ne:
		f = func(x, y uint64) uint64 { return b2i(f64of(x) != f64of(y)) }
	case wasm.OpcodeF64Lt:
		f = func(x, y uint64) uint64 { return b2i(f64of(x) < f64of(y)) }
	case wasm.OpcodeF64Gt:
		f = func(x, y uint64) uint64 { return b2i(f64of(x) > f64of(y)) }
	case wasm.OpcodeF64Le:
		f = func(x, y uint64) uint64 { return b2i(f64of(x) <= f64of(y)) }
	case wasm.OpcodeF64Ge:
		f = func(x, y uint64) uint64 { return b2i(f64of(x) >= f64of(y)) }

	case wasm.OpcodeI32Add:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) + uint32(y)) }
	case wasm.OpcodeI32Sub:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) - uint32(y)) }
	case wasm.OpcodeI32Mul:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) * uint32(y)) }
	case wasm.OpcodeI32DivS:
		f = func(x, y uint64) uint64 {
			d := int32(x)
			n := int32(y)
			if n == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			if d == math.MinInt32 && n == -1 {
				panic(wasm.ErrRuntimeIntegerOverflow)
			}
			return uint64(uint32(d / n))
		}
	case wasm.OpcodeI32DivU:
		f = func(x, y uint64) uint64 {
			if uint32(y) == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			return uint64(uint32(x) / uint32(y))
		}
	case wasm.OpcodeI32RemS:
		f = func(x, y uint64) uint64 {
			if int32(y) == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			return uint64(uint32(int32(x) % int32(y)))
		}
	case wasm.OpcodeI32RemU:
		f = func(x, y uint64) uint64 {
			if uint32(y) == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			return uint64(uint32(x) % uint32(y))
		}
	case wasm.OpcodeI32And:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) & uint32(y)) }
	case wasm.OpcodeI32Or:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) | uint32(y)) }
	case wasm.OpcodeI32Xor:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) ^ uint32(y)) }
	case wasm.OpcodeI32Shl:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) << (uint32(y) % 32)) }
	case wasm.OpcodeI32ShrS:
		f = func(x, y uint64) uint64 { return uint64(uint32(int32(x) >> (uint32(y) % 32))) }
	case wasm.OpcodeI32ShrU:
		f = func(x, y uint64) uint64 { return uint64(uint32(x) >> (uint32(y) % 32)) }
	case wasm.OpcodeI32Rotl:
		f = func(x, y uint64) uint64 { return uint64(bits.RotateLeft32(uint32(x), int(uint32(y)))) }
	case wasm.OpcodeI32Rotr:
		f = func(x, y uint64) uint64 { return uint64(bits.RotateLeft32(uint32(x), -int(uint32(y)))) }

	case wasm.OpcodeI64Add:
		f = func(x, y uint64) uint64 { return x + y }
	case wasm.OpcodeI64Sub:
		f = func(x, y uint64) uint64 { return x - y }
	case wasm.OpcodeI64Mul:
		f = func(x, y uint64) uint64 { return x * y }
	case wasm.OpcodeI64DivS:
		f = func(x, y uint64) uint64 {
			d := int64(x)
			n := int64(y)
			if n == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			if d == math.MinInt64 && n == -1 {
				panic(wasm.ErrRuntimeIntegerOverflow)
			}
			return uint64(d / n)
		}
	case wasm.OpcodeI64DivU:
		f = func(x, y uint64) uint64 {
			if y == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			return x / y
		}
	case wasm.OpcodeI64RemS:
		f = func(x, y uint64) uint64 {
			if y == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			return uint64(int64(x) % int64(y))
		}
	case wasm.OpcodeI64RemU:
		f = func(x, y uint64) uint64 {
			if y == 0 {
				panic(wasm.ErrRuntimeIntegerDivideByZero)
			}
			return x % y
		}
	case wasm.OpcodeI64And:
		f = func(x, y uint64) uint64 { return x & y }
	case wasm.OpcodeI64Or:
		f = func(x, y uint64) uint64 { return x | y }
	case wasm.OpcodeI64Xor:
		f = func(x, y uint64) uint64 { return x ^ y }
	case wasm.OpcodeI64Shl:
		f = func(x, y uint64) uint64 { return x << (y % 64) }
	case wasm.OpcodeI64ShrS:
		f = func(x, y uint64) uint64 { return uint64(int64(x) >> (y % 64)) }
	case wasm.OpcodeI64ShrU:
		f = func(x, y uint64) uint64 { return x >> (y % 64) }
	case wasm.OpcodeI64Rotl:
		f = func(x, y uint64) uint64 { return bits.RotateLeft64(x, int(y&63)) }
	case wasm.OpcodeI64Rotr:
		f = func(x, y uint64) uint64 { return bits.RotateLeft64(x, -int(y&63)) }

	case wasm.OpcodeF32Add:
		f = func(x, y uint64) uint64 { return f32bits(f32of(x) + f32of(y)) }
	case wasm.OpcodeF32Sub:
		f = func(x, y uint64) uint64 { return f32bits(f32of(x) - f32of(y)) }
	case wasm.OpcodeF32Mul:
		f = func(x, y uint64) uint64 { return f32bits(f32of(x) * f32of(y)) }
	case wasm.OpcodeF32Div:
		f = func(x, y uint64) uint64 { return f32bits(f32of(x) / f32of(y)) }
	case wasm.OpcodeF32Min:
		f = func(x, y uint64) uint64 {
			return f32bits(float32(moremath.WasmCompatMin(float64(f32of(x)), float64(f32of(y)))))
		}
	case wasm.OpcodeF32Max:
		f = func(x, y uint64) uint64 {
			return f32bits(float32(moremath.WasmCompatMax(float64(f32of(x)), float64(f32of(y)))))
		}
	case wasm.OpcodeF32Copysign:
		f = func(x, y uint64) uint64 {
			return f32bits(float32(math.Copysign(float64(f32of(x)), float64(f32of(y)))))
		}
	case wasm.OpcodeF64Add:
		f = func(x, y uint64) uint64 { return math.Float64bits(f64of(x) + f64of(y)) }
	case wasm.OpcodeF64Sub:
		f = func(x, y uint64) uint64 { return math.Float64bits(f64of(x) - f64of(y)) }
	case wasm.OpcodeF64Mul:
		f = func(x, y uint64) uint64 { return math.Float64bits(f64of(x) * f64of(y)) }
	case wasm.OpcodeF64Div:
		f = func(x, y uint64) uint64 { return math.Float64bits(f64of(x) / f64of(y)) }
	case wasm.OpcodeF64Min:
		f = func(x, y uint64) uint64 { return math.Float64bits(moremath.WasmCompatMin(f64of(x), f64of(y))) }
	case wasm.OpcodeF64Max:
		f = func(x, y uint64) uint64 { return math.Float64bits(moremath.WasmCompatMax(f64of(x), f64of(y))) }
	case wasm.OpcodeF64Copysign:
		f = func(x, y uint64) uint64 { return math.Float64bits(math.Copysign(f64of(x), f64of(y))) }
	default:
		panic(fmt.Errorf("emit of binary 0x%02x: %w", op, wasm.ErrInternal))
	}
	return func(fr *frame) uint64 { return f(a(fr), b(fr)) }, text
}

func b2i(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
