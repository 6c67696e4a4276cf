package treeir

import (
	"bytes"
	"fmt"

	"github.com/wasmelt/wasmelt/wasm"
)

// Disassemble renders a compiled function's statement program. The output
// is deterministic: compiling the same function twice yields identical
// text.
func Disassemble(cf *compiledFunction) string {
	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "func %s(", cf.funcInstance.Name)
	for i, d := range cf.decls {
		if i == cf.numArgs {
			break
		}
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(d)
	}
	buf.WriteString(")\n")
	for _, d := range cf.decls[cf.numArgs:] {
		fmt.Fprintf(buf, "\tvar %s\n", d)
	}
	if n := cf.numRegs - cf.numArgs - cf.numLocals; n > 0 {
		fmt.Fprintf(buf, "\tvar s1..s%d, L, T\n", n)
	}
	for i, s := range cf.stmts {
		fmt.Fprintf(buf, "%4d: %s\n", i, s.text)
	}
	return buf.String()
}

// DisassembleFunction compiles f against a fresh arena and returns the
// program text. It is primarily a debugging and testing aid.
func DisassembleFunction(f *wasm.FunctionInstance) (string, error) {
	e := NewEngine().(*engine)
	cf, err := compileFunction(e, f)
	if err != nil {
		return "", err
	}
	return Disassemble(cf), nil
}

func opcodeName(op wasm.Opcode) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op[0x%02x]", op)
}

var opcodeNames = map[wasm.Opcode]string{
	wasm.OpcodeUnreachable:  "unreachable",
	wasm.OpcodeSelect:       "select",
	wasm.OpcodeLocalGet:     "local.get",
	wasm.OpcodeLocalSet:     "local.set",
	wasm.OpcodeLocalTee:     "local.tee",
	wasm.OpcodeGlobalGet:    "global.get",
	wasm.OpcodeGlobalSet:    "global.set",
	wasm.OpcodeI32Load:      "i32.load",
	wasm.OpcodeI64Load:      "i64.load",
	wasm.OpcodeF32Load:      "f32.load",
	wasm.OpcodeF64Load:      "f64.load",
	wasm.OpcodeI32Load8S:    "i32.load8_s",
	wasm.OpcodeI32Load8U:    "i32.load8_u",
	wasm.OpcodeI32Load16S:   "i32.load16_s",
	wasm.OpcodeI32Load16U:   "i32.load16_u",
	wasm.OpcodeI64Load8S:    "i64.load8_s",
	wasm.OpcodeI64Load8U:    "i64.load8_u",
	wasm.OpcodeI64Load16S:   "i64.load16_s",
	wasm.OpcodeI64Load16U:   "i64.load16_u",
	wasm.OpcodeI64Load32S:   "i64.load32_s",
	wasm.OpcodeI64Load32U:   "i64.load32_u",
	wasm.OpcodeI32Store:     "i32.store",
	wasm.OpcodeI64Store:     "i64.store",
	wasm.OpcodeF32Store:     "f32.store",
	wasm.OpcodeF64Store:     "f64.store",
	wasm.OpcodeI32Store8:    "i32.store8",
	wasm.OpcodeI32Store16:   "i32.store16",
	wasm.OpcodeI64Store8:    "i64.store8",
	wasm.OpcodeI64Store16:   "i64.store16",
	wasm.OpcodeI64Store32:   "i64.store32",
	wasm.OpcodeMemorySize:   "memory.size",
	wasm.OpcodeMemoryGrow:   "memory.grow",
	wasm.OpcodeI32Const:     "i32.const",
	wasm.OpcodeI64Const:     "i64.const",
	wasm.OpcodeF32Const:     "f32.const",
	wasm.OpcodeF64Const:     "f64.const",
	wasm.OpcodeI32Eqz:       "i32.eqz",
	wasm.OpcodeI32Eq:        "i32.eq",
	wasm.OpcodeI32Ne:        "i32.ne",
	wasm.OpcodeI32LtS:       "i32.lt_s",
	wasm.OpcodeI32LtU:       "i32.lt_u",
	wasm.OpcodeI32GtS:       "i32.gt_s",
	wasm.OpcodeI32GtU:       "i32.gt_u",
	wasm.OpcodeI32LeS:       "i32.le_s",
	wasm.OpcodeI32LeU:       "i32.le_u",
	wasm.OpcodeI32GeS:       "i32.ge_s",
	wasm.OpcodeI32GeU:       "i32.ge_u",
	wasm.OpcodeI64Eqz:       "i64.eqz",
	wasm.OpcodeI64Eq:        "i64.eq",
	wasm.OpcodeI64Ne:        "i64.ne",
	wasm.OpcodeI64LtS:       "i64.lt_s",
	wasm.OpcodeI64LtU:       "i64.lt_u",
	wasm.OpcodeI64GtS:       "i64.gt_s",
	wasm.OpcodeI64GtU:       "i64.gt_u",
	wasm.OpcodeI64LeS:       "i64.le_s",
	wasm.OpcodeI64LeU:       "i64.le_u",
	wasm.OpcodeI64GeS:       "i64.ge_s",
	wasm.OpcodeI64GeU:       "i64.ge_u",
	wasm.OpcodeF32Eq:        "f32.eq",
	wasm.OpcodeF32Ne:        "f32.ne",
	wasm.OpcodeF32Lt:        "f32.lt",
	wasm.OpcodeF32Gt:        "f32.gt",
	wasm.OpcodeF32Le:        "f32.le",
	wasm.OpcodeF32Ge:        "f32.ge",
	wasm.OpcodeF64Eq:        "f64.eq",
	wasm.OpcodeF64Ne:        "f64.ne",
	wasm.OpcodeF64Lt:        "f64.lt",
	wasm.OpcodeF64Gt:        "f64.gt",
	wasm.OpcodeF64Le:        "f64.le",
	wasm.OpcodeF64Ge:        "f64.ge",
	wasm.OpcodeI32Clz:       "i32.clz",
	wasm.OpcodeI32Ctz:       "i32.ctz",
	wasm.OpcodeI32Popcnt:    "i32.popcnt",
	wasm.OpcodeI32Add:       "i32.add",
	wasm.OpcodeI32Sub:       "i32.sub",
	wasm.OpcodeI32Mul:       "i32.mul",
	wasm.OpcodeI32DivS:      "i32.div_s",
	wasm.OpcodeI32DivU:      "i32.div_u",
	wasm.OpcodeI32RemS:      "i32.rem_s",
	wasm.OpcodeI32RemU:      "i32.rem_u",
	wasm.OpcodeI32And:       "i32.and",
	wasm.OpcodeI32Or:        "i32.or",
	wasm.OpcodeI32Xor:       "i32.xor",
	wasm.OpcodeI32Shl:       "i32.shl",
	wasm.OpcodeI32ShrS:      "i32.shr_s",
	wasm.OpcodeI32ShrU:      "i32.shr_u",
	wasm.OpcodeI32Rotl:      "i32.rotl",
	wasm.OpcodeI32Rotr:      "i32.rotr",
	wasm.OpcodeI64Clz:       "i64.clz",
	wasm.OpcodeI64Ctz:       "i64.ctz",
	wasm.OpcodeI64Popcnt:    "i64.popcnt",
	wasm.OpcodeI64Add:       "i64.add",
	wasm.OpcodeI64Sub:       "i64.sub",
	wasm.OpcodeI64Mul:       "i64.mul",
	wasm.OpcodeI64DivS:      "i64.div_s",
	wasm.OpcodeI64DivU:      "i64.div_u",
	wasm.OpcodeI64RemS:      "i64.rem_s",
	wasm.OpcodeI64RemU:      "i64.rem_u",
	wasm.OpcodeI64And:       "i64.and",
	wasm.OpcodeI64Or:        "i64.or",
	wasm.OpcodeI64Xor:       "i64.xor",
	wasm.OpcodeI64Shl:       "i64.shl",
	wasm.OpcodeI64ShrS:      "i64.shr_s",
	wasm.OpcodeI64ShrU:      "i64.shr_u",
	wasm.OpcodeI64Rotl:      "i64.rotl",
	wasm.OpcodeI64Rotr:      "i64.rotr",
	wasm.OpcodeF32Abs:       "f32.abs",
	wasm.OpcodeF32Neg:       "f32.neg",
	wasm.OpcodeF32Ceil:      "f32.ceil",
	wasm.OpcodeF32Floor:     "f32.floor",
	wasm.OpcodeF32Trunc:     "f32.trunc",
	wasm.OpcodeF32Nearest:   "f32.nearest",
	wasm.OpcodeF32Sqrt:      "f32.sqrt",
	wasm.OpcodeF32Add:       "f32.add",
	wasm.OpcodeF32Sub:       "f32.sub",
	wasm.OpcodeF32Mul:       "f32.mul",
	wasm.OpcodeF32Div:       "f32.div",
	wasm.OpcodeF32Min:       "f32.min",
	wasm.OpcodeF32Max:       "f32.max",
	wasm.OpcodeF32Copysign:  "f32.copysign",
	wasm.OpcodeF64Abs:       "f64.abs",
	wasm.OpcodeF64Neg:       "f64.neg",
	wasm.OpcodeF64Ceil:      "f64.ceil",
	wasm.OpcodeF64Floor:     "f64.floor",
	wasm.OpcodeF64Trunc:     "f64.trunc",
	wasm.OpcodeF64Nearest:   "f64.nearest",
	wasm.OpcodeF64Sqrt:      "f64.sqrt",
	wasm.OpcodeF64Add:       "f64.add",
	wasm.OpcodeF64Sub:       "f64.sub",
	wasm.OpcodeF64Mul:       "f64.mul",
	wasm.OpcodeF64Div:       "f64.div",
	wasm.OpcodeF64Min:       "f64.min",
	wasm.OpcodeF64Max:       "f64.max",
	wasm.OpcodeF64Copysign:  "f64.copysign",
	wasm.OpcodeI32WrapI64:   "i32.wrap_i64",
	wasm.OpcodeI32TruncF32S: "i32.trunc_f32_s",
	wasm.OpcodeI32TruncF32U: "i32.trunc_f32_u",
	wasm.OpcodeI32TruncF64S: "i32.trunc_f64_s",
	wasm.OpcodeI32TruncF64U: "i32.trunc_f64_u",
	wasm.OpcodeI64ExtendI32S: "i64.extend_i32_s",
	wasm.OpcodeI64ExtendI32U: "i64.extend_i32_u",
	wasm.OpcodeI64TruncF32S:  "i64.trunc_f32_s",
	wasm.OpcodeI64TruncF32U:  "i64.trunc_f32_u",
	wasm.OpcodeI64TruncF64S:  "i64.trunc_f64_s",
	wasm.OpcodeI64TruncF64U:  "i64.trunc_f64_u",
	wasm.OpcodeF32ConvertI32S: "f32.convert_i32_s",
	wasm.OpcodeF32ConvertI32U: "f32.convert_i32_u",
	wasm.OpcodeF32ConvertI64S: "f32.convert_i64_s",
	wasm.OpcodeF32ConvertI64U: "f32.convert_i64_u",
	wasm.OpcodeF32DemoteF64:   "f32.demote_f64",
	wasm.OpcodeF64ConvertI32S: "f64.convert_i32_s",
	wasm.OpcodeF64ConvertI32U: "f64.convert_i32_u",
	wasm.OpcodeF64ConvertI64S: "f64.convert_i64_s",
	wasm.OpcodeF64ConvertI64U: "f64.convert_i64_u",
	wasm.OpcodeF64PromoteF32:  "f64.promote_f32",
	wasm.OpcodeI32Extend8S:    "i32.extend8_s",
	wasm.OpcodeI32Extend16S:   "i32.extend16_s",
	wasm.OpcodeI64Extend8S:    "i64.extend8_s",
	wasm.OpcodeI64Extend16S:   "i64.extend16_s",
	wasm.OpcodeI64Extend32S:   "i64.extend32_s",

	opBool:      "bool",
	opBoolNot:   "bool.not",
	opBoolToInt: "bool.to_int",
	opToU32:     "to.u32",
	opToS64:     "to.s64",
	opU32Load:   "u32.load8",
	opS64Load:   "s64.load8",

	opI32TruncSatF32S: "i32.trunc_sat_f32_s",
	opI32TruncSatF32U: "i32.trunc_sat_f32_u",
	opI32TruncSatF64S: "i32.trunc_sat_f64_s",
	opI32TruncSatF64U: "i32.trunc_sat_f64_u",
	opI64TruncSatF32S: "i64.trunc_sat_f32_s",
	opI64TruncSatF32U: "i64.trunc_sat_f32_u",
	opI64TruncSatF64S: "i64.trunc_sat_f64_s",
	opI64TruncSatF64U: "i64.trunc_sat_f64_u",
	opMemoryCopy:      "memory.copy",
	opMemoryFill:      "memory.fill",
}
