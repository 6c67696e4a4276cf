package treeir

import "github.com/wasmelt/wasmelt/wasm"

// Per-opcode metadata flag word. One entry per opcode byte drives the
// decoder for the regular instructions; a zero entry means the opcode needs
// special handling (control flow, calls, constants, select, memory
// bookkeeping and the 0xFC prefix).
const (
	// bits 0-1: number of operands popped (0..3)
	metaPopMask uint16 = 0x3
	// pushes one result
	metaPush uint16 = 1 << 2
	// fully handled by the table-driven path
	metaSimple uint16 = 1 << 3
	// trailing unsigned-LEB index immediate (local/global index or memory offset)
	metaHasIndex uint16 = 1 << 4
	// alignment immediate to be consumed and discarded
	metaHasAlign uint16 = 1 << 5
	// result is a boolean; widen it with an opBoolToInt node
	metaBoolOut uint16 = 1 << 6
	// coerce each operand with opToU32 before the operation
	metaToU32 uint16 = 1 << 7
	// coerce each operand with opToS64 before the operation
	metaToS64 uint16 = 1 << 8
	// pop and push without emitting any node (identity conversions, drop, nop)
	metaOmit uint16 = 1 << 9
	// AND the second operand with 63 (64-bit shifts and rotates)
	metaMaskShift uint16 = 1 << 10
)

var opmeta = buildOpmeta()

func buildOpmeta() (t [256]uint16) {
	const (
		pop1 = 1
		pop2 = 2
	)
	unop := uint16(pop1 | metaPush | metaSimple)
	binop := uint16(pop2 | metaPush | metaSimple)
	cmp := binop | metaBoolOut
	testop := unop | metaBoolOut

	t[wasm.OpcodeNop] = metaSimple | metaOmit
	t[wasm.OpcodeDrop] = pop1 | metaSimple | metaOmit

	t[wasm.OpcodeLocalGet] = metaPush | metaSimple | metaHasIndex
	t[wasm.OpcodeLocalSet] = pop1 | metaSimple | metaHasIndex
	t[wasm.OpcodeLocalTee] = pop1 | metaPush | metaSimple | metaHasIndex
	t[wasm.OpcodeGlobalGet] = metaPush | metaSimple | metaHasIndex
	t[wasm.OpcodeGlobalSet] = pop1 | metaSimple | metaHasIndex

	for op := wasm.OpcodeI32Load; op <= wasm.OpcodeI64Load32U; op++ {
		t[op] = unop | metaHasAlign | metaHasIndex
	}
	for op := wasm.OpcodeI32Store; op <= wasm.OpcodeI64Store32; op++ {
		t[op] = pop2 | metaSimple | metaHasAlign | metaHasIndex
	}

	t[wasm.OpcodeI32Eqz] = testop
	for op := wasm.OpcodeI32Eq; op <= wasm.OpcodeI32GeU; op++ {
		t[op] = cmp
	}
	t[wasm.OpcodeI64Eqz] = testop
	for op := wasm.OpcodeI64Eq; op <= wasm.OpcodeI64GeU; op++ {
		t[op] = cmp
	}
	for op := wasm.OpcodeF32Eq; op <= wasm.OpcodeF64Ge; op++ {
		t[op] = cmp
	}
	// Unsigned 32-bit comparisons reinterpret their operands first.
	for _, op := range []wasm.Opcode{wasm.OpcodeI32LtU, wasm.OpcodeI32GtU, wasm.OpcodeI32LeU, wasm.OpcodeI32GeU} {
		t[op] |= metaToU32
	}

	for op := wasm.OpcodeI32Clz; op <= wasm.OpcodeI32Popcnt; op++ {
		t[op] = unop
	}
	for op := wasm.OpcodeI32Add; op <= wasm.OpcodeI32Rotr; op++ {
		t[op] = binop
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI32DivU, wasm.OpcodeI32RemU, wasm.OpcodeI32ShrU} {
		t[op] |= metaToU32
	}

	for op := wasm.OpcodeI64Clz; op <= wasm.OpcodeI64Popcnt; op++ {
		t[op] = unop
	}
	for op := wasm.OpcodeI64Add; op <= wasm.OpcodeI64Rotr; op++ {
		t[op] = binop
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI64DivS, wasm.OpcodeI64RemS, wasm.OpcodeI64ShrS} {
		t[op] |= metaToS64
	}
	for _, op := range []wasm.Opcode{wasm.OpcodeI64Shl, wasm.OpcodeI64ShrS, wasm.OpcodeI64ShrU, wasm.OpcodeI64Rotl, wasm.OpcodeI64Rotr} {
		t[op] |= metaMaskShift
	}

	for op := wasm.OpcodeF32Abs; op <= wasm.OpcodeF32Sqrt; op++ {
		t[op] = unop
	}
	for op := wasm.OpcodeF32Add; op <= wasm.OpcodeF32Copysign; op++ {
		t[op] = binop
	}
	for op := wasm.OpcodeF64Abs; op <= wasm.OpcodeF64Sqrt; op++ {
		t[op] = unop
	}
	for op := wasm.OpcodeF64Add; op <= wasm.OpcodeF64Copysign; op++ {
		t[op] = binop
	}

	// Conversions. All values are carried as 64-bit words, so the unsigned
	// widening and the reinterpretations are identities and emit nothing.
	for op := wasm.OpcodeI32WrapI64; op <= wasm.OpcodeF64PromoteF32; op++ {
		t[op] = unop
	}
	t[wasm.OpcodeI64ExtendI32U] = pop1 | metaPush | metaSimple | metaOmit
	for op := wasm.OpcodeI32ReinterpretF32; op <= wasm.OpcodeF64ReinterpretI64; op++ {
		t[op] = pop1 | metaPush | metaSimple | metaOmit
	}

	for op := wasm.OpcodeI32Extend8S; op <= wasm.OpcodeI64Extend32S; op++ {
		t[op] = unop
	}
	return
}
