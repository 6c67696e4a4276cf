package treeir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmelt/wasmelt/wasm"
)

// compileForTest instantiates the module with a nop engine and compiles its
// first function against a fresh arena.
func compileForTest(t *testing.T, m *wasm.Module) (*engine, *compiledFunction) {
	store := wasm.NewStore(&wasm.NopEngine{})
	require.NoError(t, store.Instantiate(m, "test"))
	e := NewEngine().(*engine)
	cf, err := compileFunction(e, store.ModuleInstances["test"].Functions[0])
	require.NoError(t, err)
	return e, cf
}

func TestCompileIsDeterministic(t *testing.T) {
	for _, m := range []*wasm.Module{
		fibModule(),
		nestedBlocksModule(300),
		deepStackModule(200),
	} {
		store := wasm.NewStore(&wasm.NopEngine{})
		require.NoError(t, store.Instantiate(m, "test"))
		f := store.ModuleInstances["test"].Functions[0]

		first, err := DisassembleFunction(f)
		require.NoError(t, err)
		second, err := DisassembleFunction(f)
		require.NoError(t, err)
		require.Equal(t, first, second)
	}
}

func TestArenaResetAfterCompile(t *testing.T) {
	e, _ := compileForTest(t, fibModule())
	// Every basic block finalization resets the shared arena.
	require.Equal(t, int32(0), e.ast.next)
}

func TestChildInlining(t *testing.T) {
	// add(a, b) collapses into a single assignment: both local.get
	// producers inline into the consumer.
	_, cf := compileForTest(t, singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32}, ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}, nil))
	text := Disassemble(cf)
	require.Contains(t, text, "s1 = i32.add(a0, a1)")
}

func TestConstantFolding(t *testing.T) {
	_, cf := compileForTest(t, singleFunctionModule(
		&wasm.FunctionType{ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeI32Const, 2,
			wasm.OpcodeI32Const, 3,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}, nil))
	text := Disassemble(cf)
	require.Contains(t, text, "s1 = 5:i32")
	require.NotContains(t, text, "i32.add")
}

func TestMemoryAliasingBarrier(t *testing.T) {
	// The address of the store is a non-trivial expression, so it must be
	// materialized before the memory instruction instead of being inlined
	// into it. The constant value operand may cross.
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeI32Const, 7,
			wasm.OpcodeI32Store, 0x00, 0x00,
			wasm.OpcodeEnd,
		}, nil)
	m.MemorySection = []*wasm.MemoryType{{Min: 1}}
	_, cf := compileForTest(t, m)
	text := Disassemble(cf)
	require.Contains(t, text, "s1 = i32.add(a0, a1)")
	require.Contains(t, text, "i32.store(s1, +0, 7:i32)")
}

func TestTrivialProducersCrossIntoMemoryOps(t *testing.T) {
	// local.get producers are safe to inline into a load.
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeI32Load, 0x02, 0x08,
			wasm.OpcodeEnd,
		}, nil)
	m.MemorySection = []*wasm.MemoryType{{Min: 1}}
	_, cf := compileForTest(t, m)
	require.Contains(t, Disassemble(cf), "s1 = i32.load(a0, +8)")
}

func TestSingleByteLoadRewrite(t *testing.T) {
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeI32Load8U, 0x00, 0x00,
			wasm.OpcodeEnd,
		}, nil)
	m.MemorySection = []*wasm.MemoryType{{Min: 1}}
	_, cf := compileForTest(t, m)
	require.Contains(t, Disassemble(cf), "u32.load8")
}

func TestConditionExtraction(t *testing.T) {
	// The comparison feeding the if is emitted inside the branch test, not
	// assigned to a temporary first.
	_, cf := compileForTest(t, fibModule())
	text := Disassemble(cf)
	require.Contains(t, text, "if !i32.lt_s(a0, 2:i32) goto")
}

func TestDispatchLowering(t *testing.T) {
	_, cf := compileForTest(t, nestedBlocksModule(blockDepthLimit+10))
	text := Disassemble(cf)
	// A single shared dispatch loop.
	require.Equal(t, 1, strings.Count(text, "dispatch L"))
	// Branches inside the switched region set the dispatch register.
	require.Contains(t, text, "goto L=")
}

func TestUnknownOpcode(t *testing.T) {
	store := wasm.NewStore(&wasm.NopEngine{})
	m := singleFunctionModule(&wasm.FunctionType{}, []byte{0x1c, wasm.OpcodeEnd}, nil)
	require.NoError(t, store.Instantiate(m, "test"))
	e := NewEngine().(*engine)
	_, err := compileFunction(e, store.ModuleInstances["test"].Functions[0])
	require.ErrorIs(t, err, wasm.ErrUnsupportedInstruction)
}

func TestUnsupportedTableIndex(t *testing.T) {
	sig := &wasm.FunctionType{}
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{sig},
		FunctionSection: []uint32{0},
		CodeSection: []*wasm.CodeSegment{
			{Body: []byte{
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeCallIndirect, 0, 0x01, // table index 1
				wasm.OpcodeEnd,
			}},
		},
		ExportSection: exportEntry("fn", 0),
	}
	store := wasm.NewStore(&wasm.NopEngine{})
	require.NoError(t, store.Instantiate(m, "test"))
	e := NewEngine().(*engine)
	_, err := compileFunction(e, store.ModuleInstances["test"].Functions[0])
	require.ErrorIs(t, err, wasm.ErrUnsupportedTableIndex)
}

func TestNodeInvariants(t *testing.T) {
	// Spot-check the packed header encoding round trip.
	a := newASTStore()
	ptr, err := a.alloc(wasm.OpcodeI32Add, 3, []int32{-3, -4})
	require.NoError(t, err)
	require.Equal(t, wasm.OpcodeI32Add, a.opcode(ptr))
	require.Equal(t, 2, a.childCount(ptr))
	require.Equal(t, 3, a.outSlot(ptr))
	require.Equal(t, int32(-3), a.child(ptr, 0))
	require.Equal(t, int32(-4), a.child(ptr, 1))

	ptr2, err := a.alloc(wasm.OpcodeI32Load, 255, []int32{ptr}, 16)
	require.NoError(t, err)
	require.Equal(t, 255, a.outSlot(ptr2))
	require.Equal(t, ptr, a.child(ptr2, 0))
	require.Equal(t, int32(16), a.imm(ptr2, 0))
}

func TestOpmetaFlags(t *testing.T) {
	// A few opcodes whose flags drive distinct decoder behavior.
	require.Equal(t, uint16(0), opmeta[wasm.OpcodeBlock])
	require.Equal(t, uint16(0), opmeta[wasm.OpcodeCall])
	require.Equal(t, uint16(0), opmeta[wasm.OpcodeI32Const])

	add := opmeta[wasm.OpcodeI32Add]
	require.Equal(t, uint16(2), add&metaPopMask)
	require.NotZero(t, add&metaPush)
	require.NotZero(t, add&metaSimple)

	ltu := opmeta[wasm.OpcodeI32LtU]
	require.NotZero(t, ltu&metaBoolOut)
	require.NotZero(t, ltu&metaToU32)

	load := opmeta[wasm.OpcodeI32Load]
	require.NotZero(t, load&metaHasAlign)
	require.NotZero(t, load&metaHasIndex)

	shl := opmeta[wasm.OpcodeI64Shl]
	require.NotZero(t, shl&metaMaskShift)

	drop := opmeta[wasm.OpcodeDrop]
	require.NotZero(t, drop&metaOmit)
	require.Equal(t, uint16(1), drop&metaPopMask)
}
