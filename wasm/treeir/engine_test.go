package treeir

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmelt/wasmelt/wasm"
)

func hostFuncValue(fn interface{}) reflect.Value { return reflect.ValueOf(fn) }

// encodeUint32 is unsigned LEB128, enough for test bodies.
func encodeUint32(v uint32) (ret []byte) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		ret = append(ret, b)
		if v == 0 {
			return
		}
	}
}

// encodeInt32 is signed LEB128.
func encodeInt32(v int32) (ret []byte) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(ret, b)
		}
		ret = append(ret, b|0x80)
	}
}

func encodeInt64(v int64) (ret []byte) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(ret, b)
		}
		ret = append(ret, b|0x80)
	}
}

var (
	i32         = wasm.ValueTypeI32
	i64         = wasm.ValueTypeI64
	f32         = wasm.ValueTypeF32
	f64         = wasm.ValueTypeF64
	exportEntry = func(name string, index uint32) map[string]*wasm.ExportSegment {
		return map[string]*wasm.ExportSegment{
			name: {Name: name, Desc: &wasm.ExportDesc{Kind: wasm.ExportKindFunction, Index: index}},
		}
	}
)

func singleFunctionModule(sig *wasm.FunctionType, body []byte, locals []wasm.ValueType) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*wasm.FunctionType{sig},
		FunctionSection: []uint32{0},
		CodeSection: []*wasm.CodeSegment{
			{Body: body, NumLocals: uint32(len(locals)), LocalTypes: locals},
		},
		ExportSection: exportEntry("fn", 0),
	}
}

func instantiate(t *testing.T, m *wasm.Module) *wasm.Store {
	store := wasm.NewStore(NewEngine())
	require.NoError(t, store.Instantiate(m, "test"))
	return store
}

func call(t *testing.T, store *wasm.Store, args ...uint64) []uint64 {
	ret, _, err := store.CallFunction("test", "fn", args...)
	require.NoError(t, err)
	return ret
}

func TestAdd(t *testing.T) {
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32}, ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}, nil)
	store := instantiate(t, m)

	require.Equal(t, []uint64{5}, call(t, store, 2, 3))
	// Wrap around on overflow.
	require.Equal(t, []uint64{uint64(uint32(0x80000000))}, call(t, store, 0x7fffffff, 1))
}

func fibModule() *wasm.Module {
	body := []byte{
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeI32Const, 2,
		wasm.OpcodeI32LtS,
		wasm.OpcodeIf, 0x7f, // result i32
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeElse,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeI32Const, 1,
		wasm.OpcodeI32Sub,
		wasm.OpcodeCall, 0,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeI32Const, 2,
		wasm.OpcodeI32Sub,
		wasm.OpcodeCall, 0,
		wasm.OpcodeI32Add,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	}
	return singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		body, nil)
}

func TestFib(t *testing.T) {
	store := instantiate(t, fibModule())
	require.Equal(t, []uint64{55}, call(t, store, 10))
	require.Equal(t, []uint64{6765}, call(t, store, 20))
}

func TestMemoryCopy(t *testing.T) {
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32, i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeLocalGet, 2,
			wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryCopy, 0x00, 0x00,
			wasm.OpcodeEnd,
		}, nil)
	m.MemorySection = []*wasm.MemoryType{{Min: 1}}
	store := instantiate(t, m)

	mem := store.ModuleInstances["test"].Memory
	copy(mem.Buffer, []byte{0, 1, 2, 3, 4, 5, 6, 7})

	call(t, store, 8, 0, 8)
	require.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, mem.Buffer[8:16])
}

func TestRotl64MasksShiftAmount(t *testing.T) {
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i64, i64}, ReturnTypes: []wasm.ValueType{i64}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI64Rotl,
			wasm.OpcodeEnd,
		}, nil)
	store := instantiate(t, m)

	const x = uint64(0x0123456789abcdef)
	want := call(t, store, x, 4)
	require.Equal(t, want, call(t, store, x, 68))
	require.Equal(t, []uint64{0x123456789abcdef0}, want)
}

func TestGrowThenStore(t *testing.T) {
	var body []byte
	body = append(body, wasm.OpcodeLocalGet, 0)
	body = append(body, wasm.OpcodeMemoryGrow, 0x00, wasm.OpcodeDrop)
	body = append(body, wasm.OpcodeI32Const)
	body = append(body, encodeInt32(65536)...)
	body = append(body, wasm.OpcodeI32Const, 42)
	body = append(body, wasm.OpcodeI32Store8, 0x00, 0x00)
	body = append(body, wasm.OpcodeI32Const)
	body = append(body, encodeInt32(65536)...)
	body = append(body, wasm.OpcodeI32Load8U, 0x00, 0x00)
	body = append(body, wasm.OpcodeEnd)

	four := uint32(4)
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		body, nil)
	m.MemorySection = []*wasm.MemoryType{{Min: 1, Max: &four}}
	store := instantiate(t, m)

	// Storing into the grown page must observe the new buffer.
	require.Equal(t, []uint64{42}, call(t, store, 1))
}

// nestedBlocksModule opens n nested blocks, then issues one conditional
// break against every one of them from the innermost position.
func nestedBlocksModule(n int) *wasm.Module {
	var body []byte
	for i := 0; i < n; i++ {
		body = append(body, wasm.OpcodeBlock, 0x40)
	}
	for d := 0; d < n; d++ {
		body = append(body, wasm.OpcodeLocalGet, 0)
		body = append(body, wasm.OpcodeBrIf)
		body = append(body, encodeUint32(uint32(d))...)
	}
	for i := 0; i < n; i++ {
		body = append(body, wasm.OpcodeEnd)
	}
	body = append(body, wasm.OpcodeI32Const, 7, wasm.OpcodeEnd)
	return singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		body, nil)
}

func TestDeeplyNestedBlocks(t *testing.T) {
	for _, n := range []int{3, 300, 1000} {
		store := instantiate(t, nestedBlocksModule(n))
		// Taken or not, every branch target must compile and the function
		// must exit cleanly.
		require.Equal(t, []uint64{7}, call(t, store, 0))
		require.Equal(t, []uint64{7}, call(t, store, 1))
	}
}

func TestBlockDepthLimitBoundary(t *testing.T) {
	disassembleNested := func(n int) string {
		store := instantiate(t, nestedBlocksModule(n))
		f := store.ModuleInstances["test"].Functions[0]
		text, err := DisassembleFunction(f)
		require.NoError(t, err)
		return text
	}

	// Exactly at the limit everything still uses nested labels.
	require.NotContains(t, disassembleNested(blockDepthLimit), "dispatch")
	// One block beyond it, a single level moves to dispatch form.
	require.Contains(t, disassembleNested(blockDepthLimit+1), "dispatch")
}

func deepStackModule(n int) *wasm.Module {
	var body []byte
	for i := 0; i < n; i++ {
		body = append(body, wasm.OpcodeI32Const, 1)
	}
	for i := 0; i < n-1; i++ {
		body = append(body, wasm.OpcodeI32Add)
	}
	body = append(body, wasm.OpcodeEnd)
	return singleFunctionModule(
		&wasm.FunctionType{ReturnTypes: []wasm.ValueType{i32}}, body, nil)
}

func TestStackSlotLimitBoundary(t *testing.T) {
	// 255 live slots compile and run.
	store := instantiate(t, deepStackModule(255))
	require.Equal(t, []uint64{255}, call(t, store))

	// 256 live slots must fail compilation on first call.
	store = instantiate(t, deepStackModule(256))
	_, _, err := store.CallFunction("test", "fn")
	require.Error(t, err)
	require.True(t, errors.Is(err, wasm.ErrDeepStack))
}

func TestLoopSum(t *testing.T) {
	// acc, n locals: while n != 0 { acc += n; n-- }.
	body := []byte{
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeLoop, 0x40,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeI32Eqz,
		wasm.OpcodeBrIf, 1,
		wasm.OpcodeLocalGet, 1,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeI32Add,
		wasm.OpcodeLocalSet, 1,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeI32Const, 1,
		wasm.OpcodeI32Sub,
		wasm.OpcodeLocalSet, 0,
		wasm.OpcodeBr, 0,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
		wasm.OpcodeLocalGet, 1,
		wasm.OpcodeEnd,
	}
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		body, []wasm.ValueType{i32})
	store := instantiate(t, m)
	require.Equal(t, []uint64{55}, call(t, store, 10))
	require.Equal(t, []uint64{0}, call(t, store, 0))
	require.Equal(t, []uint64{500500}, call(t, store, 1000))
}

func TestSelect(t *testing.T) {
	body := []byte{
		wasm.OpcodeLocalGet, 1,
		wasm.OpcodeLocalGet, 2,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeSelect,
		wasm.OpcodeEnd,
	}
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32, i32}, ReturnTypes: []wasm.ValueType{i32}},
		body, nil)
	store := instantiate(t, m)
	require.Equal(t, []uint64{100}, call(t, store, 1, 100, 200))
	require.Equal(t, []uint64{200}, call(t, store, 0, 100, 200))
}

func TestBrTable(t *testing.T) {
	// br_table over three targets returning 10, 20 and the default 99.
	body := []byte{
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeBrTable, 2, 0, 1, 2,
		wasm.OpcodeEnd,
		wasm.OpcodeI32Const, 10,
		wasm.OpcodeReturn,
		wasm.OpcodeEnd,
		wasm.OpcodeI32Const, 20,
		wasm.OpcodeReturn,
		wasm.OpcodeEnd,
		wasm.OpcodeI32Const, 0xe3, 0x00, // 99 in signed LEB128
		wasm.OpcodeEnd,
	}
	m := singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		body, nil)
	store := instantiate(t, m)
	require.Equal(t, []uint64{10}, call(t, store, 0))
	require.Equal(t, []uint64{20}, call(t, store, 1))
	require.Equal(t, []uint64{99}, call(t, store, 2))
	require.Equal(t, []uint64{99}, call(t, store, 100))
}

func TestConstRoundTrips(t *testing.T) {
	t.Run("i64", func(t *testing.T) {
		for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64, 0x0123456789abcdef} {
			body := append([]byte{wasm.OpcodeI64Const}, encodeInt64(v)...)
			body = append(body, wasm.OpcodeEnd)
			store := instantiate(t, singleFunctionModule(
				&wasm.FunctionType{ReturnTypes: []wasm.ValueType{i64}}, body, nil))
			require.Equal(t, []uint64{uint64(v)}, call(t, store))
		}
	})
	t.Run("f32", func(t *testing.T) {
		for _, bits := range []uint32{
			0, 0x80000000, // +0, -0
			0x7f800000, 0xff800000, // +inf, -inf
			0x7fc00001, // NaN with payload
			math.Float32bits(1.5),
			math.Float32bits(math.SmallestNonzeroFloat32),
		} {
			body := []byte{wasm.OpcodeF32Const,
				byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24),
				wasm.OpcodeEnd}
			store := instantiate(t, singleFunctionModule(
				&wasm.FunctionType{ReturnTypes: []wasm.ValueType{f32}}, body, nil))
			require.Equal(t, []uint64{uint64(bits)}, call(t, store))
		}
	})
	t.Run("f64", func(t *testing.T) {
		for _, bits := range []uint64{
			0, 1 << 63,
			0x7ff0000000000000, 0xfff0000000000000,
			0x7ff8000000000001, // NaN with payload
			math.Float64bits(-1.25),
			math.Float64bits(math.SmallestNonzeroFloat64),
		} {
			body := []byte{wasm.OpcodeF64Const,
				byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24),
				byte(bits >> 32), byte(bits >> 40), byte(bits >> 48), byte(bits >> 56),
				wasm.OpcodeEnd}
			store := instantiate(t, singleFunctionModule(
				&wasm.FunctionType{ReturnTypes: []wasm.ValueType{f64}}, body, nil))
			require.Equal(t, []uint64{bits}, call(t, store))
		}
	})
}

func TestMultiValue(t *testing.T) {
	// swap returns its arguments reversed; the caller destructures and
	// subtracts to make the result order observable.
	swapType := &wasm.FunctionType{
		InputTypes:  []wasm.ValueType{i32, i32},
		ReturnTypes: []wasm.ValueType{i32, i32},
	}
	mainType := &wasm.FunctionType{
		InputTypes:  []wasm.ValueType{i32, i32},
		ReturnTypes: []wasm.ValueType{i32},
	}
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{swapType, mainType},
		FunctionSection: []uint32{0, 1},
		CodeSection: []*wasm.CodeSegment{
			{Body: []byte{
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeEnd,
			}},
			{Body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeCall, 0,
				wasm.OpcodeI32Sub,
				wasm.OpcodeEnd,
			}},
		},
		ExportSection: map[string]*wasm.ExportSegment{
			"swap": {Name: "swap", Desc: &wasm.ExportDesc{Kind: wasm.ExportKindFunction, Index: 0}},
			"fn":   {Name: "fn", Desc: &wasm.ExportDesc{Kind: wasm.ExportKindFunction, Index: 1}},
		},
	}
	store := instantiate(t, m)

	ret, _, err := store.CallFunction("test", "swap", 3, 9)
	require.NoError(t, err)
	require.Equal(t, []uint64{9, 3}, ret)

	// fn(a, b) = swap(a, b) destructured, then first - second = b - a.
	require.Equal(t, []uint64{uint64(uint32(7))}, call(t, store, 2, 9))
}

func TestCallIndirect(t *testing.T) {
	sig := &wasm.FunctionType{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}}
	mainType := &wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32}, ReturnTypes: []wasm.ValueType{i32}}
	ten := uint32(10)
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{sig, mainType},
		FunctionSection: []uint32{0, 0, 1},
		TableSection: []*wasm.TableType{
			{ElemType: 0x70, Limit: &wasm.LimitsType{Min: 10, Max: &ten}},
		},
		ElementSection: []*wasm.ElementSegment{
			{
				TableIndex: 0,
				OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x00}},
				Init:       []uint32{0, 1},
			},
		},
		CodeSection: []*wasm.CodeSegment{
			// double
			{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Add, wasm.OpcodeEnd,
			}},
			// square
			{Body: []byte{
				wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Mul, wasm.OpcodeEnd,
			}},
			// fn(selector, x) = table[selector](x)
			{Body: []byte{
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeCallIndirect, 0, 0,
				wasm.OpcodeEnd,
			}},
		},
		ExportSection: exportEntry("fn", 2),
	}
	store := instantiate(t, m)
	require.Equal(t, []uint64{14}, call(t, store, 0, 7))
	require.Equal(t, []uint64{49}, call(t, store, 1, 7))

	// Out of bounds table access traps.
	_, _, err := store.CallFunction("test", "fn", 5, 7)
	require.Error(t, err)
	require.True(t, errors.Is(err, wasm.ErrRuntimeOutOfBoundsTableAccess))
}

func TestGlobals(t *testing.T) {
	// fn() increments the global and returns its previous value.
	m := singleFunctionModule(
		&wasm.FunctionType{ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeGlobalGet, 0,
			wasm.OpcodeGlobalGet, 0,
			wasm.OpcodeI32Const, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeGlobalSet, 0,
			wasm.OpcodeEnd,
		}, nil)
	m.GlobalSection = []*wasm.GlobalSegment{
		{
			Type: &wasm.GlobalType{ValType: i32, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: encodeInt32(41)},
		},
	}
	store := instantiate(t, m)
	require.Equal(t, []uint64{41}, call(t, store))
	require.Equal(t, []uint64{42}, call(t, store))
}

func TestUnreachable(t *testing.T) {
	store := instantiate(t, singleFunctionModule(
		&wasm.FunctionType{},
		[]byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}, nil))
	_, _, err := store.CallFunction("test", "fn")
	require.Error(t, err)
	require.True(t, errors.Is(err, wasm.ErrRuntimeUnreachable))
}

func TestDivideByZero(t *testing.T) {
	store := instantiate(t, singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i32, i32}, ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI32DivS,
			wasm.OpcodeEnd,
		}, nil))
	require.Equal(t, []uint64{3}, call(t, store, 7, 2))

	_, _, err := store.CallFunction("test", "fn", 7, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, wasm.ErrRuntimeIntegerDivideByZero))
}

func TestUnsupportedMemoryIndex(t *testing.T) {
	store := instantiate(t, singleFunctionModule(
		&wasm.FunctionType{ReturnTypes: []wasm.ValueType{i32}},
		[]byte{wasm.OpcodeMemorySize, 0x01, wasm.OpcodeEnd}, nil))
	_, _, err := store.CallFunction("test", "fn")
	require.Error(t, err)
	require.True(t, errors.Is(err, wasm.ErrUnsupportedMemoryIndex))
}

func TestSignExtensionOps(t *testing.T) {
	store := instantiate(t, singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{i64}, ReturnTypes: []wasm.ValueType{i64}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeI64Extend8S,
			wasm.OpcodeEnd,
		}, nil))
	require.Equal(t, []uint64{0xffffffffffffff80}, call(t, store, 0x80))
	require.Equal(t, []uint64{0x7f}, call(t, store, 0x17f))
}

func TestTruncSat(t *testing.T) {
	store := instantiate(t, singleFunctionModule(
		&wasm.FunctionType{InputTypes: []wasm.ValueType{f64}, ReturnTypes: []wasm.ValueType{i32}},
		[]byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeMiscPrefix, wasm.OpcodeMiscI32TruncSatF64S,
			wasm.OpcodeEnd,
		}, nil))
	require.Equal(t, []uint64{uint64(uint32(42))}, call(t, store, math.Float64bits(42.9)))
	require.Equal(t, []uint64{0}, call(t, store, math.Float64bits(math.NaN())))
	require.Equal(t, []uint64{uint64(uint32(math.MaxInt32))}, call(t, store, math.Float64bits(math.Inf(1))))
}

func TestHostFunctionImport(t *testing.T) {
	engineInst := NewEngine()
	store := wasm.NewStore(engineInst)

	hostCalls := 0
	err := store.AddHostFunction("env", "mul10",
		hostFuncValue(func(_ *wasm.HostFunctionCallContext, v uint32) uint32 {
			hostCalls++
			return v * 10
		}))
	require.NoError(t, err)

	typeIdx := uint32(0)
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{InputTypes: []wasm.ValueType{i32}, ReturnTypes: []wasm.ValueType{i32}},
		},
		ImportSection: []*wasm.ImportSegment{
			{Module: "env", Name: "mul10", Desc: &wasm.ImportDesc{
				Kind: wasm.ImportKindFunction, TypeIndexPtr: &typeIdx,
			}},
		},
		FunctionSection: []uint32{0},
		CodeSection: []*wasm.CodeSegment{
			{Body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeCall, 0, // the import
				wasm.OpcodeI32Const, 1,
				wasm.OpcodeI32Add,
				wasm.OpcodeEnd,
			}},
		},
		ExportSection: exportEntry("fn", 1),
	}
	require.NoError(t, store.Instantiate(m, "test"))

	ret, _, err := store.CallFunction("test", "fn", 7)
	require.NoError(t, err)
	require.Equal(t, []uint64{71}, ret)
	require.Equal(t, 1, hostCalls)
}

func TestLazyCompilation(t *testing.T) {
	m := fibModule()
	e := NewEngine().(*engine)
	store := wasm.NewStore(e)
	require.NoError(t, store.Instantiate(m, "test"))

	f := store.ModuleInstances["test"].Functions[0]
	_, compiled := e.functions[f.Address]
	require.False(t, compiled, "function must not be compiled before the first call")

	_, _, err := store.CallFunction("test", "fn", 5)
	require.NoError(t, err)
	_, compiled = e.functions[f.Address]
	require.True(t, compiled)
}

func TestCallStackOverflow(t *testing.T) {
	// fn() calls itself unconditionally.
	store := instantiate(t, singleFunctionModule(
		&wasm.FunctionType{},
		[]byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}, nil))
	_, _, err := store.CallFunction("test", "fn")
	require.Error(t, err)
	require.True(t, errors.Is(err, wasm.ErrRuntimeCallStackOverflow))
}
