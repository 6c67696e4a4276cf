package engine

import (
	"testing"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/stretchr/testify/require"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/wasmelt/wasmelt/wasm"
	"github.com/wasmelt/wasmelt/wasm/treeir"
)

// addBinary is (module (func $add (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add) (export "add" (func 0))).
var addBinary = []byte{
	0x00, 0x61, 0x73, 0x6d,
	0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00,
	0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func callWasmelt(t *testing.T, bin []byte, fn string, args ...uint64) []uint64 {
	m, err := wasm.DecodeModule(bin)
	require.NoError(t, err)
	store := wasm.NewStore(treeir.NewEngine())
	require.NoError(t, store.Instantiate(m, "test"))
	ret, _, err := store.CallFunction("test", fn, args...)
	require.NoError(t, err)
	return ret
}

func callWasmer(t *testing.T, bin []byte, fn string, args ...interface{}) interface{} {
	store := wasmer.NewStore(wasmer.NewEngine())
	module, err := wasmer.NewModule(store, bin)
	require.NoError(t, err)
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	require.NoError(t, err)
	f, err := instance.Exports.GetFunction(fn)
	require.NoError(t, err)
	ret, err := f(args...)
	require.NoError(t, err)
	return ret
}

// TestAddAgainstWasmer runs the same binary under both engines and expects
// identical results, including the wraparound case.
func TestAddAgainstWasmer(t *testing.T) {
	for _, c := range [][2]int32{
		{2, 3},
		{0x7fffffff, 1},
		{-5, 3},
	} {
		ours := callWasmelt(t, addBinary, "add", uint64(uint32(c[0])), uint64(uint32(c[1])))
		theirs := callWasmer(t, addBinary, "add", c[0], c[1])
		require.Equal(t, theirs.(int32), int32(uint32(ours[0])))
	}
}

// TestBinaryValidatesInWasmtime cross-checks that the test binary is a
// well-formed module according to an independent implementation.
func TestBinaryValidatesInWasmtime(t *testing.T) {
	_, err := wasmtime.NewModule(wasmtime.NewEngine(), addBinary)
	require.NoError(t, err)
}

func BenchmarkInstantiate(b *testing.B) {
	b.Run("wasmelt", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			m, err := wasm.DecodeModule(addBinary)
			if err != nil {
				b.Fatal(err)
			}
			store := wasm.NewStore(treeir.NewEngine())
			if err := store.Instantiate(m, "test"); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("wasmer", func(b *testing.B) {
		b.ReportAllocs()
		store := wasmer.NewStore(wasmer.NewEngine())
		for i := 0; i < b.N; i++ {
			if _, err := wasmer.NewModule(store, addBinary); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("wasmtime", func(b *testing.B) {
		b.ReportAllocs()
		engine := wasmtime.NewEngine()
		for i := 0; i < b.N; i++ {
			if _, err := wasmtime.NewModule(engine, addBinary); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkCall(b *testing.B) {
	b.Run("wasmelt", func(b *testing.B) {
		m, err := wasm.DecodeModule(addBinary)
		if err != nil {
			b.Fatal(err)
		}
		store := wasm.NewStore(treeir.NewEngine())
		if err := store.Instantiate(m, "test"); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, _, err := store.CallFunction("test", "add", 2, 3); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("wasmer", func(b *testing.B) {
		store := wasmer.NewStore(wasmer.NewEngine())
		module, err := wasmer.NewModule(store, addBinary)
		if err != nil {
			b.Fatal(err)
		}
		instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
		if err != nil {
			b.Fatal(err)
		}
		add, err := instance.Exports.GetFunction("add")
		if err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := add(2, 3); err != nil {
				b.Fatal(err)
			}
		}
	})
}
