package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// addModuleBinary is a small module in the binary format:
//
//	(module
//	  (func $add (param i32 i32) (result i32)
//	    local.get 0 local.get 1 i32.add)
//	  (export "add" (func 0)))
//
// with a custom name section naming function 0 "add".
var addModuleBinary = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	// type section: (i32, i32) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	// function section
	0x03, 0x02, 0x01, 0x00,
	// export section: "add" -> func 0
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
	// code section
	0x0a, 0x09, 0x01, 0x07, 0x00,
	0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
	// custom "name" section, function name subsection
	0x00, 0x0d, 0x04, 'n', 'a', 'm', 'e',
	0x01, 0x06, 0x01, 0x00, 0x03, 'a', 'd', 'd',
}

func TestDecodeModule(t *testing.T) {
	m, err := DecodeModule(addModuleBinary)
	require.NoError(t, err)

	require.Len(t, m.TypeSection, 1)
	require.Equal(t, []ValueType{ValueTypeI32, ValueTypeI32}, m.TypeSection[0].InputTypes)
	require.Equal(t, []ValueType{ValueTypeI32}, m.TypeSection[0].ReturnTypes)

	require.Equal(t, []uint32{0}, m.FunctionSection)
	require.Len(t, m.CodeSection, 1)
	require.Equal(t, []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b}, m.CodeSection[0].Body)

	exp, ok := m.ExportSection["add"]
	require.True(t, ok)
	require.Equal(t, ExportKindFunction, exp.Desc.Kind)
	require.Equal(t, uint32(0), exp.Desc.Index)
}

func TestDecodeModuleErrors(t *testing.T) {
	_, err := DecodeModule([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidMagicNumber)

	bad := make([]byte, 8)
	copy(bad, magic)
	_, err = DecodeModule(bad)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestGetFunctionNames(t *testing.T) {
	m, err := DecodeModule(addModuleBinary)
	require.NoError(t, err)

	names, err := m.GetFunctionNames()
	require.NoError(t, err)
	require.Equal(t, map[uint32]string{0: "add"}, names)
}

func TestGetFunctionNamesMissing(t *testing.T) {
	m := &Module{CustomSections: map[string][]byte{}}
	_, err := m.GetFunctionNames()
	require.ErrorIs(t, err, ErrCustomSectionNotFound)
}

func TestFunctionTypeString(t *testing.T) {
	tp := &FunctionType{InputTypes: []ValueType{ValueTypeI32, ValueTypeF64}, ReturnTypes: []ValueType{ValueTypeI64}}
	require.Equal(t, "i32f64_i64", tp.String())
	require.Equal(t, "null_null", (&FunctionType{}).String())
}
