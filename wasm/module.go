package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmelt/wasmelt/wasm/leb128"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6D}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

type (
	// Module is the static binary representation of a WebAssembly module,
	// with its index spaces yet to be initialized.
	Module struct {
		TypeSection     []*FunctionType
		ImportSection   []*ImportSegment
		FunctionSection []uint32
		TableSection    []*TableType
		MemorySection   []*MemoryType
		GlobalSection   []*GlobalSegment
		ExportSection   map[string]*ExportSegment
		StartSection    *uint32
		ElementSection  []*ElementSegment
		CodeSection     []*CodeSegment
		DataSection     []*DataSegment
		CustomSections  map[string][]byte
	}
)

// DecodeModule decodes a module from its binary format.
func DecodeModule(binary []byte) (*Module, error) {
	reader := bytes.NewBuffer(binary)

	// Magic number.
	buf := make([]byte, 4)
	if n, err := io.ReadFull(reader, buf); err != nil || n != 4 {
		return nil, ErrInvalidMagicNumber
	}
	if !bytes.Equal(buf, magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if n, err := io.ReadFull(reader, buf); err != nil || n != 4 {
		return nil, ErrInvalidVersion
	}
	if !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	ret := &Module{CustomSections: map[string][]byte{}}
	if err := ret.readSections(reader); err != nil {
		return nil, fmt.Errorf("readSections failed: %w", err)
	}

	if len(ret.FunctionSection) != len(ret.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths")
	}
	return ret, nil
}

// GetFunctionNames parses the function name subsection of the custom
// "name" section. Compiled functions are published under these names.
func (m *Module) GetFunctionNames() (map[uint32]string, error) {
	namesec, ok := m.CustomSections["name"]
	if !ok {
		return nil, fmt.Errorf("'name' %w", ErrCustomSectionNotFound)
	}

	r := bytes.NewReader(namesec)
	for {
		id, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("failed to read subsection ID: %w", err)
		}

		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read the size of subsection %d: %w", id, err)
		}

		if id == 1 {
			// ID = 1 is the function name subsection.
			break
		}
		// Skip other subsections.
		if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("failed to skip subsection %d: %w", id, err)
		}
	}

	nameVectorSize, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read the size of name vector: %w", err)
	}

	ret := make(map[uint32]string, nameVectorSize)
	for i := uint32(0); i < nameVectorSize; i++ {
		functionIndex, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read function index: %w", err)
		}

		functionNameSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read function name size: %w", err)
		}

		namebuf := make([]byte, functionNameSize)
		_, err = io.ReadFull(r, namebuf)
		if err != nil {
			return nil, fmt.Errorf("failed to read function name: %w", err)
		}
		ret[functionIndex] = string(namebuf)
	}

	return ret, nil
}
