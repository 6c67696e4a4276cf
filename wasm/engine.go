package wasm

const PageSize uint64 = 65536

// FunctionAddress is the store-wide unique address of a function instance,
// which engines use as the compilation cache key.
type FunctionAddress uint64

// Engine is the interface implemented by function compilers. Compile only
// registers the function; engines are free to defer the actual translation
// until the first Call (lazy compilation).
type Engine interface {
	// Call invokes a function instance f with the given args.
	Call(f *FunctionInstance, args ...uint64) (returns []uint64, err error)
	// Compile prepares f for execution. Whether this performs the full
	// translation or just records the instance is engine specific.
	Compile(f *FunctionInstance) error
}

// NopEngine is useful for decode-only tests.
type NopEngine struct{}

func (e *NopEngine) Call(_ *FunctionInstance, _ ...uint64) ([]uint64, error) { return nil, nil }

func (e *NopEngine) Compile(_ *FunctionInstance) error { return nil }
