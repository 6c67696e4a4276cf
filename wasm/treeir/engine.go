package treeir

import (
	"fmt"
	"math"
	"reflect"
	"runtime/debug"
	"strings"

	"github.com/wasmelt/wasmelt/wasm"
	"github.com/wasmelt/wasmelt/wasm/buildoptions"
)

var callStackCeiling = buildoptions.CallStackHeightLimit

// engine implements wasm.Engine. Functions are registered at instantiation
// time and translated on their first invocation; the compiled program is
// cached by function address.
type engine struct {
	functions map[wasm.FunctionAddress]*compiledFunction
	// ast is the shared node arena, reused across compilations. This makes
	// compilation non-reentrant, which is fine in the single-threaded
	// execution model.
	ast *astStore
	// callStack tracks active frames for the overflow guard and the error
	// backtrace.
	callStack []*compiledFunction
}

type compiledFunction struct {
	funcInstance *wasm.FunctionInstance
	stmts        []*stmt
	numArgs      int
	numLocals    int
	numRegs      int
	returnCount  int
	decls        []string
	hostFn       *reflect.Value
}

func NewEngine() wasm.Engine {
	return &engine{
		functions: map[wasm.FunctionAddress]*compiledFunction{},
		ast:       newASTStore(),
	}
}

// Compile implements wasm.Engine. Translation is deferred to the first
// call; host functions are wrapped immediately.
func (e *engine) Compile(f *wasm.FunctionInstance) error {
	if f.IsHostFunction() {
		e.functions[f.Address] = &compiledFunction{
			funcInstance: f,
			hostFn:       f.HostFunction,
			numArgs:      len(f.Signature.InputTypes),
			returnCount:  len(f.Signature.ReturnTypes),
		}
	}
	return nil
}

func (e *engine) ensureCompiled(f *wasm.FunctionInstance) (*compiledFunction, error) {
	if cf, ok := e.functions[f.Address]; ok {
		return cf, nil
	}
	cf, err := compileFunction(e, f)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", f.Name, err)
	}
	e.functions[f.Address] = cf
	return cf, nil
}

// compileFailure distinguishes a lazy-compilation error raised mid-call
// from a runtime trap.
type compileFailure struct{ err error }

// Call implements wasm.Engine.
func (e *engine) Call(f *wasm.FunctionInstance, args ...uint64) (results []uint64, err error) {
	prevFrameLen := len(e.callStack)
	defer func() {
		if v := recover(); v != nil {
			if buildoptions.IsDebugMode {
				debug.PrintStack()
			}
			if c, ok := v.(compileFailure); ok {
				e.callStack = e.callStack[:prevFrameLen]
				err = c.err
				return
			}

			traceNum := len(e.callStack) - prevFrameLen
			traces := make([]string, 0, traceNum)
			for i := 0; i < traceNum; i++ {
				frame := e.popFrame()
				traces = append(traces, fmt.Sprintf("\t%d: %s", i, frame.funcInstance.Name))
			}
			e.callStack = e.callStack[:prevFrameLen]

			if err2, ok := v.(error); ok {
				err = fmt.Errorf("wasm runtime error: %w", err2)
			} else {
				err = fmt.Errorf("wasm runtime error: %v", v)
			}
			if len(traces) > 0 {
				err = fmt.Errorf("%w\nwasm backtrace:\n%s", err, strings.Join(traces, "\n"))
			}
		}
	}()

	cf, err := e.ensureCompiled(f)
	if err != nil {
		return nil, err
	}
	return e.exec(cf, args), nil
}

// call is the internal entry used by compiled code. Errors become panics
// here and surface at the outermost Call boundary.
func (e *engine) call(f *wasm.FunctionInstance, args []uint64) []uint64 {
	cf, err := e.ensureCompiled(f)
	if err != nil {
		panic(compileFailure{err})
	}
	return e.exec(cf, args)
}

// resolveIndirect looks up and type-checks an indirect call target.
func (e *engine) resolveIndirect(tables []*wasm.TableInstance, offset uint64, sig *wasm.FunctionType) *wasm.FunctionInstance {
	if len(tables) == 0 {
		panic(wasm.ErrRuntimeOutOfBoundsTableAccess)
	}
	table := tables[0]
	if offset >= uint64(len(table.Table)) {
		panic(wasm.ErrRuntimeOutOfBoundsTableAccess)
	}
	elm := table.Table[offset]
	if elm == nil || elm.Function == nil {
		panic(wasm.ErrRuntimeOutOfBoundsTableAccess)
	}
	target := elm.Function
	if !wasm.HasSameSignature(target.Signature.InputTypes, sig.InputTypes) ||
		!wasm.HasSameSignature(target.Signature.ReturnTypes, sig.ReturnTypes) {
		panic(wasm.ErrRuntimeIndirectCallTypeMismatch)
	}
	return target
}

func (e *engine) pushFrame(cf *compiledFunction) {
	if buildoptions.CheckCallStackOverflow && callStackCeiling <= len(e.callStack) {
		panic(wasm.ErrRuntimeCallStackOverflow)
	}
	e.callStack = append(e.callStack, cf)
}

func (e *engine) popFrame() (cf *compiledFunction) {
	oneLess := len(e.callStack) - 1
	cf = e.callStack[oneLess]
	e.callStack = e.callStack[:oneLess]
	return
}

func (e *engine) exec(cf *compiledFunction, args []uint64) []uint64 {
	if cf.hostFn != nil {
		return e.callHostFunc(cf, args)
	}

	e.pushFrame(cf)

	fr := &frame{regs: make([]uint64, cf.numRegs)}
	copy(fr.regs, args)

	var results []uint64
	total := uint64(len(cf.stmts))
loop:
	for pc := uint64(0); pc < total; {
		s := cf.stmts[pc]
		switch s.kind {
		case stmtKindExpr:
			v := s.expr(fr)
			if s.slot >= 0 {
				fr.regs[s.slot] = v
			}
			pc++
		case stmtKindJump:
			var done bool
			if pc, results, done = e.takeJump(fr, s.jmp); done {
				break loop
			}
		case stmtKindBranchIf:
			if s.expr(fr) != 0 {
				var done bool
				if pc, results, done = e.takeJump(fr, s.jmp); done {
					break loop
				}
			} else {
				pc++
			}
		case stmtKindBranchIfZero:
			if s.expr(fr) == 0 {
				var done bool
				if pc, results, done = e.takeJump(fr, s.jmp); done {
					break loop
				}
			} else {
				pc++
			}
		case stmtKindBrTable:
			idx := int(uint32(s.expr(fr)))
			target := s.table[len(s.table)-1]
			if idx < len(s.table)-1 {
				target = s.table[idx]
			}
			var done bool
			if pc, results, done = e.takeJump(fr, target); done {
				break loop
			}
		case stmtKindReturn:
			results = returnSlice(fr, s.base, s.count)
			break loop
		case stmtKindTrap:
			panic(wasm.ErrRuntimeUnreachable)
		case stmtKindDispatch:
			addr, ok := s.cases[fr.l]
			if !ok {
				panic(fmt.Errorf("dispatch case %d: %w", fr.l, wasm.ErrInternal))
			}
			pc = addr
		case stmtKindMultiCall:
			s.multi(fr)
			pc++
		default:
			panic(fmt.Errorf("statement kind %d: %w", s.kind, wasm.ErrInternal))
		}
	}

	e.popFrame()
	return results
}

func (e *engine) takeJump(fr *frame, jt *jumpTarget) (pc uint64, results []uint64, done bool) {
	if jt.isReturn {
		return 0, returnSlice(fr, jt.retBase, jt.retCount), true
	}
	for _, cp := range jt.copies {
		fr.regs[cp.dst] = fr.regs[cp.src]
	}
	if jt.dispatchCase >= 0 {
		fr.l = uint32(jt.dispatchCase)
		return jt.dispatchHead, nil, false
	}
	return jt.addr, nil, false
}

func returnSlice(fr *frame, base, count int) []uint64 {
	if count == 0 {
		return []uint64{}
	}
	results := make([]uint64, count)
	copy(results, fr.regs[base:base+count])
	return results
}

func (e *engine) callHostFunc(cf *compiledFunction, args []uint64) []uint64 {
	tp := cf.hostFn.Type()
	in := make([]reflect.Value, tp.NumIn())
	for i := 1; i < tp.NumIn(); i++ {
		val := reflect.New(tp.In(i)).Elem()
		raw := args[i-1]
		switch tp.In(i).Kind() {
		case reflect.Float64, reflect.Float32:
			val.SetFloat(math.Float64frombits(raw))
		case reflect.Uint32, reflect.Uint64:
			val.SetUint(raw)
		case reflect.Int32, reflect.Int64:
			val.SetInt(int64(raw))
		}
		in[i] = val
	}

	// The context carries the caller's memory.
	var memory *wasm.MemoryInstance
	if len(e.callStack) > 0 {
		memory = e.callStack[len(e.callStack)-1].funcInstance.ModuleInstance.Memory
	}
	val := reflect.New(tp.In(0)).Elem()
	val.Set(reflect.ValueOf(&wasm.HostFunctionCallContext{Memory: memory}))
	in[0] = val

	e.pushFrame(cf)
	var results []uint64
	for _, ret := range cf.hostFn.Call(in) {
		switch ret.Kind() {
		case reflect.Float64, reflect.Float32:
			results = append(results, math.Float64bits(ret.Float()))
		case reflect.Uint32, reflect.Uint64:
			results = append(results, ret.Uint())
		case reflect.Int32, reflect.Int64:
			results = append(results, uint64(ret.Int()))
		default:
			panic(fmt.Errorf("invalid host return type: %w", wasm.ErrInternal))
		}
	}
	e.popFrame()
	return results
}
