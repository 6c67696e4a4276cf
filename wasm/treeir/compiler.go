package treeir

import (
	"fmt"

	"github.com/wasmelt/wasmelt/wasm"
	"github.com/wasmelt/wasmelt/wasm/buildoptions"
	"github.com/wasmelt/wasmelt/wasm/leb128"
)

const (
	// blockDepthLimit separates the two branch lowering modes: blocks
	// nested below it use native labels, blocks at or above it share a
	// dispatch loop driven by the L register.
	blockDepthLimit = 256
	// stackSlotLimit bounds the virtual operand stack; the node header
	// keeps the output slot in 8 bits.
	stackSlotLimit = 255
)

type blockKind byte

const (
	blockKindNormal blockKind = iota
	blockKindLoop
	blockKindIfElse
)

// blockFrame is one entry of the compile-time block stack.
type blockFrame struct {
	kind        blockKind
	argCount    int
	returnCount int
	// parentStackTop is the stack depth just before the block's arguments
	// were pushed.
	parentStackTop int
	// isDead is set after an unconditional control transfer until the
	// block's matching end.
	isDead bool
	// parentDead marks frames opened inside dead code; they never revive.
	parentDead bool
	sawElse    bool

	// labelBreak and labelContinueOrElse are -1 when the block uses native
	// labels, or the positive dispatch case value in switch mode.
	labelBreak          int32
	labelContinueOrElse int32
	// Native label ids, valid when the corresponding field above is -1.
	breakLabel int
	contLabel  int

	// startedDispatch is set on the frame that opened the shared dispatch
	// loop; its end closes the loop.
	startedDispatch bool
}

type compiler struct {
	e    *engine
	f    *wasm.FunctionInstance
	body []byte
	pc   uint64

	ast       *astStore
	astPtrs   []int32
	constants []uint64

	stackTop   int
	stackLimit int

	frames []*blockFrame

	stmts        []*stmt
	labels       *labelResolver
	labelCount   int
	caseCounter  int32
	dispatch     *stmt // active dispatch statement, nil outside switch mode
	dispatchAddr uint64

	numArgs   int
	numLocals int
	decls     []string
}

// compileFunction lowers one function body into an executable statement
// program. The AST arena is borrowed from the engine and is fully reset
// before returning, so compilation is not reentrant.
func compileFunction(e *engine, f *wasm.FunctionInstance) (cf *compiledFunction, err error) {
	c := &compiler{
		e:         e,
		f:         f,
		body:      f.Body,
		ast:       e.ast,
		labels:    newLabelResolver(),
		numArgs:   len(f.Signature.InputTypes),
		numLocals: int(f.NumLocals),
	}
	c.ast.reset()

	for i, t := range f.Signature.InputTypes {
		c.decls = append(c.decls, fmt.Sprintf("a%d %s", i, typeName(t)))
	}
	for i, t := range f.LocalTypes {
		// i64 locals start from a 64-bit zero, the rest from a 32-bit zero.
		if t == wasm.ValueTypeI64 {
			c.decls = append(c.decls, fmt.Sprintf("l%d i64 = 0:64", i))
		} else {
			c.decls = append(c.decls, fmt.Sprintf("l%d %s = 0", i, typeName(t)))
		}
	}

	// The implicit outer block returns the function results.
	c.frames = append(c.frames, &blockFrame{
		kind:                blockKindNormal,
		returnCount:         len(f.Signature.ReturnTypes),
		labelBreak:          -1,
		labelContinueOrElse: -1,
	})

	for len(c.frames) > 0 {
		if err := c.handleInstruction(); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
	}

	if err := c.labels.verifyResolved(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}

	return &compiledFunction{
		funcInstance: f,
		stmts:        c.stmts,
		numArgs:      c.numArgs,
		numLocals:    c.numLocals,
		numRegs:      c.numArgs + c.numLocals + c.stackLimit,
		returnCount:  len(f.Signature.ReturnTypes),
		decls:        c.decls,
	}, nil
}

func (c *compiler) current() *blockFrame { return c.frames[len(c.frames)-1] }

// regOf maps a 1-based stack slot to its register index, after the
// argument and local registers.
func (c *compiler) regOf(slot int) int { return c.numArgs + c.numLocals + slot - 1 }

func (c *compiler) setStackTop(v int) {
	c.stackTop = v
	if v > c.stackLimit {
		c.stackLimit = v
	}
}

func (c *compiler) pushStack() (slot int, err error) {
	if c.stackTop+1 > stackSlotLimit {
		return 0, wasm.ErrDeepStack
	}
	c.setStackTop(c.stackTop + 1)
	return c.stackTop, nil
}

func (c *compiler) readByte() (byte, error) {
	if c.pc >= uint64(len(c.body)) {
		return 0, fmt.Errorf("unexpected end of body: %w", wasm.ErrInternal)
	}
	b := c.body[c.pc]
	c.pc++
	return b, nil
}

func (c *compiler) readUint32() (uint32, error) {
	v, num, err := leb128.LoadUint32(c.body[c.pc:])
	if err != nil {
		return 0, fmt.Errorf("read u32 immediate: %w", err)
	}
	c.pc += num
	return v, nil
}

func (c *compiler) readInt32() (int32, error) {
	v, num, err := leb128.LoadInt32(c.body[c.pc:])
	if err != nil {
		return 0, fmt.Errorf("read i32 immediate: %w", err)
	}
	c.pc += num
	return v, nil
}

func (c *compiler) readInt64() (int64, error) {
	v, num, err := leb128.LoadInt64(c.body[c.pc:])
	if err != nil {
		return 0, fmt.Errorf("read i64 immediate: %w", err)
	}
	c.pc += num
	return v, nil
}

func (c *compiler) newLabel() int {
	c.labelCount++
	return c.labelCount
}

func (c *compiler) nextCase() int32 {
	c.caseCounter++
	return c.caseCounter
}

func (c *compiler) addStmt(s *stmt) {
	c.stmts = append(c.stmts, s)
}

func (c *compiler) here() uint64 { return uint64(len(c.stmts)) }

func (c *compiler) handleInstruction() error {
	op, err := c.readByte()
	if err != nil {
		return err
	}
	if buildoptions.IsDebugMode {
		fmt.Printf("handling 0x%02x, dead=%v depth=%d stack=%d\n",
			op, c.current().isDead, len(c.frames), c.stackTop)
	}

	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		return c.handleBlockStart(op)
	case wasm.OpcodeElse:
		return c.handleElse()
	case wasm.OpcodeEnd:
		return c.handleEnd()
	}

	if c.current().isDead {
		// Instructions inside a dead block are parsed for their immediate
		// lengths but emit nothing, and the stack stays untouched.
		return c.skipImmediates(op)
	}

	if meta := opmeta[op]; meta&metaSimple != 0 {
		return c.handleSimple(op, meta)
	}

	switch op {
	case wasm.OpcodeUnreachable:
		c.finalizeBasicBlock(false)
		c.addStmt(&stmt{kind: stmtKindTrap, text: "trap unreachable"})
		c.current().isDead = true
	case wasm.OpcodeBr:
		depth, err := c.readUint32()
		if err != nil {
			return err
		}
		c.finalizeBasicBlock(false)
		jt := c.jumpTo(int(depth))
		c.addStmt(&stmt{kind: stmtKindJump, jmp: jt, text: "goto " + jt.label()})
		c.current().isDead = true
	case wasm.OpcodeBrIf:
		depth, err := c.readUint32()
		if err != nil {
			return err
		}
		cond, condText := c.finalizeBasicBlock(true)
		jt := c.jumpTo(int(depth))
		c.addStmt(&stmt{
			kind: stmtKindBranchIf, expr: cond, jmp: jt,
			text: fmt.Sprintf("if %s goto %s", condText, jt.label()),
		})
	case wasm.OpcodeBrTable:
		return c.handleBrTable()
	case wasm.OpcodeReturn:
		c.finalizeBasicBlock(false)
		jt := c.jumpTo(len(c.frames) - 1)
		c.addStmt(&stmt{kind: stmtKindJump, jmp: jt, text: "goto " + jt.label()})
		c.current().isDead = true
	case wasm.OpcodeCall:
		index, err := c.readUint32()
		if err != nil {
			return err
		}
		if int(index) >= len(c.f.ModuleInstance.Functions) {
			return fmt.Errorf("call target %d out of range: %w", index, wasm.ErrInternal)
		}
		sig := c.f.ModuleInstance.Functions[index].Signature
		return c.emitCall(wasm.OpcodeCall, int32(index), len(sig.InputTypes), len(sig.ReturnTypes))
	case wasm.OpcodeCallIndirect:
		typeIndex, err := c.readUint32()
		if err != nil {
			return err
		}
		tableIndex, err := c.readUint32()
		if err != nil {
			return err
		}
		if tableIndex != 0 {
			return fmt.Errorf("call_indirect table %d: %w", tableIndex, wasm.ErrUnsupportedTableIndex)
		}
		if int(typeIndex) >= len(c.f.ModuleInstance.Types) {
			return fmt.Errorf("call_indirect type %d out of range: %w", typeIndex, wasm.ErrInternal)
		}
		sig := c.f.ModuleInstance.Types[typeIndex]
		return c.emitCall(wasm.OpcodeCallIndirect, int32(typeIndex), len(sig.InputTypes), len(sig.ReturnTypes))
	case wasm.OpcodeSelect:
		// The condition is coerced to a boolean and becomes the first
		// child; the emitter still evaluates the value operands first to
		// keep the WebAssembly operand order observable.
		condSlot := c.stackTop
		boolPtr, err := c.ast.alloc(opBool, condSlot, []int32{int32(-condSlot)})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, boolPtr)
		out := c.stackTop - 2
		ptr, err := c.ast.alloc(wasm.OpcodeSelect, out,
			[]int32{int32(-condSlot), int32(-(condSlot - 2)), int32(-(condSlot - 1))})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
		c.setStackTop(out)
	case wasm.OpcodeI32Const:
		v, err := c.readInt32()
		if err != nil {
			return err
		}
		slot, err := c.pushStack()
		if err != nil {
			return err
		}
		ptr, err := c.ast.alloc(wasm.OpcodeI32Const, slot, nil, v)
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeI64Const:
		v, err := c.readInt64()
		if err != nil {
			return err
		}
		slot, err := c.pushStack()
		if err != nil {
			return err
		}
		// 64-bit literals do not fit an AST word; they go through the
		// per-block sidecar and the node keeps the index.
		c.constants = append(c.constants, uint64(v))
		ptr, err := c.ast.alloc(wasm.OpcodeI64Const, slot, nil, int32(len(c.constants)-1))
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeF32Const:
		off := c.pc
		c.pc += 4
		if c.pc > uint64(len(c.body)) {
			return fmt.Errorf("f32 const payload out of range: %w", wasm.ErrInternal)
		}
		slot, err := c.pushStack()
		if err != nil {
			return err
		}
		// The IEEE payload stays in the body; the emitter re-reads it so
		// NaN bit patterns survive.
		ptr, err := c.ast.alloc(wasm.OpcodeF32Const, slot, nil, int32(off))
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeF64Const:
		off := c.pc
		c.pc += 8
		if c.pc > uint64(len(c.body)) {
			return fmt.Errorf("f64 const payload out of range: %w", wasm.ErrInternal)
		}
		slot, err := c.pushStack()
		if err != nil {
			return err
		}
		ptr, err := c.ast.alloc(wasm.OpcodeF64Const, slot, nil, int32(off))
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeMemorySize:
		if err := c.checkMemoryIndex(); err != nil {
			return err
		}
		slot, err := c.pushStack()
		if err != nil {
			return err
		}
		ptr, err := c.ast.alloc(wasm.OpcodeMemorySize, slot, nil)
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeMemoryGrow:
		if err := c.checkMemoryIndex(); err != nil {
			return err
		}
		slot := c.stackTop
		ptr, err := c.ast.alloc(wasm.OpcodeMemoryGrow, slot, []int32{int32(-slot)})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeMiscPrefix:
		return c.handleMiscPrefix()
	default:
		return fmt.Errorf("opcode 0x%02x: %w", op, wasm.ErrUnsupportedInstruction)
	}
	return nil
}

func (c *compiler) checkMemoryIndex() error {
	idx, err := c.readUint32()
	if err != nil {
		return err
	}
	if idx != 0 {
		return fmt.Errorf("memory %d: %w", idx, wasm.ErrUnsupportedMemoryIndex)
	}
	return nil
}

// handleSimple is the table-driven path covering most value instructions.
func (c *compiler) handleSimple(op wasm.Opcode, meta uint16) error {
	pops := int(meta & metaPopMask)

	// Operand coercions overwrite their slot in place.
	if meta&(metaToU32|metaToS64) != 0 {
		coerce := opToU32
		if meta&metaToS64 != 0 {
			coerce = opToS64
		}
		for i := 0; i < pops; i++ {
			slot := c.stackTop - pops + 1 + i
			ptr, err := c.ast.alloc(coerce, slot, []int32{int32(-slot)})
			if err != nil {
				return err
			}
			c.astPtrs = append(c.astPtrs, ptr)
		}
	}

	// 64-bit shift and rotate amounts are masked with 63 up front.
	if meta&metaMaskShift != 0 {
		slot := c.stackTop
		c.constants = append(c.constants, 63)
		constPtr, err := c.ast.alloc(wasm.OpcodeI64Const, 0, nil, int32(len(c.constants)-1))
		if err != nil {
			return err
		}
		ptr, err := c.ast.alloc(wasm.OpcodeI64And, slot, []int32{int32(-slot), constPtr})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	}

	if meta&metaHasAlign != 0 {
		if _, err := c.readUint32(); err != nil {
			return err
		}
	}

	if meta&metaOmit != 0 {
		// Identity conversion, drop or nop: adjust the stack only.
		c.setStackTop(c.stackTop - pops)
		if meta&metaPush != 0 {
			if _, err := c.pushStack(); err != nil {
				return err
			}
		}
		return nil
	}

	children := make([]int32, pops)
	for i := 0; i < pops; i++ {
		children[i] = int32(-(c.stackTop - pops + 1 + i))
	}

	var imms []int32
	if meta&metaHasIndex != 0 {
		index, err := c.readUint32()
		if err != nil {
			return err
		}
		imms = append(imms, int32(index))
	}

	out := 0
	newTop := c.stackTop - pops
	if meta&metaPush != 0 {
		out = newTop + 1
		newTop++
	}
	if newTop > stackSlotLimit {
		return wasm.ErrDeepStack
	}

	ptr, err := c.ast.alloc(op, out, children, imms...)
	if err != nil {
		return err
	}
	c.astPtrs = append(c.astPtrs, ptr)
	c.setStackTop(newTop)

	if meta&metaBoolOut != 0 {
		widen, err := c.ast.alloc(opBoolToInt, out, []int32{int32(-out)})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, widen)
	}
	return nil
}

func (c *compiler) emitCall(kind wasm.Opcode, index int32, nargs, arity int) error {
	var argBase int
	if kind == wasm.OpcodeCallIndirect {
		// The function pointer sits on top, above the arguments.
		argBase = c.stackTop - nargs
	} else {
		argBase = c.stackTop - nargs + 1
	}

	out := 0
	if arity == 1 {
		out = argBase
	}
	ptr, err := c.ast.alloc(kind, out, nil, index, int32(argBase))
	if err != nil {
		return err
	}
	c.astPtrs = append(c.astPtrs, ptr)

	newTop := argBase - 1 + arity
	if newTop > stackSlotLimit {
		return wasm.ErrDeepStack
	}
	c.setStackTop(newTop)
	return nil
}

func (c *compiler) handleMiscPrefix() error {
	sub, err := c.readUint32()
	if err != nil {
		return err
	}
	switch byte(sub) {
	case wasm.OpcodeMiscI32TruncSatF32S, wasm.OpcodeMiscI32TruncSatF32U,
		wasm.OpcodeMiscI32TruncSatF64S, wasm.OpcodeMiscI32TruncSatF64U,
		wasm.OpcodeMiscI64TruncSatF32S, wasm.OpcodeMiscI64TruncSatF32U,
		wasm.OpcodeMiscI64TruncSatF64S, wasm.OpcodeMiscI64TruncSatF64U:
		slot := c.stackTop
		ptr, err := c.ast.alloc(opI32TruncSatF32S+wasm.Opcode(sub), slot, []int32{int32(-slot)})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
	case wasm.OpcodeMiscMemoryCopy:
		if err := c.checkMemoryIndex(); err != nil {
			return err
		}
		if err := c.checkMemoryIndex(); err != nil {
			return err
		}
		top := c.stackTop
		ptr, err := c.ast.alloc(opMemoryCopy, 0,
			[]int32{int32(-(top - 2)), int32(-(top - 1)), int32(-top)})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
		c.setStackTop(top - 3)
	case wasm.OpcodeMiscMemoryFill:
		if err := c.checkMemoryIndex(); err != nil {
			return err
		}
		// The fill value child precedes the count so the emitter's
		// left-to-right walk matches the operand order.
		top := c.stackTop
		ptr, err := c.ast.alloc(opMemoryFill, 0,
			[]int32{int32(-(top - 2)), int32(-(top - 1)), int32(-top)})
		if err != nil {
			return err
		}
		c.astPtrs = append(c.astPtrs, ptr)
		c.setStackTop(top - 3)
	default:
		return fmt.Errorf("0xfc 0x%02x: %w", sub, wasm.ErrUnsupportedInstruction)
	}
	return nil
}

func (c *compiler) handleBrTable() error {
	numTargets, err := c.readUint32()
	if err != nil {
		return err
	}
	depths := make([]uint32, numTargets+1)
	for i := range depths {
		depths[i], err = c.readUint32()
		if err != nil {
			return err
		}
	}

	cond, condText := c.finalizeBasicBlock(true)
	targets := make([]*jumpTarget, len(depths))
	text := "br_table " + condText + " ["
	for i, d := range depths {
		targets[i] = c.jumpTo(int(d))
		if i == len(depths)-1 {
			text += "] default " + targets[i].label()
		} else {
			if i > 0 {
				text += " "
			}
			text += targets[i].label()
		}
	}
	c.addStmt(&stmt{kind: stmtKindBrTable, expr: cond, table: targets, text: text})
	c.current().isDead = true
	return nil
}

// skipImmediates consumes the immediates of an instruction appearing in
// dead code.
func (c *compiler) skipImmediates(op wasm.Opcode) error {
	if meta := opmeta[op]; meta&metaSimple != 0 {
		if meta&metaHasAlign != 0 {
			if _, err := c.readUint32(); err != nil {
				return err
			}
		}
		if meta&metaHasIndex != 0 {
			if _, err := c.readUint32(); err != nil {
				return err
			}
		}
		return nil
	}

	switch op {
	case wasm.OpcodeUnreachable, wasm.OpcodeSelect:
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
		wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		if _, err := c.readUint32(); err != nil {
			return err
		}
	case wasm.OpcodeReturn:
	case wasm.OpcodeCallIndirect:
		if _, err := c.readUint32(); err != nil {
			return err
		}
		if _, err := c.readUint32(); err != nil {
			return err
		}
	case wasm.OpcodeBrTable:
		n, err := c.readUint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n+1; i++ {
			if _, err := c.readUint32(); err != nil {
				return err
			}
		}
	case wasm.OpcodeI32Const:
		if _, err := c.readInt32(); err != nil {
			return err
		}
	case wasm.OpcodeI64Const:
		if _, err := c.readInt64(); err != nil {
			return err
		}
	case wasm.OpcodeF32Const:
		c.pc += 4
	case wasm.OpcodeF64Const:
		c.pc += 8
	case wasm.OpcodeMiscPrefix:
		sub, err := c.readUint32()
		if err != nil {
			return err
		}
		switch byte(sub) {
		case wasm.OpcodeMiscMemoryCopy:
			c.pc += 2
		case wasm.OpcodeMiscMemoryFill:
			c.pc++
		}
	default:
		return fmt.Errorf("opcode 0x%02x: %w", op, wasm.ErrUnsupportedInstruction)
	}
	return nil
}
