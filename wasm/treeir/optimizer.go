package treeir

import (
	"fmt"

	"github.com/wasmelt/wasmelt/wasm"
)

// finalizeBasicBlock optimizes the accumulated expression forest of the
// just-closed basic block and emits it as statements. With extract set, the
// producer of the top stack slot is handed back as a free-standing
// expression instead of being assigned, which lets control lowering test a
// condition without a temporary; the condition is popped either way.
func (c *compiler) finalizeBasicBlock(extract bool) (cond expr, condText string) {
	// Inline child values from producers into consumers, newest first,
	// then give the peephole pass a chance on every surviving node.
	for i := len(c.astPtrs) - 1; i >= 0; i-- {
		ptr := c.astPtrs[i]
		if ptr == astNull {
			continue
		}
		c.inlineChildren(ptr, i)
		c.astPtrs[i] = c.peephole(ptr)
	}

	if extract {
		cond, condText = c.extractTop()
	}

	for _, ptr := range c.astPtrs {
		if ptr == astNull {
			continue
		}
		c.addStmt(c.emitStatement(ptr))
	}

	c.ast.reset()
	c.astPtrs = c.astPtrs[:0]
	c.constants = c.constants[:0]
	return
}

// inlineChildren resolves the stack-slot children of the node at ptr
// against the producers before position idx. The walk skips entries that
// were already inlined elsewhere and the in-place sign coercions, and stops
// at the first other node.
func (c *compiler) inlineChildren(ptr int32, idx int) {
	memParent := usesMemory(c.ast.opcode(ptr))
	for i := c.ast.childCount(ptr) - 1; i >= 0; i-- {
		w := c.ast.child(ptr, i)
		if w >= 0 {
			continue
		}
		slot := int(-w)
		for j := idx - 1; j >= 0; j-- {
			p := c.astPtrs[j]
			if p == astNull {
				continue
			}
			if c.ast.outSlot(p) == slot {
				// memory.grow may detach previously materialized views, so
				// a memory-accessing consumer only absorbs producers whose
				// evaluation cannot have side effects.
				if memParent && !c.isTrivial(p) {
					break
				}
				c.astPtrs[j] = astNull
				c.inlineChildren(p, j)
				c.ast.setChild(ptr, i, c.peephole(p))
				break
			}
			if op := c.ast.opcode(p); op == opToU32 || op == opToS64 {
				// Sign coercions overwrite their slot in place and stay
				// transparent to the search.
				continue
			}
			break
		}
	}
}

func usesMemory(op wasm.Opcode) bool {
	switch {
	case op >= wasm.OpcodeI32Load && op <= wasm.OpcodeI64Store32:
		return true
	case op == opU32Load || op == opS64Load || op == opMemoryCopy || op == opMemoryFill:
		return true
	}
	return false
}

func (c *compiler) isTrivial(ptr int32) bool {
	switch c.ast.opcode(ptr) {
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeLocalGet:
		return true
	}
	return false
}

// producesBool reports whether the node's value is already 0 or 1.
func (c *compiler) producesBool(ptr int32) bool {
	op := c.ast.opcode(ptr)
	switch {
	case op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeF64Ge:
		return true
	case op == opBool || op == opBoolNot || op == opBoolToInt:
		return true
	}
	return false
}

// constOperand extracts the value of an inlined integer constant child.
func (c *compiler) constOperand(w int32) (v uint64, is32 bool, ok bool) {
	if w < 0 {
		return 0, false, false
	}
	switch c.ast.opcode(w) {
	case wasm.OpcodeI32Const:
		return uint64(uint32(c.ast.imm(w, 0))), true, true
	case wasm.OpcodeI64Const:
		return c.constants[c.ast.imm(w, 0)], false, true
	}
	return 0, false, false
}

func (c *compiler) allocI32Const(out int, v uint32) int32 {
	ptr, err := c.ast.alloc(wasm.OpcodeI32Const, out, nil, int32(v))
	if err != nil {
		// The arena was large enough to hold the unfolded nodes.
		panic(err)
	}
	return ptr
}

func (c *compiler) allocI64Const(out int, v uint64) int32 {
	c.constants = append(c.constants, v)
	ptr, err := c.ast.alloc(wasm.OpcodeI64Const, out, nil, int32(len(c.constants)-1))
	if err != nil {
		panic(err)
	}
	return ptr
}

// peephole rewrites one node after child inlining and returns the
// replacement pointer. Every rule preserves the observable WebAssembly
// semantics of the node.
func (c *compiler) peephole(ptr int32) int32 {
	op := c.ast.opcode(ptr)
	out := c.ast.outSlot(ptr)

	switch op {
	case opBoolToInt, opBool:
		// Comparisons already yield canonical 0/1.
		if w := c.ast.child(ptr, 0); w >= 0 && c.producesBool(w) {
			return w
		}
	case opToU32:
		if v, _, ok := c.constOperand(c.ast.child(ptr, 0)); ok {
			return c.allocI32Const(out, uint32(v))
		}
	case wasm.OpcodeI32Add, wasm.OpcodeI32Sub, wasm.OpcodeI32Mul,
		wasm.OpcodeI32And, wasm.OpcodeI32Or, wasm.OpcodeI32Xor:
		l, llit := c.constChild(ptr, 0)
		r, rlit := c.constChild(ptr, 1)
		if llit && rlit {
			return c.allocI32Const(out, foldI32(op, uint32(l), uint32(r)))
		}
		// x+0, x-0, x|0 and x^0 keep the left operand.
		if rlit && r == 0 && op != wasm.OpcodeI32Mul && op != wasm.OpcodeI32And {
			if w := c.ast.child(ptr, 0); w >= 0 && c.ast.outSlot(w) == out {
				return w
			}
		}
	case wasm.OpcodeI64Add, wasm.OpcodeI64Sub, wasm.OpcodeI64Mul,
		wasm.OpcodeI64And, wasm.OpcodeI64Or, wasm.OpcodeI64Xor:
		l, llit := c.constChild(ptr, 0)
		r, rlit := c.constChild(ptr, 1)
		if llit && rlit {
			return c.allocI64Const(out, foldI64(op, l, r))
		}
		if rlit && r == 0 && op != wasm.OpcodeI64Mul && op != wasm.OpcodeI64And {
			if w := c.ast.child(ptr, 0); w >= 0 && c.ast.outSlot(w) == out {
				return w
			}
		}
	case wasm.OpcodeI32Eqz:
		if v, _, ok := c.constOperand(c.ast.child(ptr, 0)); ok {
			if uint32(v) == 0 {
				return c.allocI32Const(out, 1)
			}
			return c.allocI32Const(out, 0)
		}
	case wasm.OpcodeI32WrapI64:
		if v, _, ok := c.constOperand(c.ast.child(ptr, 0)); ok {
			return c.allocI32Const(out, uint32(v))
		}
	case wasm.OpcodeI32Load8U:
		// Single-byte access reads the byte view directly.
		c.ast.setOpcode(ptr, opU32Load)
	case wasm.OpcodeI64Load8U:
		c.ast.setOpcode(ptr, opS64Load)
	}
	return ptr
}

func (c *compiler) constChild(ptr int32, i int) (uint64, bool) {
	v, _, ok := c.constOperand(c.ast.child(ptr, i))
	return v, ok
}

func foldI32(op wasm.Opcode, l, r uint32) uint32 {
	switch op {
	case wasm.OpcodeI32Add:
		return l + r
	case wasm.OpcodeI32Sub:
		return l - r
	case wasm.OpcodeI32Mul:
		return l * r
	case wasm.OpcodeI32And:
		return l & r
	case wasm.OpcodeI32Or:
		return l | r
	case wasm.OpcodeI32Xor:
		return l ^ r
	}
	panic(fmt.Errorf("fold of 0x%02x: %w", op, wasm.ErrInternal))
}

func foldI64(op wasm.Opcode, l, r uint64) uint64 {
	switch op {
	case wasm.OpcodeI64Add:
		return l + r
	case wasm.OpcodeI64Sub:
		return l - r
	case wasm.OpcodeI64Mul:
		return l * r
	case wasm.OpcodeI64And:
		return l & r
	case wasm.OpcodeI64Or:
		return l | r
	case wasm.OpcodeI64Xor:
		return l ^ r
	}
	panic(fmt.Errorf("fold of 0x%02x: %w", op, wasm.ErrInternal))
}

// extractTop returns the producer of the current top stack slot as an
// expression when it is the newest live node, or a plain slot reference
// otherwise. The slot is consumed in both cases.
func (c *compiler) extractTop() (expr, string) {
	for i := len(c.astPtrs) - 1; i >= 0; i-- {
		ptr := c.astPtrs[i]
		if ptr == astNull {
			continue
		}
		if c.ast.outSlot(ptr) == c.stackTop {
			c.astPtrs[i] = astNull
			e, text := c.compileExpr(ptr)
			c.setStackTop(c.stackTop - 1)
			return e, text
		}
		break
	}
	reg := c.regOf(c.stackTop)
	text := c.slotText(c.stackTop)
	c.setStackTop(c.stackTop - 1)
	return func(fr *frame) uint64 { return fr.regs[reg] }, text
}
