package treeir

import (
	"bytes"
	"fmt"

	"github.com/wasmelt/wasmelt/wasm"
)

// labelResolver tracks native label addresses. Forward jumps register a
// callback that is invoked once the label's statement address is known.
type labelResolver struct {
	address    map[int]uint64
	onResolved map[int][]func(addr uint64)
}

func newLabelResolver() *labelResolver {
	return &labelResolver{
		address:    map[int]uint64{},
		onResolved: map[int][]func(addr uint64){},
	}
}

func (l *labelResolver) define(label int, addr uint64) {
	l.address[label] = addr
	for _, cb := range l.onResolved[label] {
		cb(addr)
	}
	delete(l.onResolved, label)
}

func (l *labelResolver) resolve(label int, set func(addr uint64)) {
	if addr, ok := l.address[label]; ok {
		set(addr)
		return
	}
	l.onResolved[label] = append(l.onResolved[label], set)
}

func (l *labelResolver) verifyResolved() error {
	if n := len(l.onResolved); n > 0 {
		return fmt.Errorf("%d labels left undefined: %w", n, wasm.ErrInternal)
	}
	return nil
}

type regCopy struct {
	src, dst int
}

// jumpTarget is the destination of a branch statement. Native-label
// branches jump straight to addr; dispatch-mode branches set the L register
// to dispatchCase and re-enter the dispatch statement. Jumps to the
// outermost frame return instead.
type jumpTarget struct {
	addr         uint64
	copies       []regCopy
	dispatchCase int32
	dispatchHead uint64
	isReturn     bool
	retBase      int
	retCount     int

	labelID int // for disassembly
}

func (j *jumpTarget) label() string {
	switch {
	case j.isReturn:
		return "return"
	case j.dispatchCase >= 0:
		return fmt.Sprintf("L=%d", j.dispatchCase)
	default:
		return fmt.Sprintf("L%d", j.labelID)
	}
}

// jumpTo builds the jump target for a branch to the frame at the given
// relative depth, including the loop-argument or block-result copies. The
// copies are elided when source and destination slots coincide.
func (c *compiler) jumpTo(depth int) *jumpTarget {
	frameIndex := len(c.frames) - 1 - depth
	fr := c.frames[frameIndex]

	if frameIndex == 0 {
		// Jumping to the function frame returns.
		arity := fr.returnCount
		return &jumpTarget{
			dispatchCase: -1,
			isReturn:     true,
			retBase:      c.regOf(c.stackTop - arity + 1),
			retCount:     arity,
		}
	}

	var n int
	if fr.kind == blockKindLoop {
		// A backward jump re-seeds the loop parameters.
		n = fr.argCount
	} else {
		n = fr.returnCount
	}

	jt := &jumpTarget{dispatchCase: -1}
	for i := 0; i < n; i++ {
		src := c.stackTop - n + 1 + i
		dst := fr.parentStackTop + 1 + i
		if src != dst {
			jt.copies = append(jt.copies, regCopy{src: c.regOf(src), dst: c.regOf(dst)})
		}
	}

	if fr.kind == blockKindLoop {
		if fr.labelContinueOrElse >= 0 {
			jt.dispatchCase = fr.labelContinueOrElse
			jt.dispatchHead = c.dispatchHead()
		} else {
			jt.labelID = fr.contLabel
			c.labels.resolve(fr.contLabel, func(addr uint64) { jt.addr = addr })
		}
	} else {
		if fr.labelBreak >= 0 {
			jt.dispatchCase = fr.labelBreak
			jt.dispatchHead = c.dispatchHead()
		} else {
			jt.labelID = fr.breakLabel
			c.labels.resolve(fr.breakLabel, func(addr uint64) { jt.addr = addr })
		}
	}
	return jt
}

func (c *compiler) dispatchHead() uint64 { return c.dispatchAddr }

// defineBreak marks the current statement address as the break target of
// the given frame, in whichever mode the frame was lowered.
func (c *compiler) defineBreak(fr *blockFrame) {
	if fr.labelBreak >= 0 {
		c.dispatch.cases[uint32(fr.labelBreak)] = c.here()
	} else {
		c.labels.define(fr.breakLabel, c.here())
	}
}

func (c *compiler) defineContinueOrElse(fr *blockFrame) {
	if fr.labelContinueOrElse >= 0 {
		c.dispatch.cases[uint32(fr.labelContinueOrElse)] = c.here()
	} else {
		c.labels.define(fr.contLabel, c.here())
	}
}

func (c *compiler) handleBlockStart(op wasm.Opcode) error {
	bt, num, err := wasm.ReadBlockType(c.f.ModuleInstance.Types, bytes.NewBuffer(c.body[c.pc:]))
	if err != nil {
		return fmt.Errorf("read block type: %w", err)
	}
	c.pc += num

	cur := c.current()
	if cur.isDead {
		// The whole region is skipped; push a placeholder frame so the
		// matching end pops correctly.
		c.frames = append(c.frames, &blockFrame{
			kind:                blockKindNormal,
			isDead:              true,
			parentDead:          true,
			parentStackTop:      c.stackTop,
			labelBreak:          -1,
			labelContinueOrElse: -1,
		})
		return nil
	}

	var cond expr
	var condText string
	if op == wasm.OpcodeIf {
		cond, condText = c.finalizeBasicBlock(true)
	} else {
		c.finalizeBasicBlock(false)
	}

	fr := &blockFrame{
		argCount:            len(bt.InputTypes),
		returnCount:         len(bt.ReturnTypes),
		parentStackTop:      c.stackTop - len(bt.InputTypes),
		labelBreak:          -1,
		labelContinueOrElse: -1,
	}
	switch op {
	case wasm.OpcodeBlock:
		fr.kind = blockKindNormal
	case wasm.OpcodeLoop:
		fr.kind = blockKindLoop
	case wasm.OpcodeIf:
		fr.kind = blockKindIfElse
	}

	// Blocks nested past the depth limit switch to dispatch lowering; the
	// shared dispatch loop is opened at the exact boundary.
	if depth := len(c.frames) - 1; depth >= blockDepthLimit {
		if c.dispatch == nil {
			// A stale dispatch value from an earlier region must not leak
			// into this loop.
			c.addStmt(&stmt{
				kind: stmtKindExpr, slot: -1,
				expr: func(fr *frame) uint64 { fr.l = 0; return 0 },
				text: "L = 0",
			})
			d := &stmt{kind: stmtKindDispatch, cases: map[uint32]uint64{}, text: "dispatch L"}
			c.dispatchAddr = c.here()
			c.addStmt(d)
			d.cases[0] = c.here()
			c.dispatch = d
			fr.startedDispatch = true
		}
		fr.labelBreak = c.nextCase()
		if fr.kind == blockKindLoop || fr.kind == blockKindIfElse {
			fr.labelContinueOrElse = c.nextCase()
		}
	} else {
		fr.breakLabel = c.newLabel()
		if fr.kind == blockKindLoop || fr.kind == blockKindIfElse {
			fr.contLabel = c.newLabel()
		}
	}

	c.frames = append(c.frames, fr)

	switch fr.kind {
	case blockKindLoop:
		c.defineContinueOrElse(fr)
	case blockKindIfElse:
		jt := &jumpTarget{dispatchCase: fr.labelContinueOrElse, labelID: fr.contLabel}
		if fr.labelContinueOrElse >= 0 {
			jt.dispatchHead = c.dispatchHead()
		} else {
			c.labels.resolve(fr.contLabel, func(addr uint64) { jt.addr = addr })
		}
		c.addStmt(&stmt{
			kind: stmtKindBranchIfZero, expr: cond, jmp: jt,
			text: fmt.Sprintf("if !%s goto %s", condText, jt.label()),
		})
	}
	return nil
}

func (c *compiler) handleElse() error {
	fr := c.current()
	if fr.parentDead {
		return nil
	}

	if !fr.isDead {
		c.finalizeBasicBlock(false)
		// Jump over the else arm. The fallthrough stack is already
		// aligned with the block results, so no copies are needed.
		var jt *jumpTarget
		if fr.labelBreak >= 0 {
			jt = &jumpTarget{dispatchCase: fr.labelBreak, dispatchHead: c.dispatchHead()}
		} else {
			jt = &jumpTarget{dispatchCase: -1, labelID: fr.breakLabel}
			c.labels.resolve(fr.breakLabel, func(addr uint64) { jt.addr = addr })
		}
		c.addStmt(&stmt{kind: stmtKindJump, jmp: jt, text: "goto " + jt.label()})
	} else {
		// The then arm ended dead; drop whatever the dead tail left in
		// the accumulators before reviving.
		c.finalizeBasicBlock(false)
	}

	c.defineContinueOrElse(fr)
	fr.sawElse = true
	fr.isDead = false
	c.setStackTop(fr.parentStackTop + fr.argCount)
	return nil
}

func (c *compiler) handleEnd() error {
	fr := c.current()
	c.frames = c.frames[:len(c.frames)-1]

	if fr.parentDead {
		return nil
	}

	c.finalizeBasicBlock(false)

	// Branch targets land here: the break label, and the else label of an
	// if that never had an else arm.
	if fr.kind == blockKindIfElse && !fr.sawElse {
		c.defineContinueOrElse(fr)
	}
	c.defineBreak(fr)

	if fr.startedDispatch {
		// Exactly at the depth limit the shared dispatch loop closes.
		c.dispatch = nil
	}

	c.setStackTop(fr.parentStackTop + fr.returnCount)

	if len(c.frames) == 0 {
		// Falling off the function end returns the remaining stack values.
		arity := fr.returnCount
		base := c.regOf(c.stackTop - arity + 1)
		c.addStmt(&stmt{
			kind: stmtKindReturn, base: base, count: arity,
			text: returnText(c.stackTop-arity+1, arity),
		})
	}
	return nil
}

func returnText(baseSlot, count int) string {
	switch count {
	case 0:
		return "return"
	case 1:
		return fmt.Sprintf("return s%d", baseSlot)
	default:
		return fmt.Sprintf("return s%d..s%d", baseSlot, baseSlot+count-1)
	}
}
