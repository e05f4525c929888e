//go:build amd64 && (linux || darwin)

package embedcc

import (
	"fmt"
	"sort"
	"strconv"

	"medsl/internal/dsltypes"
	"medsl/internal/ir"
)

// Compile lowers prog directly to x86-64 machine code implementing the
// fixed kernel ABI int(const void**, void*, int64_t), bypassing both
// the C code generator and an external compiler entirely.
//
// It only ever accepts integral dtypes (bool and every int/uint
// width): floating point needs SSE register allocation this tiny,
// non-optimizing backend doesn't do, so any program touching
// DtypeFloat32/64 — in a parameter, a local, or the output — is
// rejected with an error the caller treats as a compile failure,
// falling through to package nativecc or the interpreter. This mirrors
// how the backend is already restricted to fp_mode=strict: it trades
// generality for never needing a register allocator.
func Compile(prog *ir.Program, outputDtype dsltypes.Dtype) ([]byte, error) {
	if !outputDtype.JITSupported() || !outputDtype.Integral() {
		return nil, fmt.Errorf("embedcc: output dtype %s unsupported by embedded backend", outputDtype)
	}
	for _, p := range prog.Params {
		if !p.Dtype.Integral() {
			return nil, fmt.Errorf("embedcc: param %q dtype %s unsupported by embedded backend", p.Name, p.Dtype)
		}
	}
	locals, err := collectLocals(prog)
	if err != nil {
		return nil, err
	}

	c := &compiler{
		a:           newAsm(),
		slots:       make(map[string]int32),
		paramIndex:  make(map[string]int),
		paramWidth:  make(map[string]int),
		paramSigned: make(map[string]bool),
		outputDtype: outputDtype,
		doneLabel:   "kernel_done",
		// Slots start below the four callee-saved registers the
		// prologue pushes at [rbp-8]..[rbp-32].
		nextSlot: -32,
	}
	for i, p := range prog.Params {
		c.paramIndex[p.Name] = i
		c.paramWidth[p.Name] = p.Dtype.Size()
		c.paramSigned[p.Name] = isSigned(p.Dtype)
	}

	// Deterministic slot assignment: sort names so repeated compiles of
	// the same program always produce byte-identical code (relevant
	// for cache key sanity and for the determinism property in §8).
	names := make([]string, 0, len(locals))
	for name := range locals {
		names = append(names, name)
	}
	for _, p := range prog.Params {
		if _, ok := locals[p.Name]; !ok {
			names = append(names, p.Name)
			locals[p.Name] = p.Dtype
		}
	}
	sort.Strings(names)
	for _, name := range names {
		c.allocSlot(name)
	}
	c.retSlot = c.allocAnon()

	// For-loop variables and limit temporaries get their frame slots
	// now, in the same DFS preorder compileFor will consume them in:
	// the prologue fixes the frame size from nextSlot, so every slot
	// must exist before it is emitted.
	var preallocFors func(ir.Block)
	preallocFors = func(b ir.Block) {
		for i := range b {
			s := &b[i]
			switch s.Kind {
			case ir.StmtIf:
				preallocFors(s.If.Then)
				for _, e := range s.If.Elifs {
					preallocFors(e.Block)
				}
				if s.If.Else != nil {
					preallocFors(s.If.Else)
				}
			case ir.StmtFor:
				c.allocSlot(s.For.Var)
				c.forLimitSlots = append(c.forLimitSlots, c.allocAnon())
				preallocFors(s.For.Body)
			}
		}
	}
	preallocFors(prog.Body)

	if err := c.emitPrologue(); err != nil {
		return nil, err
	}
	c.a.bind("loop_top")
	c.a.cmpRR(r15, r14)
	c.a.jcc(ccGE, "loop_end")
	for _, p := range prog.Params {
		c.loadParam(p)
	}
	for _, name := range names {
		if _, isParam := c.paramIndex[name]; isParam {
			continue
		}
		c.a.movImm64(rax, 0)
		c.a.storeMem(c.slots[name], rax)
	}
	if err := c.compileBlock(prog.Body); err != nil {
		return nil, err
	}
	c.a.bind(c.doneLabel)
	c.a.loadMem(rax, c.retSlot)
	c.a.storeIndexed(r13, r15, outputDtype.Size(), rax)
	c.a.incR(r15)
	c.a.jmp("loop_top")
	c.a.bind("loop_end")
	c.a.movImm64(rax, 0)
	c.emitEpilogue()

	return c.a.finish()
}

func isSigned(d dsltypes.Dtype) bool {
	switch d {
	case dsltypes.DtypeInt8, dsltypes.DtypeInt16, dsltypes.DtypeInt32, dsltypes.DtypeInt64:
		return true
	default:
		return false
	}
}

// collectLocals mirrors codegen.collectLocals: every name ever
// assigned in prog, with the dtype of its first assignment, failing if
// any is non-integral.
func collectLocals(prog *ir.Program) (map[string]dsltypes.Dtype, error) {
	out := make(map[string]dsltypes.Dtype)
	var walk func(ir.Block) error
	walk = func(b ir.Block) error {
		for i := range b {
			s := &b[i]
			switch s.Kind {
			case ir.StmtAssign:
				if !s.Assign.Dtype.Integral() {
					return fmt.Errorf("embedcc: local %q dtype %s unsupported by embedded backend", s.Assign.Name, s.Assign.Dtype)
				}
				if _, ok := out[s.Assign.Name]; !ok {
					out[s.Assign.Name] = s.Assign.Dtype
				}
			case ir.StmtIf:
				if err := walk(s.If.Then); err != nil {
					return err
				}
				for _, e := range s.If.Elifs {
					if err := walk(e.Block); err != nil {
						return err
					}
				}
				if s.If.Else != nil {
					if err := walk(s.If.Else); err != nil {
						return err
					}
				}
			case ir.StmtFor:
				if err := walk(s.For.Body); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(prog.Body); err != nil {
		return nil, err
	}
	return out, nil
}

type loopCtx struct {
	breakLabel    string
	continueLabel string
}

type compiler struct {
	a           *asm
	slots       map[string]int32
	nextSlot    int32
	paramIndex  map[string]int
	paramWidth  map[string]int
	paramSigned map[string]bool
	outputDtype dsltypes.Dtype
	retSlot     int32
	doneLabel   string
	loops       []loopCtx

	forLimitSlots []int32
	forIdx        int
}

func (c *compiler) allocSlot(name string) int32 {
	c.nextSlot -= 8
	c.slots[name] = c.nextSlot
	return c.nextSlot
}

func (c *compiler) allocAnon() int32 {
	c.nextSlot -= 8
	return c.nextSlot
}

// emitPrologue saves callee-saved registers this backend dedicates to
// persistent state (r12=inputs base, r13=output base, r14=nitems,
// r15=idx), reserves the local frame, and seeds those registers from
// the System V argument registers (rdi, rsi, rdx).
func (c *compiler) emitPrologue() error {
	a := c.a
	a.push(rbp)
	a.movRR(rbp, rsp)
	a.push(r12)
	a.push(r13)
	a.push(r14)
	a.push(r15)
	frameSize := -c.nextSlot - 32
	for frameSize > 0 {
		chunk := frameSize
		if chunk > 120 {
			chunk = 120
		}
		a.subRSPImm8(byte(chunk))
		frameSize -= chunk
	}
	a.movRR(r12, rdi)
	a.movRR(r13, rsi)
	a.movRR(r14, rdx)
	a.movImm64(r15, 0)
	return nil
}

func (c *compiler) emitEpilogue() {
	a := c.a
	a.movRR(rsp, rbp)
	a.subRSPImm8(32) // undo the four pushes below rbp before popping
	a.pop(r15)
	a.pop(r14)
	a.pop(r13)
	a.pop(r12)
	a.pop(rbp)
	a.ret()
}

// loadParam loads inputs[k][idx] into p's frame slot, sign/zero
// extended per its dtype.
func (c *compiler) loadParam(p ir.Param) {
	a := c.a
	k := c.paramIndex[p.Name]
	a.loadMemBase(rax, r12, int32(8*k))
	a.loadIndexed(rax, rax, r15, c.paramWidth[p.Name], c.paramSigned[p.Name])
	a.storeMem(c.slots[p.Name], rax)
}

func (c *compiler) compileBlock(b ir.Block) error {
	for i := range b {
		if err := c.compileStmt(&b[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileStmt(s *ir.Stmt) error {
	switch s.Kind {
	case ir.StmtAssign:
		if err := c.genExpr(s.Assign.Value); err != nil {
			return err
		}
		c.maskToDtype(s.Assign.Dtype)
		c.a.storeMem(c.slots[s.Assign.Name], rax)
		return nil
	case ir.StmtReturn:
		if err := c.genExpr(s.Return.Value); err != nil {
			return err
		}
		c.maskToDtype(c.outputDtype)
		c.a.storeMem(c.retSlot, rax)
		c.a.jmp(c.doneLabel)
		return nil
	case ir.StmtIf:
		return c.compileIf(s.If)
	case ir.StmtFor:
		return c.compileFor(s.For)
	case ir.StmtBreak:
		if len(c.loops) == 0 {
			return fmt.Errorf("embedcc: break outside loop")
		}
		c.a.jmp(c.loops[len(c.loops)-1].breakLabel)
		return nil
	case ir.StmtContinue:
		if len(c.loops) == 0 {
			return fmt.Errorf("embedcc: continue outside loop")
		}
		c.a.jmp(c.loops[len(c.loops)-1].continueLabel)
		return nil
	default:
		return fmt.Errorf("embedcc: unhandled statement kind %s", s.Kind)
	}
}

func (c *compiler) compileIf(n *ir.If) error {
	end := c.a.newLabel("if_end")
	next := c.a.newLabel("if_next")
	if err := c.genExpr(n.Cond); err != nil {
		return err
	}
	c.maskToDtype(n.Cond.Dtype)
	c.a.cmpImm0(rax)
	c.a.jcc(ccE, next)
	if err := c.compileBlock(n.Then); err != nil {
		return err
	}
	c.a.jmp(end)
	for _, elif := range n.Elifs {
		c.a.bind(next)
		next = c.a.newLabel("if_next")
		if err := c.genExpr(elif.Cond); err != nil {
			return err
		}
		c.maskToDtype(elif.Cond.Dtype)
		c.a.cmpImm0(rax)
		c.a.jcc(ccE, next)
		if err := c.compileBlock(elif.Block); err != nil {
			return err
		}
		c.a.jmp(end)
	}
	c.a.bind(next)
	if n.Else != nil {
		if err := c.compileBlock(n.Else); err != nil {
			return err
		}
	}
	c.a.bind(end)
	return nil
}

func (c *compiler) compileFor(n *ir.For) error {
	limitSlot := c.forLimitSlots[c.forIdx]
	c.forIdx++
	varSlot := c.slots[n.Var]
	top := c.a.newLabel("for_top")
	after := c.a.newLabel("for_after")
	cont := c.a.newLabel("for_cont")

	if err := c.genExpr(n.Limit); err != nil {
		return err
	}
	c.maskToDtype(n.Limit.Dtype)
	c.a.storeMem(limitSlot, rax)
	c.a.movImm64(rax, 0)
	c.a.storeMem(varSlot, rax)

	c.a.bind(top)
	c.a.loadMem(rax, varSlot)
	c.a.loadMem(rcx, limitSlot)
	c.a.cmpRR(rax, rcx)
	c.a.jcc(ccGE, after)

	c.loops = append(c.loops, loopCtx{breakLabel: after, continueLabel: cont})
	err := c.compileBlock(n.Body)
	c.loops = c.loops[:len(c.loops)-1]
	if err != nil {
		return err
	}

	c.a.bind(cont)
	c.a.loadMem(rax, varSlot)
	c.a.movImm64(rcx, 1)
	c.a.addRR(rax, rcx)
	c.a.storeMem(varSlot, rax)
	c.a.jmp(top)
	c.a.bind(after)
	return nil
}

// genExpr compiles e's text into an expression AST and emits code
// leaving its value in rax.
func (c *compiler) genExpr(e ir.Expr) error {
	node, err := parseExpr(e.Text)
	if err != nil {
		return err
	}
	return c.genNode(node)
}

func (c *compiler) genNode(n exprNode) error {
	switch v := n.(type) {
	case identNode:
		slot, ok := c.slots[v.name]
		if !ok {
			return fmt.Errorf("embedcc: unknown identifier %q", v.name)
		}
		c.a.loadMem(rax, slot)
		return nil
	case numberNode:
		if containsDot(v.text) {
			return fmt.Errorf("embedcc: floating-point literal %q unsupported by embedded backend", v.text)
		}
		n, err := strconv.ParseInt(v.text, 10, 64)
		if err != nil {
			return fmt.Errorf("embedcc: bad integer literal %q: %w", v.text, err)
		}
		c.a.movImm64(rax, uint64(n))
		return nil
	case unaryNode:
		if err := c.genNode(v.expr); err != nil {
			return err
		}
		switch v.op {
		case tMinus:
			c.a.negR(rax)
		case tTilde:
			c.a.notR(rax)
		case tNot:
			c.a.cmpImm0(rax)
			c.a.setccAl(rax, ccE)
			c.a.movzxAl(rax)
		default:
			return fmt.Errorf("embedcc: unhandled unary operator")
		}
		return nil
	case binaryNode:
		return c.genBinary(v)
	default:
		return fmt.Errorf("embedcc: unhandled expression node")
	}
}

func (c *compiler) genBinary(n binaryNode) error {
	if err := c.genNode(n.left); err != nil {
		return err
	}
	c.a.push(rax)
	if err := c.genNode(n.right); err != nil {
		return err
	}
	c.a.movRR(rcx, rax)
	c.a.pop(rax)

	switch n.op {
	case tPlus:
		c.a.addRR(rax, rcx)
	case tMinus:
		c.a.subRR(rax, rcx)
	case tStar:
		c.a.imulRR(rax, rcx)
	case tSlash:
		c.a.cqo()
		c.a.idivR(rcx)
	case tAmp:
		c.a.andRR(rax, rcx)
	case tPipe:
		c.a.orRR(rax, rcx)
	case tCaret:
		c.a.xorRR(rax, rcx)
	case tShl:
		c.a.shlRCL(rax)
	case tShr:
		c.a.shrRCL(rax)
	case tAnd:
		c.boolify(rax)
		c.a.push(rax)
		c.a.movRR(rax, rcx)
		c.boolify(rax)
		c.a.movRR(rcx, rax)
		c.a.pop(rax)
		c.a.andRR(rax, rcx)
	case tOr:
		c.boolify(rax)
		c.a.push(rax)
		c.a.movRR(rax, rcx)
		c.boolify(rax)
		c.a.movRR(rcx, rax)
		c.a.pop(rax)
		c.a.orRR(rax, rcx)
	case tLt:
		c.a.cmpRR(rax, rcx)
		c.a.setccAl(rax, ccL)
		c.a.movzxAl(rax)
	case tLe:
		c.a.cmpRR(rax, rcx)
		c.a.setccAl(rax, ccLE)
		c.a.movzxAl(rax)
	case tGt:
		c.a.cmpRR(rax, rcx)
		c.a.setccAl(rax, ccG)
		c.a.movzxAl(rax)
	case tGe:
		c.a.cmpRR(rax, rcx)
		c.a.setccAl(rax, ccGE)
		c.a.movzxAl(rax)
	case tEq:
		c.a.cmpRR(rax, rcx)
		c.a.setccAl(rax, ccE)
		c.a.movzxAl(rax)
	case tNe:
		c.a.cmpRR(rax, rcx)
		c.a.setccAl(rax, ccNE)
		c.a.movzxAl(rax)
	default:
		return fmt.Errorf("embedcc: unhandled binary operator")
	}
	return nil
}

// boolify reduces r to 0/1 truthiness (r != 0).
func (c *compiler) boolify(r reg) {
	c.a.cmpImm0(r)
	c.a.setccAl(r, ccNE)
	c.a.movzxAl(r)
}

func (c *compiler) maskToDtype(d dsltypes.Dtype) {
	a := c.a
	switch d {
	case dsltypes.DtypeBool:
		c.boolify(rax)
	case dsltypes.DtypeInt8:
		a.movsxAl(rax)
	case dsltypes.DtypeInt16:
		a.movsxAx(rax)
	case dsltypes.DtypeInt32:
		a.movsxdEax(rax)
	case dsltypes.DtypeUint8:
		a.movzxAl(rax)
	case dsltypes.DtypeUint16:
		a.movzxAx(rax)
	case dsltypes.DtypeUint32:
		a.movRRLow32(rax, rax)
	case dsltypes.DtypeInt64, dsltypes.DtypeUint64:
		// full width already
	}
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
