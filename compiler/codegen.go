package compiler

import (
	"fmt"

	"github.com/pkg/errors"

	"lispmc/machine"
)

// instr is one not-yet-linked instruction: either a resolved
// immediate argument, or a symbolic branch target resolved by link()
// to a PC-relative displacement once every label's address is known.
type instr struct {
	op    machine.Opcode
	arg   int32
	label string
}

// funcInfo records a declared function's entry label and its
// statically allocated parameter slots (§4.C7's calling convention:
// callers STORE into these before CALL; functions are not reentrant
// with respect to their own parameters, §9).
type funcInfo struct {
	label      string
	paramOrder []string
	paramAddr  map[string]uint32
}

// CodeGen lowers a list of top-level AST nodes to a machine.Program.
// It owns the data-section cursor, literal pool, function table and
// current variable scope; one CodeGen lowers exactly one program.
type CodeGen struct {
	instrs      []instr
	labels      map[string]int
	labelSeq    int
	nextAddr    uint32
	data        map[uint32]uint32
	literalPool map[int32]uint32
	funcs       map[string]*funcInfo
	scope       *Scope
}

// NewCodeGen returns a CodeGen ready to lower a program from a clean
// data section (address 0 upward, per §4.C7's monotonically growing
// next_addr cursor).
func NewCodeGen() *CodeGen {
	return &CodeGen{
		labels:      make(map[string]int),
		data:        make(map[uint32]uint32),
		literalPool: make(map[int32]uint32),
		funcs:       make(map[string]*funcInfo),
		scope:       NewScope(nil),
	}
}

// Generate lowers program to a linked machine.Program. Functions are
// collected and given parameter slots before any code is emitted, main's
// body is emitted starting at instruction 0 (so execution needs no
// prologue jump over the function table), and a trailing halt follows
// it; function bodies are appended after that halt, reached only by
// CALL, never by straight-line execution.
func (c *CodeGen) Generate(program []Node) (*machine.Program, error) {
	var defuncs []Defunc
	var mainBody []Node
	for _, n := range program {
		if d, ok := n.(Defunc); ok {
			defuncs = append(defuncs, d)
		} else {
			mainBody = append(mainBody, n)
		}
	}

	for _, d := range defuncs {
		if _, dup := c.funcs[d.Name]; dup {
			return nil, errors.Wrapf(ErrArityMismatch, "function %q declared more than once", d.Name)
		}
		fn := &funcInfo{
			label:      c.newLabel("func_" + d.Name),
			paramOrder: append([]string(nil), d.Params...),
			paramAddr:  make(map[string]uint32, len(d.Params)),
		}
		for _, p := range d.Params {
			fn.paramAddr[p] = c.allocWord()
		}
		c.funcs[d.Name] = fn
	}

	for _, s := range mainBody {
		if err := c.genStmt(s); err != nil {
			return nil, err
		}
	}
	c.emit(machine.Halt, 0)

	for _, d := range defuncs {
		fn := c.funcs[d.Name]
		c.emitLabel(fn.label)

		bodyScope := NewScope(c.scope)
		for _, p := range fn.paramOrder {
			bodyScope.Define(p, fn.paramAddr[p])
		}
		prevScope := c.scope
		c.scope = bodyScope
		for _, s := range d.Body {
			if err := c.genStmt(s); err != nil {
				return nil, errors.Wrapf(err, "in function %q", d.Name)
			}
		}
		c.scope = prevScope
		c.emit(machine.Ret, 0)
	}

	words, err := c.link()
	if err != nil {
		return nil, err
	}
	return &machine.Program{Instructions: words, InitialData: c.data}, nil
}

func (c *CodeGen) emit(op machine.Opcode, arg int32) {
	c.instrs = append(c.instrs, instr{op: op, arg: arg})
}

func (c *CodeGen) emitBranch(op machine.Opcode, label string) {
	c.instrs = append(c.instrs, instr{op: op, label: label})
}

// emitLabel records name at the next instruction slot, after first
// emitting one throwaway ADD-zero landing pad. The JMP/CALL dance
// (uaddr 42-45, see link.go) always lands one instruction short of its
// resolved target, on whatever sits at target-1; the pad makes that
// slot harmless (ACC += 0, no other side effect) and falls through
// normally into the real target on the next tick, so every emitted
// label is safe to branch to regardless of what precedes it.
func (c *CodeGen) emitLabel(name string) {
	c.emit(machine.Add, int32(c.literalAddr(0)))
	c.labels[name] = len(c.instrs)
}

func (c *CodeGen) newLabel(prefix string) string {
	c.labelSeq++
	return fmt.Sprintf("%s_%d", prefix, c.labelSeq)
}

// allocWord reserves one fresh data-section word (used for named
// variables, anonymous temporaries, and the trailing/leading cells of
// arrays and string buffers alike).
func (c *CodeGen) allocWord() uint32 {
	addr := c.nextAddr
	c.nextAddr++
	return addr
}

func (c *CodeGen) allocTemp() uint32 {
	return c.allocWord()
}

// defineVar allocates a one-word scalar slot in the current scope.
func (c *CodeGen) defineVar(name string) uint32 {
	addr := c.allocWord()
	c.scope.Define(name, addr)
	return addr
}

// defineArray reserves size+1 contiguous words: one leading cell
// (used as a length/count field by get/set_get, read_line and
// print_string alike) plus size element slots, and binds name to the
// base address.
func (c *CodeGen) defineArray(name string, size int) uint32 {
	base := c.nextAddr
	c.nextAddr += uint32(size) + 1
	c.scope.Define(name, base)
	return base
}

// literalAddr returns the data-section address of a cell holding v,
// allocating and deduplicating by value (§4.C7: "literal constants
// deduplicated by value via a reverse map").
func (c *CodeGen) literalAddr(v int32) uint32 {
	if addr, ok := c.literalPool[v]; ok {
		return addr
	}
	addr := c.allocWord()
	c.data[addr] = uint32(v)
	c.literalPool[v] = addr
	return addr
}

// foldConst evaluates n at compile time when every leaf is a number
// literal, per §4.C7's "number, or binop of two numbers" constant
// folding rule (applied recursively, a strict superset).
func (c *CodeGen) foldConst(n Node) (int32, bool) {
	switch v := n.(type) {
	case Number:
		return v.Value, true
	case Binop:
		l, ok := c.foldConst(v.Left)
		if !ok {
			return 0, false
		}
		r, ok := c.foldConst(v.Right)
		if !ok {
			return 0, false
		}
		switch v.Op {
		case OpAdd:
			return l + r, true
		case OpSub:
			return l - r, true
		case OpMul:
			return l * r, true
		case OpDiv:
			if r == 0 {
				return 0, true
			}
			return floorDiv(l, r), true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

// floorDiv implements the §4.C7 constant-folding caveat: integer
// division that rounds toward negative infinity, not toward zero.
func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// genStmt lowers one statement-position AST node. All statement
// variants are exhaustively matched; anything else is a fatal
// compile error (kUnknownNode, §7).
func (c *CodeGen) genStmt(n Node) error {
	switch v := n.(type) {
	case Var:
		return c.genVarDecl(v)
	case Set:
		return c.genSet(v)
	case If:
		return c.genIf(v)
	case While:
		return c.genWhile(v)
	case Funcall:
		return c.genFuncall(v)
	case PrintString:
		return c.genPrintString(v)
	case ReadLine:
		return c.genReadLine(v)
	case SetGet:
		return c.genSetGet(v)
	case Defunc:
		return errors.Wrapf(ErrUnknownNode, "nested defunc %q is not supported", v.Name)
	default:
		return errors.Wrapf(ErrUnknownNode, "%T", n)
	}
}

func (c *CodeGen) genVarDecl(v Var) error {
	if v.Size > 0 {
		c.defineArray(v.Name, v.Size)
		return nil
	}
	if str, ok := v.Expr.(Str); ok {
		base := c.defineArray(v.Name, len(str.Value))
		c.data[base] = uint32(len(str.Value))
		for i := 0; i < len(str.Value); i++ {
			c.data[base+1+uint32(i)] = uint32(str.Value[i])
		}
		return nil
	}

	addr := c.defineVar(v.Name)
	if v.Expr == nil {
		return nil
	}
	if val, ok := c.foldConst(v.Expr); ok {
		c.data[addr] = uint32(val)
		return nil
	}
	if err := c.genExpr(v.Expr); err != nil {
		return err
	}
	c.emit(machine.Store, int32(addr))
	return nil
}

func (c *CodeGen) genSet(v Set) error {
	addr, ok := c.scope.Lookup(v.Name)
	if !ok {
		return errors.Wrapf(ErrUndefinedVar, "%s", v.Name)
	}
	if err := c.genExpr(v.Expr); err != nil {
		return err
	}
	c.emit(machine.Store, int32(addr))
	return nil
}

func (c *CodeGen) genIf(v If) error {
	elseLabel := c.newLabel("if_else")
	endLabel := c.newLabel("if_end")

	if err := c.genExpr(v.Cond); err != nil {
		return err
	}
	c.emitBranch(machine.Jz, elseLabel)
	for _, s := range v.Then {
		if err := c.genStmt(s); err != nil {
			return err
		}
	}
	c.emitBranch(machine.Jmp, endLabel)
	c.emitLabel(elseLabel)
	for _, s := range v.Else {
		if err := c.genStmt(s); err != nil {
			return err
		}
	}
	c.emitLabel(endLabel)
	return nil
}

func (c *CodeGen) genWhile(v While) error {
	startLabel := c.newLabel("while_start")
	endLabel := c.newLabel("while_end")

	c.emitLabel(startLabel)
	if err := c.genExpr(v.Cond); err != nil {
		return err
	}
	c.emitBranch(machine.Jz, endLabel)
	for _, s := range v.Body {
		if err := c.genStmt(s); err != nil {
			return err
		}
	}
	c.emitBranch(machine.Jmp, startLabel)
	c.emitLabel(endLabel)
	return nil
}

// genFuncall lowers a call used either as a statement (return value
// discarded) or nested in an expression (result left in ACC by
// whatever the callee last computed): evaluate each argument and
// STORE it into the callee's parameter slot, then CALL.
func (c *CodeGen) genFuncall(v Funcall) error {
	fn, ok := c.funcs[v.Name]
	if !ok {
		return errors.Wrapf(ErrUnknownFunc, "%s", v.Name)
	}
	if len(v.Args) != len(fn.paramOrder) {
		return errors.Wrapf(ErrArityMismatch, "%s: want %d arg(s), got %d", v.Name, len(fn.paramOrder), len(v.Args))
	}
	for i, arg := range v.Args {
		if err := c.genExpr(arg); err != nil {
			return err
		}
		c.emit(machine.Store, int32(fn.paramAddr[fn.paramOrder[i]]))
	}
	c.emitBranch(machine.Call, fn.label)
	return nil
}

// genPrintString lowers print_string. A literal is printed inline,
// character by character, straight from the literal pool. A variable
// is printed as a length-prefixed buffer: mem[addr(var)] is the
// count, mem[addr(var)+1 .. +count] are the characters — the same
// layout genReadLine writes and genSetGet/genGet index into, so a
// numeric-valued variable (no buffer ever written there) prints
// whatever the count and trailing cells happen to hold; this is the
// deliberately unguarded "sharp edge" of printing a non-string
// variable.
func (c *CodeGen) genPrintString(v PrintString) error {
	switch val := v.Value.(type) {
	case Str:
		for i := 0; i < len(val.Value); i++ {
			addr := c.literalAddr(int32(val.Value[i]))
			c.emit(machine.Load, int32(addr))
			c.emit(machine.Out, 0)
		}
		return nil
	case Var:
		return c.genPrintVar(val.Name)
	default:
		return errors.Wrapf(ErrUnknownNode, "print_string: %T", v.Value)
	}
}

func (c *CodeGen) genPrintVar(name string) error {
	addr, ok := c.scope.Lookup(name)
	if !ok {
		return errors.Wrapf(ErrUndefinedVar, "%s", name)
	}

	tempLen := c.allocTemp()
	cursor := c.allocTemp()
	tempEnd := c.allocTemp()
	startLit := c.literalAddr(int32(addr) + 1)
	oneLit := c.literalAddr(1)

	c.emit(machine.Load, int32(addr))
	c.emit(machine.Store, int32(tempLen))
	c.emit(machine.Load, int32(startLit))
	c.emit(machine.Store, int32(cursor))
	c.emit(machine.Load, int32(tempLen))
	c.emit(machine.Add, int32(startLit))
	c.emit(machine.Store, int32(tempEnd))

	loopStart := c.newLabel("pv_loop")
	loopEnd := c.newLabel("pv_end")
	c.emitLabel(loopStart)
	c.emit(machine.Load, int32(cursor))
	c.emit(machine.Sub, int32(tempEnd))
	c.emitBranch(machine.Jz, loopEnd)
	c.emit(machine.LoadAddr, int32(cursor))
	c.emit(machine.Out, 0)
	c.emit(machine.Load, int32(cursor))
	c.emit(machine.Add, int32(oneLit))
	c.emit(machine.Store, int32(cursor))
	c.emitBranch(machine.Jmp, loopStart)
	c.emitLabel(loopEnd)
	return nil
}

// genReadLine reads characters via IN into consecutive slots after
// addr(name) until '\n' (not stored), then stores the count read
// back into addr(name) itself.
func (c *CodeGen) genReadLine(v ReadLine) error {
	addr, ok := c.scope.Lookup(v.Name)
	if !ok {
		return errors.Wrapf(ErrUndefinedVar, "%s", v.Name)
	}

	cursor := c.allocTemp()
	count := c.allocTemp()
	charCell := c.allocTemp()
	startLit := c.literalAddr(int32(addr) + 1)
	oneLit := c.literalAddr(1)
	zeroLit := c.literalAddr(0)
	newlineLit := c.literalAddr('\n')

	c.emit(machine.Load, int32(startLit))
	c.emit(machine.Store, int32(cursor))
	c.emit(machine.Load, int32(zeroLit))
	c.emit(machine.Store, int32(count))

	loopStart := c.newLabel("rl_loop")
	loopEnd := c.newLabel("rl_end")
	c.emitLabel(loopStart)
	c.emit(machine.In, 0)
	c.emit(machine.Store, int32(charCell))
	c.emit(machine.Sub, int32(newlineLit))
	c.emitBranch(machine.Jz, loopEnd)

	c.emit(machine.Load, int32(charCell))
	c.emit(machine.StoreAddr, int32(cursor))
	c.emit(machine.Load, int32(cursor))
	c.emit(machine.Add, int32(oneLit))
	c.emit(machine.Store, int32(cursor))
	c.emit(machine.Load, int32(count))
	c.emit(machine.Add, int32(oneLit))
	c.emit(machine.Store, int32(count))
	c.emitBranch(machine.Jmp, loopStart)
	c.emitLabel(loopEnd)

	c.emit(machine.Load, int32(count))
	c.emit(machine.Store, int32(addr))
	return nil
}

// genSetGet assigns expr to array[index]: the target address
// (addr(array)+1+index) is computed first into a temp so evaluating
// expr afterward is free to clobber ACC.
func (c *CodeGen) genSetGet(v SetGet) error {
	addr, ok := c.scope.Lookup(v.Array)
	if !ok {
		return errors.Wrapf(ErrUndefinedVar, "%s", v.Array)
	}
	tempAddr := c.allocTemp()
	startLit := c.literalAddr(int32(addr) + 1)

	if err := c.genExpr(v.Index); err != nil {
		return err
	}
	c.emit(machine.Add, int32(startLit))
	c.emit(machine.Store, int32(tempAddr))

	if err := c.genExpr(v.Expr); err != nil {
		return err
	}
	c.emit(machine.StoreAddr, int32(tempAddr))
	return nil
}

func (c *CodeGen) genGet(v Get) error {
	addr, ok := c.scope.Lookup(v.Array)
	if !ok {
		return errors.Wrapf(ErrUndefinedVar, "%s", v.Array)
	}
	tempAddr := c.allocTemp()
	startLit := c.literalAddr(int32(addr) + 1)

	if err := c.genExpr(v.Index); err != nil {
		return err
	}
	c.emit(machine.Add, int32(startLit))
	c.emit(machine.Store, int32(tempAddr))
	c.emit(machine.LoadAddr, int32(tempAddr))
	return nil
}

// genExpr lowers an expression, leaving its value in ACC (§4.C7:
// "all expressions produce their value in ACC").
func (c *CodeGen) genExpr(n Node) error {
	switch v := n.(type) {
	case Number:
		c.emit(machine.Load, int32(c.literalAddr(v.Value)))
		return nil
	case Var:
		addr, ok := c.scope.Lookup(v.Name)
		if !ok {
			return errors.Wrapf(ErrUndefinedVar, "%s", v.Name)
		}
		c.emit(machine.Load, int32(addr))
		return nil
	case Str:
		base := c.internAnonString(v.Value)
		c.emit(machine.Load, int32(c.literalAddr(int32(base))))
		return nil
	case Binop:
		return c.genBinop(v)
	case Get:
		return c.genGet(v)
	case Funcall:
		return c.genFuncall(v)
	default:
		return errors.Wrapf(ErrUnknownNode, "%T", n)
	}
}

// internAnonString reserves a length-prefixed buffer for a string
// literal used as a value (not directly printed): count at base,
// characters at base+1.., the same shape genPrintVar reads. Returns
// the buffer's base address, used as that string's compile-time
// constant handle.
func (c *CodeGen) internAnonString(value string) uint32 {
	base := c.nextAddr
	c.nextAddr += uint32(len(value)) + 1
	c.data[base] = uint32(len(value))
	for i := 0; i < len(value); i++ {
		c.data[base+1+uint32(i)] = uint32(value[i])
	}
	return base
}

func (c *CodeGen) genBinop(v Binop) error {
	tempA := c.allocTemp()
	if err := c.genExpr(v.Left); err != nil {
		return err
	}
	c.emit(machine.Store, int32(tempA))

	tempB := c.allocTemp()
	if err := c.genExpr(v.Right); err != nil {
		return err
	}
	c.emit(machine.Store, int32(tempB))

	c.emit(machine.Load, int32(tempA))

	if op, ok := arithOpcode(v.Op); ok {
		c.emit(op, int32(tempB))
		return nil
	}

	branchOp, ok := compareOpcode(v.Op)
	if !ok {
		return errors.Errorf("unsupported binary operator %q", v.Op)
	}
	c.emit(machine.Sub, int32(tempB))

	// A taken branch leaves its own address in ACC (uaddr 42), so each
	// arm stores its 0/1 into tempA and the result is reloaded after
	// the end label.
	trueLabel := c.newLabel("cmp_true")
	endLabel := c.newLabel("cmp_end")
	c.emitBranch(branchOp, trueLabel)
	c.emit(machine.Load, int32(c.literalAddr(0)))
	c.emit(machine.Store, int32(tempA))
	c.emitBranch(machine.Jmp, endLabel)
	c.emitLabel(trueLabel)
	c.emit(machine.Load, int32(c.literalAddr(1)))
	c.emit(machine.Store, int32(tempA))
	c.emitLabel(endLabel)
	c.emit(machine.Load, int32(tempA))
	return nil
}

func arithOpcode(op BinOp) (machine.Opcode, bool) {
	switch op {
	case OpAdd:
		return machine.Add, true
	case OpSub:
		return machine.Sub, true
	case OpMul:
		return machine.Mul, true
	case OpDiv:
		return machine.Div, true
	default:
		return 0, false
	}
}

func compareOpcode(op BinOp) (machine.Opcode, bool) {
	switch op {
	case OpEq:
		return machine.Jz, true
	case OpNe:
		return machine.Jnz, true
	case OpLt:
		return machine.Jlt, true
	case OpGt:
		return machine.Jgt, true
	default:
		return 0, false
	}
}
