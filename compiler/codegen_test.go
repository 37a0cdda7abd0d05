package compiler

import (
	"testing"

	"lispmc/machine"
)

// runProgram compiles nodes and executes the result to completion,
// returning the final machine state and its collected output.
func runProgram(t *testing.T, nodes []Node, input []byte) (*machine.State, string) {
	t.Helper()
	program, err := NewCodeGen().Generate(nodes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ports := machine.NewPorts(input)
	state := machine.NewState(program.Instructions, program.InitialData, ports)
	engine := machine.NewEngine(state, nil)
	engine.Run()
	if !state.Halted {
		t.Fatal("program did not halt")
	}
	return state, ports.Output()
}

// Scenario 1: print a string literal.
func TestHelloWorld(t *testing.T) {
	nodes := []Node{
		PrintString{Value: Str{Value: "Hi"}},
	}
	_, output := runProgram(t, nodes, nil)
	if output != "Hi" {
		t.Errorf("output = %q, want %q", output, "Hi")
	}
}

// Scenario 2: read a line into a variable, then echo it back.
func TestReadLineThenPrint(t *testing.T) {
	nodes := []Node{
		Var{Name: "x", Size: 16},
		ReadLine{Name: "x"},
		PrintString{Value: Var{Name: "x"}},
	}
	_, output := runProgram(t, nodes, []byte("abc\n"))
	if output != "abc" {
		t.Errorf("output = %q, want %q", output, "abc")
	}
}

// Scenario 4: a while loop counting up, emitting one character per
// iteration to make the trip count observable.
func TestWhileLoop(t *testing.T) {
	nodes := []Node{
		Var{Name: "i", Expr: Number{Value: 0}},
		While{
			Cond: Binop{Op: OpLt, Left: Var{Name: "i"}, Right: Number{Value: 3}},
			Body: []Node{
				PrintString{Value: Str{Value: "x"}},
				Set{Name: "i", Expr: Binop{Op: OpAdd, Left: Var{Name: "i"}, Right: Number{Value: 1}}},
			},
		},
	}
	gen := NewCodeGen()
	program, err := gen.Generate(nodes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	iAddr, ok := gen.scope.Lookup("i")
	if !ok {
		t.Fatal("i not defined")
	}

	ports := machine.NewPorts(nil)
	state := machine.NewState(program.Instructions, program.InitialData, ports)
	engine := machine.NewEngine(state, nil)
	engine.Run()
	if ports.Output() != "xxx" {
		t.Errorf("output = %q, want %q", ports.Output(), "xxx")
	}
	if got := state.ReadData(iAddr); got != 3 {
		t.Errorf("final i = %d, want 3", got)
	}
}

// Scenario 6: a function call with a static parameter slot. The
// callee leaves its result in its own parameter slot, not in a
// caller-visible return register (§4.C7's non-reentrant calling
// convention), so the test reads that slot back directly.
func TestFunctionCall(t *testing.T) {
	nodes := []Node{
		Defunc{
			Name:   "addone",
			Params: []string{"x"},
			Body: []Node{
				Set{Name: "x", Expr: Binop{Op: OpAdd, Left: Var{Name: "x"}, Right: Number{Value: 1}}},
			},
		},
		Funcall{Name: "addone", Args: []Node{Number{Value: 41}}},
	}
	gen := NewCodeGen()
	program, err := gen.Generate(nodes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	paramAddr := gen.funcs["addone"].paramAddr["x"]

	ports := machine.NewPorts(nil)
	state := machine.NewState(program.Instructions, program.InitialData, ports)
	engine := machine.NewEngine(state, nil)
	engine.Run()
	if !state.Halted {
		t.Fatal("program did not halt")
	}
	if got := state.ReadData(paramAddr); got != 42 {
		t.Errorf("addone(41) param slot = %d, want 42", got)
	}
}

func TestIfElse(t *testing.T) {
	nodes := []Node{
		Var{Name: "n", Expr: Number{Value: 5}},
		If{
			Cond: Binop{Op: OpGt, Left: Var{Name: "n"}, Right: Number{Value: 0}},
			Then: []Node{PrintString{Value: Str{Value: "pos"}}},
			Else: []Node{PrintString{Value: Str{Value: "neg"}}},
		},
	}
	_, output := runProgram(t, nodes, nil)
	if output != "pos" {
		t.Errorf("output = %q, want %q", output, "pos")
	}
}

func TestConstantFoldedArithmetic(t *testing.T) {
	gen := NewCodeGen()
	nodes := []Node{
		Var{Name: "sum", Expr: Binop{Op: OpAdd, Left: Number{Value: 2}, Right: Number{Value: 3}}},
	}
	program, err := gen.Generate(nodes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	addr, ok := gen.scope.Lookup("sum")
	if !ok {
		t.Fatal("sum not defined")
	}
	if got := program.InitialData[addr]; got != 5 {
		t.Errorf("folded sum = %d, want 5", got)
	}
}

func TestGetSetGetArray(t *testing.T) {
	nodes := []Node{
		Var{Name: "arr", Size: 4},
		SetGet{Array: "arr", Index: Number{Value: 2}, Expr: Number{Value: 99}},
		Var{Name: "got", Expr: Get{Array: "arr", Index: Number{Value: 2}}},
	}
	gen := NewCodeGen()
	program, err := gen.Generate(nodes)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	arrAddr, _ := gen.scope.Lookup("arr")
	gotAddr, _ := gen.scope.Lookup("got")

	ports := machine.NewPorts(nil)
	state := machine.NewState(program.Instructions, program.InitialData, ports)
	engine := machine.NewEngine(state, nil)
	engine.Run()
	if got := state.ReadData(arrAddr + 1 + 2); got != 99 {
		t.Errorf("arr[2] = %d, want 99", got)
	}
	if got := state.ReadData(gotAddr); got != 99 {
		t.Errorf("get arr[2] = %d, want 99", got)
	}
}

func TestUndefinedVariableIsAnError(t *testing.T) {
	nodes := []Node{
		Set{Name: "nope", Expr: Number{Value: 1}},
	}
	_, err := NewCodeGen().Generate(nodes)
	if err == nil {
		t.Fatal("expected an error for an undefined variable")
	}
}

func TestArityMismatchIsAnError(t *testing.T) {
	nodes := []Node{
		Defunc{Name: "f", Params: []string{"a", "b"}, Body: nil},
		Funcall{Name: "f", Args: []Node{Number{Value: 1}}},
	}
	_, err := NewCodeGen().Generate(nodes)
	if err == nil {
		t.Fatal("expected an arity-mismatch error")
	}
}

func TestUnknownFunctionIsAnError(t *testing.T) {
	nodes := []Node{
		Funcall{Name: "ghost", Args: nil},
	}
	_, err := NewCodeGen().Generate(nodes)
	if err == nil {
		t.Fatal("expected an error calling an undeclared function")
	}
}
