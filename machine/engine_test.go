package machine

import "testing"

func runToHalt(t *testing.T, instrs []Word, data map[uint32]uint32, input []byte) (*State, *Engine) {
	t.Helper()
	ports := NewPorts(input)
	state := NewState(instrs, data, ports)
	engine := NewEngine(state, nil)
	engine.Run()
	if !state.Halted {
		t.Fatal("machine did not halt")
	}
	return state, engine
}

func TestHaltInstruction(t *testing.T) {
	instrs := []Word{Encode(Halt, 0)}
	state, engine := runToHalt(t, instrs, nil, nil)
	if engine.HaltReason != HaltInstruction {
		t.Errorf("HaltReason = %v, want %v", engine.HaltReason, HaltInstruction)
	}
	if state.UPC != 0 {
		t.Errorf("uPC after halt = %d, want 0 (HALT's own microword sets NextU=uFetch)", state.UPC)
	}
}

func TestLoadAddAndStore(t *testing.T) {
	// data[0] = 10, data[1] = 32; ACC := data[0] + data[1]; data[2] := ACC; halt.
	instrs := []Word{
		Encode(Load, 0),
		Encode(Add, 1),
		Encode(Store, 2),
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 10, 1: 32}
	state, _ := runToHalt(t, instrs, data, nil)
	if got := state.ReadData(2); got != 42 {
		t.Errorf("data[2] = %d, want 42", got)
	}
}

func TestUnsetDataDefaultsToZero(t *testing.T) {
	if got := (&State{Data: map[uint32]uint32{}}).ReadData(99); got != 0 {
		t.Errorf("ReadData of an unset address = %d, want 0", got)
	}
}

func TestUnknownOpcodeHalts(t *testing.T) {
	// Opcode 0x15 is outside the defined table (reserved 0x15-0x1F).
	instrs := []Word{Encode(Opcode(0x15), 0)}
	_, engine := runToHalt(t, instrs, nil, nil)
	if engine.HaltReason != HaltUnknownOpcode {
		t.Errorf("HaltReason = %v, want %v", engine.HaltReason, HaltUnknownOpcode)
	}
}

func TestIPOutOfRangeHalts(t *testing.T) {
	_, engine := runToHalt(t, nil, nil, nil)
	if engine.HaltReason != HaltInstrOutOfRange {
		t.Errorf("HaltReason = %v, want %v", engine.HaltReason, HaltInstrOutOfRange)
	}
}

func TestInputExhaustionHalts(t *testing.T) {
	instrs := []Word{Encode(In, 0), Encode(Halt, 0)}
	_, engine := runToHalt(t, instrs, nil, nil)
	if engine.HaltReason != HaltInputExhausted {
		t.Errorf("HaltReason = %v, want %v", engine.HaltReason, HaltInputExhausted)
	}
}

func TestInOutEcho(t *testing.T) {
	instrs := []Word{
		Encode(In, 0),
		Encode(Out, 0),
		Encode(Halt, 0),
	}
	ports := NewPorts([]byte("A"))
	state := NewState(instrs, nil, ports)
	engine := NewEngine(state, nil)
	engine.Run()
	if got := ports.Output(); got != "A" {
		t.Errorf("output = %q, want %q", got, "A")
	}
}

// JMP's argument is a PC-relative displacement (pc + arg, via the
// capture/bypass/add microprogram at uaddr 42-45): at pc=0 an arg of 2
// lands on instruction 2, skipping the store at instruction 1.
func TestJumpSkipsInstruction(t *testing.T) {
	instrs := []Word{
		Encode(Jmp, 2),
		Encode(Store, 0), // skipped
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 7}
	state, _ := runToHalt(t, instrs, data, nil)
	if got := state.ReadData(0); got != 7 {
		t.Errorf("data[0] = %d, want 7 (store at instruction 1 must be skipped)", got)
	}
}

// CALL's argument is the same PC-relative displacement JMP uses (it
// falls into the same capture/bypass/add microprogram after pushing
// its return address, pc+1); RET must land back on the instruction
// after CALL.
func TestCallThenRet(t *testing.T) {
	// 0: call 4   (pushes return address 1, jumps to the bare "ret" at 4)
	// 1: load 1   (must run after RET resumes here)
	// 2: store 0
	// 3: halt
	// 4: ret
	instrs := []Word{
		Encode(Call, 4),
		Encode(Load, 1),
		Encode(Store, 0),
		Encode(Halt, 0),
		Encode(Ret, 0),
	}
	data := map[uint32]uint32{0: 0, 1: 123}
	state, _ := runToHalt(t, instrs, data, nil)
	if got := state.ReadData(0); got != 123 {
		t.Errorf("data[0] = %d, want 123 (RET must resume at the instruction after CALL)", got)
	}
}

func TestZeroAndNegativeFlags(t *testing.T) {
	// ACC := 5 - 5 = 0; Z should be set. The flags are read right after
	// SUB's ALU tick (uaddr uSub+2), before later ticks overwrite them.
	instrs := []Word{
		Encode(Load, 0),
		Encode(Sub, 1),
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 5, 1: 5}
	state := NewState(instrs, data, NewPorts(nil))
	engine := NewEngine(state, nil)
	for state.UPC != uSub+3 {
		if engine.Step() {
			t.Fatal("machine halted before SUB's ALU tick")
		}
	}
	if !state.Z {
		t.Error("Z flag should be set after 5 - 5")
	}
	if state.N {
		t.Error("N flag should be clear after 5 - 5")
	}
}

func TestConditionalBranchNotTaken(t *testing.T) {
	// ACC := 1; JZ 99 (not taken, ACC != 0); store 0; halt.
	instrs := []Word{
		Encode(Load, 1),
		Encode(Jz, 99),
		Encode(Store, 0),
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 0, 1: 1}
	state, _ := runToHalt(t, instrs, data, nil)
	if got := state.ReadData(0); got != 1 {
		t.Errorf("data[0] = %d, want 1 (the untaken JZ must fall through)", got)
	}
}

func TestDivisionByZeroYieldsZero(t *testing.T) {
	instrs := []Word{
		Encode(Load, 0),
		Encode(Div, 1),
		Encode(Store, 2),
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 10, 1: 0}
	state, _ := runToHalt(t, instrs, data, nil)
	if got := state.ReadData(2); got != 0 {
		t.Errorf("data[2] = %d, want 0 (division by zero must not fault)", got)
	}
}

func TestUPCAlwaysInRange(t *testing.T) {
	instrs := []Word{
		Encode(Load, 0),
		Encode(Add, 1),
		Encode(Store, 2),
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 1, 1: 2}
	ports := NewPorts(nil)
	state := NewState(instrs, data, ports)
	engine := NewEngine(state, nil)
	for !state.Halted {
		if state.UPC > 63 {
			t.Fatalf("uPC = %d, out of [0,63] range", state.UPC)
		}
		engine.Step()
	}
}

func TestLoadAddrStoreAddrIndirection(t *testing.T) {
	// data[0] = 5 (a pointer), data[5] = 77. load_addr 0 should read
	// through the pointer and load 77 into ACC, then store_addr 0
	// should write ACC back through the same pointer into data[5].
	instrs := []Word{
		Encode(LoadAddr, 0),
		Encode(Store, 1), // data[1] := 77, to check the read side
		Encode(Load, 2),  // ACC := data[2] (= 55)
		Encode(StoreAddr, 0),
		Encode(Halt, 0),
	}
	data := map[uint32]uint32{0: 5, 2: 55, 5: 77}
	state, _ := runToHalt(t, instrs, data, nil)
	if got := state.ReadData(1); got != 77 {
		t.Errorf("data[1] = %d, want 77 (load_addr must indirect through data[0])", got)
	}
	if got := state.ReadData(5); got != 55 {
		t.Errorf("data[5] = %d, want 55 (store_addr must indirect through data[0])", got)
	}
}
