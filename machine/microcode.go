package machine

// Microword is one 27-bit control word: the fields a single tick of
// the microcycle engine reads to drive the ALU and latches. It is
// kept unpacked (one Go field per control line) rather than as a raw
// uint32 — the engine reads every field every tick, and a struct
// avoids re-deriving masks/shifts on the hot path. Pack/Unpack convert
// to and from the 27-bit wire layout pinned in spec §3.
type Microword struct {
	Halted bool
	AccL   bool
	Dal    bool
	MemL   bool
	SpL    bool
	DrL    bool
	OutL   bool
	IpL    bool
	AdrSel bool
	IoSel  bool
	Cla    byte // 2 bits: ALU left operand select
	Cld    byte // 2 bits: ALU right operand select
	IpSel  bool
	AluOp  byte // 3 bits
	Cond   byte // 3 bits
	NextU  byte // 6 bits: micro-address to take when Cond is satisfied
}

// ALU left-operand (cla) and right-operand (cld) selectors.
const (
	claZero byte = 0
	claAcc  byte = 1
	claSp   byte = 2

	cldZero byte = 0
	cldDr   byte = 1
	cldIp   byte = 2
)

// ALU operations (alu_op).
const (
	aluAdd   byte = 0 // L + R
	aluSub   byte = 1 // L - R
	aluMul   byte = 2 // L * R
	aluDiv   byte = 3 // L / R, 0 when R == 0
	aluAddC1 byte = 4 // L + R + 1
	aluSubC1 byte = 5 // L + R - 1
)

// Condition codes (cond): when the condition holds, the next micro-PC
// is NextU; otherwise it is (uPC+1)&0x3F.
const (
	condNever    byte = 0b000
	condAlways   byte = 0b001
	condZ        byte = 0b010
	condN        byte = 0b011
	condNotZ     byte = 0b100
	condNotNNotZ byte = 0b101
)

// Pack encodes a Microword into its 27-bit wire representation,
// MSB-to-LSB as pinned in spec §3.
func (m Microword) Pack() uint32 {
	var w uint32
	setBit := func(bit uint, v bool) {
		if v {
			w |= 1 << bit
		}
	}
	setBit(26, m.Halted)
	setBit(25, m.AccL)
	setBit(24, m.Dal)
	setBit(23, m.MemL)
	setBit(22, m.SpL)
	setBit(21, m.DrL)
	setBit(20, m.OutL)
	setBit(19, m.IpL)
	setBit(18, m.AdrSel)
	setBit(17, m.IoSel)
	w |= uint32(m.Cla&0x3) << 15
	w |= uint32(m.Cld&0x3) << 13
	setBit(12, m.IpSel)
	w |= uint32(m.AluOp&0x7) << 9
	w |= uint32(m.Cond&0x7) << 6
	w |= uint32(m.NextU & 0x3F)
	return w
}

// UnpackMicroword decodes a 27-bit wire value back into a Microword.
func UnpackMicroword(w uint32) Microword {
	bit := func(n uint) bool { return w&(1<<n) != 0 }
	return Microword{
		Halted: bit(26),
		AccL:   bit(25),
		Dal:    bit(24),
		MemL:   bit(23),
		SpL:    bit(22),
		DrL:    bit(21),
		OutL:   bit(20),
		IpL:    bit(19),
		AdrSel: bit(18),
		IoSel:  bit(17),
		Cla:    byte(w>>15) & 0x3,
		Cld:    byte(w>>13) & 0x3,
		IpSel:  bit(12),
		AluOp:  byte(w>>9) & 0x7,
		Cond:   byte(w>>6) & 0x7,
		NextU:  byte(w) & 0x3F,
	}
}

// Fixed micro-addresses referenced by name elsewhere in the engine.
const (
	uFetch     = 0
	uLoad      = 1
	uStore     = 5
	uCall      = 8
	uRet       = 11
	uAdd       = 15
	uSub       = 19
	uMul       = 23
	uDiv       = 27
	uPush      = 31
	uPop       = 35
	uIn        = 40
	uOut       = 41
	uJmpBase   = 42
	uJz        = 46
	uJnz       = 48
	uJlt       = 50
	uJgt       = 52
	uHalt      = 54
	uLoadAddr  = 55
	uStoreAddr = 60

	numMicroAddrs = 64
)

// ROM is the 64-entry control store plus the opcode-to-entry-point
// table. Both are produced by BuildROM as immutable values — no
// microword is ever written by index at import time (spec §9's
// redesign of the source's init-time-indexed ROM table).
type ROM struct {
	Words        [numMicroAddrs]Microword
	EntryForCode [1 << numOpcodeBits]uint8
	EntryValid   [1 << numOpcodeBits]bool
}

// advanceIP is the (cla, cld, aluOp) triple that computes IP+1,
// reused by every macro-instruction's end-of-execution step.
func advanceIP() (cla, cld, aluOp byte) { return claZero, cldIp, aluAddC1 }

func ipAdvanceMicroword(next byte, always bool) Microword {
	cla, cld, aluOp := advanceIP()
	cond := condNever
	if always {
		cond = condAlways
	}
	return Microword{Cla: cla, Cld: cld, AluOp: aluOp, IpL: true, Cond: cond, NextU: next}
}

// BuildROM constructs the 64-entry control store described in
// spec §4.C2. Each macro-instruction is a short straight-line
// microprogram: intermediate steps use Cond=condNever so the engine
// falls through to the next micro-address, and the final step of
// every macro-instruction uses Cond=condAlways with NextU=uFetch so
// the microcycle engine's uPC-wrap-to-0 guard triggers the next fetch.
func BuildROM() ROM {
	var rom ROM

	fallthroughTo := func(next byte) Microword {
		return Microword{Cond: condNever, NextU: next}
	}
	terminal := func() Microword {
		return Microword{Cond: condAlways, NextU: uFetch}
	}

	// uFetch: placeholder tick costing one micro-cycle; IP is latched
	// back to itself (alu = 0 + IP) so the tick has no observable
	// effect. In practice this entry is never reached as a live
	// microstep since Fetch always overwrites uPC with the target
	// opcode's entry before the next microstep runs.
	rom.Words[uFetch] = Microword{Cla: claZero, Cld: cldIp, AluOp: aluAdd, IpL: true, Cond: condAlways, NextU: uFetch}

	// LOAD (1-4): DataA := ARG; DR := mem[DataA]; ACC := DR; IP++.
	rom.Words[uLoad+0] = fallthroughTo(uLoad + 1)
	rom.Words[uLoad+0].Dal, rom.Words[uLoad+0].AdrSel = true, true
	rom.Words[uLoad+1] = fallthroughTo(uLoad + 2)
	rom.Words[uLoad+1].DrL = true
	rom.Words[uLoad+2] = fallthroughTo(uLoad + 3)
	rom.Words[uLoad+2].Cla, rom.Words[uLoad+2].Cld, rom.Words[uLoad+2].AluOp = claZero, cldDr, aluAdd
	rom.Words[uLoad+2].AccL = true
	rom.Words[uLoad+3] = ipAdvanceMicroword(uFetch, true)

	// STORE (5-7): DataA := ARG; mem[DataA] := ACC; IP++.
	rom.Words[uStore+0] = fallthroughTo(uStore + 1)
	rom.Words[uStore+0].Dal, rom.Words[uStore+0].AdrSel = true, true
	rom.Words[uStore+1] = fallthroughTo(uStore + 2)
	rom.Words[uStore+1].MemL = true
	rom.Words[uStore+2] = ipAdvanceMicroword(uFetch, true)

	// CALL (8-10): ACC := IP+1; DataA := SP-1 (=alu), mem[DataA] := ACC,
	// SP := alu, all in one tick since dal/mem_l/sp_l can share the
	// same ALU result; then fall into the JMP base dance (42) to land
	// IP at the call target, the same way JMP does.
	rom.Words[uCall+0] = fallthroughTo(uCall + 1)
	rom.Words[uCall+0].Cla, rom.Words[uCall+0].Cld, rom.Words[uCall+0].AluOp = claZero, cldIp, aluAddC1
	rom.Words[uCall+0].AccL = true
	rom.Words[uCall+1] = fallthroughTo(uCall + 2)
	rom.Words[uCall+1].Cla, rom.Words[uCall+1].Cld, rom.Words[uCall+1].AluOp = claSp, cldZero, aluSubC1
	rom.Words[uCall+1].Dal, rom.Words[uCall+1].MemL, rom.Words[uCall+1].SpL = true, true, true
	rom.Words[uCall+2] = Microword{Cond: condAlways, NextU: uJmpBase}

	// RET (11-14): DataA := SP; DR := mem[DataA]; IP := DR; SP := SP+1.
	rom.Words[uRet+0] = fallthroughTo(uRet + 1)
	rom.Words[uRet+0].Dal, rom.Words[uRet+0].Cla, rom.Words[uRet+0].Cld, rom.Words[uRet+0].AluOp = true, claSp, cldZero, aluAdd
	rom.Words[uRet+1] = fallthroughTo(uRet + 2)
	rom.Words[uRet+1].DrL = true
	rom.Words[uRet+2] = fallthroughTo(uRet + 3)
	rom.Words[uRet+2].Cla, rom.Words[uRet+2].Cld, rom.Words[uRet+2].AluOp = claZero, cldDr, aluAdd
	rom.Words[uRet+2].IpL = true
	rom.Words[uRet+3] = terminal()
	rom.Words[uRet+3].Cla, rom.Words[uRet+3].Cld, rom.Words[uRet+3].AluOp = claSp, cldZero, aluAddC1
	rom.Words[uRet+3].SpL = true

	// ADD/SUB/MUL/DIV (15-30): DataA := ARG; DR := mem[DataA];
	// ACC := ACC <op> DR; IP++. Four instructions of four ticks each.
	arith := []struct {
		base  byte
		aluOp byte
	}{{uAdd, aluAdd}, {uSub, aluSub}, {uMul, aluMul}, {uDiv, aluDiv}}
	for _, a := range arith {
		rom.Words[a.base+0] = fallthroughTo(a.base + 1)
		rom.Words[a.base+0].Dal, rom.Words[a.base+0].AdrSel = true, true
		rom.Words[a.base+1] = fallthroughTo(a.base + 2)
		rom.Words[a.base+1].DrL = true
		rom.Words[a.base+2] = fallthroughTo(a.base + 3)
		rom.Words[a.base+2].Cla, rom.Words[a.base+2].Cld, rom.Words[a.base+2].AluOp = claAcc, cldDr, a.aluOp
		rom.Words[a.base+2].AccL = true
		rom.Words[a.base+3] = ipAdvanceMicroword(uFetch, true)
	}

	// PUSH (31-34): SP := SP-1; DataA := SP; mem[DataA] := ACC; IP++.
	rom.Words[uPush+0] = fallthroughTo(uPush + 1)
	rom.Words[uPush+0].Cla, rom.Words[uPush+0].Cld, rom.Words[uPush+0].AluOp = claSp, cldZero, aluSubC1
	rom.Words[uPush+0].SpL = true
	rom.Words[uPush+1] = fallthroughTo(uPush + 2)
	rom.Words[uPush+1].Dal, rom.Words[uPush+1].Cla, rom.Words[uPush+1].Cld, rom.Words[uPush+1].AluOp = true, claSp, cldZero, aluAdd
	rom.Words[uPush+2] = fallthroughTo(uPush + 3)
	rom.Words[uPush+2].MemL = true
	rom.Words[uPush+3] = ipAdvanceMicroword(uFetch, true)

	// POP (35-39): DataA := SP; DR := mem[DataA]; ACC := DR; SP := SP+1; IP++.
	rom.Words[uPop+0] = fallthroughTo(uPop + 1)
	rom.Words[uPop+0].Dal, rom.Words[uPop+0].Cla, rom.Words[uPop+0].Cld, rom.Words[uPop+0].AluOp = true, claSp, cldZero, aluAdd
	rom.Words[uPop+1] = fallthroughTo(uPop + 2)
	rom.Words[uPop+1].DrL = true
	rom.Words[uPop+2] = fallthroughTo(uPop + 3)
	rom.Words[uPop+2].Cla, rom.Words[uPop+2].Cld, rom.Words[uPop+2].AluOp = claZero, cldDr, aluAdd
	rom.Words[uPop+2].AccL = true
	rom.Words[uPop+3] = fallthroughTo(uPop + 4)
	rom.Words[uPop+3].Cla, rom.Words[uPop+3].Cld, rom.Words[uPop+3].AluOp = claSp, cldZero, aluAddC1
	rom.Words[uPop+3].SpL = true
	rom.Words[uPop+4] = ipAdvanceMicroword(uFetch, true)

	// IN (40): ACC := next input char, or halt if exhausted; IP++ in
	// the same tick — acc_l's io_sel path doesn't consume the ALU
	// result, leaving it free for the IP+1 computation.
	rom.Words[uIn] = ipAdvanceMicroword(uFetch, true)
	rom.Words[uIn].AccL, rom.Words[uIn].IoSel = true, true

	// OUT (41): emit chr(ACC&0xFF); IP++ in the same tick.
	rom.Words[uOut] = ipAdvanceMicroword(uFetch, true)
	rom.Words[uOut].OutL = true

	// JMP (42-45): the branch target is linked as a PC-relative
	// displacement (target − (pc + 1)), so landing on it takes three
	// ticks, not one direct assignment:
	//   42: ACC := IP (captures the jump instruction's own address)
	//   43: IP := ARG, via the ip_sel bypass (the ALU has no ARG
	//       operand select, so this is the only way ARG ever reaches
	//       a register)
	//   44: IP := ACC + IP (old IP + ARG, now that IP holds ARG)
	//   45: terminal, next fetch
	// This lands at pc + arg = pc + (target − pc − 1) = target − 1,
	// one short of the label — an off-by-one baked into the displacement
	// convention itself, reproduced here rather than silently corrected.
	rom.Words[uJmpBase+0] = fallthroughTo(uJmpBase + 1)
	rom.Words[uJmpBase+0].Cla, rom.Words[uJmpBase+0].Cld, rom.Words[uJmpBase+0].AluOp = claZero, cldIp, aluAdd
	rom.Words[uJmpBase+0].AccL = true
	rom.Words[uJmpBase+1] = fallthroughTo(uJmpBase + 2)
	rom.Words[uJmpBase+1].IpL, rom.Words[uJmpBase+1].IpSel = true, true
	rom.Words[uJmpBase+2] = fallthroughTo(uJmpBase + 3)
	rom.Words[uJmpBase+2].Cla, rom.Words[uJmpBase+2].Cld, rom.Words[uJmpBase+2].AluOp = claAcc, cldIp, aluAdd
	rom.Words[uJmpBase+2].IpL = true
	rom.Words[uJmpBase+3] = terminal()

	// JZ/JNZ/JLT/JGT (46-53): test ACC's flags (alu = ACC + 0, no
	// latch applied) and branch to uJmpBase if true, else fall
	// through to an IP++ step that ends the macro-instruction.
	cond := []struct {
		base byte
		code byte
	}{{uJz, condZ}, {uJnz, condNotZ}, {uJlt, condN}, {uJgt, condNotNNotZ}}
	for _, c := range cond {
		test := Microword{Cla: claAcc, Cld: cldZero, AluOp: aluAdd, Cond: c.code, NextU: uJmpBase}
		rom.Words[c.base+0] = test
		rom.Words[c.base+1] = ipAdvanceMicroword(uFetch, true)
	}

	// HALT (54): set the halted latch. uPC still takes NextU (uFetch)
	// this tick, but the engine, now halted, never fetches again.
	rom.Words[uHalt] = Microword{Halted: true, Cond: condAlways, NextU: uFetch}

	// LOAD_ADDR (55-59): DataA := ARG (adr_sel bypasses the ALU, so
	// the same tick also advances IP via ip_l/alu); DR := mem[DataA];
	// DataA := DR; DR := mem[DataA]; ACC := DR.
	rom.Words[uLoadAddr+0] = fallthroughTo(uLoadAddr + 1)
	rom.Words[uLoadAddr+0].Dal, rom.Words[uLoadAddr+0].AdrSel = true, true
	rom.Words[uLoadAddr+0].Cla, rom.Words[uLoadAddr+0].Cld, rom.Words[uLoadAddr+0].AluOp = claZero, cldIp, aluAddC1
	rom.Words[uLoadAddr+0].IpL = true
	rom.Words[uLoadAddr+1] = fallthroughTo(uLoadAddr + 2)
	rom.Words[uLoadAddr+1].DrL = true
	rom.Words[uLoadAddr+2] = fallthroughTo(uLoadAddr + 3)
	rom.Words[uLoadAddr+2].Dal, rom.Words[uLoadAddr+2].Cla, rom.Words[uLoadAddr+2].Cld, rom.Words[uLoadAddr+2].AluOp = true, claZero, cldDr, aluAdd
	rom.Words[uLoadAddr+3] = fallthroughTo(uLoadAddr + 4)
	rom.Words[uLoadAddr+3].DrL = true
	rom.Words[uLoadAddr+4] = terminal()
	rom.Words[uLoadAddr+4].Cla, rom.Words[uLoadAddr+4].Cld, rom.Words[uLoadAddr+4].AluOp = claZero, cldDr, aluAdd
	rom.Words[uLoadAddr+4].AccL = true

	// STORE_ADDR (60-63): DataA := ARG (+ IP advance, same trick as
	// LOAD_ADDR); DR := mem[DataA]; DataA := DR; mem[DataA] := ACC.
	rom.Words[uStoreAddr+0] = fallthroughTo(uStoreAddr + 1)
	rom.Words[uStoreAddr+0].Dal, rom.Words[uStoreAddr+0].AdrSel = true, true
	rom.Words[uStoreAddr+0].Cla, rom.Words[uStoreAddr+0].Cld, rom.Words[uStoreAddr+0].AluOp = claZero, cldIp, aluAddC1
	rom.Words[uStoreAddr+0].IpL = true
	rom.Words[uStoreAddr+1] = fallthroughTo(uStoreAddr + 2)
	rom.Words[uStoreAddr+1].DrL = true
	rom.Words[uStoreAddr+2] = fallthroughTo(uStoreAddr + 3)
	rom.Words[uStoreAddr+2].Dal, rom.Words[uStoreAddr+2].Cla, rom.Words[uStoreAddr+2].Cld, rom.Words[uStoreAddr+2].AluOp = true, claZero, cldDr, aluAdd
	rom.Words[uStoreAddr+3] = terminal()
	rom.Words[uStoreAddr+3].MemL = true

	for op, mnemonic := range opcodeToMnemonic {
		rom.EntryValid[op] = true
		switch mnemonic {
		case "halt":
			rom.EntryForCode[op] = uHalt
		case "load_addr":
			rom.EntryForCode[op] = uLoadAddr
		case "load":
			rom.EntryForCode[op] = uLoad
		case "store":
			rom.EntryForCode[op] = uStore
		case "push":
			rom.EntryForCode[op] = uPush
		case "pop":
			rom.EntryForCode[op] = uPop
		case "add":
			rom.EntryForCode[op] = uAdd
		case "sub":
			rom.EntryForCode[op] = uSub
		case "mul":
			rom.EntryForCode[op] = uMul
		case "div":
			rom.EntryForCode[op] = uDiv
		case "call":
			rom.EntryForCode[op] = uCall
		case "ret":
			rom.EntryForCode[op] = uRet
		case "in":
			rom.EntryForCode[op] = uIn
		case "out":
			rom.EntryForCode[op] = uOut
		case "jmp":
			rom.EntryForCode[op] = uJmpBase
		case "jz":
			rom.EntryForCode[op] = uJz
		case "jnz":
			rom.EntryForCode[op] = uJnz
		case "jlt":
			rom.EntryForCode[op] = uJlt
		case "jgt":
			rom.EntryForCode[op] = uJgt
		case "store_addr":
			rom.EntryForCode[op] = uStoreAddr
		}
	}

	return rom
}
