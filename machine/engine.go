package machine

// HaltReason records why a run stopped, for the simulator CLI's
// operational log (SPEC_FULL.md §5) — it has no bearing on machine
// semantics, which only ever look at State.Halted.
type HaltReason string

const (
	HaltNone            HaltReason = ""
	HaltInstruction     HaltReason = "halt_instruction"
	HaltUnknownOpcode   HaltReason = "unknown_opcode"
	HaltInputExhausted  HaltReason = "input_exhausted"
	HaltInstrOutOfRange HaltReason = "ip_out_of_range"
)

// Engine is the microcycle engine of §4.C4: a control store plus the
// single routine that evaluates one microword against a State. It
// holds no state of its own beyond the ROM, the trace sink and the
// HaltReason of the last halt — all mutable machine state lives in
// State so a run can be inspected or
// checkpointed between ticks (used by cmd/lispvm's --step mode).
type Engine struct {
	rom        ROM
	State      *State
	tracer     *Tracer
	HaltReason HaltReason
}

// NewEngine pairs a machine state with the fixed ROM built by
// BuildROM and a trace sink. Passing NopTracer() disables tracing
// without branching at every call site.
func NewEngine(state *State, tracer *Tracer) *Engine {
	if tracer == nil {
		tracer = NopTracer()
	}
	return &Engine{rom: BuildROM(), State: state, tracer: tracer}
}

// Run executes fetch/microstep cycles until halted, per §4.C4's
// three-step entry point. It returns once State.Halted is set; the
// caller flushes e.State.Ports.Output() itself.
func (e *Engine) Run() {
	e.fetchNextInstruction()
	for !e.State.Halted {
		e.step()
	}
}

// Step runs a single tick and returns whether the machine halted as a
// result. It is the entry point cmd/lispvm's --step debugger drives;
// Run is just this called in a loop. The very first call performs the
// initial fetch Run would otherwise do before entering its loop.
func (e *Engine) Step() bool {
	if e.State.Halted {
		return true
	}
	if e.State.MacroCnt == 0 {
		e.fetchNextInstruction()
	} else {
		e.step()
	}
	return e.State.Halted
}

// step runs exactly one tick, then follows the uPC-wrap-to-0 guard
// into a fresh fetch if the macro-instruction just completed. This is
// the only path by which step ever re-enters fetch, preserving the
// tick accounting the trace sink depends on.
func (e *Engine) step() {
	if e.State.Halted {
		return
	}
	prevUPC := e.State.UPC
	e.runMicrostep()
	if e.State.Halted {
		return
	}
	e.maybeFetch(prevUPC)
}

// maybeFetch invokes fetch exactly when uPC has wrapped back to 0
// from a nonzero value — the end of a macro-instruction's last tick,
// never the vestigial uaddr-0 entry itself.
func (e *Engine) maybeFetch(prevUPC byte) {
	if e.State.UPC == 0 && prevUPC != 0 {
		e.fetchNextInstruction()
	}
}

// fetchNextInstruction implements §4.C2's Fetch procedure: load IR
// from IP, extract ARG/opcode, seed uPC from the opcode table,
// account for the fetch tick, trace it, then execute exactly one
// microstep before returning to the caller (run's loop, or a
// recursive maybeFetch for a one-tick macro-instruction).
func (e *Engine) fetchNextInstruction() {
	s := e.State
	ip := s.Ip
	word, ok := s.FetchWord(ip)
	if !ok {
		s.Halted = true
		e.HaltReason = HaltInstrOutOfRange
		return
	}
	s.Ir = word
	s.Arg = word.Arg()
	opcode := word.Opcode()
	if !e.rom.EntryValid[opcode] {
		s.Halted = true
		e.HaltReason = HaltUnknownOpcode
		return
	}
	s.UPC = e.rom.EntryForCode[opcode]
	s.MacroCnt++
	e.tracer.FetchRecord(s.MacroCnt, ip, opcode)

	prevUPC := s.UPC
	e.runMicrostep()
	if s.Halted {
		return
	}
	e.maybeFetch(prevUPC)
}

// runMicrostep evaluates the microword at the current uPC per the
// eight steps of §4.C2: select ALU inputs, compute the ALU result,
// apply latches in the fixed order, update flags, decide the next
// uPC, and trace the result. It never itself invokes fetch — that is
// step/maybeFetch's job, so fetch's own tick accounting stays exact.
func (e *Engine) runMicrostep() {
	s := e.State
	upc := s.UPC
	mw := e.rom.Words[upc]

	l := selectCla(mw.Cla, s)
	r := selectCld(mw.Cld, s)
	alu := computeALU(mw.AluOp, l, r)

	if mw.AccL {
		if mw.IoSel {
			b, ok := s.Ports.ReadChar()
			if !ok {
				s.Halted = true
				e.HaltReason = HaltInputExhausted
			} else {
				s.Acc = uint32(b)
			}
		} else {
			s.Acc = alu
		}
	}
	if mw.Dal {
		if mw.AdrSel {
			s.DataA = uint32(s.Arg)
		} else {
			s.DataA = alu
		}
	}
	if mw.MemL {
		s.WriteData(s.DataA, s.Acc)
	}
	if mw.DrL {
		s.Dr = s.ReadData(s.DataA)
	}
	if mw.SpL {
		s.Sp = alu
	}
	if mw.OutL {
		s.Ports.WriteChar(byte(s.Acc & 0xFF))
	}
	if mw.IpL {
		if mw.IpSel {
			s.Ip = uint32(s.Arg)
		} else {
			s.Ip = alu
		}
	}

	s.Z = alu == 0
	s.N = alu&0x80000000 != 0

	nextUPC := (upc + 1) & 0x3F
	if evalCond(mw.Cond, s.Z, s.N) {
		nextUPC = mw.NextU
	}
	s.UPC = nextUPC
	s.MacroCnt++
	e.tracer.StepRecord(s.MacroCnt, upc, s.Ir, s.Acc, s.Dr, s.Ip, s.Sp, s.DataA, s.Z, s.N)

	if mw.Halted {
		s.Halted = true
		e.HaltReason = HaltInstruction
	}
}

// selectCla resolves the ALU's left operand per §4.C2 step 1.
func selectCla(cla byte, s *State) uint32 {
	switch cla {
	case claAcc:
		return s.Acc
	case claSp:
		return s.Sp
	default:
		return 0
	}
}

// selectCld resolves the ALU's right operand per §4.C2 step 1.
func selectCld(cld byte, s *State) uint32 {
	switch cld {
	case cldDr:
		return s.Dr
	case cldIp:
		return s.Ip
	default:
		return 0
	}
}

// computeALU implements §4.C2 step 2. Division by zero yields 0
// rather than faulting (kDivByZero, §7) — silent, not a halt.
func computeALU(op byte, l, r uint32) uint32 {
	switch op {
	case aluAdd:
		return l + r
	case aluSub:
		return l - r
	case aluMul:
		return l * r
	case aluDiv:
		if r == 0 {
			return 0
		}
		return l / r
	case aluAddC1:
		return l + r + 1
	case aluSubC1:
		return l + r - 1
	default:
		return 0
	}
}

// evalCond implements §4.C2 step 5's condition table.
func evalCond(cond byte, z, n bool) bool {
	switch cond {
	case condAlways:
		return true
	case condZ:
		return z
	case condN:
		return n
	case condNotZ:
		return !z
	case condNotNNotZ:
		return !n && !z
	default:
		return false
	}
}
