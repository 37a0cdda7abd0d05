package machine

// initialSP is the stack pointer's reset value: the top of the
// address space, leaving room below it for data-section growth from
// address 0 upward and stack growth downward toward it.
const initialSP uint32 = 0x7FFFFFFC

// State is the complete machine state described in spec §3: the
// register file, data memory and instruction memory. It carries no
// behavior of its own — Engine (engine.go) is the only thing that
// mutates it tick by tick.
type State struct {
	// Registers.
	Acc     uint32
	Sp      uint32
	Ip      uint32
	Dr      uint32
	DataA   uint32
	UPC     byte // 6-bit microprogram counter, always in [0,63]
	Ir      Word
	Arg     int32
	Z       bool
	N       bool
	Halted  bool
	MacroCnt uint64 // monotonic tick counter, incremented once per fetch and once per microstep

	// Memories.
	Instructions []Word
	Data         map[uint32]uint32

	// I/O.
	Ports *Ports
}

// NewState builds a machine with the reset register values from
// spec §3, the given instruction stream, and initial data-memory
// contents. Construction never fails.
func NewState(instructions []Word, initialData map[uint32]uint32, ports *Ports) *State {
	data := make(map[uint32]uint32, len(initialData))
	for addr, v := range initialData {
		data[addr] = v
	}
	return &State{
		Sp:           initialSP,
		Instructions: instructions,
		Data:         data,
		Ports:        ports,
	}
}

// ReadData reads a data-memory word, defaulting unset addresses to 0
// per spec §3 ("unread addresses read as 0").
func (s *State) ReadData(addr uint32) uint32 {
	return s.Data[addr]
}

// WriteData writes a data-memory word.
func (s *State) WriteData(addr, value uint32) {
	s.Data[addr] = value
}

// FetchWord returns the instruction word at IP and whether IP is in
// bounds. Out-of-bounds IP is a fetch-time halt condition, not an
// error — the engine handles it, this method just reports the fact.
func (s *State) FetchWord(ip uint32) (Word, bool) {
	if ip >= uint32(len(s.Instructions)) {
		return 0, false
	}
	return s.Instructions[ip], true
}
