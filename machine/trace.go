package machine

import (
	"fmt"
	"io"
)

// separator closes every trace record, FETCH or microstep alike.
const traceSeparator = "----------------------------------------"

// Tracer writes the per-tick structured record pinned in spec §4.C8.
// The format must match byte-for-byte to satisfy golden tests, so
// every field width below is load-bearing: this is a fixed text
// artifact, not a structured-logging concern (logrus is reserved for
// operational messages — see cmd/lispvm).
type Tracer struct {
	w io.Writer
}

// NewTracer wraps w. NewEngine substitutes NopTracer for a nil Tracer.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

// NopTracer discards all trace output; used when no -trace file is
// requested.
func NopTracer() *Tracer {
	return &Tracer{w: io.Discard}
}

// FetchRecord emits the one-line FETCH record:
// "[TICK <n> (FETCH)] IP=<dec4> OPCODE=<dec2>" followed by the separator.
func (t *Tracer) FetchRecord(tick uint64, ip uint32, opcode Opcode) {
	fmt.Fprintf(t.w, "[TICK %d (FETCH)] IP=%04d OPCODE=%02d\n", tick, ip, uint8(opcode))
	fmt.Fprintln(t.w, traceSeparator)
}

// StepRecord emits the three-line microstep record:
//
//	[TICK <n>] uPC=<dec2> IR=<hex8>
//	ACC=<dec11> DR=<dec11> IP=<hex8> SP=<hex8>
//	DataA=<dec> Z=<bit> N=<bit>
//
// followed by the separator.
func (t *Tracer) StepRecord(tick uint64, upc byte, ir Word, acc, dr, ip, sp, dataA uint32, z, n bool) {
	fmt.Fprintf(t.w, "[TICK %d] uPC=%02d IR=%08X\n", tick, upc, uint32(ir))
	fmt.Fprintf(t.w, "ACC=%11d DR=%11d IP=%08X SP=%08X\n", int32(acc), int32(dr), ip, sp)
	fmt.Fprintf(t.w, "DataA=%d Z=%d N=%d\n", dataA, bitOf(z), bitOf(n))
	fmt.Fprintln(t.w, traceSeparator)
}

func bitOf(b bool) int {
	if b {
		return 1
	}
	return 0
}
