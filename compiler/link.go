package compiler

import (
	"github.com/pkg/errors"

	"lispmc/machine"
)

// link walks the emitted instruction list once, rewriting every
// branch's symbolic label to its resolved PC-relative displacement
// and encoding the result into machine words. Every label was already
// recorded by emitLabel during emission, so this is a single pass,
// not a fixed-point.
//
// The displacement is target − (pc + 1): the JMP/CALL microprogram
// (uaddr 42-45) captures the instruction's own address into ACC, loads
// ARG into IP via the ip_sel bypass (the ALU has no operand select for
// ARG itself), then adds them back — landing at pc + arg, i.e.
// pc + (target − pc − 1) = target − 1. That trailing −1 is not a bug
// to paper over here; it is reproduced exactly as the original
// computes it.
func (c *CodeGen) link() ([]machine.Word, error) {
	words := make([]machine.Word, len(c.instrs))
	for pc, ins := range c.instrs {
		arg := ins.arg
		if ins.label != "" {
			target, ok := c.labels[ins.label]
			if !ok {
				return nil, errors.Errorf("internal error: unresolved label %q", ins.label)
			}
			arg = int32(target) - int32(pc) - 1
		}
		if !machine.FitsArg(arg) {
			return nil, errors.Wrapf(ErrOverflowAddr, "instruction %d (%s): argument %d", pc, ins.op, arg)
		}
		words[pc] = machine.Encode(ins.op, arg)
	}
	return words, nil
}
