package machine

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// ErrBadFormat is the sentinel §7 calls kBadFormat: the program file
// is truncated or malformed. Call-site context (which instruction word
// or data record) is attached with errors.Wrap at the point of failure.
var ErrBadFormat = errors.New("bad program format")

// Program is the deserialized contents of a §4.C5 binary: the
// instruction stream plus the initial data-memory contents to seed
// State with.
type Program struct {
	Instructions []Word
	InitialData  map[uint32]uint32
}

// LoadProgram reads the big-endian binary format of spec §4.C5:
//
//	uint32 N
//	N instruction words
//	(uint32 addr, int32 value) pairs to EOF
func LoadProgram(r io.Reader) (*Program, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, errors.Wrap(ErrBadFormat, "reading instruction count")
	}

	instructions := make([]Word, count)
	for i := uint32(0); i < count; i++ {
		var raw uint32
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, errors.Wrapf(ErrBadFormat, "reading instruction word %d", i)
		}
		instructions[i] = Word(raw)
	}

	data := make(map[uint32]uint32)
	for {
		var addr uint32
		if err := binary.Read(r, binary.BigEndian, &addr); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(ErrBadFormat, "reading data record address")
		}
		var value int32
		if err := binary.Read(r, binary.BigEndian, &value); err != nil {
			return nil, errors.Wrapf(ErrBadFormat, "reading data record value at addr %d (truncated pair)", addr)
		}
		data[addr] = uint32(value)
	}

	return &Program{Instructions: instructions, InitialData: data}, nil
}

// WriteProgram serializes a Program to the same layout LoadProgram
// reads, in deterministic addr order so round-tripping is
// byte-for-byte reproducible (§8's round-trip property).
func WriteProgram(w io.Writer, p *Program) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(p.Instructions))); err != nil {
		return errors.Wrap(err, "writing instruction count")
	}
	for i, instr := range p.Instructions {
		if err := binary.Write(w, binary.BigEndian, uint32(instr)); err != nil {
			return errors.Wrapf(err, "writing instruction word %d", i)
		}
	}

	addrs := sortedAddrs(p.InitialData)
	for _, addr := range addrs {
		if err := binary.Write(w, binary.BigEndian, addr); err != nil {
			return errors.Wrapf(err, "writing data record address %d", addr)
		}
		if err := binary.Write(w, binary.BigEndian, int32(p.InitialData[addr])); err != nil {
			return errors.Wrapf(err, "writing data record value at addr %d", addr)
		}
	}
	return nil
}

// WriteHexListing writes the debugging sidecar of §4.C5: one line per
// instruction, "%04d - %08X - <mnemonic> [<arg>]".
func WriteHexListing(w io.Writer, instructions []Word) error {
	for i, instr := range instructions {
		line := fmt.Sprintf("%04d - %08X - %s [%d]\n", i, uint32(instr), instr.Opcode(), instr.Arg())
		if _, err := io.WriteString(w, line); err != nil {
			return errors.Wrapf(err, "writing hex listing line %d", i)
		}
	}
	return nil
}

func sortedAddrs(data map[uint32]uint32) []uint32 {
	addrs := make([]uint32, 0, len(data))
	for addr := range data {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
