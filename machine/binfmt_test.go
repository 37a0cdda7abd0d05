package machine

import (
	"bytes"
	"testing"
)

func TestProgramRoundTrip(t *testing.T) {
	original := &Program{
		Instructions: []Word{
			Encode(Load, 4),
			Encode(Add, 5),
			Encode(Halt, 0),
		},
		InitialData: map[uint32]uint32{
			0: 10,
			1: 32,
			5: 0xFFFFFFFF, // -1 as a signed data word
		},
	}

	var buf bytes.Buffer
	if err := WriteProgram(&buf, original); err != nil {
		t.Fatalf("WriteProgram: %v", err)
	}

	loaded, err := LoadProgram(&buf)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}

	if len(loaded.Instructions) != len(original.Instructions) {
		t.Fatalf("instruction count = %d, want %d", len(loaded.Instructions), len(original.Instructions))
	}
	for i, w := range original.Instructions {
		if loaded.Instructions[i] != w {
			t.Errorf("instruction %d = %08X, want %08X", i, uint32(loaded.Instructions[i]), uint32(w))
		}
	}
	if len(loaded.InitialData) != len(original.InitialData) {
		t.Fatalf("data record count = %d, want %d", len(loaded.InitialData), len(original.InitialData))
	}
	for addr, v := range original.InitialData {
		if loaded.InitialData[addr] != v {
			t.Errorf("data[%d] = %d, want %d", addr, loaded.InitialData[addr], v)
		}
	}
}

func TestLoadProgramTruncatedHeader(t *testing.T) {
	_, err := LoadProgram(bytes.NewReader([]byte{0x00, 0x00}))
	if err == nil {
		t.Fatal("expected an error for a truncated instruction count")
	}
}

func TestWriteHexListing(t *testing.T) {
	var buf bytes.Buffer
	instrs := []Word{Encode(Load, 4), Encode(Halt, 0)}
	if err := WriteHexListing(&buf, instrs); err != nil {
		t.Fatalf("WriteHexListing: %v", err)
	}
	want := "0000 - " + "" // just sanity-check it's non-empty and line-structured
	lines := bytes.Split(buf.Bytes(), []byte("\n"))
	if len(lines) < 2 {
		t.Fatalf("expected at least 2 lines, got %d", len(lines))
	}
	if !bytes.HasPrefix(lines[0], []byte("0000 - ")) {
		t.Errorf("line 0 = %q, want prefix %q", lines[0], want)
	}
}
