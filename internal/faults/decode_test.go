// internal/faults/decode_test.go
package faults

import (
	"testing"

	"github.com/tamzrod/clutch-rig/internal/telemetry"
)

func TestDecodeFaults_Empty(t *testing.T) {
	if s := DecodeFaults(0, 0); !s.Empty() {
		t.Fatalf("DecodeFaults(0,0) = %v, want empty", s)
	}
}

func TestDecodeFaults_Bits(t *testing.T) {
	// fault1 bit 4 = controller over temperature,
	// fault2 bit 6 = hall stall
	s := DecodeFaults(1<<4, 1<<6)
	if len(s) != 2 {
		t.Fatalf("got %d conditions, want 2: %v", len(s), s)
	}
	if !s.Has("controller over temperature") {
		t.Errorf("missing controller over temperature in %v", s)
	}
	if !s.Has("hall stall") {
		t.Errorf("missing hall stall in %v", s)
	}
}

func TestDecodeFaults_Pure(t *testing.T) {
	a := DecodeFaults(0x00FF, 0x0001)
	b := DecodeFaults(0x00FF, 0x0001)
	if a.String() != b.String() {
		t.Fatalf("same registers decoded differently: %v vs %v", a, b)
	}
}

func TestDecodeWarnings_ReservedBits(t *testing.T) {
	// warning2 bits 10-15 are reserved and must never decode.
	if s := DecodeWarnings(0, 0xFC00); !s.Empty() {
		t.Fatalf("reserved warning bits decoded: %v", s)
	}
}

func TestClassify(t *testing.T) {
	snap := telemetry.Snapshot{
		Fault1:   1 << 10, // motor over temperature
		Warning1: 1 << 9,  // motor temperature foldback
	}
	fs, ws := Classify(snap)
	if !fs.Has("motor over temperature") {
		t.Errorf("faults = %v, want motor over temperature", fs)
	}
	if !ws.Has("motor temperature foldback") {
		t.Errorf("warnings = %v, want motor temperature foldback", ws)
	}
}

func TestSet_String(t *testing.T) {
	var s Set
	if s.String() != "none" {
		t.Errorf("empty set String() = %q, want none", s.String())
	}

	s = Set{"a", "b"}
	if s.String() != "a, b" {
		t.Errorf("String() = %q, want %q", s.String(), "a, b")
	}
}
