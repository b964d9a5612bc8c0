// internal/faults/decode.go
package faults

import "github.com/tamzrod/clutch-rig/internal/telemetry"

// DecodeFaults decodes the raw fault register pair.
// Pure function: same inputs, same set, no state.
func DecodeFaults(reg1, reg2 uint16) Set {
	var s Set
	s = decode(s, reg1, fault1Table)
	s = decode(s, reg2, fault2Table)
	return s
}

// DecodeWarnings decodes the raw warning register pair.
func DecodeWarnings(reg1, reg2 uint16) Set {
	var s Set
	s = decode(s, reg1, warning1Table)
	s = decode(s, reg2, warning2Table)
	return s
}

// Classify decodes one snapshot into its fault and warning sets.
func Classify(snap telemetry.Snapshot) (Set, Set) {
	return DecodeFaults(snap.Fault1, snap.Fault2),
		DecodeWarnings(snap.Warning1, snap.Warning2)
}

func decode(s Set, reg uint16, table [16]Condition) Set {
	for bit := 0; bit < 16; bit++ {
		if reg&(1<<bit) == 0 {
			continue
		}
		if table[bit] == "" {
			continue
		}
		s = append(s, table[bit])
	}
	return s
}
