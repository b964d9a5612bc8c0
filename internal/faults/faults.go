// internal/faults/faults.go
package faults

import "strings"

// Condition names one decoded fault or warning bit.
type Condition string

// LinkDown is synthesized by the session when the telemetry link
// itself stops answering; it is handled like any controller fault.
const LinkDown Condition = "telemetry link down"

// Set is a decoded set of active conditions.
type Set []Condition

func (s Set) Empty() bool { return len(s) == 0 }

func (s Set) Has(c Condition) bool {
	for _, v := range s {
		if v == c {
			return true
		}
	}
	return false
}

func (s Set) String() string {
	if len(s) == 0 {
		return "none"
	}
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
