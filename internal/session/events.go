// internal/session/events.go
package session

import (
	"time"

	"github.com/tamzrod/clutch-rig/internal/cycle"
	"github.com/tamzrod/clutch-rig/internal/faults"
)

// EventKind classifies fault transitions for external sinks.
type EventKind int

const (
	EventFaultEntered EventKind = iota
	EventFaultCleared
	EventRecoveryExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventFaultEntered:
		return "fault entered"
	case EventFaultCleared:
		return "fault cleared"
	case EventRecoveryExhausted:
		return "recovery exhausted"
	default:
		return "unknown"
	}
}

// FaultEvent is one structured fault transition.
type FaultEvent struct {
	At      time.Time
	Kind    EventKind
	Stage   int
	Attempt int
	Faults  faults.Set
}

// Sink receives the session's durable outputs. Implementations
// format and persist; the session only emits.
type Sink interface {
	CommitCycle(cycle.Record)
	FaultTransition(FaultEvent)
}
