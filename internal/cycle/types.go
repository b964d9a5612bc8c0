// internal/cycle/types.go
package cycle

import (
	"encoding/json"
	"errors"
	"time"
)

// Phase is the state machine's current phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseForward
	PhaseReverse
	PhaseEvaluating
	PhaseFaulted
	PhaseRecovering
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseForward:
		return "forward"
	case PhaseReverse:
		return "reverse"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseFaulted:
		return "faulted"
	case PhaseRecovering:
		return "recovering"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// active reports whether the phase holds command authority.
func (p Phase) active() bool {
	return p == PhaseForward || p == PhaseReverse || p == PhaseEvaluating
}

// Outcome is the judgment of one completed cycle.
type Outcome int

const (
	OutcomeUndetermined Outcome = iota
	OutcomePass
	OutcomeClutchFailure
	OutcomeTerminalFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeClutchFailure:
		return "clutch failure"
	case OutcomeTerminalFault:
		return "terminal fault"
	default:
		return "undetermined"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Record is the append-only, one-per-cycle summary.
type Record struct {
	Cycle            int       `json:"cycle"`
	Outcome          Outcome   `json:"outcome"`
	PeakMotorCurrent float64   `json:"peak_motor_current_a"`
	PeakMotorTemp    int       `json:"peak_motor_temp_c"`
	TargetReached    bool      `json:"target_reached"`
	Started          time.Time `json:"started"`
	Ended            time.Time `json:"ended"`
}

// Params is the immutable configuration of one test run.
type Params struct {
	TargetRPM        int
	ForwardTorquePct float64
	ReverseTorquePct float64
	ForwardDuration  time.Duration
	ReverseDuration  time.Duration

	// TargetCycles -1 means unbounded.
	TargetCycles int

	// RPMTolerance is the absolute band around TargetRPM counting as
	// "reached" during the forward phase.
	RPMTolerance int

	// ReverseRPMThreshold is the near-zero band for the reverse phase.
	ReverseRPMThreshold int

	// HaltOnClutchFailure stops the test at the first failed cycle
	// instead of continuing to gather further failure data.
	HaltOnClutchFailure bool
}

// Validate rejects parameter combinations a test cannot run with.
func (p Params) Validate() error {
	if p.TargetRPM <= 0 {
		return errors.New("cycle: target RPM must be positive")
	}
	if p.ForwardTorquePct <= 0 || p.ForwardTorquePct > 100 {
		return errors.New("cycle: forward torque must be in (0, 100]")
	}
	if p.ReverseTorquePct >= 0 || p.ReverseTorquePct < -100 {
		return errors.New("cycle: reverse torque must be in [-100, 0)")
	}
	if p.ForwardDuration <= 0 || p.ReverseDuration <= 0 {
		return errors.New("cycle: phase durations must be positive")
	}
	if p.TargetCycles == 0 || p.TargetCycles < -1 {
		return errors.New("cycle: target cycles must be -1 or positive")
	}
	if p.RPMTolerance < 0 || p.ReverseRPMThreshold < 0 {
		return errors.New("cycle: RPM bands must not be negative")
	}
	return nil
}
