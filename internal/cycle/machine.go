// internal/cycle/machine.go
package cycle

import (
	"errors"
	"log"
	"time"
)

// Commander issues torque commands on the machine's behalf.
// The machine only ever commands torque; state and limit commands
// belong to the session that owns the run.
type Commander interface {
	WriteTorque(pct float64) error
}

// Sink receives one Record per completed cycle.
type Sink interface {
	CommitCycle(Record)
}

// Machine drives forward/reverse torque cycles and judges the clutch.
//
// All waiting is deadline-based against the caller-supplied clock:
// Tick is fed the poll cadence and synthetic time drives the tests.
type Machine struct {
	params Params
	cmd    Commander
	sink   Sink

	phase       Phase
	cycleIdx    int
	lastOutcome Outcome

	phaseStart    time.Time
	phaseDeadline time.Time
	resumePhase   Phase

	cycleStart    time.Time
	peakCurrent   float64
	peakTemp      int
	targetReached bool
	failed        bool

	// consecutive reverse-phase polls above the near-zero band;
	// two in a row condemn the clutch (single blips are noise).
	reverseStrikes int
}

// NewMachine builds an idle machine for one test run.
func NewMachine(p Params, cmd Commander, sink Sink) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, errors.New("cycle: commander required")
	}
	if sink == nil {
		return nil, errors.New("cycle: record sink required")
	}
	return &Machine{params: p, cmd: cmd, sink: sink}, nil
}

func (m *Machine) Phase() Phase         { return m.phase }
func (m *Machine) Cycle() int           { return m.cycleIdx }
func (m *Machine) LastOutcome() Outcome { return m.lastOutcome }

// Start begins cycle 1.
func (m *Machine) Start(now time.Time) error {
	if m.phase != PhaseIdle {
		return errors.New("cycle: machine already started")
	}
	m.cycleIdx = 1
	m.startCycle(now)
	return m.enterForward(now)
}

// Tick advances the machine by one observed snapshot.
// rpm and peak readings come from the snapshot; time from the caller.
func (m *Machine) Tick(now time.Time, rpm int, motorCurrent float64, motorTemp int) error {
	if !m.phase.active() {
		return nil
	}

	if motorCurrent > m.peakCurrent {
		m.peakCurrent = motorCurrent
	}
	if motorTemp > m.peakTemp {
		m.peakTemp = motorTemp
	}

	switch m.phase {
	case PhaseForward:
		if abs(rpm-m.params.TargetRPM) <= m.params.RPMTolerance {
			m.targetReached = true
		}
		if !now.Before(m.phaseDeadline) {
			if !m.targetReached {
				log.Printf("[cycle] cycle %d: target %d RPM not reached within forward phase",
					m.cycleIdx, m.params.TargetRPM)
			}
			return m.enterReverse(now)
		}

	case PhaseReverse:
		if abs(rpm) > m.params.ReverseRPMThreshold {
			m.reverseStrikes++
			if m.reverseStrikes >= 2 && !m.failed {
				m.failed = true
				log.Printf("[cycle] cycle %d: clutch rotating in reverse (%d RPM)",
					m.cycleIdx, rpm)
				if m.params.HaltOnClutchFailure {
					return m.evaluate(now)
				}
			}
		} else {
			m.reverseStrikes = 0
		}
		if !now.Before(m.phaseDeadline) {
			return m.evaluate(now)
		}
	}

	return nil
}

// EnterFaulted suspends the cycle while faults are active.
// Timers stop; torque drops to zero until the fault story resolves.
func (m *Machine) EnterFaulted(now time.Time) error {
	if !m.phase.active() {
		return nil
	}
	m.resumePhase = m.phase
	m.phase = PhaseFaulted
	return m.cmd.WriteTorque(0)
}

// EnterRecovering marks that the recovery controller took command
// authority. Only reachable from Faulted.
func (m *Machine) EnterRecovering() {
	if m.phase == PhaseFaulted {
		m.phase = PhaseRecovering
	}
}

// Resume returns to the phase active at fault onset with a freshly
// restarted timer, never a resumed one: commanding from a stale
// baseline is worse than repeating a phase.
func (m *Machine) Resume(now time.Time) error {
	if m.phase != PhaseFaulted && m.phase != PhaseRecovering {
		return nil
	}
	m.reverseStrikes = 0
	switch m.resumePhase {
	case PhaseReverse:
		return m.enterReverse(now)
	default:
		return m.enterForward(now)
	}
}

// Abort returns the machine to idle on operator stop. No record is
// committed for the interrupted cycle.
func (m *Machine) Abort() {
	if m.phase != PhaseCompleted {
		m.phase = PhaseIdle
	}
}

// CompleteTerminal ends the test after recovery exhaustion.
// The in-progress cycle is committed with a terminal-fault outcome.
func (m *Machine) CompleteTerminal(now time.Time) error {
	if m.phase == PhaseIdle || m.phase == PhaseCompleted {
		return nil
	}
	m.commit(now, OutcomeTerminalFault)
	return m.complete()
}

// ---- internal transitions ----

func (m *Machine) startCycle(now time.Time) {
	m.cycleStart = now
	m.peakCurrent = 0
	m.peakTemp = 0
	m.targetReached = false
	m.failed = false
	m.reverseStrikes = 0
}

func (m *Machine) enterForward(now time.Time) error {
	m.phase = PhaseForward
	m.phaseStart = now
	m.phaseDeadline = now.Add(m.params.ForwardDuration)
	return m.applyTorque(m.params.ForwardTorquePct)
}

func (m *Machine) enterReverse(now time.Time) error {
	m.phase = PhaseReverse
	m.phaseStart = now
	m.phaseDeadline = now.Add(m.params.ReverseDuration)
	m.reverseStrikes = 0
	return m.applyTorque(m.params.ReverseTorquePct)
}

// applyTorque writes zero torque ahead of each direction change so
// the controller never sees an instantaneous reversal.
func (m *Machine) applyTorque(pct float64) error {
	if err := m.cmd.WriteTorque(0); err != nil {
		return err
	}
	if pct == 0 {
		return nil
	}
	return m.cmd.WriteTorque(pct)
}

func (m *Machine) evaluate(now time.Time) error {
	m.phase = PhaseEvaluating

	outcome := OutcomePass
	if m.failed {
		outcome = OutcomeClutchFailure
	}
	m.commit(now, outcome)

	if m.failed && m.params.HaltOnClutchFailure {
		return m.complete()
	}
	if m.params.TargetCycles != -1 && m.cycleIdx >= m.params.TargetCycles {
		return m.complete()
	}

	m.cycleIdx++
	m.startCycle(now)
	return m.enterForward(now)
}

func (m *Machine) commit(now time.Time, outcome Outcome) {
	m.lastOutcome = outcome
	m.sink.CommitCycle(Record{
		Cycle:            m.cycleIdx,
		Outcome:          outcome,
		PeakMotorCurrent: m.peakCurrent,
		PeakMotorTemp:    m.peakTemp,
		TargetReached:    m.targetReached,
		Started:          m.cycleStart,
		Ended:            now,
	})
}

func (m *Machine) complete() error {
	m.phase = PhaseCompleted
	return m.cmd.WriteTorque(0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
