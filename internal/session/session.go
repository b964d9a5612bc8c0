// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tamzrod/clutch-rig/internal/cycle"
	"github.com/tamzrod/clutch-rig/internal/faults"
	"github.com/tamzrod/clutch-rig/internal/recovery"
	"github.com/tamzrod/clutch-rig/internal/registers"
	"github.com/tamzrod/clutch-rig/internal/telemetry"
	"github.com/tamzrod/clutch-rig/internal/transport"
)

// ErrLinkLost means the serial link died mid-test. The session is
// finished; the caller must re-run port discovery.
var ErrLinkLost = errors.New("session: serial link lost")

// Limits are the controller current limits asserted at test start.
type Limits struct {
	MaxMotorCurrentA     float64
	MaxBrakeCurrentA     float64
	MaxBatteryCurrentA   float64
	RegenBatteryCurrentA float64
}

// Config is one test run's full configuration.
type Config struct {
	Params        cycle.Params
	Limits        Limits
	Schedule      []recovery.Stage
	InitialWait   time.Duration
	Settle        time.Duration
	DebouncePolls int
}

// Status is the externally published view of the session. The GUI
// and status server read this; they never touch the link.
type Status struct {
	At          time.Time          `json:"at"`
	Running     bool               `json:"running"`
	Phase       cycle.Phase        `json:"phase"`
	Cycle       int                `json:"cycle"`
	LastOutcome cycle.Outcome      `json:"last_outcome"`
	Snapshot    telemetry.Snapshot `json:"snapshot"`
	Faults      faults.Set         `json:"faults"`
	Warnings    faults.Set         `json:"warnings"`
	MissedPolls int                `json:"missed_polls"`
	Recovery    *recovery.State    `json:"recovery,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
}

// Session owns one test run end to end: the poll loop, command
// authority handoff between the cycle machine and the recovery
// controller, and status publication.
//
// The run loop is a single goroutine; every link exchange it makes
// is serialized by the transport, so polling and commanding never
// interleave inside one request/response.
type Session struct {
	client *registers.Client
	poller *telemetry.Poller
	sinks  []Sink

	mu      sync.Mutex
	status  Status
	subs    map[chan Status]struct{}
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	// run-loop state, touched only by the run goroutine
	cfg         Config
	machine     *cycle.Machine
	recov       *recovery.Controller
	faultStreak int
}

// New builds an idle session over a connected register client.
func New(client *registers.Client, poller *telemetry.Poller, sinks ...Sink) (*Session, error) {
	if client == nil {
		return nil, errors.New("session: register client required")
	}
	if poller == nil {
		return nil, errors.New("session: poller required")
	}
	return &Session{
		client: client,
		poller: poller,
		sinks:  sinks,
		subs:   make(map[chan Status]struct{}),
	}, nil
}

// Start validates the parameters and launches the test run.
// Invalid parameter combinations are rejected here; the test never
// begins.
func (s *Session) Start(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("session: test already running")
	}

	if err := cfg.Params.Validate(); err != nil {
		return fmt.Errorf("session: invalid parameters: %w", err)
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = recovery.DefaultSchedule()
	}
	if cfg.DebouncePolls <= 0 {
		cfg.DebouncePolls = 2
	}

	machine, err := cycle.NewMachine(cfg.Params, s.client, sinkAdapter{s})
	if err != nil {
		return fmt.Errorf("session: invalid parameters: %w", err)
	}
	recov, err := recovery.New(cfg.Schedule, cfg.InitialWait, cfg.Settle, s.client)
	if err != nil {
		return fmt.Errorf("session: invalid recovery schedule: %w", err)
	}

	s.cfg = cfg
	s.machine = machine
	s.recov = recov
	s.faultStreak = 0
	s.runErr = nil

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.status = Status{Running: true, Phase: cycle.PhaseIdle}

	go s.run(ctx, cancel)
	return nil
}

// Stop cancels the run. The run loop observes cancellation at its
// next wait point (within one poll tick, even mid-recovery) and
// commands zero torque before halting.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done returns a channel closed when the current run finishes.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the terminal error of the last run, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Status returns a copy of the latest published status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers a status listener. Slow listeners drop
// updates rather than stalling the control loop.
func (s *Session) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	unsub := func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
	return ch, unsub
}

// ---- run loop ----

func (s *Session) run(ctx context.Context, cancel context.CancelFunc) {
	defer s.finish()
	defer s.shutdownMotor()
	// A run can end on its own (completion, terminal fault, link
	// loss); cancelling here stops the poll goroutine either way.
	defer cancel()

	if err := s.initController(); err != nil {
		log.Printf("[session] controller init failed: %v", err)
		s.setErr(s.mapLinkErr(err))
		return
	}

	if err := s.machine.Start(time.Now()); err != nil {
		log.Printf("[session] start failed: %v", err)
		s.setErr(s.mapLinkErr(err))
		return
	}

	pollCh := make(chan telemetry.Result, 1)
	go s.poller.Run(ctx, pollCh)

	for {
		select {
		case <-ctx.Done():
			// Operator stop: back to idle, not completed.
			s.machine.Abort()
			return
		case res := <-pollCh:
			if over := s.handlePoll(res); over {
				return
			}
		}
	}
}

// handlePoll is one tick of the orchestration engine. Exactly one
// of the cycle machine and the recovery controller acts on it.
func (s *Session) handlePoll(res telemetry.Result) bool {
	now := res.At

	if res.Err != nil {
		log.Printf("[session] poll failed (%d consecutive): %v", res.Missed, res.Err)
		if transport.IsLinkDown(res.Err) {
			s.setErr(ErrLinkLost)
			return true
		}
	}

	fs, ws := faults.Classify(res.Snapshot)
	if res.Missed >= s.poller.MaxMissed() {
		fs = append(fs, faults.LinkDown)
	}

	if fs.Empty() {
		s.faultStreak = 0
	} else {
		s.faultStreak++
	}

	var err error
	var over bool

	switch {
	case s.recov.Active():
		prev, _ := s.recov.State()
		st, _ := s.recov.Tick(now, fs)
		switch st {
		case recovery.StatusCleared:
			s.emitFault(FaultEvent{
				At: now, Kind: EventFaultCleared,
				Stage: prev.Stage, Attempt: prev.Attempt,
			})
			err = s.machine.Resume(now)
		case recovery.StatusExhausted:
			s.emitFault(FaultEvent{
				At: now, Kind: EventRecoveryExhausted,
				Stage: prev.Stage, Attempt: prev.Attempt, Faults: prev.Faults,
			})
			err = s.machine.CompleteTerminal(now)
			over = true
		}

	case !fs.Empty():
		// Suspend immediately; escalate to recovery only after the
		// debounce window so a single-poll blip stays a blip.
		err = s.machine.EnterFaulted(now)
		if err == nil &&
			s.faultStreak >= s.cfg.DebouncePolls &&
			s.machine.Phase() == cycle.PhaseFaulted {
			s.machine.EnterRecovering()
			s.recov.Begin(now, fs)
			s.emitFault(FaultEvent{At: now, Kind: EventFaultEntered, Faults: fs})
		}

	case s.machine.Phase() == cycle.PhaseFaulted:
		// Blip cleared on its own before the debounce window closed.
		err = s.machine.Resume(now)

	default:
		err = s.machine.Tick(now, res.Snapshot.RPM,
			res.Snapshot.MotorCurrent, res.Snapshot.MotorTemp)
		if s.machine.Phase() == cycle.PhaseCompleted {
			over = true
		}
	}

	if err != nil {
		log.Printf("[session] command failed: %v", err)
		if transport.IsLinkDown(err) {
			s.setErr(ErrLinkLost)
			over = true
		}
	}

	s.publish(now, res, fs, ws)
	return over
}

// initController asserts regulator mode, current limits and target
// speed, then enables the motor with zero torque.
func (s *Session) initController() error {
	lim := s.cfg.Limits
	steps := []struct {
		name string
		fn   func() error
	}{
		{"speed regulator mode", func() error {
			return s.client.WriteSpeedMode(registers.SpeedModeTorqueRegulated)
		}},
		{"regen battery limit", func() error {
			return s.client.WriteRegenCurrentLimit(lim.RegenBatteryCurrentA)
		}},
		{"battery current limit", func() error {
			return s.client.WriteBatteryCurrentLimit(lim.MaxBatteryCurrentA)
		}},
		{"motoring current limit", func() error {
			return s.client.WriteMotoringCurrentLimit(lim.MaxMotorCurrentA)
		}},
		{"braking current limit", func() error {
			return s.client.WriteBrakingCurrentLimit(lim.MaxBrakeCurrentA)
		}},
		{"speed command", func() error {
			return s.client.WriteSpeed(s.cfg.Params.TargetRPM)
		}},
		{"zero torque", func() error {
			return s.client.WriteTorque(0)
		}},
		{"enable", func() error {
			return s.client.WriteState(registers.StateRun)
		}},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// shutdownMotor forces the safe state: zero torque, controller off.
// Best effort; the link may already be gone.
func (s *Session) shutdownMotor() {
	if err := s.client.WriteTorque(0); err != nil {
		log.Printf("[session] shutdown torque write failed: %v", err)
	}
	if err := s.client.WriteState(registers.StateOff); err != nil {
		log.Printf("[session] shutdown state write failed: %v", err)
	}
}

// ---- published state ----

func (s *Session) publish(now time.Time, res telemetry.Result, fs, ws faults.Set) {
	st := Status{
		At:          now,
		Running:     true,
		Phase:       s.machine.Phase(),
		Cycle:       s.machine.Cycle(),
		LastOutcome: s.machine.LastOutcome(),
		Snapshot:    res.Snapshot,
		Faults:      fs,
		Warnings:    ws,
		MissedPolls: res.Missed,
	}
	if rst, ok := s.recov.State(); ok {
		st.Recovery = &rst
	}
	if res.Err != nil {
		st.LastError = res.Err.Error()
	}

	s.mu.Lock()
	s.status = st
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Session) finish() {
	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.Phase = s.machine.Phase()
	s.status.Cycle = s.machine.Cycle()
	s.status.LastOutcome = s.machine.LastOutcome()
	done := s.done
	s.mu.Unlock()
	close(done)
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.runErr = err
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()
}

func (s *Session) mapLinkErr(err error) error {
	if transport.IsLinkDown(err) {
		return ErrLinkLost
	}
	return err
}

// ---- sink fan-out ----

type sinkAdapter struct{ s *Session }

func (a sinkAdapter) CommitCycle(rec cycle.Record) {
	log.Printf("[session] cycle %d: %s (peak %.1f A, %d C)",
		rec.Cycle, rec.Outcome, rec.PeakMotorCurrent, rec.PeakMotorTemp)
	for _, sink := range a.s.sinks {
		sink.CommitCycle(rec)
	}
}

func (s *Session) emitFault(ev FaultEvent) {
	log.Printf("[session] %s (stage %d attempt %d): %s",
		ev.Kind, ev.Stage, ev.Attempt, ev.Faults)
	for _, sink := range s.sinks {
		sink.FaultTransition(ev)
	}
}
