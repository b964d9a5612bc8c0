// internal/session/session_test.go
package session

import (
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/tamzrod/clutch-rig/internal/config"
	"github.com/tamzrod/clutch-rig/internal/cycle"
	"github.com/tamzrod/clutch-rig/internal/faults"
	"github.com/tamzrod/clutch-rig/internal/recovery"
	"github.com/tamzrod/clutch-rig/internal/registers"
	"github.com/tamzrod/clutch-rig/internal/telemetry"
	"github.com/tamzrod/clutch-rig/internal/transport"
)

// fakeBus is a register table behind a mutex; the run loop and the
// test observe it from different goroutines.
type fakeBus struct {
	mu      sync.Mutex
	regs    map[uint16]uint16
	writes  []busWrite
	readErr error
}

type busWrite struct {
	addr  uint16
	value uint16
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: make(map[uint16]uint16)}
}

func (f *fakeBus) ReadRegisters(addr, qty uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = f.regs[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeBus) WriteRegister(addr, value uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, busWrite{addr, value})
	f.regs[addr] = value
	return nil
}

func (f *fakeBus) writesTo(addr uint16) []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint16
	for _, w := range f.writes {
		if w.addr == addr {
			out = append(out, w.value)
		}
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Params: cycle.Params{
			TargetRPM:           300,
			ForwardTorquePct:    100,
			ReverseTorquePct:    -100,
			ForwardDuration:     5 * time.Second,
			ReverseDuration:     2 * time.Second,
			TargetCycles:        1,
			RPMTolerance:        25,
			ReverseRPMThreshold: 5,
		},
		Limits: Limits{
			MaxMotorCurrentA:     70,
			MaxBrakeCurrentA:     40,
			MaxBatteryCurrentA:   75,
			RegenBatteryCurrentA: 48,
		},
		Schedule:      []recovery.Stage{{Attempts: 2, Interval: time.Minute}},
		InitialWait:   10 * time.Second,
		Settle:        time.Second,
		DebouncePolls: 2,
	}
}

// newArmedSession builds a session with the run-loop state installed
// but no run goroutine, so tests can feed handlePoll synthetic polls
// on a synthetic clock.
func newArmedSession(t *testing.T, bus registers.Bus) *Session {
	t.Helper()

	client, err := registers.NewClient(bus, config.DefaultRegisterMap())
	if err != nil {
		t.Fatalf("NewClient() err=%v", err)
	}
	poller, err := telemetry.New(telemetry.Config{
		Interval:  500 * time.Millisecond,
		MaxMissed: 3,
	}, client)
	if err != nil {
		t.Fatalf("telemetry.New() err=%v", err)
	}
	s, err := New(client, poller)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	cfg := testConfig()
	s.cfg = cfg
	s.machine, err = cycle.NewMachine(cfg.Params, client, sinkAdapter{s})
	if err != nil {
		t.Fatalf("NewMachine() err=%v", err)
	}
	s.recov, err = recovery.New(cfg.Schedule, cfg.InitialWait, cfg.Settle, client)
	if err != nil {
		t.Fatalf("recovery.New() err=%v", err)
	}
	s.done = make(chan struct{})

	if err := s.machine.Start(t0); err != nil {
		t.Fatalf("machine.Start() err=%v", err)
	}
	return s
}

func poll(at time.Time, snap telemetry.Snapshot) telemetry.Result {
	snap.At = at
	return telemetry.Result{At: at, Snapshot: snap}
}

func TestSession_SingleCleanCycle(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	now := t0
	var over bool
	// forward phase
	for i := 0; i < 10; i++ {
		now = now.Add(500 * time.Millisecond)
		over = s.handlePoll(poll(now, telemetry.Snapshot{RPM: 300, MotorCurrent: 30}))
	}
	if s.machine.Phase() != cycle.PhaseReverse {
		t.Fatalf("phase after forward window = %v, want reverse", s.machine.Phase())
	}
	// reverse phase, clutch holding
	for i := 0; i < 4; i++ {
		now = now.Add(500 * time.Millisecond)
		over = s.handlePoll(poll(now, telemetry.Snapshot{RPM: 0}))
	}

	if !over {
		t.Fatalf("single-cycle run did not end")
	}
	st := s.Status()
	if st.Phase != cycle.PhaseCompleted {
		t.Errorf("phase = %v, want completed", st.Phase)
	}
	if st.LastOutcome != cycle.OutcomePass {
		t.Errorf("outcome = %v, want pass", st.LastOutcome)
	}
}

func TestSession_FaultDebounce(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	overTemp := telemetry.Snapshot{Fault1: 1 << 4}

	// one faulted poll: suspended, but recovery not started
	s.handlePoll(poll(t0.Add(500*time.Millisecond), overTemp))
	if s.machine.Phase() != cycle.PhaseFaulted {
		t.Fatalf("phase = %v, want faulted after first fault poll", s.machine.Phase())
	}
	if s.recov.Active() {
		t.Fatalf("recovery started before the debounce window closed")
	}

	// the blip clears: cycling resumes, recovery never ran
	s.handlePoll(poll(t0.Add(time.Second), telemetry.Snapshot{RPM: 300}))
	if s.machine.Phase() != cycle.PhaseForward {
		t.Fatalf("phase = %v, want forward after blip cleared", s.machine.Phase())
	}
	if s.recov.Active() {
		t.Fatalf("recovery active after a single-poll blip")
	}
}

func TestSession_PersistentFaultStartsRecovery(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	overTemp := telemetry.Snapshot{Fault1: 1 << 4}

	s.handlePoll(poll(t0.Add(500*time.Millisecond), overTemp))
	s.handlePoll(poll(t0.Add(time.Second), overTemp))

	if s.machine.Phase() != cycle.PhaseRecovering {
		t.Fatalf("phase = %v, want recovering after debounce", s.machine.Phase())
	}
	if !s.recov.Active() {
		t.Fatalf("recovery not active after two consecutive fault polls")
	}
	st := s.Status()
	if st.Recovery == nil {
		t.Fatalf("published status has no recovery state")
	}
	if !st.Faults.Has("controller over temperature") {
		t.Errorf("published faults = %v, want controller over temperature", st.Faults)
	}

	// torque must be zero while suspended
	torques := bus.writesTo(494)
	if len(torques) == 0 || torques[len(torques)-1] != 0 {
		t.Errorf("torque writes = %v, want trailing zero", torques)
	}
}

func TestSession_RecoveryClearsAndResumes(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	overTemp := telemetry.Snapshot{Fault1: 1 << 4}
	bus.WriteRegister(258, 1<<4) // controller reports the fault too

	s.handlePoll(poll(t0.Add(500*time.Millisecond), overTemp))
	s.handlePoll(poll(t0.Add(time.Second), overTemp))

	// initial wait elapses: clear attempt fires and zeroes the
	// controller's fault register
	bus.WriteRegister(258, 0)
	s.handlePoll(poll(t0.Add(11*time.Second), overTemp))

	// settle elapses: re-read is clean, cycling resumes
	s.handlePoll(poll(t0.Add(12*time.Second), telemetry.Snapshot{}))

	if s.recov.Active() {
		t.Fatalf("recovery still active after clean re-read")
	}
	if s.machine.Phase() != cycle.PhaseForward {
		t.Fatalf("phase = %v, want forward after recovery", s.machine.Phase())
	}
	clears := bus.writesTo(508)
	if len(clears) != 1 || clears[0] != 1 {
		t.Errorf("clear-fault writes = %v, want one write of 1", clears)
	}
}

func TestSession_RecoveryExhaustionIsTerminal(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	overTemp := telemetry.Snapshot{Fault1: 1 << 4}
	bus.WriteRegister(258, 1<<4)

	s.handlePoll(poll(t0.Add(500*time.Millisecond), overTemp))
	s.handlePoll(poll(t0.Add(time.Second), overTemp))

	// walk the 2-attempt schedule to exhaustion on a synthetic clock
	now := t0.Add(time.Second)
	var over bool
	for i := 0; i < 100; i++ {
		st, ok := s.recov.State()
		if !ok {
			break
		}
		now = st.NextAction
		over = s.handlePoll(poll(now, overTemp))
		if over {
			break
		}
	}

	if !over {
		t.Fatalf("run did not end after recovery exhaustion")
	}
	st := s.Status()
	if st.Phase != cycle.PhaseCompleted {
		t.Errorf("phase = %v, want completed", st.Phase)
	}
	if st.LastOutcome != cycle.OutcomeTerminalFault {
		t.Errorf("outcome = %v, want terminal fault", st.LastOutcome)
	}
}

func TestSession_MissedPollBudgetFaultsLink(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	// third consecutive miss exhausts the budget: the link itself
	// becomes a fault condition and cycling suspends
	res := telemetry.Result{
		At:     t0.Add(2 * time.Second),
		Missed: 3,
		Stale:  true,
		Err:    &transport.Error{Kind: transport.KindTimeout, Op: "read", Err: errors.New("timeout")},
	}
	if over := s.handlePoll(res); over {
		t.Fatalf("missed-poll budget ended the run instead of faulting")
	}
	if s.machine.Phase() != cycle.PhaseFaulted {
		t.Fatalf("phase = %v, want faulted on exhausted poll budget", s.machine.Phase())
	}
	if !s.Status().Faults.Has(faults.LinkDown) {
		t.Errorf("published faults = %v, want link-down condition", s.Status().Faults)
	}
}

// A run that ends on its own must tear down its poll goroutine; a
// restarted session would otherwise share the poller with a leaked
// loop from the previous run.
func TestSession_SelfEndedRunStopsPolling(t *testing.T) {
	bus := newFakeBus()
	bus.readErr = &transport.Error{Kind: transport.KindLinkUnavailable, Op: "read", Err: errors.New("port gone")}

	client, err := registers.NewClient(bus, config.DefaultRegisterMap())
	if err != nil {
		t.Fatalf("NewClient() err=%v", err)
	}

	base := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		poller, err := telemetry.New(telemetry.Config{
			Interval:  time.Millisecond,
			MaxMissed: 3,
		}, client)
		if err != nil {
			t.Fatalf("telemetry.New() err=%v", err)
		}
		s, err := New(client, poller)
		if err != nil {
			t.Fatalf("New() err=%v", err)
		}
		if err := s.Start(testConfig()); err != nil {
			t.Fatalf("Start() err=%v", err)
		}

		// reads fail with a dead link, so the run ends itself on
		// its first poll and must clean up after itself
		<-s.Done()
		if !errors.Is(s.Err(), ErrLinkLost) {
			t.Fatalf("run %d: Err() = %v, want ErrLinkLost", i, s.Err())
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > base {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines: base=%d now=%d, poll loops leaked across runs",
				base, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSession_LinkDownEndsRun(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	res := telemetry.Result{
		At:     t0.Add(500 * time.Millisecond),
		Missed: 1,
		Stale:  true,
		Err:    &transport.Error{Kind: transport.KindLinkUnavailable, Op: "read", Err: io.EOF},
	}
	if over := s.handlePoll(res); !over {
		t.Fatalf("link-down poll did not end the run")
	}
	if !errors.Is(s.Err(), ErrLinkLost) {
		t.Fatalf("Err() = %v, want ErrLinkLost", s.Err())
	}
}

func TestSession_StartStop(t *testing.T) {
	bus := newFakeBus()
	client, err := registers.NewClient(bus, config.DefaultRegisterMap())
	if err != nil {
		t.Fatalf("NewClient() err=%v", err)
	}
	poller, err := telemetry.New(telemetry.Config{
		Interval:  10 * time.Millisecond,
		MaxMissed: 3,
	}, client)
	if err != nil {
		t.Fatalf("telemetry.New() err=%v", err)
	}
	s, err := New(client, poller)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	if err := s.Start(testConfig()); err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if err := s.Start(testConfig()); err == nil {
		t.Fatalf("second Start accepted while running")
	}
	s.Stop()

	st := s.Status()
	if st.Running {
		t.Errorf("status still running after Stop")
	}
	if st.Phase != cycle.PhaseIdle {
		t.Errorf("phase after stop = %v, want idle", st.Phase)
	}

	// shutdown must land the motor in the safe state
	states := bus.writesTo(493)
	if len(states) == 0 || states[len(states)-1] != 0 {
		t.Errorf("state writes = %v, want trailing off command", states)
	}
	torques := bus.writesTo(494)
	if len(torques) == 0 || torques[len(torques)-1] != 0 {
		t.Errorf("torque writes = %v, want trailing zero", torques)
	}
}

func TestSession_StartRejectsBadParams(t *testing.T) {
	bus := newFakeBus()
	client, _ := registers.NewClient(bus, config.DefaultRegisterMap())
	poller, _ := telemetry.New(telemetry.Config{
		Interval:  10 * time.Millisecond,
		MaxMissed: 3,
	}, client)
	s, _ := New(client, poller)

	cfg := testConfig()
	cfg.Params.ForwardTorquePct = 150
	if err := s.Start(cfg); err == nil {
		t.Fatalf("invalid parameters accepted")
	}
	if len(bus.writes) != 0 {
		t.Errorf("rejected start still touched the controller: %+v", bus.writes)
	}
}

func TestSession_Subscribe(t *testing.T) {
	bus := newFakeBus()
	s := newArmedSession(t, bus)

	ch, unsub := s.Subscribe()
	defer unsub()

	s.handlePoll(poll(t0.Add(500*time.Millisecond), telemetry.Snapshot{RPM: 300}))

	select {
	case st := <-ch:
		if st.Snapshot.RPM != 300 {
			t.Errorf("published RPM = %d, want 300", st.Snapshot.RPM)
		}
	default:
		t.Fatalf("no status published to subscriber")
	}
}
