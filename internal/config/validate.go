// internal/config/validate.go
package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
// Zero values are legal here; Normalize() fills them afterwards.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	r := cfg.Rig

	// ---- serial ----

	if r.Serial.BaudRate < 0 {
		return fmt.Errorf("config: serial.baud_rate must be positive")
	}
	if r.Serial.TimeoutMs < 0 {
		return fmt.Errorf("config: serial.timeout_ms must be positive")
	}
	if r.Serial.Retries < 0 {
		return fmt.Errorf("config: serial.retries must not be negative")
	}

	// ---- poll ----

	if r.Poll.IntervalMs < 0 {
		return fmt.Errorf("config: poll.interval_ms must be positive")
	}
	if r.Poll.MaxMissed < 0 {
		return fmt.Errorf("config: poll.max_missed must be positive")
	}

	// ---- test parameters ----

	t := r.Test
	if t.TargetRPM < 0 {
		return fmt.Errorf("config: test.target_rpm must be positive")
	}
	if t.ForwardTorquePct < 0 || t.ForwardTorquePct > 100 {
		return fmt.Errorf("config: test.forward_torque_pct must be in (0, 100]")
	}
	if t.ReverseTorquePct > 0 || t.ReverseTorquePct < -100 {
		return fmt.Errorf("config: test.reverse_torque_pct must be in [-100, 0)")
	}
	if t.ForwardDurationMs < 0 || t.ReverseDurationMs < 0 {
		return fmt.Errorf("config: test phase durations must be positive")
	}
	if t.TargetCycles < -1 {
		return fmt.Errorf("config: test.target_cycles must be -1 (unbounded) or positive")
	}
	if t.RPMTolerance < 0 || t.ReverseRPMThreshold < 0 {
		return fmt.Errorf("config: test RPM bands must be positive")
	}
	switch t.OnClutchFailure {
	case "", "continue", "halt":
	default:
		return fmt.Errorf("config: test.on_clutch_failure must be %q or %q, got %q",
			"continue", "halt", t.OnClutchFailure)
	}

	// ---- recovery ----

	rec := r.Recovery
	if rec.InitialWaitS < 0 || rec.SettleMs < 0 || rec.DebouncePolls < 0 {
		return fmt.Errorf("config: recovery timings must not be negative")
	}
	for i, st := range rec.Stages {
		if st.Attempts <= 0 {
			return fmt.Errorf("config: recovery.stages[%d].attempts must be positive", i)
		}
		if st.IntervalS <= 0 {
			return fmt.Errorf("config: recovery.stages[%d].interval_s must be positive", i)
		}
	}

	return nil
}
