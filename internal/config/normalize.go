// internal/config/normalize.go
package config

// Default returns the fully normalized default configuration.
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}

// Normalize fills unset fields with defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	r := &cfg.Rig

	// ---- serial ----

	if r.Serial.BaudRate == 0 {
		r.Serial.BaudRate = 115200
	}
	if r.Serial.SlaveID == 0 {
		r.Serial.SlaveID = 1
	}
	if r.Serial.TimeoutMs == 0 {
		r.Serial.TimeoutMs = 1000
	}
	if r.Serial.Retries == 0 {
		r.Serial.Retries = 3
	}
	if r.Serial.DiscoveryTimeoutMs == 0 {
		r.Serial.DiscoveryTimeoutMs = 30000
	}

	// ---- poll ----

	if r.Poll.IntervalMs == 0 {
		r.Poll.IntervalMs = 500
	}
	if r.Poll.MaxMissed == 0 {
		r.Poll.MaxMissed = 3
	}

	// ---- registers ----

	if r.Registers == (RegisterMap{}) {
		r.Registers = DefaultRegisterMap()
	}

	// ---- test parameters ----

	t := &r.Test
	if t.TargetRPM == 0 {
		t.TargetRPM = 300
	}
	if t.ForwardTorquePct == 0 {
		t.ForwardTorquePct = 100
	}
	if t.ReverseTorquePct == 0 {
		t.ReverseTorquePct = -100
	}
	if t.ForwardDurationMs == 0 {
		t.ForwardDurationMs = 5000
	}
	if t.ReverseDurationMs == 0 {
		t.ReverseDurationMs = 2000
	}
	if t.MaxMotorCurrentA == 0 {
		t.MaxMotorCurrentA = 70
	}
	if t.MaxBrakeCurrentA == 0 {
		t.MaxBrakeCurrentA = 40
	}
	if t.MaxBatteryCurrentA == 0 {
		t.MaxBatteryCurrentA = 75
	}
	if t.RegenBatteryCurrentA == 0 {
		t.RegenBatteryCurrentA = 48
	}
	if t.TargetCycles == 0 {
		t.TargetCycles = -1
	}
	if t.RPMTolerance == 0 {
		t.RPMTolerance = 25
	}
	if t.ReverseRPMThreshold == 0 {
		t.ReverseRPMThreshold = 5
	}
	if t.OnClutchFailure == "" {
		t.OnClutchFailure = "continue"
	}

	// ---- recovery ----

	rec := &r.Recovery
	if rec.InitialWaitS == 0 {
		rec.InitialWaitS = 10
	}
	if rec.SettleMs == 0 {
		rec.SettleMs = 1000
	}
	if rec.DebouncePolls == 0 {
		rec.DebouncePolls = 2
	}
	if len(rec.Stages) == 0 {
		rec.Stages = []StageConfig{
			{Attempts: 5, IntervalS: 60},
			{Attempts: 5, IntervalS: 300},
			{Attempts: 5, IntervalS: 900},
			{Attempts: 5, IntervalS: 1800},
		}
	}

	// ---- records ----

	if r.Records.Dir == "" {
		r.Records.Dir = "records"
	}
}

// DefaultRegisterMap returns the register address table of the
// controller this rig was built against.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		SpeedMode:          11,
		SpeedCommand:       1677,
		TorqueCommand:      494,
		StateCommand:       493,
		MotoringCurrentLim: 491,
		BrakingCurrentLim:  492,
		BatteryCurrentLim:  360,
		RegenCurrentLim:    361,
		ClearFaults:        508,

		Fault1:   258,
		Fault2:   299,
		Warning1: 277,
		Warning2: 359,

		ControllerTemp: 259,
		MotorTemp:      261,
		MotorCurrent:   262,
		MotorRPM:       263,
		BatteryVoltage: 265,
		BatteryCurrent: 266,
		BatterySOC:     267,
	}
}
