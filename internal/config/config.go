// internal/config/config.go
package config

type Config struct {
	Rig RigConfig `yaml:"rig"`
}

type RigConfig struct {
	Serial    SerialConfig   `yaml:"serial"`
	Poll      PollConfig     `yaml:"poll"`
	Registers RegisterMap    `yaml:"registers"`
	Test      TestConfig     `yaml:"test"`
	Recovery  RecoveryConfig `yaml:"recovery"`
	Records   RecordsConfig  `yaml:"records"`
	Status    StatusConfig   `yaml:"status"`
}

// ---- SERIAL LINK ----

type SerialConfig struct {
	// Port empty means auto-discover.
	Port               string `yaml:"port"`
	BaudRate           int    `yaml:"baud_rate"`
	SlaveID            uint8  `yaml:"slave_id"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	Retries            int    `yaml:"retries"`
	DiscoveryTimeoutMs int    `yaml:"discovery_timeout_ms"`
}

// ---- POLLING ----

type PollConfig struct {
	IntervalMs int `yaml:"interval_ms"`

	// MaxMissed consecutive failed polls before the link itself
	// is reported as a fault condition.
	MaxMissed int `yaml:"max_missed"`
}

// ---- REGISTER MAP ----

// RegisterMap is the controller's register address table.
// Addresses are configuration, not logic; the defaults match the
// BLDC hub motor controller this rig was built against.
type RegisterMap struct {
	// command registers
	SpeedMode          uint16 `yaml:"speed_mode"`
	SpeedCommand       uint16 `yaml:"speed_command"`
	TorqueCommand      uint16 `yaml:"torque_command"`
	StateCommand       uint16 `yaml:"state_command"`
	MotoringCurrentLim uint16 `yaml:"motoring_current_limit"`
	BrakingCurrentLim  uint16 `yaml:"braking_current_limit"`
	BatteryCurrentLim  uint16 `yaml:"battery_current_limit"`
	RegenCurrentLim    uint16 `yaml:"regen_current_limit"`
	ClearFaults        uint16 `yaml:"clear_faults"`

	// fault / warning registers
	Fault1   uint16 `yaml:"fault1"`
	Fault2   uint16 `yaml:"fault2"`
	Warning1 uint16 `yaml:"warning1"`
	Warning2 uint16 `yaml:"warning2"`

	// telemetry registers
	ControllerTemp uint16 `yaml:"controller_temp"`
	MotorTemp      uint16 `yaml:"motor_temp"`
	MotorCurrent   uint16 `yaml:"motor_current"`
	MotorRPM       uint16 `yaml:"motor_rpm"`
	BatteryVoltage uint16 `yaml:"battery_voltage"`
	BatteryCurrent uint16 `yaml:"battery_current"`
	BatterySOC     uint16 `yaml:"battery_soc"`
}

// ---- TEST PARAMETERS ----

type TestConfig struct {
	TargetRPM         int     `yaml:"target_rpm"`
	ForwardTorquePct  float64 `yaml:"forward_torque_pct"`
	ReverseTorquePct  float64 `yaml:"reverse_torque_pct"`
	ForwardDurationMs int     `yaml:"forward_duration_ms"`
	ReverseDurationMs int     `yaml:"reverse_duration_ms"`

	MaxMotorCurrentA     float64 `yaml:"max_motor_current_a"`
	MaxBrakeCurrentA     float64 `yaml:"max_brake_current_a"`
	MaxBatteryCurrentA   float64 `yaml:"max_battery_current_a"`
	RegenBatteryCurrentA float64 `yaml:"regen_battery_current_a"`

	// TargetCycles -1 means run unbounded.
	TargetCycles int `yaml:"target_cycles"`

	// RPMTolerance is the absolute band around target RPM that counts
	// as "target reached" during the forward phase.
	RPMTolerance int `yaml:"rpm_tolerance"`

	// ReverseRPMThreshold is the near-zero band; sustained rotation
	// above it during the reverse phase is a clutch failure.
	ReverseRPMThreshold int `yaml:"reverse_rpm_threshold"`

	// OnClutchFailure is "continue" (keep cycling, record failures)
	// or "halt" (stop the test at the first failed cycle).
	OnClutchFailure string `yaml:"on_clutch_failure"`
}

// ---- FAULT RECOVERY ----

type RecoveryConfig struct {
	InitialWaitS  int           `yaml:"initial_wait_s"`
	SettleMs      int           `yaml:"settle_ms"`
	DebouncePolls int           `yaml:"debounce_polls"`
	Stages        []StageConfig `yaml:"stages"`
}

type StageConfig struct {
	Attempts  int `yaml:"attempts"`
	IntervalS int `yaml:"interval_s"`
}

// ---- RESULT PERSISTENCE ----

type RecordsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// ---- STATUS SERVER ----

type StatusConfig struct {
	// Listen empty disables the HTTP status server.
	Listen string `yaml:"listen"`
}
