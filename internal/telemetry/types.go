// internal/telemetry/types.go
package telemetry

import "time"

// Snapshot is one immutable capture of the controller's telemetry
// block. Snapshots are superseded each poll cycle, never mutated.
type Snapshot struct {
	At time.Time `json:"at"`

	RPM            int     `json:"rpm"`
	MotorCurrent   float64 `json:"motor_current_a"`
	BatteryCurrent float64 `json:"battery_current_a"`
	BatteryVoltage float64 `json:"battery_voltage_v"`
	MotorTemp      int     `json:"motor_temp_c"`
	ControllerTemp int     `json:"controller_temp_c"`
	BatterySOC     int     `json:"battery_soc_pct"`

	// Raw fault/warning register pairs; decoding is the fault
	// classifier's job.
	Fault1   uint16 `json:"fault1"`
	Fault2   uint16 `json:"fault2"`
	Warning1 uint16 `json:"warning1"`
	Warning2 uint16 `json:"warning2"`
}

// Result is the outcome of one poll cycle. On a failed poll the
// previous snapshot is carried forward (stale but available).
type Result struct {
	At       time.Time
	Snapshot Snapshot
	Stale    bool
	Missed   int // consecutive failed polls including this one
	Err      error
}
