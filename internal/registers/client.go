// internal/registers/client.go
package registers

import (
	"errors"
	"time"

	"github.com/tamzrod/clutch-rig/internal/config"
	"github.com/tamzrod/clutch-rig/internal/faults"
	"github.com/tamzrod/clutch-rig/internal/telemetry"
)

// Bus abstracts the raw register exchange the client needs.
// Retry and integrity behavior belong to the transport, not here.
type Bus interface {
	ReadRegisters(addr, qty uint16) ([]uint16, error)
	WriteRegister(addr, value uint16) error
}

// Raw-to-engineering unit scaling of the controller's registers.
const (
	torqueScale       = 40.46 // percent -> raw torque command
	phaseCurrentScale = 40.96 // amps -> raw motoring/braking limit
	battLimitScale    = 8     // amps -> raw battery/regen limit
	currentScale      = 0.032 // raw -> amps (motor/battery feedback)
	voltageScale      = 0.03  // raw -> volts
)

// Motor state commands.
const (
	StateOff uint16 = 0
	StateRun uint16 = 2
)

// SpeedModeTorqueRegulated selects the regulator mode the endurance
// cycle runs under.
const SpeedModeTorqueRegulated uint16 = 2

// Client is the typed register surface of the motor controller.
// It knows addresses and unit scaling, nothing about test semantics.
type Client struct {
	bus  Bus
	m    config.RegisterMap
	plan []block
}

// NewClient builds a client from a bus and a register address table.
func NewClient(bus Bus, m config.RegisterMap) (*Client, error) {
	if bus == nil {
		return nil, errors.New("registers: bus required")
	}
	return &Client{bus: bus, m: m, plan: buildPlan(m)}, nil
}

// ---- COMMAND WRITES ----

// WriteTorque commands torque as a percentage; negative is reverse.
// The raw register is 16-bit two's complement.
func (c *Client) WriteTorque(pct float64) error {
	return c.bus.WriteRegister(c.m.TorqueCommand, encodeSigned(int(pct*torqueScale)))
}

// WriteSpeed commands the target speed in RPM.
func (c *Client) WriteSpeed(rpm int) error {
	return c.bus.WriteRegister(c.m.SpeedCommand, encodeSigned(rpm))
}

// WriteState commands the controller run state (StateOff / StateRun).
func (c *Client) WriteState(cmd uint16) error {
	return c.bus.WriteRegister(c.m.StateCommand, cmd)
}

// WriteSpeedMode selects the speed regulator mode.
func (c *Client) WriteSpeedMode(mode uint16) error {
	return c.bus.WriteRegister(c.m.SpeedMode, mode)
}

func (c *Client) WriteMotoringCurrentLimit(amps float64) error {
	return c.bus.WriteRegister(c.m.MotoringCurrentLim, uint16(amps*phaseCurrentScale))
}

func (c *Client) WriteBrakingCurrentLimit(amps float64) error {
	return c.bus.WriteRegister(c.m.BrakingCurrentLim, uint16(amps*phaseCurrentScale))
}

func (c *Client) WriteBatteryCurrentLimit(amps float64) error {
	return c.bus.WriteRegister(c.m.BatteryCurrentLim, uint16(amps*battLimitScale))
}

func (c *Client) WriteRegenCurrentLimit(amps float64) error {
	return c.bus.WriteRegister(c.m.RegenCurrentLim, uint16(amps*battLimitScale))
}

// ClearFaults issues the controller's fault-clear command.
func (c *Client) ClearFaults() error {
	return c.bus.WriteRegister(c.m.ClearFaults, 1)
}

// ---- TELEMETRY READS ----

// ReadTelemetry executes the batched read plan and assembles one
// snapshot. Implements telemetry.Source.
func (c *Client) ReadTelemetry(at time.Time) (telemetry.Snapshot, error) {
	vals := make(map[uint16]uint16, 16)
	for _, b := range c.plan {
		regs, err := c.bus.ReadRegisters(b.addr, b.qty)
		if err != nil {
			return telemetry.Snapshot{}, err
		}
		for i, v := range regs {
			vals[b.addr+uint16(i)] = v
		}
	}

	return telemetry.Snapshot{
		At:             at,
		RPM:            int(int16(vals[c.m.MotorRPM])),
		MotorCurrent:   float64(int16(vals[c.m.MotorCurrent])) * currentScale,
		BatteryCurrent: float64(int16(vals[c.m.BatteryCurrent])) * currentScale,
		BatteryVoltage: float64(vals[c.m.BatteryVoltage]) * voltageScale,
		MotorTemp:      int(int16(vals[c.m.MotorTemp])),
		ControllerTemp: int(int16(vals[c.m.ControllerTemp])),
		BatterySOC:     int(vals[c.m.BatterySOC]),
		Fault1:         vals[c.m.Fault1],
		Fault2:         vals[c.m.Fault2],
		Warning1:       vals[c.m.Warning1],
		Warning2:       vals[c.m.Warning2],
	}, nil
}

// ReadFaultRegisters reads the raw fault register pair.
func (c *Client) ReadFaultRegisters() (uint16, uint16, error) {
	f1, err := c.readOne(c.m.Fault1)
	if err != nil {
		return 0, 0, err
	}
	f2, err := c.readOne(c.m.Fault2)
	if err != nil {
		return 0, 0, err
	}
	return f1, f2, nil
}

// ReadWarningRegisters reads the raw warning register pair.
func (c *Client) ReadWarningRegisters() (uint16, uint16, error) {
	w1, err := c.readOne(c.m.Warning1)
	if err != nil {
		return 0, 0, err
	}
	w2, err := c.readOne(c.m.Warning2)
	if err != nil {
		return 0, 0, err
	}
	return w1, w2, nil
}

// ReadFaults reads and decodes the fault registers.
// Implements the recovery controller's fault re-check.
func (c *Client) ReadFaults() (faults.Set, error) {
	f1, f2, err := c.ReadFaultRegisters()
	if err != nil {
		return nil, err
	}
	return faults.DecodeFaults(f1, f2), nil
}

func (c *Client) readOne(addr uint16) (uint16, error) {
	regs, err := c.bus.ReadRegisters(addr, 1)
	if err != nil {
		return 0, err
	}
	return regs[0], nil
}

// encodeSigned maps a signed value onto the 16-bit register
// representation the controller expects.
func encodeSigned(v int) uint16 {
	return uint16(v & 0xFFFF)
}
