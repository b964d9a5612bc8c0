// internal/registers/plan.go
package registers

import (
	"sort"

	"github.com/tamzrod/clutch-rig/internal/config"
)

// block is one contiguous read geometry.
type block struct {
	addr uint16
	qty  uint16
}

// planMaxGap is the largest address gap bridged by a single batched
// read. Reading a few dead registers costs less than an extra
// round trip on a 115200 baud link.
const planMaxGap = 32

// buildPlan computes a minimal covering set of contiguous reads for
// the telemetry, fault and warning registers of a map.
func buildPlan(m config.RegisterMap) []block {
	addrs := []uint16{
		m.Fault1, m.Fault2, m.Warning1, m.Warning2,
		m.ControllerTemp, m.MotorTemp, m.MotorCurrent, m.MotorRPM,
		m.BatteryVoltage, m.BatteryCurrent, m.BatterySOC,
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var plan []block
	for _, a := range addrs {
		if len(plan) == 0 {
			plan = append(plan, block{addr: a, qty: 1})
			continue
		}

		last := &plan[len(plan)-1]
		end := last.addr + last.qty - 1
		if a <= end {
			continue // duplicate address
		}
		if a-end <= planMaxGap {
			last.qty = a - last.addr + 1
			continue
		}
		plan = append(plan, block{addr: a, qty: 1})
	}

	return plan
}
