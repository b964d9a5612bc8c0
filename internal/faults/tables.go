// internal/faults/tables.go
package faults

// Bit tables for the controller's two fault and two warning
// registers. Bit position -> identifier; empty entries never decode.
// These follow the controller's flash-code documentation.

var fault1Table = [16]Condition{
	0:  "controller over voltage",
	1:  "phase over current",
	2:  "current sensor calibration",
	3:  "current sensor over current",
	4:  "controller over temperature",
	5:  "motor hall sensor",
	6:  "controller under voltage",
	7:  "post static gating test",
	8:  "network communication timeout",
	9:  "instantaneous phase over current",
	10: "motor over temperature",
	11: "throttle voltage outside range",
	12: "instantaneous controller over voltage",
	13: "internal error",
	14: "post dynamic gating test",
	15: "instantaneous under voltage",
}

var fault2Table = [16]Condition{
	0:  "parameter crc",
	1:  "current scaling",
	2:  "voltage scaling",
	3:  "headlight undervoltage",
	4:  "parameter3 crc",
	5:  "can bus",
	6:  "hall stall",
	7:  "bootloader",
	8:  "parameter2 crc",
	9:  "hall vs sensorless position",
	10: "dynamic torque sensor voltage outside range",
	11: "dynamic torque sensor static voltage",
	12: "remote can fault",
	13: "accelerometer side tilt",
	14: "open phase",
	15: "analog brake voltage out of range",
}

var warning1Table = [16]Condition{
	0:  "communication timeout",
	1:  "hall sensor",
	2:  "hall stall",
	3:  "wheel speed sensor",
	4:  "can bus",
	5:  "hall illegal sector",
	6:  "hall illegal transition",
	7:  "low battery voltage foldback",
	8:  "high battery voltage foldback",
	9:  "motor temperature foldback",
	10: "controller over temperature foldback",
	11: "low battery soc foldback",
	12: "high battery soc foldback",
	13: "12t overload foldback",
	14: "low temperature foldback",
	15: "bms communication timeout",
}

var warning2Table = [16]Condition{
	0: "throttle out of range",
	1: "dual speed sensor missing pulses",
	2: "dual speed sensor no pulses",
	3: "dynamic flash full",
	4: "dynamic flash read error",
	5: "dynamic flash write error",
	6: "parameters3 missing",
	7: "missed can message",
	8: "high battery temperature foldback",
	9: "adc saturation",
	// bits 10-15 reserved
}
