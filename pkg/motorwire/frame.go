// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

// Command is one actuator setpoint in actuator-local units (rotor side of the gearbox).
// The actuator applies torque = Torque + KPos*(Position-pos) + KSpd*(Speed-spd).
type Command struct {
	Torque   float64 // Nm
	Speed    float64 // rad/s
	Position float64 // rad
	KPos     float64
	KSpd     float64
}

// Feedback is one decoded FeedbackFrame in actuator-local units
type Feedback struct {
	ID          uint8
	Status      uint8
	Torque      float64 // Nm
	Speed       float64 // rad/s
	Position    float64 // rad
	Temperature int8    // °C
	Error       ErrorCode
	Force       uint16 // raw foot force reading
}

// IsZero reports whether the command carries no torque, target or gain
func (c Command) IsZero() bool {
	return c == Command{}
}
