// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package joint maps between output space (joint radians and Nm, the frame the
// controller reasons in) and actuator-local units (rotor side of the gearbox).
//
// Each actuator has one immutable Entry. The mapping is the same four linear
// forms for every actuator; only the Entry data differs.
package joint

import "fmt"

// Gear reduction between rotor and joint
const (
	GearRatio = 6.33
	ExtraGear = 1.88 // second stage on the knee
)

// Layout of the robot
const (
	Legs         = 4
	SlotsPerLeg  = 3
	NumActuators = Legs * SlotsPerLeg
)

// Slot indices within a leg
const (
	SlotHip   = 0
	SlotThigh = 1
	SlotKnee  = 2
)

// Kind selects which physical quantity is being transformed
type Kind int

const (
	Torque Kind = iota
	Speed
	Position
	Gain
)

func (k Kind) String() string {
	switch k {
	case Torque:
		return "torque"
	case Speed:
		return "speed"
	case Position:
		return "position"
	case Gain:
		return "gain"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is the transform data for one actuator
type Entry struct {
	Sign      float64 // +1 or -1
	Offset    float64 // rad, output space
	ExtraGear float64 // 1.0 or ExtraGear
}

// ratio is the total reduction between rotor and joint
func (e Entry) ratio() float64 {
	return GearRatio * e.ExtraGear
}

// ToActuator converts an output-space value to actuator-local units
func (e Entry) ToActuator(v float64, kind Kind) float64 {
	switch kind {
	case Position:
		return e.Sign * (v + e.Offset) * e.ratio()
	case Torque:
		return e.Sign * v / e.ratio()
	case Speed:
		return e.Sign * v * e.ratio()
	case Gain:
		return v / (GearRatio * GearRatio)
	default:
		return v
	}
}

// ToOutput converts an actuator-local value to output space. It is the exact
// algebraic inverse of ToActuator; Sign is ±1 so multiplying by it inverts it.
func (e Entry) ToOutput(v float64, kind Kind) float64 {
	switch kind {
	case Position:
		return v/e.ratio()*e.Sign - e.Offset
	case Torque:
		return e.Sign * v * e.ratio()
	case Speed:
		return e.Sign * v / e.ratio()
	case Gain:
		return v * (GearRatio * GearRatio)
	default:
		return v
	}
}
