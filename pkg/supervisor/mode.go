// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"fmt"
	"strings"
)

// Mode is the startup mode chosen by the operator
type Mode string

const (
	ModeStop     Mode = "stop"
	ModeTorque   Mode = "tor"
	ModeSpeed    Mode = "speed"
	ModePosition Mode = "pos"
)

// Modes lists every valid mode in display order
var Modes = []Mode{ModeStop, ModeTorque, ModeSpeed, ModePosition}

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Modes {
		if m == valid {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q (valid: stop, tor, speed, pos)", s)
}

// Setpoint is the output-space base command every ramp write starts from.
// Ramp phases fill in the position; the rest comes from here.
type Setpoint struct {
	Torque float64
	Speed  float64
	KPos   float64
	KSpd   float64
}

// Setpoint returns the base command for m
func (m Mode) Setpoint() Setpoint {
	switch m {
	case ModeTorque:
		return Setpoint{Torque: 0.25}
	case ModeSpeed:
		return Setpoint{Speed: 6.28, KSpd: 0.4}
	case ModePosition:
		return Setpoint{KPos: 60, KSpd: 5}
	default:
		return Setpoint{}
	}
}
