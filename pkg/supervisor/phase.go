// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import "fmt"

// Phase is the supervisor's state
type Phase int

const (
	CaptureStart Phase = iota
	Ramp1
	Ramp2
	Hold2
	Ramp3
	PolicyWarmup
	PolicyActive
	Protect
)

// String returns the human-readable name for a phase
func (p Phase) String() string {
	switch p {
	case CaptureStart:
		return "CAPTURE_START"
	case Ramp1:
		return "RAMP_1"
	case Ramp2:
		return "RAMP_2"
	case Hold2:
		return "HOLD_2"
	case Ramp3:
		return "RAMP_3"
	case PolicyWarmup:
		return "POLICY_WARMUP"
	case PolicyActive:
		return "POLICY_ACTIVE"
	case Protect:
		return "PROTECT"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}

// IsRamp reports whether p interpolates between two stances
func (p Phase) IsRamp() bool {
	return p >= Ramp1 && p <= Ramp3
}

// IsPolicy reports whether p runs the policy
func (p Phase) IsPolicy() bool {
	return p == PolicyWarmup || p == PolicyActive
}

// MarshalText renders the phase name in JSON and logs
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// next returns the phase that follows a completed phase
func (p Phase) next() Phase {
	switch p {
	case CaptureStart:
		return Ramp1
	case Ramp1:
		return Ramp2
	case Ramp2:
		return Hold2
	case Hold2:
		return Ramp3
	case Ramp3:
		return PolicyWarmup
	case PolicyWarmup:
		return PolicyActive
	default:
		return p
	}
}
