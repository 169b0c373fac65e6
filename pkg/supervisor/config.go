// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/policy"
	"github.com/Thermoquad/legctl/pkg/rt"
)

// Vector holds one output-space value per actuator, ordered leg by leg
type Vector [joint.NumActuators]float64

// Lerp returns (1-p)*a + p*b element-wise
func Lerp(a, b *Vector, p float64) Vector {
	var out Vector
	for i := range out {
		out[i] = (1-p)*a[i] + p*b[i]
	}
	return out
}

// perLeg repeats one leg's (hip, thigh, knee) values for every leg
func perLeg(hip, thigh, knee float64) Vector {
	var v Vector
	for leg := 0; leg < joint.Legs; leg++ {
		v[joint.Index(leg, joint.SlotHip)] = hip
		v[joint.Index(leg, joint.SlotThigh)] = thigh
		v[joint.Index(leg, joint.SlotKnee)] = knee
	}
	return v
}

// Named stances of the stand-up sequence
var (
	Stance1 = Vector{0, 1.36, -2.65, 0, 1.36, -2.65, -0.2, 1.36, -2.65, 0.2, 1.36, -2.65}
	Stance2 = perLeg(0, 0.67, -1.3)
	Stance3 = Vector{-0.35, 1.36, -2.65, 0.35, 1.36, -2.65, -0.5, 1.36, -2.65, 0.5, 1.36, -2.65}
	Home    = Vector{0.1, 0.8, -1.5, -0.1, 0.8, -1.5, 0.1, 1.0, -1.5, -0.1, 1.0, -1.5}
)

// Config holds the tuned constants of the supervisor
type Config struct {
	Tick        time.Duration
	SettleDelay time.Duration

	Stance1, Stance2, Stance3 Vector
	Ramp1Ticks                int
	Ramp2Ticks                int
	Hold2Ticks                int
	Ramp3Ticks                int

	WarmupTicks   int
	HandoverTicks int // active ticks over which the base pose moves from the last stance to Home
	Decimation    int
	Kp, Kd        float64
	Home          Vector
	ActionScale   Vector
	ActionClip    float64
	ActionBlend   float64 // weight of the newest action, 1 disables blending
	Scales        policy.Scales
	Command       policy.Command

	TorqueClamp      float64 // Nm, output space
	TorqueTrip       float64 // Nm, must exceed TorqueClamp
	PositionMin      Vector
	PositionMax      Vector
	OrientationLimit float64 // rad, roll and pitch
	IMUFailureLimit  int     // consecutive failed reads tolerated in policy phases

	DampingGain float64 // actuator-local velocity gain
	Sched       rt.Settings
}

// DefaultConfig returns the values tuned on the production robot
func DefaultConfig() Config {
	var scale Vector
	for i := range scale {
		scale[i] = 0.25
	}
	return Config{
		Tick:             10 * time.Millisecond,
		SettleDelay:      2 * time.Second,
		Stance1:          Stance1,
		Stance2:          Stance2,
		Stance3:          Stance3,
		Ramp1Ticks:       500,
		Ramp2Ticks:       500,
		Hold2Ticks:       1000,
		Ramp3Ticks:       900,
		WarmupTicks:      50,
		HandoverTicks:    200,
		Decimation:       6,
		Kp:               30,
		Kd:               0.75,
		Home:             Home,
		ActionScale:      scale,
		ActionClip:       1,
		ActionBlend:      0.8,
		Scales:           policy.DefaultScales(),
		TorqueClamp:      12,
		TorqueTrip:       25,
		PositionMin:      perLeg(-0.8, -0.5, -2.8),
		PositionMax:      perLeg(0.8, 2.0, -0.6),
		OrientationLimit: 0.6,
		IMUFailureLimit:  3,
		DampingGain:      5.0 / (joint.GearRatio * joint.GearRatio),
		Sched:            rt.Settings{CPU: -1},
	}
}

// Validate checks the configuration for values that would make the machine unsafe or stuck
func (c *Config) Validate() error {
	var err error
	if c.Tick <= 0 {
		err = multierr.Append(err, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	durations := []struct {
		name string
		n    int
	}{
		{"ramp1_ticks", c.Ramp1Ticks},
		{"ramp2_ticks", c.Ramp2Ticks},
		{"hold2_ticks", c.Hold2Ticks},
		{"ramp3_ticks", c.Ramp3Ticks},
		{"decimation", c.Decimation},
	}
	for _, d := range durations {
		if d.n <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive, got %d", d.name, d.n))
		}
	}
	if c.WarmupTicks < 0 {
		err = multierr.Append(err, fmt.Errorf("warmup_ticks must not be negative, got %d", c.WarmupTicks))
	}
	if c.HandoverTicks < 0 {
		err = multierr.Append(err, fmt.Errorf("handover_ticks must not be negative, got %d", c.HandoverTicks))
	}
	if c.TorqueClamp <= 0 || c.TorqueTrip <= c.TorqueClamp {
		err = multierr.Append(err, fmt.Errorf("need 0 < torque_clamp (%v) < torque_trip (%v)", c.TorqueClamp, c.TorqueTrip))
	}
	for i := range c.PositionMin {
		if c.PositionMin[i] >= c.PositionMax[i] {
			err = multierr.Append(err, fmt.Errorf("joint %d: position_min %v >= position_max %v", i, c.PositionMin[i], c.PositionMax[i]))
		}
	}
	if c.OrientationLimit <= 0 {
		err = multierr.Append(err, fmt.Errorf("orientation_limit must be positive, got %v", c.OrientationLimit))
	}
	if c.IMUFailureLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("imu_failure_limit must not be negative, got %d", c.IMUFailureLimit))
	}
	if c.ActionBlend <= 0 || c.ActionBlend > 1 {
		err = multierr.Append(err, fmt.Errorf("action_blend must be in (0, 1], got %v", c.ActionBlend))
	}
	if c.ActionClip <= 0 {
		err = multierr.Append(err, fmt.Errorf("action_clip must be positive, got %v", c.ActionClip))
	}
	if c.DampingGain <= 0 {
		err = multierr.Append(err, fmt.Errorf("damping_gain must be positive, got %v", c.DampingGain))
	}
	return err
}

// rampDuration returns the tick count of a ramp phase
func (c *Config) rampDuration(p Phase) int {
	switch p {
	case Ramp1:
		return c.Ramp1Ticks
	case Ramp2:
		return c.Ramp2Ticks
	case Hold2:
		return c.Hold2Ticks
	case Ramp3:
		return c.Ramp3Ticks
	}
	return 1
}
