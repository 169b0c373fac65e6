// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package policy

import (
	"github.com/Thermoquad/legctl/pkg/imu"
	"github.com/Thermoquad/legctl/pkg/joint"
)

// Scales normalizes each observation group to roughly unit range
type Scales struct {
	EulerAngle     float64 `yaml:"euler_angle"`
	AngularRate    float64 `yaml:"angular_rate"`
	JointPosition  float64 `yaml:"joint_position"`
	JointVelocity  float64 `yaml:"joint_velocity"`
	LinearCommand  float64 `yaml:"linear_command"`
	AngularCommand float64 `yaml:"angular_command"`
}

// DefaultScales are the scales the policy was trained with
func DefaultScales() Scales {
	return Scales{
		EulerAngle:     1.0,
		AngularRate:    0.25,
		JointPosition:  1.0,
		JointVelocity:  0.05,
		LinearCommand:  2.0,
		AngularCommand: 0.25,
	}
}

// Command is the operator's motion intent
type Command struct {
	X   float64 // forward, m/s
	Y   float64 // lateral, m/s
	Yaw float64 // rad/s
}

// State is the robot state that goes into one observation
type State struct {
	IMU        imu.Sample
	Command    Command
	Position   [joint.NumActuators]float64 // output space, rad
	Velocity   [joint.NumActuators]float64 // output space, rad/s
	Home       [joint.NumActuators]float64
	LastAction [joint.NumActuators]float64
}

// Build writes the observation for st into dst (grown if needed) and returns it.
//
// Layout: angular rates (3), attitude (3), command (3), joint positions relative
// to home (12), joint velocities (12), last action (12).
func Build(dst []float64, st *State, sc Scales) []float64 {
	if cap(dst) < ObservationSize {
		dst = make([]float64, ObservationSize)
	}
	dst = dst[:0]

	dst = append(dst,
		st.IMU.RollRate*sc.AngularRate,
		st.IMU.PitchRate*sc.AngularRate,
		st.IMU.YawRate*sc.AngularRate,
		st.IMU.Roll*sc.EulerAngle,
		st.IMU.Pitch*sc.EulerAngle,
		st.IMU.Heading*sc.EulerAngle,
		st.Command.X*sc.LinearCommand,
		st.Command.Y*sc.LinearCommand,
		st.Command.Yaw*sc.AngularCommand,
	)
	for i := range st.Position {
		dst = append(dst, (st.Position[i]-st.Home[i])*sc.JointPosition)
	}
	for i := range st.Velocity {
		dst = append(dst, st.Velocity[i]*sc.JointVelocity)
	}
	dst = append(dst, st.LastAction[:]...)
	return dst
}
