// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imu

// Fixed is a Source that always reports the same level sample. It stands in for
// the IMU on a bench rig with the robot on a stand.
type Fixed struct {
	Sample Sample
}

// Latest returns the fixed sample
func (f Fixed) Latest() (Sample, bool) {
	return f.Sample, true
}
