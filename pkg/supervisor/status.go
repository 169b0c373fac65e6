// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

// Status is a consistent snapshot of the machine for reporting
type Status struct {
	Phase       Phase   `json:"phase"`
	Progress    float64 `json:"progress"`
	Ticks       uint64  `json:"ticks"`
	Tripped     bool    `json:"tripped"`
	Trip        *Trip   `json:"trip,omitempty"`
	IMUFailures int     `json:"imu_failures"`
	Target      Vector  `json:"target"`
	Position    Vector  `json:"position"`
	Velocity    Vector  `json:"velocity"`
	Torque      Vector  `json:"torque"`
	Command     Vector  `json:"command_torque"`
}

// Status returns a snapshot of the machine
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Phase:       m.phase,
		Progress:    m.progress(),
		Ticks:       m.total,
		Tripped:     m.trip != nil,
		IMUFailures: m.imuFailures,
		Target:      m.target,
		Position:    m.q,
		Velocity:    m.qd,
		Torque:      m.qtau,
		Command:     m.out,
	}
	if m.trip != nil {
		t := *m.trip
		st.Trip = &t
	}
	return st
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Progress returns the current phase's progress in [0, 1]
func (m *Machine) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress()
}

// Target returns the current output-space position target
func (m *Machine) Target() Vector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Tripped reports whether the safety flag is set. It never blocks.
func (m *Machine) Tripped() bool {
	return m.tripped.Load()
}

// Trip returns the latched trip, if any
func (m *Machine) Trip() (Trip, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trip == nil {
		return Trip{}, false
	}
	return *m.trip, true
}
