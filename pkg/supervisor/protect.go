// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"github.com/Thermoquad/legctl/pkg/motorwire"
	"github.com/Thermoquad/legctl/pkg/store"
)

// DampingCommand is the braking command: no torque, no targets, only a velocity gain.
// gain is in actuator-local units.
func DampingCommand(gain float64) motorwire.Command {
	return motorwire.Command{KSpd: gain}
}

// Damp writes the damping command to every actuator in st
func Damp(st *store.Store, gain float64) {
	st.Broadcast(DampingCommand(gain))
}

func (m *Machine) damp() {
	Damp(m.store, m.cfg.DampingGain)
}
