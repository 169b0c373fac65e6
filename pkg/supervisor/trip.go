// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package supervisor

import (
	"fmt"
	"math"
	"time"
)

// TripKind identifies which bound was violated
type TripKind int

const (
	TripTorque TripKind = iota
	TripPosition
	TripOrientation
	TripIMULoss
)

// String returns the human-readable name for a trip kind
func (k TripKind) String() string {
	switch k {
	case TripTorque:
		return "TORQUE"
	case TripPosition:
		return "POSITION"
	case TripOrientation:
		return "ORIENTATION"
	case TripIMULoss:
		return "IMU_LOSS"
	default:
		return fmt.Sprintf("TRIP(%d)", int(k))
	}
}

// MarshalText renders the trip kind name in JSON
func (k TripKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Trip records why protection engaged. Joint is -1 for whole-body trips.
type Trip struct {
	Kind  TripKind  `json:"kind"`
	Joint int       `json:"joint"`
	Value float64   `json:"value"`
	Limit float64   `json:"limit"`
	Phase Phase     `json:"phase"`
	At    time.Time `json:"at"`
}

// String returns a one-line description of the trip
func (t Trip) String() string {
	if t.Joint >= 0 {
		return fmt.Sprintf("%s trip on joint %d: %.3f (limit %.3f) in %s", t.Kind, t.Joint, t.Value, t.Limit, t.Phase)
	}
	return fmt.Sprintf("%s trip: %.3f (limit %.3f) in %s", t.Kind, t.Value, t.Limit, t.Phase)
}

// checkTrips evaluates the torque, position and orientation bounds in that order
// and returns the first violation. Position bounds are inclusive.
func (m *Machine) checkTrips() (Trip, bool) {
	for i, tau := range m.pd {
		if math.Abs(tau) > m.cfg.TorqueTrip {
			return Trip{Kind: TripTorque, Joint: i, Value: tau, Limit: m.cfg.TorqueTrip}, true
		}
	}
	for i, q := range m.q {
		if q < m.cfg.PositionMin[i] {
			return Trip{Kind: TripPosition, Joint: i, Value: q, Limit: m.cfg.PositionMin[i]}, true
		}
		if q > m.cfg.PositionMax[i] {
			return Trip{Kind: TripPosition, Joint: i, Value: q, Limit: m.cfg.PositionMax[i]}, true
		}
	}
	if v := m.sample.Roll; math.Abs(v) > m.cfg.OrientationLimit {
		return Trip{Kind: TripOrientation, Joint: -1, Value: v, Limit: m.cfg.OrientationLimit}, true
	}
	if v := m.sample.Pitch; math.Abs(v) > m.cfg.OrientationLimit {
		return Trip{Kind: TripOrientation, Joint: -1, Value: v, Limit: m.cfg.OrientationLimit}, true
	}
	return Trip{}, false
}

// tripWith latches t, switches to Protect and damps on the same tick. The latch
// holds for the life of the process; only a restart clears it.
func (m *Machine) tripWith(t Trip) {
	if m.trip != nil {
		return
	}
	t.Phase = m.phase
	t.At = time.Now()
	m.trip = &t
	m.tripped.Store(true)
	m.log.Error("safety trip, damping all actuators", "trip", t.String())
	m.enter(Protect)
	m.damp()
}
