// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package joint

import "fmt"

// Table holds one Entry per actuator, indexed [leg][slot]. Legs map one to one
// onto serial channels and slots onto actuator ids on that channel.
type Table [Legs][SlotsPerLeg]Entry

// Default is the calibrated table for the production robot. Offsets are the
// encoder zero of each joint measured in output space.
var Default = Table{
	{ // leg 0
		{Sign: +1, Offset: 0.917742, ExtraGear: 1},
		{Sign: -1, Offset: -1.775659, ExtraGear: 1},
		{Sign: +1, Offset: 3.205968, ExtraGear: ExtraGear},
	},
	{ // leg 1
		{Sign: +1, Offset: 0.83411, ExtraGear: 1},
		{Sign: +1, Offset: -0.950479, ExtraGear: 1},
		{Sign: -1, Offset: 2.6572986, ExtraGear: ExtraGear},
	},
	{ // leg 2
		{Sign: -1, Offset: 0.036858, ExtraGear: 1},
		{Sign: -1, Offset: -1.4168, ExtraGear: 1},
		{Sign: +1, Offset: 3.2397, ExtraGear: ExtraGear},
	},
	{ // leg 3
		{Sign: -1, Offset: -0.414653, ExtraGear: 1},
		{Sign: +1, Offset: -0.42181, ExtraGear: 1},
		{Sign: -1, Offset: 2.231182, ExtraGear: ExtraGear},
	},
}

// Entry returns the entry for (leg, slot). Out-of-range indices panic like a slice index.
func (t *Table) Entry(leg, slot int) Entry {
	return t[leg][slot]
}

// ToActuator converts an output-space value for (leg, slot)
func (t *Table) ToActuator(leg, slot int, v float64, kind Kind) float64 {
	return t[leg][slot].ToActuator(v, kind)
}

// ToOutput converts an actuator-local value for (leg, slot)
func (t *Table) ToOutput(leg, slot int, v float64, kind Kind) float64 {
	return t[leg][slot].ToOutput(v, kind)
}

// Validate checks every entry has a unit sign and a known gear stage
func (t *Table) Validate() error {
	for leg := range t {
		for slot, e := range t[leg] {
			if e.Sign != 1 && e.Sign != -1 {
				return fmt.Errorf("leg %d slot %d: sign %v is not ±1", leg, slot, e.Sign)
			}
			if e.ExtraGear != 1 && e.ExtraGear != ExtraGear {
				return fmt.Errorf("leg %d slot %d: extra gear %v is not 1 or %v", leg, slot, e.ExtraGear, ExtraGear)
			}
		}
	}
	return nil
}

// Index flattens (leg, slot) into the 0..NumActuators-1 order used by joint vectors
func Index(leg, slot int) int {
	return leg*SlotsPerLeg + slot
}

// Split is the inverse of Index
func Split(i int) (leg, slot int) {
	return i / SlotsPerLeg, i % SlotsPerLeg
}
