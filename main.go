// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// legctl - Quadruped actuator bus controller
//
// Drives twelve actuators over four serial channels, stands the robot up and
// runs a locomotion policy behind a latched safety monitor.

package main

import (
	"os"

	"github.com/Thermoquad/legctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
