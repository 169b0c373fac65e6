// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package rt

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func apply(s Settings) error {
	if s.CPU >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(s.CPU)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("pin thread %d to cpu %d: %w", unix.Gettid(), s.CPU, err)
		}
	}

	if s.Priority > 0 {
		attr := &unix.SchedAttr{
			Size:     unix.SizeofSchedAttr,
			Policy:   unix.SCHED_FIFO,
			Priority: uint32(s.Priority),
		}
		if err := unix.SchedSetAttr(0, attr, 0); err != nil {
			return fmt.Errorf("set SCHED_FIFO priority %d on thread %d: %w", s.Priority, unix.Gettid(), err)
		}
	}
	return nil
}
