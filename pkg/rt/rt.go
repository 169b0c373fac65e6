// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rt pins the calling goroutine's OS thread to a CPU and raises it to
// real-time FIFO priority.
//
// Callers must runtime.LockOSThread first; Lock does both.
package rt

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned on platforms without affinity or FIFO scheduling
var ErrUnsupported = errors.New("rt: real-time scheduling not supported on this platform")

// Settings describes the scheduling wanted for one control thread.
// CPU < 0 leaves affinity alone; Priority <= 0 leaves the policy alone.
type Settings struct {
	CPU      int
	Priority int
}

// Enabled reports whether s asks for anything
func (s Settings) Enabled() bool {
	return s.CPU >= 0 || s.Priority > 0
}

// Hooks replaced in tests
var (
	applySettings = apply
	unlockThread  = runtime.UnlockOSThread
)

// Lock wires the calling goroutine to its OS thread and applies s to that thread.
// Once s has been attempted the thread stays locked until the goroutine exits and
// the returned function is a no-op, even when apply failed halfway (affinity set,
// FIFO refused); the runtime then discards the tuned thread.
func Lock(s Settings) (unlock func(), err error) {
	runtime.LockOSThread()
	if !s.Enabled() {
		return unlockThread, nil
	}
	return func() {}, applySettings(s)
}
