// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rt

import (
	"errors"
	"testing"
)

func TestSettings_Enabled(t *testing.T) {
	tests := []struct {
		s    Settings
		want bool
	}{
		{Settings{CPU: -1}, false},
		{Settings{CPU: 0}, true},
		{Settings{CPU: -1, Priority: 80}, true},
	}
	for _, tt := range tests {
		if got := tt.s.Enabled(); got != tt.want {
			t.Errorf("%+v.Enabled() = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestLock_Disabled(t *testing.T) {
	done := make(chan error)
	go func() {
		unlock, err := Lock(Settings{CPU: -1})
		unlock()
		done <- err
	}()
	if err := <-done; err != nil {
		t.Errorf("Lock with nothing requested: %v", err)
	}
}

// stubThread replaces the thread hooks and counts unlocks
func stubThread(t *testing.T, applyErr error) *int {
	t.Helper()
	unlocks := 0
	oldApply, oldUnlock := applySettings, unlockThread
	applySettings = func(Settings) error { return applyErr }
	unlockThread = func() { unlocks++ }
	t.Cleanup(func() { applySettings, unlockThread = oldApply, oldUnlock })
	return &unlocks
}

func TestLock_KeepsThreadAfterApply(t *testing.T) {
	tests := []struct {
		name     string
		s        Settings
		applyErr error
		unlocks  int
	}{
		{"disabled", Settings{CPU: -1}, nil, 1},
		{"applied", Settings{CPU: 1, Priority: 80}, nil, 0},
		{"fifo refused after pinning", Settings{CPU: 1, Priority: 80}, errors.New("operation not permitted"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unlocks := stubThread(t, tt.applyErr)
			done := make(chan error)
			go func() {
				unlock, err := Lock(tt.s)
				unlock()
				done <- err
			}()
			err := <-done
			if !errors.Is(err, tt.applyErr) {
				t.Errorf("err = %v, want %v", err, tt.applyErr)
			}
			if *unlocks != tt.unlocks {
				t.Errorf("thread unlocked %d times, want %d", *unlocks, tt.unlocks)
			}
		})
	}
}
