// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store is the shared command/feedback table between the channel loops
// and the supervisor.
//
// One mutex guards the whole table. Every method is a single short critical
// section; callers never hold the lock across I/O. This serializes the channel
// loops against the supervisor, which is fine for a handful of channels and
// becomes the bottleneck beyond that.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/legctl/pkg/motorwire"
)

// Counters tracks exchange attempts for one actuator
type Counters struct {
	Sent     uint64
	Received uint64
}

// Lost returns the number of exchanges that never produced valid feedback
func (c Counters) Lost() uint64 {
	if c.Sent > c.Received {
		return c.Sent - c.Received
	}
	return 0
}

// LossPercent returns Lost as a percentage of Sent
func (c Counters) LossPercent() float64 {
	if c.Sent == 0 {
		return 0
	}
	return float64(c.Lost()) * 100 / float64(c.Sent)
}

// Actuator is everything the store knows about one actuator
type Actuator struct {
	Command     motorwire.Command
	Feedback    motorwire.Feedback
	HasFeedback bool
	FeedbackAt  time.Time
	Counters    Counters
}

// Store is the mutex-guarded actuator table
type Store struct {
	mu        sync.Mutex
	actuators []Actuator
}

// New creates a store for n actuators with zero commands
func New(n int) *Store {
	return &Store{actuators: make([]Actuator, n)}
}

// Len returns the number of actuators
func (s *Store) Len() int {
	return len(s.actuators)
}

// Command returns the current command for actuator i
func (s *Store) Command(i int) motorwire.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actuators[i].Command
}

// SetCommand replaces the command for actuator i
func (s *Store) SetCommand(i int, cmd motorwire.Command) {
	s.mu.Lock()
	s.actuators[i].Command = cmd
	s.mu.Unlock()
}

// SetCommands replaces every command under one lock so a channel loop never sees
// half of a supervisor tick.
func (s *Store) SetCommands(cmds []motorwire.Command) error {
	if len(cmds) != len(s.actuators) {
		return fmt.Errorf("command vector has %d entries, store has %d", len(cmds), len(s.actuators))
	}
	s.mu.Lock()
	for i := range s.actuators {
		s.actuators[i].Command = cmds[i]
	}
	s.mu.Unlock()
	return nil
}

// Broadcast writes the same command to every actuator
func (s *Store) Broadcast(cmd motorwire.Command) {
	s.mu.Lock()
	for i := range s.actuators {
		s.actuators[i].Command = cmd
	}
	s.mu.Unlock()
}

// ApplyFeedback stores verified feedback and counts a successful exchange
func (s *Store) ApplyFeedback(i int, fb motorwire.Feedback) {
	s.mu.Lock()
	a := &s.actuators[i]
	a.Feedback = fb
	a.HasFeedback = true
	a.FeedbackAt = time.Now()
	a.Counters.Sent++
	a.Counters.Received++
	s.mu.Unlock()
}

// RecordLoss counts an exchange that exhausted its retries
func (s *Store) RecordLoss(i int) {
	s.mu.Lock()
	s.actuators[i].Counters.Sent++
	s.mu.Unlock()
}

// Feedback returns the last verified feedback for actuator i.
// ok is false until the first successful exchange.
func (s *Store) Feedback(i int) (fb motorwire.Feedback, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actuators[i].Feedback, s.actuators[i].HasFeedback
}

// Feedbacks copies every actuator's last feedback into dst, growing it if needed
func (s *Store) Feedbacks(dst []motorwire.Feedback) []motorwire.Feedback {
	if cap(dst) < len(s.actuators) {
		dst = make([]motorwire.Feedback, len(s.actuators))
	}
	dst = dst[:len(s.actuators)]
	s.mu.Lock()
	for i := range s.actuators {
		dst[i] = s.actuators[i].Feedback
	}
	s.mu.Unlock()
	return dst
}

// Reported returns how many actuators have produced at least one verified feedback
func (s *Store) Reported() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.actuators {
		if s.actuators[i].HasFeedback {
			n++
		}
	}
	return n
}

// Counters returns the exchange counters for actuator i
func (s *Store) Counters(i int) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actuators[i].Counters
}

// ResetCounters zeroes every actuator's counters
func (s *Store) ResetCounters() {
	s.mu.Lock()
	for i := range s.actuators {
		s.actuators[i].Counters = Counters{}
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the whole table
func (s *Store) Snapshot() []Actuator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Actuator, len(s.actuators))
	copy(out, s.actuators)
	return out
}

// SnapshotAndReset returns a copy of the whole table and zeroes the counters in
// the same critical section, so no exchange is counted twice or dropped.
func (s *Store) SnapshotAndReset() []Actuator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Actuator, len(s.actuators))
	copy(out, s.actuators)
	for i := range s.actuators {
		s.actuators[i].Counters = Counters{}
	}
	return out
}
