// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package channel runs the fixed-period exchange loop for one serial channel.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Thermoquad/legctl/pkg/link"
	"github.com/Thermoquad/legctl/pkg/motorwire"
	"github.com/Thermoquad/legctl/pkg/rt"
	"github.com/Thermoquad/legctl/pkg/store"
)

// Default loop timing
const (
	DefaultPeriod     = 1 * time.Millisecond
	DefaultRetries    = 3
	DefaultRetryDelay = 1 * time.Millisecond
)

// Actuator binds a wire id on this channel to its row in the store
type Actuator struct {
	ID    uint8
	Index int
}

// Config holds the loop timing and scheduling for one channel
type Config struct {
	Period     time.Duration
	Retries    int
	RetryDelay time.Duration
	Sched      rt.Settings
}

// DefaultConfig returns the timing used on the production robot, without RT scheduling
func DefaultConfig() Config {
	return Config{
		Period:     DefaultPeriod,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
		Sched:      rt.Settings{CPU: -1},
	}
}

// Loop services every actuator on one channel once per period, in a fixed order
type Loop struct {
	channel   int
	exchanger link.Exchanger
	store     *store.Store
	actuators []Actuator
	cfg       Config
	log       *log.Logger
	frame     []byte
	sleep     func(time.Duration)
}

// New creates a loop for channel. Actuators are serviced in slice order.
func New(channel int, exchanger link.Exchanger, st *store.Store, actuators []Actuator, cfg Config, logger *log.Logger) *Loop {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Loop{
		channel:   channel,
		exchanger: exchanger,
		store:     st,
		actuators: actuators,
		cfg:       cfg,
		log:       logger.With("channel", channel),
		frame:     make([]byte, motorwire.CommandFrameSize),
		sleep:     time.Sleep,
	}
}

// Run loops until ctx is cancelled or the transport fails. Cancellation is
// observed before every exchange attempt, so shutdown waits for at most the one
// exchange in flight. A transport error ends the loop for this channel only.
func (l *Loop) Run(ctx context.Context) error {
	unlock, err := rt.Lock(l.cfg.Sched)
	defer unlock()
	if err != nil {
		l.log.Warn("real-time scheduling unavailable, running best effort", "err", err)
	} else if l.cfg.Sched.Enabled() {
		l.log.Info("real-time scheduling applied", "cpu", l.cfg.Sched.CPU, "priority", l.cfg.Sched.Priority)
	}

	next := time.Now()
	for {
		if ctx.Err() != nil {
			l.log.Debug("channel loop stopped")
			return nil
		}
		next = next.Add(l.cfg.Period)

		if err := l.Cycle(ctx); err != nil {
			l.log.Error("channel loop failed", "err", err)
			return err
		}

		// absolute deadlines keep the loop phase-locked to wall time
		if d := time.Until(next); d > 0 {
			l.sleep(d)
		}
	}
}

// Cycle services each actuator once. It only returns an error for transport
// failures. Once ctx is cancelled it returns without starting another exchange,
// and an actuator cut short is not counted as lost.
func (l *Loop) Cycle(ctx context.Context) error {
	for _, a := range l.actuators {
		if err := l.service(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) service(ctx context.Context, a Actuator) error {
	cmd := l.store.Command(a.Index)
	if err := motorwire.EncodeCommandInto(l.frame, cmd, a.ID); err != nil {
		return fmt.Errorf("channel %d actuator %d: %w", l.channel, a.ID, err)
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.Retries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if attempt > 0 {
			l.sleep(l.cfg.RetryDelay)
		}
		fb, err := l.exchanger.Exchange(l.frame, a.ID)
		if err == nil {
			l.store.ApplyFeedback(a.Index, fb)
			return nil
		}
		if !link.IsRecoverable(err) {
			return fmt.Errorf("channel %d actuator %d: %w", l.channel, a.ID, err)
		}
		lastErr = err
		l.log.Debug("exchange failed, retrying", "id", a.ID, "attempt", attempt+1, "err", err)
	}

	l.store.RecordLoss(a.Index)
	l.log.Warn("exchange lost", "id", a.ID, "retries", l.cfg.Retries, "err", lastErr)
	return nil
}
