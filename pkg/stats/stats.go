// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package stats reports per-actuator exchange loss as a periodic table.
package stats

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/motorwire"
	"github.com/Thermoquad/legctl/pkg/store"
)

// Row is one actuator's line in a report
type Row struct {
	Channel     int
	Motor       int
	Counters    store.Counters
	Temperature int8
	Anomalies   []motorwire.ValidationError
}

// Report is one statistics period
type Report struct {
	Elapsed time.Duration
	Rows    []Row
}

// Totals sums the counters of every row
func (r *Report) Totals() store.Counters {
	var t store.Counters
	for _, row := range r.Rows {
		t.Sent += row.Counters.Sent
		t.Received += row.Counters.Received
	}
	return t
}

// String returns the report as a fixed-width table
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.1f seconds) ===\n", r.Elapsed.Seconds())
	b.WriteString("Channel | Motor |   Sent | Received |   Lost | Loss Rate | Temp | Errors\n")
	b.WriteString("--------|-------|--------|----------|--------|-----------|------|-------\n")
	for _, row := range r.Rows {
		c := row.Counters
		fmt.Fprintf(&b, "%7d | %5d | %6d | %8d | %6d | %8.2f%% | %4d | %6d\n",
			row.Channel, row.Motor, c.Sent, c.Received, c.Lost(), c.LossPercent(), row.Temperature, len(row.Anomalies))
	}
	t := r.Totals()
	fmt.Fprintf(&b, "  total |       | %6d | %8d | %6d | %8.2f%% |      |\n", t.Sent, t.Received, t.Lost(), t.LossPercent())
	return b.String()
}

// Reporter periodically writes a loss report for a store. Actuator i is shown
// as motor i%3 on channel i/3, matching the one-channel-per-leg wiring.
type Reporter struct {
	store    *store.Store
	interval time.Duration
	reset    bool
	out      io.Writer
	log      *log.Logger
	now      func() time.Time
	since    time.Time
}

// NewReporter creates a reporter. With reset set, counters are zeroed after each
// report so every table covers one interval.
func NewReporter(st *store.Store, interval time.Duration, reset bool, out io.Writer, logger *log.Logger) *Reporter {
	return &Reporter{
		store:    st,
		interval: interval,
		reset:    reset,
		out:      out,
		log:      logger.With("component", "stats"),
		now:      time.Now,
		since:    time.Now(),
	}
}

// Collect builds a report covering the time since the previous one
func (r *Reporter) Collect() Report {
	var snap []store.Actuator
	if r.reset {
		snap = r.store.SnapshotAndReset()
	} else {
		snap = r.store.Snapshot()
	}
	now := r.now()
	rep := Report{Elapsed: now.Sub(r.since), Rows: make([]Row, len(snap))}
	if r.reset {
		r.since = now
	}
	for i, a := range snap {
		leg, slot := joint.Split(i)
		row := Row{Channel: leg, Motor: slot, Counters: a.Counters}
		if a.HasFeedback {
			row.Temperature = a.Feedback.Temperature
			row.Anomalies = motorwire.ValidateFeedback(a.Feedback)
		}
		rep.Rows[i] = row
	}
	return rep
}

// Run writes a report every interval until ctx is cancelled
func (r *Reporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rep := r.Collect()
			for _, row := range rep.Rows {
				for _, a := range row.Anomalies {
					r.log.Warn("actuator anomaly", "channel", row.Channel, "motor", row.Motor, "msg", a.Message)
				}
			}
			if _, err := io.WriteString(r.out, rep.String()); err != nil {
				return fmt.Errorf("failed to write statistics: %w", err)
			}
		}
	}
}
