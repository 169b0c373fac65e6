// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package supervisor sequences the stand-up, hands control to the locomotion
// policy, and enforces the safety bounds.
//
// The machine runs one handler per phase on each tick:
//
//	CAPTURE_START -> RAMP_1 -> RAMP_2 -> HOLD_2 -> RAMP_3 -> POLICY_WARMUP -> POLICY_ACTIVE
//
// PROTECT is entered from any phase on a safety trip and never left.
package supervisor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Thermoquad/legctl/pkg/imu"
	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/motorwire"
	"github.com/Thermoquad/legctl/pkg/policy"
	"github.com/Thermoquad/legctl/pkg/rt"
	"github.com/Thermoquad/legctl/pkg/store"
)

// Machine is the supervisory state machine. Tick is not safe for concurrent
// use; Status, Phase and Tripped may be called from any goroutine.
type Machine struct {
	cfg      Config
	table    *joint.Table
	store    *store.Store
	policy   policy.Policy
	imu      imu.Source
	setpoint Setpoint
	log      *log.Logger

	mu          sync.Mutex
	phase       Phase
	ticks       int // ticks spent in the current phase
	total       uint64
	start, end  Vector
	target      Vector // output-space position target
	base        Vector // pose the policy offsets are added to
	handover    Vector // measured pose when PolicyActive was entered
	q, qd, qtau Vector // feedback in output space
	pd          Vector // PD torque before the clamp
	out         Vector // PD torque as written
	action      Vector
	sample      imu.Sample
	imuFailures int
	trip        *Trip
	tripped     atomic.Bool
	waiting     bool

	history *policy.History
	obs     []float64
	fbBuf   []motorwire.Feedback
	cmdBuf  []motorwire.Command
}

// New creates a machine in CaptureStart. The store must hold one row per
// actuator in joint.Index order.
func New(cfg Config, table *joint.Table, st *store.Store, pol policy.Policy, src imu.Source, mode Mode, logger *log.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	if st.Len() != joint.NumActuators {
		return nil, fmt.Errorf("store has %d actuators, need %d", st.Len(), joint.NumActuators)
	}
	return &Machine{
		cfg:      cfg,
		table:    table,
		store:    st,
		policy:   pol,
		imu:      src,
		setpoint: mode.Setpoint(),
		log:      logger.With("component", "supervisor"),
		phase:    CaptureStart,
		history:  policy.NewHistory(policy.HistoryLength, policy.ObservationSize),
		obs:      make([]float64, 0, policy.ObservationSize),
		cmdBuf:   make([]motorwire.Command, joint.NumActuators),
	}, nil
}

// Prime writes the mode's initial command before the loops start. Position mode
// holds Stance1 under its gains; the other modes start from zero commands.
func (m *Machine) Prime(mode Mode) {
	if mode != ModePosition {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target = m.cfg.Stance1
	m.writeTarget()
}

// Run waits for the channels to settle, then ticks at the configured period
// with absolute deadlines until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	unlock, err := rt.Lock(m.cfg.Sched)
	defer unlock()
	if err != nil {
		m.log.Warn("real-time scheduling unavailable, running best effort", "err", err)
	}

	m.log.Info("waiting for channels to settle", "delay", m.cfg.SettleDelay)
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(m.cfg.SettleDelay):
	}

	next := time.Now()
	for ctx.Err() == nil {
		next = next.Add(m.cfg.Tick)
		m.Tick(ctx)
		if d := time.Until(next); d > 0 {
			time.Sleep(d)
		} else if -d > m.cfg.Tick {
			m.log.Debug("supervisor tick overran", "late", -d)
		}
	}
	return nil
}

// Tick runs one control step
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFeedback()
	m.dispatch(ctx)
	m.total++
}

func (m *Machine) dispatch(ctx context.Context) {
	switch m.phase {
	case CaptureStart:
		m.captureStep(ctx)
	case Ramp1, Ramp2, Hold2, Ramp3:
		m.rampStep(ctx)
	case PolicyWarmup:
		m.warmupStep(ctx)
	case PolicyActive:
		m.activeStep(ctx)
	case Protect:
		m.damp()
	}
}

// enter switches phase and sets up the new phase's vectors
func (m *Machine) enter(p Phase) {
	m.log.Info("phase transition", "from", m.phase, "to", p, "tick", m.total)
	m.phase = p
	m.ticks = 0
	switch p {
	case Ramp1:
		m.start, m.end = m.q, m.cfg.Stance1
	case Ramp2:
		m.start, m.end = m.cfg.Stance1, m.cfg.Stance2
	case Hold2:
		m.start, m.end = m.cfg.Stance2, m.cfg.Stance2
	case Ramp3:
		m.start, m.end = m.cfg.Stance2, m.cfg.Stance3
	case PolicyWarmup:
		m.history.Reset()
		m.action = Vector{}
		m.imuFailures = 0
	case PolicyActive:
		// the legs still hold the last stance; the base pose slides to Home from there
		m.handover = m.q
		m.base = m.q
		m.target = m.q
	}
}

// readFeedback converts the store's feedback to output space
func (m *Machine) readFeedback() {
	m.fbBuf = m.store.Feedbacks(m.fbBuf)
	for i, fb := range m.fbBuf {
		e := m.table.Entry(joint.Split(i))
		m.q[i] = e.ToOutput(fb.Position, joint.Position)
		m.qd[i] = e.ToOutput(fb.Speed, joint.Speed)
		m.qtau[i] = e.ToOutput(fb.Torque, joint.Torque)
	}
}

// captureStep seeds Ramp1 from the measured pose, then runs Ramp1's first step.
// It waits until every actuator has reported at least once.
func (m *Machine) captureStep(ctx context.Context) {
	if n := m.store.Reported(); n < joint.NumActuators {
		if !m.waiting {
			m.log.Warn("waiting for feedback from every actuator", "reported", n, "total", joint.NumActuators)
			m.waiting = true
		}
		return
	}
	m.enter(Ramp1)
	m.rampStep(ctx)
}

// rampStep advances the current ramp. A ramp that completed on an earlier tick
// hands over here, and the next phase runs its first step on this same tick.
func (m *Machine) rampStep(ctx context.Context) {
	if m.ticks >= m.cfg.rampDuration(m.phase) {
		m.enter(m.phase.next())
		m.dispatch(ctx)
		return
	}
	m.ticks++
	m.target = Lerp(&m.start, &m.end, m.progress())
	m.writeTarget()
}

// progress is min(1, ticks/duration) for the current phase. Counting ticks
// instead of summing 1/duration keeps it exact at completion.
func (m *Machine) progress() float64 {
	var d int
	switch {
	case m.phase.IsRamp():
		d = m.cfg.rampDuration(m.phase)
	case m.phase == PolicyWarmup:
		d = m.cfg.WarmupTicks
	case m.phase == CaptureStart:
		return 0
	default:
		return 1
	}
	if d <= 0 || m.ticks >= d {
		return 1
	}
	return float64(m.ticks) / float64(d)
}

// writeTarget writes the position target under the mode setpoint to every actuator
func (m *Machine) writeTarget() {
	sp := m.setpoint
	for i := range m.cmdBuf {
		e := m.table.Entry(joint.Split(i))
		m.cmdBuf[i] = motorwire.Command{
			Torque:   e.ToActuator(sp.Torque, joint.Torque),
			Speed:    e.ToActuator(sp.Speed, joint.Speed),
			Position: e.ToActuator(m.target[i], joint.Position),
			KPos:     e.ToActuator(sp.KPos, joint.Gain),
			KSpd:     e.ToActuator(sp.KSpd, joint.Gain),
		}
	}
	m.writeCommands()
}

// writeCommands publishes cmdBuf to the store
func (m *Machine) writeCommands() {
	if err := m.store.SetCommands(m.cmdBuf); err != nil {
		m.log.Error("command write failed", "err", err)
	}
}

// readIMU refreshes the attitude sample. It returns false when consecutive
// failures exceeded the limit and the machine tripped.
func (m *Machine) readIMU() bool {
	s, ok := m.imu.Latest()
	if ok {
		m.sample = s
		m.imuFailures = 0
		return true
	}
	m.imuFailures++
	m.log.Debug("imu read failed", "consecutive", m.imuFailures)
	if m.imuFailures > m.cfg.IMUFailureLimit {
		m.tripWith(Trip{Kind: TripIMULoss, Joint: -1, Value: float64(m.imuFailures), Limit: float64(m.cfg.IMUFailureLimit)})
		return false
	}
	return true
}

// warmupStep feeds the policy every tick so its history fills, without writing commands
func (m *Machine) warmupStep(ctx context.Context) {
	if m.ticks >= m.cfg.WarmupTicks {
		m.enter(PolicyActive)
		m.activeStep(ctx)
		return
	}
	m.ticks++
	if !m.readIMU() {
		return
	}
	if _, err := m.infer(ctx); err != nil {
		m.log.Warn("policy warm-up inference failed", "err", err)
	}
}

// activeStep runs inference every Decimation ticks and the PD law every tick
func (m *Machine) activeStep(ctx context.Context) {
	if !m.readIMU() {
		return
	}
	if m.ticks%m.cfg.Decimation == 0 {
		m.updateAction(ctx)
	}
	m.base = Lerp(&m.handover, &m.cfg.Home, m.handoverProgress())
	m.ticks++
	for i := range m.target {
		m.target[i] = m.base[i] + m.cfg.ActionScale[i]*m.action[i]
	}

	for i := range m.pd {
		m.pd[i] = m.cfg.Kp*(m.target[i]-m.q[i]) + m.cfg.Kd*(0-m.qd[i])
	}
	if t, tripped := m.checkTrips(); tripped {
		m.tripWith(t)
		return
	}

	for i := range m.cmdBuf {
		tau := clamp(m.pd[i], m.cfg.TorqueClamp)
		m.out[i] = tau
		e := m.table.Entry(joint.Split(i))
		m.cmdBuf[i] = motorwire.Command{Torque: e.ToActuator(tau, joint.Torque)}
	}
	m.writeCommands()
}

// handoverProgress is min(1, ticks/HandoverTicks) in PolicyActive
func (m *Machine) handoverProgress() float64 {
	if m.cfg.HandoverTicks <= 0 || m.ticks >= m.cfg.HandoverTicks {
		return 1
	}
	return float64(m.ticks) / float64(m.cfg.HandoverTicks)
}

// updateAction runs the policy and blends its output into the action. On
// failure the previous action is kept.
func (m *Machine) updateAction(ctx context.Context) {
	raw, err := m.infer(ctx)
	if err != nil {
		m.log.Warn("policy inference failed, holding previous action", "err", err)
		return
	}
	blend := m.cfg.ActionBlend
	for i := range m.action {
		a := clamp(raw[i], m.cfg.ActionClip)
		m.action[i] = blend*a + (1-blend)*m.action[i]
	}
}

// infer builds the observation, records it in the history and calls the policy
func (m *Machine) infer(ctx context.Context) ([]float64, error) {
	st := policy.State{
		IMU:        m.sample,
		Command:    m.cfg.Command,
		Position:   m.q,
		Velocity:   m.qd,
		Home:       m.cfg.Home,
		LastAction: m.action,
	}
	m.obs = policy.Build(m.obs, &st, m.cfg.Scales)
	m.history.Push(m.obs)

	action, err := m.policy.Infer(ctx, policy.Input{Observation: m.obs, History: m.history.Rows()})
	if err != nil {
		return nil, err
	}
	if err := policy.CheckAction(action); err != nil {
		return nil, err
	}
	for _, v := range action {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite value", policy.ErrBadAction)
		}
	}
	return action, nil
}

func clamp(v, bound float64) float64 {
	return math.Max(-bound, math.Min(bound, v))
}
