// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Thermoquad/legctl/pkg/channel"
	"github.com/Thermoquad/legctl/pkg/config"
	"github.com/Thermoquad/legctl/pkg/imu"
	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/link"
	"github.com/Thermoquad/legctl/pkg/policy"
	"github.com/Thermoquad/legctl/pkg/stats"
	"github.com/Thermoquad/legctl/pkg/statusapi"
	"github.com/Thermoquad/legctl/pkg/store"
	"github.com/Thermoquad/legctl/pkg/supervisor"
)

// shutdownGrace is how long the channel loops keep running after the supervisor
// stops, so the damping command reaches every actuator.
const shutdownGrace = 50 * time.Millisecond

var (
	runMode      string
	runTUI       bool
	runHTTPAddr  string
	runPolicyURL string
	runIMUPort   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stand the robot up and run the locomotion policy",
	Long: `Start one exchange loop per channel and the supervisory state machine.

The supervisor captures the current pose, ramps through three stances, warms up
the policy and then runs it with a PD law on every joint. A torque, position,
orientation or IMU-loss trip damps every actuator and latches until restart.

Modes (--mode or the config file):
  stop   - zero base command
  tor    - 0.25 Nm base torque
  speed  - 6.28 rad/s base speed under a velocity gain
  pos    - position gains, stance 1 written before the loops start

With --tui, a live monitor replaces the log output.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "Startup mode: stop, tor, speed, pos")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live monitor")
	runCmd.Flags().StringVar(&runHTTPAddr, "http", "", "Serve the status API on this address")
	runCmd.Flags().StringVar(&runPolicyURL, "policy-url", "", "Inference server WebSocket URL")
	runCmd.Flags().StringVar(&runIMUPort, "imu-port", "", "IMU serial port")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = runMode
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = runHTTPAddr
	}
	if flags.Changed("policy-url") {
		cfg.PolicyURL = runPolicyURL
	}
	if flags.Changed("imu-port") {
		cfg.IMUPort = runIMUPort
	}
	if len(wsURLs) > 0 {
		// bridges replace the serial ports one for one
		cfg.Ports = wsURLs
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		events *eventLog
		out    io.Writer = os.Stderr
	)
	if runTUI {
		events = newEventLog(maxEvents)
		out = events
	}
	logger, err := newLogger(out, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := newController(ctx, &cfg, logger)
	if err != nil {
		return err
	}

	if !runTUI {
		return ctrl.run(ctx, os.Stdout)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ctrl.run(ctx, nil) }()

	p := tea.NewProgram(newMonitorModel(ctrl.machine, ctrl.store, events, ctrl.infos), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, tuiErr := p.Run()
	cancel()
	return multierr.Append(tuiErr, <-done)
}

// controller owns every long-lived component of the run command
type controller struct {
	cfg     *config.Config
	log     *log.Logger
	mode    supervisor.Mode
	conns   []Connection
	infos   []string
	store   *store.Store
	loops   []*channel.Loop
	imu     *imu.Reader
	policy  policy.Policy
	machine *supervisor.Machine
}

// newController opens every port and builds the components. On error whatever
// was opened is closed again.
func newController(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *controller, err error) {
	mode, err := supervisor.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	svCfg, err := cfg.SupervisorConfig()
	if err != nil {
		return nil, err
	}

	c := &controller{
		cfg:   cfg,
		log:   logger,
		mode:  mode,
		store: store.New(joint.NumActuators),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, c.close())
		}
	}()

	c.conns, c.infos, err = OpenConnections(cfg.Ports, cfg.Baud)
	if err != nil {
		return nil, err
	}
	for ch, conn := range c.conns {
		logger.Info("channel connected", "channel", ch, "via", c.infos[ch])
		lk := link.New(conn, link.WithTimeout(cfg.Timeout), link.WithPollSlice(cfg.PollSlice))
		actuators := make([]channel.Actuator, joint.SlotsPerLeg)
		for slot := range actuators {
			actuators[slot] = channel.Actuator{ID: uint8(slot), Index: joint.Index(ch, slot)}
		}
		c.loops = append(c.loops, channel.New(ch, lk, c.store, actuators, cfg.ChannelConfig(ch), logger))
	}

	var src imu.Source = imu.Fixed{}
	if cfg.IMUPort != "" {
		port, err := OpenSerialConnection(cfg.IMUPort, cfg.IMUBaud)
		if err != nil {
			return nil, err
		}
		if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set IMU read timeout: %w", err)
		}
		c.imu = imu.NewReader(port, cfg.IMUMaxAge, logger)
		src = c.imu
	} else {
		logger.Warn("no IMU port configured, using a fixed level attitude")
	}

	c.policy = policy.Zero{}
	if cfg.PolicyURL != "" {
		remote, err := policy.DialRemote(ctx, cfg.PolicyURL, cfg.PolicyTimeout)
		if err != nil {
			return nil, err
		}
		c.policy = remote
		logger.Info("policy server connected", "url", cfg.PolicyURL)
	} else {
		logger.Warn("no policy URL configured, running the zero policy")
	}

	c.machine, err = supervisor.New(svCfg, &joint.Default, c.store, c.policy, src, mode, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// run primes the store, starts every loop and blocks until ctx is cancelled.
// Statistics go to statsOut when it is non-nil.
func (c *controller) run(ctx context.Context, statsOut io.Writer) error {
	c.machine.Prime(c.mode)
	c.log.Info("starting", "mode", c.mode, "channels", len(c.loops))

	// the channel loops outlive ctx by the shutdown grace
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	collect := func(name string, err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		mu.Lock()
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		mu.Unlock()
	}

	var loops sync.WaitGroup
	for i, l := range c.loops {
		loops.Add(1)
		go func() {
			defer loops.Done()
			collect(fmt.Sprintf("channel %d", i), l.Run(loopCtx))
		}()
	}

	if c.imu != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect("imu", c.imu.Run(ctx))
		}()
	}
	if statsOut != nil {
		reporter := stats.NewReporter(c.store, c.cfg.StatsInterval, c.cfg.StatsReset, statsOut, c.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect("stats", reporter.Run(ctx))
		}()
	}
	if c.cfg.HTTPAddr != "" {
		srv := statusapi.NewServer(c.cfg.HTTPAddr, c.machine, c.store, c.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect("status api", srv.Run(ctx))
		}()
	}

	collect("supervisor", c.machine.Run(ctx))

	// brake before the loops stop
	supervisor.Damp(c.store, c.cfg.Supervisor.DampingGain)
	time.Sleep(shutdownGrace)
	stopLoops()
	loops.Wait()

	// Close unblocks a reader stuck in a read
	closeErr := c.close()
	wg.Wait()
	errs = multierr.Append(errs, closeErr)

	if t, ok := c.machine.Trip(); ok {
		c.log.Error("stopped after safety trip", "trip", t.String())
	}
	c.log.Info("stopped")
	return errs
}

// close releases every port and the policy connection
func (c *controller) close() error {
	var err error
	if c.imu != nil {
		err = multierr.Append(err, c.imu.Close())
	}
	if remote, ok := c.policy.(*policy.Remote); ok {
		err = multierr.Append(err, remote.Close())
	}
	return multierr.Append(err, closeAll(c.conns))
}
