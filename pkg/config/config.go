// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the controller configuration: built-in defaults, then an
// optional YAML file, then LEGCTL_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/Thermoquad/legctl/pkg/channel"
	"github.com/Thermoquad/legctl/pkg/imu"
	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/link"
	"github.com/Thermoquad/legctl/pkg/policy"
	"github.com/Thermoquad/legctl/pkg/rt"
	"github.com/Thermoquad/legctl/pkg/supervisor"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "LEGCTL_"

// DefaultBaudRate is the actuator bus rate
const DefaultBaudRate = 4000000

// Config is the full controller configuration
type Config struct {
	Mode     string `yaml:"mode" env:"MODE"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// One port per leg, in leg order
	Ports      []string      `yaml:"ports" env:"PORTS" envSeparator:","`
	Baud       int           `yaml:"baud" env:"BAUD"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	PollSlice  time.Duration `yaml:"poll_slice" env:"POLL_SLICE"`
	Period     time.Duration `yaml:"period" env:"PERIOD"`
	Retries    int           `yaml:"retries" env:"RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`

	// Real-time scheduling. A CPU of -1 or a priority of 0 leaves that setting alone.
	ChannelCPUs        []int `yaml:"channel_cpus" env:"CHANNEL_CPUS" envSeparator:","`
	ChannelPriority    int   `yaml:"channel_priority" env:"CHANNEL_PRIORITY"`
	SupervisorCPU      int   `yaml:"supervisor_cpu" env:"SUPERVISOR_CPU"`
	SupervisorPriority int   `yaml:"supervisor_priority" env:"SUPERVISOR_PRIORITY"`

	// An empty IMU port runs with a level fixed attitude
	IMUPort   string        `yaml:"imu_port" env:"IMU_PORT"`
	IMUBaud   int           `yaml:"imu_baud" env:"IMU_BAUD"`
	IMUMaxAge time.Duration `yaml:"imu_max_age" env:"IMU_MAX_AGE"`

	// An empty policy URL runs the zero policy
	PolicyURL     string        `yaml:"policy_url" env:"POLICY_URL"`
	PolicyTimeout time.Duration `yaml:"policy_timeout" env:"POLICY_TIMEOUT"`

	// An empty address disables the status API
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`

	StatsInterval time.Duration `yaml:"stats_interval" env:"STATS_INTERVAL"`
	StatsReset    bool          `yaml:"stats_reset" env:"STATS_RESET"`

	Supervisor Supervisor `yaml:"supervisor"`
}

// Supervisor is the file form of supervisor.Config. Vectors are lists of
// joint.NumActuators values in leg order.
type Supervisor struct {
	Tick        time.Duration `yaml:"tick"`
	SettleDelay time.Duration `yaml:"settle_delay"`

	Stance1    []float64 `yaml:"stance1"`
	Stance2    []float64 `yaml:"stance2"`
	Stance3    []float64 `yaml:"stance3"`
	Ramp1Ticks int       `yaml:"ramp1_ticks"`
	Ramp2Ticks int       `yaml:"ramp2_ticks"`
	Hold2Ticks int       `yaml:"hold2_ticks"`
	Ramp3Ticks int       `yaml:"ramp3_ticks"`

	WarmupTicks   int           `yaml:"warmup_ticks"`
	HandoverTicks int           `yaml:"handover_ticks"`
	Decimation    int           `yaml:"decimation"`
	Kp            float64       `yaml:"kp"`
	Kd            float64       `yaml:"kd"`
	Home          []float64     `yaml:"home"`
	ActionScale   []float64     `yaml:"action_scale"`
	ActionClip    float64       `yaml:"action_clip"`
	ActionBlend   float64       `yaml:"action_blend"`
	Scales        policy.Scales `yaml:"obs_scales"`
	CommandX      float64       `yaml:"command_x" env:"COMMAND_X"`
	CommandY      float64       `yaml:"command_y" env:"COMMAND_Y"`
	CommandYaw    float64       `yaml:"command_yaw" env:"COMMAND_YAW"`

	TorqueClamp      float64   `yaml:"torque_clamp"`
	TorqueTrip       float64   `yaml:"torque_trip"`
	PositionMin      []float64 `yaml:"position_min"`
	PositionMax      []float64 `yaml:"position_max"`
	OrientationLimit float64   `yaml:"orientation_limit"`
	IMUFailureLimit  int       `yaml:"imu_failure_limit"`
	DampingGain      float64   `yaml:"damping_gain"`
}

// Default returns the configuration of the production robot
func Default() Config {
	ports := make([]string, joint.Legs)
	for i := range ports {
		ports[i] = fmt.Sprintf("/dev/ttyACM%d", i)
	}
	ch := channel.DefaultConfig()
	sv := supervisor.DefaultConfig()
	return Config{
		Mode:          string(supervisor.ModePosition),
		LogLevel:      "info",
		Ports:         ports,
		Baud:          DefaultBaudRate,
		Timeout:       link.DefaultTimeout,
		PollSlice:     link.DefaultPollSlice,
		Period:        ch.Period,
		Retries:       ch.Retries,
		RetryDelay:    ch.RetryDelay,
		SupervisorCPU: -1,
		IMUBaud:       imu.DefaultBaudRate,
		IMUMaxAge:     imu.DefaultMaxAge,
		PolicyTimeout: policy.DefaultRemoteTimeout,
		StatsInterval: time.Second,
		StatsReset:    true,
		Supervisor:    fromSupervisor(&sv),
	}
}

// Load builds the configuration from the defaults, the YAML file at path (if
// non-empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks everything the run command depends on
func (c *Config) Validate() error {
	var err error
	if _, perr := supervisor.ParseMode(c.Mode); perr != nil {
		err = multierr.Append(err, perr)
	}
	if len(c.Ports) != joint.Legs {
		err = multierr.Append(err, fmt.Errorf("need %d ports (one per leg), got %d", joint.Legs, len(c.Ports)))
	}
	if len(c.ChannelCPUs) > len(c.Ports) {
		err = multierr.Append(err, fmt.Errorf("%d channel CPUs for %d ports", len(c.ChannelCPUs), len(c.Ports)))
	}
	if c.Baud <= 0 {
		err = multierr.Append(err, fmt.Errorf("baud must be positive, got %d", c.Baud))
	}
	if c.Timeout <= 0 || c.PollSlice <= 0 || c.PollSlice > c.Timeout {
		err = multierr.Append(err, fmt.Errorf("need 0 < poll_slice (%v) <= timeout (%v)", c.PollSlice, c.Timeout))
	}
	if c.Period <= 0 {
		err = multierr.Append(err, fmt.Errorf("period must be positive, got %v", c.Period))
	}
	if c.Retries < 1 {
		err = multierr.Append(err, fmt.Errorf("retries must be at least 1, got %d", c.Retries))
	}
	if c.PolicyURL != "" && c.PolicyTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("policy_timeout must be positive, got %v", c.PolicyTimeout))
	}
	sv, serr := c.SupervisorConfig()
	if serr != nil {
		return multierr.Append(err, serr)
	}
	return multierr.Append(err, sv.Validate())
}

// ChannelConfig returns the loop configuration for channel n
func (c *Config) ChannelConfig(n int) channel.Config {
	cpu := -1
	if n < len(c.ChannelCPUs) {
		cpu = c.ChannelCPUs[n]
	}
	return channel.Config{
		Period:     c.Period,
		Retries:    c.Retries,
		RetryDelay: c.RetryDelay,
		Sched:      rt.Settings{CPU: cpu, Priority: c.ChannelPriority},
	}
}

// SupervisorConfig converts the file form into supervisor.Config
func (c *Config) SupervisorConfig() (supervisor.Config, error) {
	s := &c.Supervisor
	out := supervisor.Config{
		Tick:             s.Tick,
		SettleDelay:      s.SettleDelay,
		Ramp1Ticks:       s.Ramp1Ticks,
		Ramp2Ticks:       s.Ramp2Ticks,
		Hold2Ticks:       s.Hold2Ticks,
		Ramp3Ticks:       s.Ramp3Ticks,
		WarmupTicks:      s.WarmupTicks,
		HandoverTicks:    s.HandoverTicks,
		Decimation:       s.Decimation,
		Kp:               s.Kp,
		Kd:               s.Kd,
		ActionClip:       s.ActionClip,
		ActionBlend:      s.ActionBlend,
		Scales:           s.Scales,
		Command:          policy.Command{X: s.CommandX, Y: s.CommandY, Yaw: s.CommandYaw},
		TorqueClamp:      s.TorqueClamp,
		TorqueTrip:       s.TorqueTrip,
		OrientationLimit: s.OrientationLimit,
		IMUFailureLimit:  s.IMUFailureLimit,
		DampingGain:      s.DampingGain,
		Sched:            rt.Settings{CPU: c.SupervisorCPU, Priority: c.SupervisorPriority},
	}
	vectors := []struct {
		name string
		src  []float64
		dst  *supervisor.Vector
	}{
		{"stance1", s.Stance1, &out.Stance1},
		{"stance2", s.Stance2, &out.Stance2},
		{"stance3", s.Stance3, &out.Stance3},
		{"home", s.Home, &out.Home},
		{"action_scale", s.ActionScale, &out.ActionScale},
		{"position_min", s.PositionMin, &out.PositionMin},
		{"position_max", s.PositionMax, &out.PositionMax},
	}
	var err error
	for _, v := range vectors {
		if len(v.src) != joint.NumActuators {
			err = multierr.Append(err, fmt.Errorf("supervisor.%s needs %d values, got %d", v.name, joint.NumActuators, len(v.src)))
			continue
		}
		copy(v.dst[:], v.src)
	}
	return out, err
}

func fromSupervisor(c *supervisor.Config) Supervisor {
	return Supervisor{
		Tick:             c.Tick,
		SettleDelay:      c.SettleDelay,
		Stance1:          append([]float64(nil), c.Stance1[:]...),
		Stance2:          append([]float64(nil), c.Stance2[:]...),
		Stance3:          append([]float64(nil), c.Stance3[:]...),
		Ramp1Ticks:       c.Ramp1Ticks,
		Ramp2Ticks:       c.Ramp2Ticks,
		Hold2Ticks:       c.Hold2Ticks,
		Ramp3Ticks:       c.Ramp3Ticks,
		WarmupTicks:      c.WarmupTicks,
		HandoverTicks:    c.HandoverTicks,
		Decimation:       c.Decimation,
		Kp:               c.Kp,
		Kd:               c.Kd,
		Home:             append([]float64(nil), c.Home[:]...),
		ActionScale:      append([]float64(nil), c.ActionScale[:]...),
		ActionClip:       c.ActionClip,
		ActionBlend:      c.ActionBlend,
		Scales:           c.Scales,
		CommandX:         c.Command.X,
		CommandY:         c.Command.Y,
		CommandYaw:       c.Command.Yaw,
		TorqueClamp:      c.TorqueClamp,
		TorqueTrip:       c.TorqueTrip,
		PositionMin:      append([]float64(nil), c.PositionMin[:]...),
		PositionMax:      append([]float64(nil), c.PositionMax[:]...),
		OrientationLimit: c.OrientationLimit,
		IMUFailureLimit:  c.IMUFailureLimit,
		DampingGain:      c.DampingGain,
	}
}
