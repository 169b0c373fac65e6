// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/legctl/pkg/config"
)

var (
	// Configuration flags
	configPath string
	logLevel   string

	// Serial connection flags
	portNames []string
	baudRate  int

	// WebSocket connection flags
	wsURLs        []string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "legctl",
	Short: "Quadruped actuator bus controller",
	Long: `legctl - A controller for a 12-actuator quadruped over four serial channels.

Runs one exchange loop per leg channel, stands the robot up through a fixed
sequence of stances, hands control to the locomotion policy and damps every
actuator when a safety bound is violated.

Connection modes:
  Serial:    --port /dev/ttyACM0 --port /dev/ttyACM1 ... [--baud 4000000]
  WebSocket: --url ws://bridge/leg0 --url ws://bridge/leg1 ... [--username user]

Ports, baud rate and everything else can also come from a YAML file (--config)
or LEGCTL_* environment variables. Flags win over both.

For WebSocket authentication, the password is read from the LEGCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "0.3.0",
	SilenceUsage: true,
}

func init() {
	// Configuration flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringArrayVarP(&portNames, "port", "p", nil, "Serial port device, once per channel in leg order")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringArrayVarP(&wsURLs, "url", "u", nil, "WebSocket bridge URL (ws:// or wss://), once per channel")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies the flags the user set
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Ports = portNames
	}
	if flags.Changed("baud") {
		cfg.Baud = baudRate
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// newLogger creates the root logger at the given level
func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           lvl,
	})
	return logger, nil
}

// stderrLogger is the logger for commands that print their results to stdout
func stderrLogger() *log.Logger {
	logger, err := newLogger(os.Stderr, logLevel)
	if err != nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, TimeFormat: time.Kitchen})
		logger.Warn("falling back to info level", "err", err)
	}
	return logger
}
