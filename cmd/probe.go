// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/link"
	"github.com/Thermoquad/legctl/pkg/motorwire"
)

var (
	probeIDs      int
	probeAttempts int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that every actuator answers a zero command",
	Long: `Send one all-zero command to each actuator on each channel and print its feedback.

A zero command carries no torque, no targets and no gains, so the actuators stay
limp. Each actuator gets a few attempts before it is reported lost.

Exit codes:
  0 - Every actuator answered
  1 - At least one actuator did not answer
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeIDs, "ids", joint.SlotsPerLeg, "Number of actuator ids per channel (0..n-1)")
	probeCmd.Flags().IntVar(&probeAttempts, "attempts", 3, "Exchange attempts per actuator")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	conns, infos, err := OpenConnections(cfg.Ports, cfg.Baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer closeAll(conns)

	fmt.Printf("legctl - Actuator Probe\n\n")

	exchangers := make([]link.Exchanger, len(conns))
	for i, c := range conns {
		exchangers[i] = link.New(c, link.WithTimeout(cfg.Timeout), link.WithPollSlice(cfg.PollSlice))
	}
	lost, err := probe(os.Stdout, exchangers, infos, probeIDs, probeAttempts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	if lost > 0 {
		fmt.Fprintf(os.Stderr, "\nFAILED: %d actuator(s) did not answer\n", lost)
		os.Exit(1)
	}
	fmt.Printf("\nSUCCESS: all actuators answered\n")
	return nil
}

// probe exchanges a zero command with ids 0..ids-1 on every channel and returns
// how many never answered. Transport failures abort the probe.
func probe(w io.Writer, channels []link.Exchanger, infos []string, ids, attempts int) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	lost := 0
	for ch, ex := range channels {
		fmt.Fprintf(w, "Channel %d (%s)\n", ch, infos[ch])
		for id := 0; id < ids; id++ {
			frame, err := motorwire.EncodeCommand(motorwire.Command{}, uint8(id))
			if err != nil {
				return lost, err
			}

			var (
				fb      motorwire.Feedback
				lastErr error
			)
			for attempt := 0; attempt < attempts; attempt++ {
				fb, lastErr = ex.Exchange(frame, uint8(id))
				if lastErr == nil || !link.IsRecoverable(lastErr) {
					break
				}
			}
			switch {
			case lastErr == nil:
				fmt.Fprintf(w, "  id %d: %s\n", id, motorwire.FormatFeedback(fb))
				for _, anomaly := range motorwire.ValidateFeedback(fb) {
					fmt.Fprintf(w, "         warning: %s\n", anomaly.Message)
				}
			case link.IsRecoverable(lastErr):
				lost++
				fmt.Fprintf(w, "  id %d: LOST (%v)\n", id, lastErr)
			default:
				return lost, fmt.Errorf("channel %d: %w", ch, lastErr)
			}
		}
	}
	return lost, nil
}
