// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/link"
	"github.com/Thermoquad/legctl/pkg/motorwire"
)

var (
	benchDuration int
	benchChannel  int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure exchange latency and loss on one channel",
	Long: `Run back-to-back zero-command exchanges with every actuator on one channel.

Prints a line per second and a summary with the loss rate and round-trip
latency. Useful for checking a channel before running the controller.

Exit codes:
  0 - No exchange was lost
  1 - Some exchanges were lost
  2 - Connection error`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntVar(&benchDuration, "duration", 10, "Test duration in seconds")
	benchCmd.Flags().IntVar(&benchChannel, "channel", 0, "Channel to test (index into --port/--url)")
}

// benchResult accumulates exchange outcomes
type benchResult struct {
	exchanges uint64
	lost      uint64
	total     time.Duration
	max       time.Duration
}

func (r *benchResult) add(took time.Duration, err error) {
	r.exchanges++
	if err != nil {
		r.lost++
		return
	}
	r.total += took
	if took > r.max {
		r.max = took
	}
}

func (r *benchResult) mean() time.Duration {
	ok := r.exchanges - r.lost
	if ok == 0 {
		return 0
	}
	return r.total / time.Duration(ok)
}

func (r *benchResult) lossPercent() float64 {
	if r.exchanges == 0 {
		return 0
	}
	return float64(r.lost) * 100 / float64(r.exchanges)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	ports := cfg.Ports
	if len(wsURLs) > 0 {
		ports = wsURLs
	}
	if benchChannel < 0 || benchChannel >= len(ports) {
		fmt.Fprintf(os.Stderr, "Channel %d out of range (%d configured)\n", benchChannel, len(ports))
		os.Exit(2)
	}
	if len(wsURLs) > 0 {
		wsURLs = wsURLs[benchChannel : benchChannel+1]
	}

	conns, infos, err := OpenConnections(ports[benchChannel:benchChannel+1], cfg.Baud)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer closeAll(conns)

	fmt.Printf("legctl - Channel Bench\n")
	fmt.Printf("Connection: %s\n", infos[0])
	fmt.Printf("Duration: %d seconds\n\n", benchDuration)

	lk := link.New(conns[0], link.WithTimeout(cfg.Timeout), link.WithPollSlice(cfg.PollSlice))
	total, err := bench(os.Stdout, lk, joint.SlotsPerLeg, time.Duration(benchDuration)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nConnection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("\n--- Bench Results ---\n")
	fmt.Printf("Exchanges: %d\n", total.exchanges)
	fmt.Printf("Lost: %d (%.2f%%)\n", total.lost, total.lossPercent())
	fmt.Printf("Latency: mean %v, max %v\n", total.mean(), total.max)
	if total.lost > 0 {
		fmt.Printf("Result: FAILED (exchanges lost)\n")
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED\n")
	return nil
}

// bench cycles through ids 0..ids-1 until duration elapses, printing a line per
// second. Transport errors stop it.
func bench(w io.Writer, ex link.Exchanger, ids int, duration time.Duration) (benchResult, error) {
	frames := make([][]byte, ids)
	for id := range frames {
		frame, err := motorwire.EncodeCommand(motorwire.Command{}, uint8(id))
		if err != nil {
			return benchResult{}, err
		}
		frames[id] = frame
	}

	var total, second benchResult
	start := time.Now()
	end := start.Add(duration)
	nextReport := start.Add(time.Second)
	for id := 0; time.Now().Before(end); id = (id + 1) % ids {
		t0 := time.Now()
		_, err := ex.Exchange(frames[id], uint8(id))
		took := time.Since(t0)
		if err != nil && !link.IsRecoverable(err) {
			return total, err
		}
		total.add(took, err)
		second.add(took, err)

		if now := time.Now(); !now.Before(nextReport) {
			fmt.Fprintf(w, "[%s] %d exchanges, %d lost, mean %v, max %v\n",
				now.Format("15:04:05.000"), second.exchanges, second.lost, second.mean(), second.max)
			second = benchResult{}
			nextReport = nextReport.Add(time.Second)
		}
	}
	return total, nil
}
