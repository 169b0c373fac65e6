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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/legctl/pkg/motorwire"
)

var (
	sniffChannel int
	sniffHex     bool
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Passively decode command and feedback frames on one channel",
	Long: `Continuously decode and display actuator frames as they cross a channel.

Both command frames (FE EE) and feedback frames (FD EE) are shown. Nothing is
transmitted, so this can run on a tap of a live bus. Bytes that do not form a
valid frame are skipped and the rejected candidates counted.

Supports both serial and WebSocket connections.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().IntVar(&sniffChannel, "channel", 0, "Channel to listen on (index into --port/--url)")
	sniffCmd.Flags().BoolVar(&sniffHex, "hex", false, "Also print the raw frame bytes")
}

func runSniff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := stderrLogger()

	ports := cfg.Ports
	if len(wsURLs) == 0 {
		if sniffChannel < 0 || sniffChannel >= len(ports) {
			return fmt.Errorf("channel %d out of range (%d ports)", sniffChannel, len(ports))
		}
		ports = ports[sniffChannel : sniffChannel+1]
	} else {
		if sniffChannel < 0 || sniffChannel >= len(wsURLs) {
			return fmt.Errorf("channel %d out of range (%d URLs)", sniffChannel, len(wsURLs))
		}
		wsURLs = wsURLs[sniffChannel : sniffChannel+1]
	}

	conns, infos, err := OpenConnections(ports, cfg.Baud)
	if err != nil {
		return err
	}
	conn := conns[0]
	defer conn.Close()
	if err := conn.SetReadTimeout(100 * time.Millisecond); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	fmt.Printf("legctl - Frame Sniffer\n")
	fmt.Printf("Connection: %s\n", infos[0])
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rejected, err := sniff(ctx, conn, os.Stdout, sniffHex)
	logger.Info("sniffer stopped", "rejected", rejected)
	if errors.Is(err, ErrConnectionClosed) {
		logger.Info("connection closed")
		return nil
	}
	return err
}

// sniff decodes frames from r until ctx is cancelled or r fails. It returns the
// number of frame candidates rejected while resynchronizing.
func sniff(ctx context.Context, r io.Reader, w io.Writer, showHex bool) (int, error) {
	scanner := motorwire.NewSniffScanner()
	buf := make([]byte, 256)
	rejected := 0

	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			scanner.Write(buf[:n])
			for {
				frame, ferr := scanner.Next()
				if errors.Is(ferr, motorwire.ErrIncomplete) {
					break
				}
				if ferr != nil {
					rejected++
					continue
				}
				fmt.Fprint(w, motorwire.FormatFrame(frame))
				if showHex {
					fmt.Fprintf(w, "  %s\n", motorwire.FormatHex(frame.Raw))
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rejected, nil
			}
			return rejected, err
		}
	}
	return rejected, nil
}
