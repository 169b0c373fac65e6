// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/legctl/pkg/policy"
)

var policyStubAddr string

var policyStubCmd = &cobra.Command{
	Use:   "policy-stub",
	Short: "Serve a zero-action policy for bench runs",
	Long: `Serve the remote policy protocol with a policy that always returns zero actions.

Point 'legctl run --policy-url ws://HOST:PORT/policy' at it to exercise the warm-up
and active phases on a bench without a trained network. With zero actions the
legs hold the home pose.`,
	RunE: runPolicyStub,
}

func init() {
	rootCmd.AddCommand(policyStubCmd)
	policyStubCmd.Flags().StringVar(&policyStubAddr, "listen", "127.0.0.1:8765", "Listen address")
}

func runPolicyStub(cmd *cobra.Command, args []string) error {
	logger := stderrLogger().With("component", "policy-stub")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/policy", policy.Handler(policy.Zero{}, logger))

	srv := &http.Server{Addr: policyStubAddr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("serving zero policy", "addr", policyStubAddr, "path", "/policy")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
