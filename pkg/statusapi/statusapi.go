// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package statusapi serves a read-only JSON view of the controller over HTTP.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/store"
	"github.com/Thermoquad/legctl/pkg/supervisor"
)

// StatusSource is the part of the supervisor the API reads
type StatusSource interface {
	Status() supervisor.Status
}

// Actuator is one row of the actuator table
type Actuator struct {
	Index       int     `json:"index"`
	Channel     int     `json:"channel"`
	Motor       int     `json:"motor"`
	Reported    bool    `json:"reported"`
	Position    float64 `json:"position"`
	Speed       float64 `json:"speed"`
	Torque      float64 `json:"torque"`
	Temperature int8    `json:"temperature"`
	Error       string  `json:"error"`
	Sent        uint64  `json:"sent"`
	Received    uint64  `json:"received"`
	LossPercent float64 `json:"loss_percent"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Supervisor supervisor.Status `json:"supervisor"`
	Actuators  []Actuator        `json:"actuators"`
}

// Health is the body of GET /healthz
type Health struct {
	OK    bool   `json:"ok"`
	Phase string `json:"phase"`
	Trip  string `json:"trip,omitempty"`
}

// NewRouter builds the API routes
func NewRouter(src StatusSource, st *store.Store, logger *log.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer) // make sure this is last

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, StatusResponse{
			Supervisor: src.Status(),
			Actuators:  actuators(st),
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s := src.Status()
		h := Health{OK: !s.Tripped, Phase: s.Phase.String()}
		if s.Trip != nil {
			h.Trip = s.Trip.String()
		}
		if s.Tripped {
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, h)
	})
	return r
}

func actuators(st *store.Store) []Actuator {
	snap := st.Snapshot()
	out := make([]Actuator, len(snap))
	for i, a := range snap {
		leg, slot := joint.Split(i)
		out[i] = Actuator{
			Index:       i,
			Channel:     leg,
			Motor:       slot,
			Reported:    a.HasFeedback,
			Position:    a.Feedback.Position,
			Speed:       a.Feedback.Speed,
			Torque:      a.Feedback.Torque,
			Temperature: a.Feedback.Temperature,
			Error:       a.Feedback.Error.String(),
			Sent:        a.Counters.Sent,
			Received:    a.Counters.Received,
			LossPercent: a.Counters.LossPercent(),
		}
	}
	return out
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
		})
	}
}

// Server runs the API until its context is cancelled
type Server struct {
	srv *http.Server
	log *log.Logger
}

// NewServer creates a server for addr
func NewServer(addr string, src StatusSource, st *store.Store, logger *log.Logger) *Server {
	logger = logger.With("component", "statusapi")
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src, st, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger,
	}
}

// Run listens and serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("status API listening", "addr", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return err
}
