// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Thermoquad/legctl/pkg/joint"
	"github.com/Thermoquad/legctl/pkg/motorwire"
	"github.com/Thermoquad/legctl/pkg/store"
	"github.com/Thermoquad/legctl/pkg/supervisor"
)

type fakeSource struct {
	status supervisor.Status
}

func (f *fakeSource) Status() supervisor.Status {
	return f.status
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	st := store.New(joint.NumActuators)
	st.ApplyFeedback(5, motorwire.Feedback{ID: 2, Position: 1.5, Temperature: 41, Error: motorwire.ErrorOverheat})
	st.RecordLoss(5)
	src := &fakeSource{status: supervisor.Status{Phase: supervisor.Ramp2, Progress: 0.25}}

	rec := get(t, NewRouter(src, st, log.New(io.Discard)), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}

	var body struct {
		Supervisor struct {
			Phase    string  `json:"phase"`
			Progress float64 `json:"progress"`
			Tripped  bool    `json:"tripped"`
		} `json:"supervisor"`
		Actuators []Actuator `json:"actuators"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad JSON: %v\n%s", err, rec.Body.String())
	}
	if body.Supervisor.Phase != "RAMP_2" || body.Supervisor.Progress != 0.25 || body.Supervisor.Tripped {
		t.Errorf("supervisor = %+v", body.Supervisor)
	}
	if len(body.Actuators) != joint.NumActuators {
		t.Fatalf("actuators = %d", len(body.Actuators))
	}
	a := body.Actuators[5]
	want := Actuator{
		Index: 5, Channel: 1, Motor: 2, Reported: true, Position: 1.5, Temperature: 41,
		Error: "OVERHEAT", Sent: 2, Received: 1, LossPercent: 50,
	}
	if a != want {
		t.Errorf("actuator 5 = %+v, want %+v", a, want)
	}
	if body.Actuators[0].Reported {
		t.Error("actuator 0 reported without feedback")
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		status   supervisor.Status
		wantCode int
		wantTrip bool
	}{
		{"running", supervisor.Status{Phase: supervisor.PolicyActive}, http.StatusOK, false},
		{
			"tripped",
			supervisor.Status{
				Phase:   supervisor.Protect,
				Tripped: true,
				Trip:    &supervisor.Trip{Kind: supervisor.TripTorque, Joint: 3, Value: 26, Limit: 25, Phase: supervisor.PolicyActive},
			},
			http.StatusServiceUnavailable,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeSource{status: tt.status}, store.New(joint.NumActuators), log.New(io.Discard))
			rec := get(t, h, "/healthz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body Health
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("bad JSON: %v", err)
			}
			if body.OK == tt.wantTrip || body.Phase != tt.status.Phase.String() || (body.Trip != "") != tt.wantTrip {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewRouter(&fakeSource{}, store.New(1), log.New(io.Discard))
	if rec := get(t, h, "/motors"); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestServer_RunAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := NewServer(addr, &fakeSource{}, store.New(joint.NumActuators), log.New(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Run = %v", err)
	}
}
