// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package policy defines the contract with the locomotion policy and builds its
// observation vector.
//
// The policy sees one observation per inference plus a fixed-length history of
// earlier observations, and answers with one normalized position offset per
// joint. Scaling the answer to radians and blending successive answers is the
// supervisor's job.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/Thermoquad/legctl/pkg/joint"
)

// Sizes of the policy interface
const (
	ActionSize      = joint.NumActuators
	ObservationSize = 3 + 3 + 3 + 3*joint.NumActuators
	HistoryLength   = 10
)

// ErrBadAction is returned when a policy answers with the wrong number of values
var ErrBadAction = errors.New("policy: bad action length")

// Input is everything handed to the policy for one inference
type Input struct {
	Observation []float64
	History     [][]float64 // oldest first, HistoryLength entries
}

// Policy maps an observation to ActionSize normalized joint offsets. Infer is
// called synchronously from the supervisor tick and must return quickly.
type Policy interface {
	Infer(ctx context.Context, in Input) ([]float64, error)
}

// Zero is a policy that always answers with the home pose. Useful for bring-up
// with the robot on a stand.
type Zero struct{}

// Infer returns ActionSize zeros
func (Zero) Infer(ctx context.Context, in Input) ([]float64, error) {
	return make([]float64, ActionSize), nil
}

// CheckAction validates the length of a policy answer
func CheckAction(action []float64) error {
	if len(action) != ActionSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadAction, len(action), ActionSize)
	}
	return nil
}
