// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

import "fmt"

// AnomalyType represents different types of feedback anomalies
type AnomalyType int

const (
	AnomalyFirmwareError AnomalyType = iota
	AnomalyOverTemperature
	AnomalyInvalidStatus
)

// ValidationError represents a feedback anomaly. The frame itself decoded fine;
// these are conditions the actuator is reporting about itself.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFeedback detects anomalies in decoded feedback.
// Returns a slice of validation errors (empty if the actuator is healthy)
func ValidateFeedback(fb Feedback) []ValidationError {
	errors := []ValidationError{}

	if fb.Error != ErrorNone {
		errors = append(errors, ValidationError{
			Type:    AnomalyFirmwareError,
			Message: fmt.Sprintf("Actuator %d reports %s", fb.ID, fb.Error),
			Details: map[string]interface{}{"id": fb.ID, "code": uint8(fb.Error)},
		})
	}

	if fb.Temperature > MaxSafeTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverTemperature,
			Message: fmt.Sprintf("Actuator %d temperature %d°C (max %d)", fb.ID, fb.Temperature, MaxSafeTemperature),
			Details: map[string]interface{}{"id": fb.ID, "temperature": fb.Temperature, "max": MaxSafeTemperature},
		})
	}

	if fb.Status > StatusCalib {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidStatus,
			Message: fmt.Sprintf("Actuator %d invalid status=%d", fb.ID, fb.Status),
			Details: map[string]interface{}{"id": fb.ID, "status": fb.Status},
		})
	}

	return errors
}
