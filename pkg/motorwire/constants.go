// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package motorwire implements the binary frame format spoken by the leg actuators.
//
// Every exchange is one fixed-size ControlFrame from the host followed by one
// fixed-size FeedbackFrame from the addressed actuator. Both frames end in a
// CRC-16-CCITT trailer computed over every preceding byte.
package motorwire

// Frame headers
const (
	CommandHeader0  = 0xFE
	CommandHeader1  = 0xEE
	FeedbackHeader0 = 0xFD
	FeedbackHeader1 = 0xEE
)

// Frame sizes
const (
	CommandFrameSize  = 17
	FeedbackFrameSize = 16
	crcSize           = 2
)

// Field offsets shared by both frame types
const (
	offMode     = 2
	offTorque   = 3
	offSpeed    = 5
	offPosition = 7
	offKPos     = 11 // command only
	offKSpd     = 13 // command only
	offTemp     = 11 // feedback only
	offStatus   = 12 // feedback only
)

// CRC-16-CCITT configuration (reflected polynomial, firmware seed)
const (
	crcPolynomial = 0x8408
	crcInitial    = 0x2CBB
)

// MaxActuatorID is the largest id representable in the mode byte.
const MaxActuatorID = 0x0F

// Status values carried in the mode byte
const (
	StatusLock    = 0 // motor idle, outputs locked
	StatusRun     = 1 // FOC closed loop
	StatusCalib   = 2 // encoder calibration
	statusMask    = 0x07
	statusShift   = 4
	actuatorMask  = 0x0F
	errorCodeMask = 0x07
)

// Scaling constants. twoPi is the literal the firmware uses, not math.Pi*2.
const (
	twoPi         = 6.28318
	torqueScale   = 256.0
	speedScale    = 256.0 / twoPi
	positionScale = 32768.0 / twoPi
	gainScale     = 32768.0 / 25.6
)

// ErrorCode represents the firmware fault code in a feedback frame
type ErrorCode uint8

// Error code values
const (
	ErrorNone        ErrorCode = 0
	ErrorOverheat    ErrorCode = 1
	ErrorOvercurrent ErrorCode = 2
	ErrorOvervoltage ErrorCode = 3
	ErrorEncoder     ErrorCode = 4
)

// MaxSafeTemperature is the winding temperature (°C) above which feedback is flagged.
const MaxSafeTemperature = 90
