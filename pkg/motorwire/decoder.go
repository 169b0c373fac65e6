// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decode errors. All of them are recoverable: the link drops the candidate frame
// and keeps scanning.
var (
	ErrShortFrame  = errors.New("motorwire: short frame")
	ErrBadHeader   = errors.New("motorwire: bad header")
	ErrCRCMismatch = errors.New("motorwire: CRC mismatch")
	ErrIDMismatch  = errors.New("motorwire: actuator id mismatch")
)

// DecodeFeedback validates and decodes a FeedbackFrame addressed from expectedID.
// Checks run in order header, CRC, id, so any corruption of the id bits is
// reported as a CRC mismatch rather than as a foreign actuator.
func DecodeFeedback(frame []byte, expectedID uint8) (Feedback, error) {
	fb, err := decodeFeedback(frame)
	if err != nil {
		return Feedback{}, err
	}
	if fb.ID != expectedID {
		return Feedback{}, fmt.Errorf("%w: got %d, expected %d", ErrIDMismatch, fb.ID, expectedID)
	}
	return fb, nil
}

// decodeFeedback validates header and CRC without checking the actuator id
func decodeFeedback(frame []byte) (Feedback, error) {
	if len(frame) < FeedbackFrameSize {
		return Feedback{}, fmt.Errorf("%w: %d bytes (need %d)", ErrShortFrame, len(frame), FeedbackFrameSize)
	}
	if frame[0] != FeedbackHeader0 || frame[1] != FeedbackHeader1 {
		return Feedback{}, fmt.Errorf("%w: 0x%02X 0x%02X", ErrBadHeader, frame[0], frame[1])
	}

	want := binary.LittleEndian.Uint16(frame[FeedbackFrameSize-crcSize:])
	if got := CalculateCRC(frame[:FeedbackFrameSize-crcSize]); got != want {
		return Feedback{}, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, got, want)
	}

	mode := frame[offMode]
	packed := binary.LittleEndian.Uint16(frame[offStatus:])

	return Feedback{
		ID:          mode & actuatorMask,
		Status:      (mode >> statusShift) & statusMask,
		Torque:      float64(int16(binary.LittleEndian.Uint16(frame[offTorque:]))) / torqueScale,
		Speed:       float64(int16(binary.LittleEndian.Uint16(frame[offSpeed:]))) / speedScale,
		Position:    float64(int32(binary.LittleEndian.Uint32(frame[offPosition:]))) / positionScale,
		Temperature: int8(frame[offTemp]),
		Error:       ErrorCode(packed & errorCodeMask),
		Force:       (packed >> 3) & 0x0FFF,
	}, nil
}

// EncodeFeedback builds a FeedbackFrame. Actuators produce these; the host only
// needs it for bench simulators and tests.
func EncodeFeedback(fb Feedback) []byte {
	frame := make([]byte, FeedbackFrameSize)
	frame[0] = FeedbackHeader0
	frame[1] = FeedbackHeader1
	frame[offMode] = fb.ID&actuatorMask | (fb.Status&statusMask)<<statusShift

	binary.LittleEndian.PutUint16(frame[offTorque:], uint16(toInt16(fb.Torque*torqueScale)))
	binary.LittleEndian.PutUint16(frame[offSpeed:], uint16(toInt16(fb.Speed*speedScale)))
	binary.LittleEndian.PutUint32(frame[offPosition:], uint32(toInt32(fb.Position*positionScale)))
	frame[offTemp] = byte(fb.Temperature)
	packed := uint16(fb.Error)&errorCodeMask | (fb.Force&0x0FFF)<<3
	binary.LittleEndian.PutUint16(frame[offStatus:], packed)

	crc := CalculateCRC(frame[:FeedbackFrameSize-crcSize])
	binary.LittleEndian.PutUint16(frame[FeedbackFrameSize-crcSize:], crc)
	return frame
}
