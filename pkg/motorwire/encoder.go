// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeCommand builds the wire-format ControlFrame addressing actuator id.
// Returns an error only for an id that does not fit the mode byte.
func EncodeCommand(cmd Command, id uint8) ([]byte, error) {
	frame := make([]byte, CommandFrameSize)
	if err := EncodeCommandInto(frame, cmd, id); err != nil {
		return nil, err
	}
	return frame, nil
}

// EncodeCommandInto writes the ControlFrame into dst, which must hold CommandFrameSize bytes.
// The channel loops reuse one buffer per channel through this function.
func EncodeCommandInto(dst []byte, cmd Command, id uint8) error {
	if id > MaxActuatorID {
		return fmt.Errorf("actuator id %d out of range (max %d)", id, MaxActuatorID)
	}
	if len(dst) < CommandFrameSize {
		return fmt.Errorf("buffer too small: %d bytes (need %d)", len(dst), CommandFrameSize)
	}

	dst[0] = CommandHeader0
	dst[1] = CommandHeader1
	dst[offMode] = id&actuatorMask | (StatusRun&statusMask)<<statusShift

	binary.LittleEndian.PutUint16(dst[offTorque:], uint16(toInt16(cmd.Torque*torqueScale)))
	binary.LittleEndian.PutUint16(dst[offSpeed:], uint16(toInt16(cmd.Speed*speedScale)))
	binary.LittleEndian.PutUint32(dst[offPosition:], uint32(toInt32(cmd.Position*positionScale)))
	binary.LittleEndian.PutUint16(dst[offKPos:], uint16(toInt16(cmd.KPos*gainScale)))
	binary.LittleEndian.PutUint16(dst[offKSpd:], uint16(toInt16(cmd.KSpd*gainScale)))

	crc := CalculateCRC(dst[:CommandFrameSize-crcSize])
	binary.LittleEndian.PutUint16(dst[CommandFrameSize-crcSize:], crc)
	return nil
}

// DecodeCommand parses a ControlFrame back into a Command and actuator id.
// Used by the sniffer and by tests; the control path never needs it.
func DecodeCommand(frame []byte) (Command, uint8, error) {
	if len(frame) < CommandFrameSize {
		return Command{}, 0, fmt.Errorf("%w: %d bytes (need %d)", ErrShortFrame, len(frame), CommandFrameSize)
	}
	if frame[0] != CommandHeader0 || frame[1] != CommandHeader1 {
		return Command{}, 0, fmt.Errorf("%w: 0x%02X 0x%02X", ErrBadHeader, frame[0], frame[1])
	}
	want := binary.LittleEndian.Uint16(frame[CommandFrameSize-crcSize:])
	if got := CalculateCRC(frame[:CommandFrameSize-crcSize]); got != want {
		return Command{}, 0, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, got, want)
	}

	cmd := Command{
		Torque:   float64(int16(binary.LittleEndian.Uint16(frame[offTorque:]))) / torqueScale,
		Speed:    float64(int16(binary.LittleEndian.Uint16(frame[offSpeed:]))) / speedScale,
		Position: float64(int32(binary.LittleEndian.Uint32(frame[offPosition:]))) / positionScale,
		KPos:     float64(int16(binary.LittleEndian.Uint16(frame[offKPos:]))) / gainScale,
		KSpd:     float64(int16(binary.LittleEndian.Uint16(frame[offKSpd:]))) / gainScale,
	}
	return cmd, frame[offMode] & actuatorMask, nil
}

// toInt16 saturates v to the int16 range and truncates toward zero like the firmware's C cast
func toInt16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func toInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}
