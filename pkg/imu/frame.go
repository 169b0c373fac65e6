// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package imu reads attitude samples from an FDILink AHRS over a serial port.
//
// FDILink frame layout:
//
//	0xFC | id | len | seq | CRC8 | CRC16 hi | CRC16 lo | payload[len] | 0xFD
//
// CRC8 covers the first four bytes; CRC16 covers the payload only.
package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Frame constants
const (
	StartByte   = 0xFC
	EndByte     = 0xFD
	headerSize  = 7
	frameExtra  = headerSize + 1
	MaxPayload  = 250
	IDAHRS      = 0x41
	AHRSPayload = 48
)

// CRC configuration. CRC8 is the reflected Dallas/Maxim polynomial; CRC16 is
// CCITT/XMODEM, unreflected, zero seed.
const (
	crc8Polynomial  = 0x8C
	crc16Polynomial = 0x1021
)

// DefaultBaudRate is the AHRS factory setting
const DefaultBaudRate = 921600

// Decode errors
var (
	ErrCRC8        = errors.New("imu: header CRC8 mismatch")
	ErrCRC16       = errors.New("imu: payload CRC16 mismatch")
	ErrBadTrailer  = errors.New("imu: bad end byte")
	ErrPayloadSize = errors.New("imu: unexpected payload size")
)

var (
	crc8Table  [256]uint8
	crc16Table [256]uint16
)

func init() {
	for i := range crc8Table {
		crc := uint8(i)
		for j := 0; j < 8; j++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ crc8Polynomial
			} else {
				crc >>= 1
			}
		}
		crc8Table[i] = crc
	}
	for i := range crc16Table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC8 computes the FDILink header checksum
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// CRC16 computes the FDILink payload checksum
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc16Table[byte(crc>>8)^b] ^ (crc << 8)
	}
	return crc
}

// Sample is one AHRS reading. Angles in rad, rates in rad/s.
type Sample struct {
	RollRate   float64
	PitchRate  float64
	YawRate    float64
	Roll       float64
	Pitch      float64
	Heading    float64
	Quaternion [4]float64
	Timestamp  int64 // device clock, µs
	ReceivedAt time.Time
}

// EncodeFrame builds an FDILink frame. The device sends these; the host only
// needs it for requests and tests.
func EncodeFrame(id, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadSize, len(payload), MaxPayload)
	}
	frame := make([]byte, frameExtra+len(payload))
	frame[0] = StartByte
	frame[1] = id
	frame[2] = uint8(len(payload))
	frame[3] = seq
	frame[4] = CRC8(frame[:4])
	binary.BigEndian.PutUint16(frame[5:], CRC16(payload))
	copy(frame[headerSize:], payload)
	frame[len(frame)-1] = EndByte
	return frame, nil
}

// DecodeAHRS parses the 48-byte AHRS payload (little-endian floats, int64 timestamp)
func DecodeAHRS(payload []byte) (Sample, error) {
	if len(payload) != AHRSPayload {
		return Sample{}, fmt.Errorf("%w: %d bytes (want %d)", ErrPayloadSize, len(payload), AHRSPayload)
	}
	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:])))
	}
	return Sample{
		RollRate:   f(0),
		PitchRate:  f(1),
		YawRate:    f(2),
		Roll:       f(3),
		Pitch:      f(4),
		Heading:    f(5),
		Quaternion: [4]float64{f(6), f(7), f(8), f(9)},
		Timestamp:  int64(binary.LittleEndian.Uint64(payload[40:])),
	}, nil
}

// EncodeAHRS is the inverse of DecodeAHRS
func EncodeAHRS(s Sample) []byte {
	payload := make([]byte, AHRSPayload)
	vals := []float64{s.RollRate, s.PitchRate, s.YawRate, s.Roll, s.Pitch, s.Heading,
		s.Quaternion[0], s.Quaternion[1], s.Quaternion[2], s.Quaternion[3]}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(float32(v)))
	}
	binary.LittleEndian.PutUint64(payload[40:], uint64(s.Timestamp))
	return payload
}

// parseFrame validates a complete candidate frame at the start of data and
// returns its id and payload. size is the candidate length implied by its length byte.
func parseFrame(data []byte) (id uint8, payload []byte, err error) {
	size := frameExtra + int(data[2])
	if data[size-1] != EndByte {
		return 0, nil, fmt.Errorf("%w: 0x%02X", ErrBadTrailer, data[size-1])
	}
	if got := CRC8(data[:4]); got != data[4] {
		return 0, nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrCRC8, got, data[4])
	}
	payload = data[headerSize : size-1]
	want := binary.BigEndian.Uint16(data[5:])
	if got := CRC16(payload); got != want {
		return 0, nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRC16, got, want)
	}
	return data[1], payload, nil
}
