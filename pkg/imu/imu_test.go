// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestCRCTables(t *testing.T) {
	if crc8Table[1] != 0x5E || crc8Table[255] != 0x35 {
		t.Errorf("crc8Table[1]=0x%02X [255]=0x%02X, want 0x5E 0x35", crc8Table[1], crc8Table[255])
	}
	if crc16Table[1] != 0x1021 || crc16Table[16] != 0x1231 {
		t.Errorf("crc16Table[1]=0x%04X [16]=0x%04X, want 0x1021 0x1231", crc16Table[1], crc16Table[16])
	}
	// XMODEM check value
	if got := CRC16([]byte("123456789")); got != 0x31C3 {
		t.Errorf("CRC16(check) = 0x%04X, want 0x31C3", got)
	}
	// Dallas/Maxim check value
	if got := CRC8([]byte("123456789")); got != 0xA1 {
		t.Errorf("CRC8(check) = 0x%02X, want 0xA1", got)
	}
}

func testSample() Sample {
	return Sample{
		RollRate: 0.1, PitchRate: -0.2, YawRate: 0.05,
		Roll: 0.02, Pitch: -0.03, Heading: 1.5,
		Quaternion: [4]float64{1, 0, 0, 0},
		Timestamp:  123456789,
	}
}

func ahrsFrame(t *testing.T, s Sample, seq uint8) []byte {
	t.Helper()
	frame, err := EncodeFrame(IDAHRS, seq, EncodeAHRS(s))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	return frame
}

func TestAHRS_RoundTrip(t *testing.T) {
	in := testSample()
	frame := ahrsFrame(t, in, 7)
	if len(frame) != 8+AHRSPayload {
		t.Fatalf("frame length = %d", len(frame))
	}
	id, payload, err := parseFrame(frame)
	if err != nil || id != IDAHRS {
		t.Fatalf("parseFrame: id=0x%02X err=%v", id, err)
	}
	out, err := DecodeAHRS(payload)
	if err != nil {
		t.Fatalf("DecodeAHRS failed: %v", err)
	}
	if math.Abs(out.Pitch-in.Pitch) > 1e-6 || math.Abs(out.Heading-in.Heading) > 1e-6 || out.Timestamp != in.Timestamp {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestParseFrame_Errors(t *testing.T) {
	good := ahrsFrame(t, testSample(), 1)
	tests := []struct {
		name    string
		mutate  func([]byte)
		wantErr error
	}{
		{"header crc", func(f []byte) { f[3] ^= 0x01 }, ErrCRC8},
		{"payload crc", func(f []byte) { f[20] ^= 0x80 }, ErrCRC16},
		{"trailer", func(f []byte) { f[len(f)-1] = 0x00 }, ErrBadTrailer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := append([]byte(nil), good...)
			tt.mutate(f)
			if _, _, err := parseFrame(f); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReader_FeedAndStaleness(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), 20*time.Millisecond, log.New(io.Discard))
	now := time.Unix(100, 0)
	r.now = func() time.Time { return now }

	if _, ok := r.Latest(); ok {
		t.Fatal("Latest reported a sample before any frame")
	}

	frame := ahrsFrame(t, testSample(), 1)
	other, _ := EncodeFrame(0x60, 2, make([]byte, 12))
	stream := append([]byte{0x00, 0xFC, 0x41}, other...)
	stream = append(stream, frame[:10]...)
	r.Feed(stream)
	if _, ok := r.Latest(); ok {
		t.Fatal("Latest reported a partial frame")
	}
	r.Feed(frame[10:])

	s, ok := r.Latest()
	if !ok || math.Abs(s.Heading-1.5) > 1e-6 {
		t.Fatalf("Latest() = %+v, %v", s, ok)
	}
	frames, rejected := r.Stats()
	if frames != 1 || rejected == 0 {
		t.Errorf("stats = %d/%d, want 1 accepted and the stray header rejected", frames, rejected)
	}

	now = now.Add(21 * time.Millisecond)
	if _, ok := r.Latest(); ok {
		t.Error("stale sample reported as fresh")
	}
}

type closingReader struct {
	io.Reader
	closed bool
}

func (c *closingReader) Close() error {
	c.closed = true
	return nil
}

func TestReader_RunUntilEOF(t *testing.T) {
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, ahrsFrame(t, testSample(), uint8(i))...)
	}
	port := &closingReader{Reader: bytes.NewReader(stream)}
	r := NewReader(port, time.Second, log.New(io.Discard))

	err := r.Run(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run err = %v, want EOF", err)
	}
	if frames, _ := r.Stats(); frames != 3 {
		t.Errorf("frames = %d, want 3", frames)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
	if !port.closed {
		t.Error("port not closed")
	}
}

func TestFixed(t *testing.T) {
	var src Source = Fixed{Sample: Sample{Roll: 0.1}}
	s, ok := src.Latest()
	if !ok || s.Roll != 0.1 {
		t.Errorf("Latest() = %+v, %v", s, ok)
	}
}
