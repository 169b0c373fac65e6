// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestCRCTable(t *testing.T) {
	tests := []struct {
		index int
		want  uint16
	}{
		{0, 0x0000},
		{1, 0x1189},
		{2, 0x2312},
		{128, 0x8408},
		{255, 0x0F78},
	}
	for _, tt := range tests {
		if got := crcTable[tt.index]; got != tt.want {
			t.Errorf("crcTable[%d] = 0x%04X, want 0x%04X", tt.index, got, tt.want)
		}
	}
}

func TestCalculateCRC_EmptyIsSeed(t *testing.T) {
	if got := CalculateCRC(nil); got != crcInitial {
		t.Errorf("CalculateCRC(nil) = 0x%04X, want seed 0x%04X", got, crcInitial)
	}
}

func TestEncodeCommand_Layout(t *testing.T) {
	frame, err := EncodeCommand(Command{Torque: 1.0}, 2)
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}
	if len(frame) != CommandFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), CommandFrameSize)
	}
	if frame[0] != 0xFE || frame[1] != 0xEE {
		t.Errorf("header = %02X %02X, want FE EE", frame[0], frame[1])
	}
	// id 2 in the low nibble, status RUN in bits 4-6
	if frame[2] != 0x12 {
		t.Errorf("mode byte = 0x%02X, want 0x12", frame[2])
	}
	if got := int16(binary.LittleEndian.Uint16(frame[3:])); got != 256 {
		t.Errorf("torque raw = %d, want 256", got)
	}
	for i := 5; i < 15; i++ {
		if frame[i] != 0 {
			t.Errorf("byte %d = 0x%02X, want 0", i, frame[i])
		}
	}
	wantCRC := CalculateCRC(frame[:15])
	if got := binary.LittleEndian.Uint16(frame[15:]); got != wantCRC {
		t.Errorf("CRC trailer = 0x%04X, want 0x%04X", got, wantCRC)
	}
}

func TestEncodeCommand_InvalidID(t *testing.T) {
	if _, err := EncodeCommand(Command{}, 16); err == nil {
		t.Error("expected error for id 16")
	}
}

func TestEncodeCommand_Saturates(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		off  int
		want int16
	}{
		{"torque high", Command{Torque: 1000}, offTorque, math.MaxInt16},
		{"torque low", Command{Torque: -1000}, offTorque, math.MinInt16},
		{"speed high", Command{Speed: 1e6}, offSpeed, math.MaxInt16},
		{"kp high", Command{KPos: 100}, offKPos, math.MaxInt16},
		{"kd nan", Command{KSpd: math.NaN()}, offKSpd, 0},
		{"torque truncates toward zero", Command{Torque: -2.5 / 256}, offTorque, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeCommand(tt.cmd, 0)
			if err != nil {
				t.Fatalf("EncodeCommand failed: %v", err)
			}
			if got := int16(binary.LittleEndian.Uint16(frame[tt.off:])); got != tt.want {
				t.Errorf("raw = %d, want %d", got, tt.want)
			}
		})
	}

	frame, _ := EncodeCommand(Command{Position: -1e9}, 0)
	if got := int32(binary.LittleEndian.Uint32(frame[offPosition:])); got != math.MinInt32 {
		t.Errorf("position raw = %d, want %d", got, int32(math.MinInt32))
	}
}

func TestCommand_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"zero", Command{}},
		{"torque", Command{Torque: 3.25}},
		{"speed", Command{Speed: -12.5}},
		{"position", Command{Position: 17.123}},
		{"gains", Command{KPos: 1.4974, KSpd: 0.1248}},
		{"damping", Command{KSpd: 5.0 / (6.33 * 6.33)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeCommand(tt.cmd, 7)
			if err != nil {
				t.Fatalf("EncodeCommand failed: %v", err)
			}
			got, id, err := DecodeCommand(frame)
			if err != nil {
				t.Fatalf("DecodeCommand failed: %v", err)
			}
			if id != 7 {
				t.Errorf("id = %d, want 7", id)
			}
			// one quantisation step per field
			check := func(field string, got, want, scale float64) {
				if math.Abs(got-want) > 1/scale {
					t.Errorf("%s = %v, want %v (±%v)", field, got, want, 1/scale)
				}
			}
			check("torque", got.Torque, tt.cmd.Torque, torqueScale)
			check("speed", got.Speed, tt.cmd.Speed, speedScale)
			check("position", got.Position, tt.cmd.Position, positionScale)
			check("kp", got.KPos, tt.cmd.KPos, gainScale)
			check("kd", got.KSpd, tt.cmd.KSpd, gainScale)
		})
	}
}

func TestDecodeFeedback_Fields(t *testing.T) {
	frame := make([]byte, FeedbackFrameSize)
	frame[0], frame[1] = 0xFD, 0xEE
	frame[2] = 0x13 // id 3, RUN
	binary.LittleEndian.PutUint16(frame[3:], uint16(0xFE00)) // -512
	binary.LittleEndian.PutUint16(frame[5:], 0)
	binary.LittleEndian.PutUint32(frame[7:], 32768)
	frame[11] = 42
	binary.LittleEndian.PutUint16(frame[12:], 2|(100<<3))
	binary.LittleEndian.PutUint16(frame[14:], CalculateCRC(frame[:14]))

	fb, err := DecodeFeedback(frame, 3)
	if err != nil {
		t.Fatalf("DecodeFeedback failed: %v", err)
	}
	if fb.ID != 3 || fb.Status != StatusRun {
		t.Errorf("id/status = %d/%d, want 3/%d", fb.ID, fb.Status, StatusRun)
	}
	if fb.Torque != -2.0 {
		t.Errorf("torque = %v, want -2", fb.Torque)
	}
	if math.Abs(fb.Position-twoPi) > 1e-12 {
		t.Errorf("position = %v, want %v", fb.Position, twoPi)
	}
	if fb.Temperature != 42 {
		t.Errorf("temperature = %d, want 42", fb.Temperature)
	}
	if fb.Error != ErrorOvercurrent {
		t.Errorf("error = %s, want OVERCURRENT", fb.Error)
	}
	if fb.Force != 100 {
		t.Errorf("force = %d, want 100", fb.Force)
	}
}

func TestFeedback_RoundTrip(t *testing.T) {
	in := Feedback{ID: 9, Status: StatusRun, Torque: -1.5, Speed: 3.0, Position: -0.75, Temperature: -5, Error: ErrorEncoder, Force: 4000}
	out, err := DecodeFeedback(EncodeFeedback(in), 9)
	if err != nil {
		t.Fatalf("DecodeFeedback failed: %v", err)
	}
	if out.ID != in.ID || out.Status != in.Status || out.Temperature != in.Temperature ||
		out.Error != in.Error || out.Force != in.Force {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
	if math.Abs(out.Speed-in.Speed) > 1/speedScale || math.Abs(out.Position-in.Position) > 1/positionScale {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestDecodeFeedback_Errors(t *testing.T) {
	good := EncodeFeedback(Feedback{ID: 4, Status: StatusRun, Torque: 0.5})

	badHeader := append([]byte(nil), good...)
	badHeader[0] = 0xFE

	tests := []struct {
		name    string
		frame   []byte
		id      uint8
		wantErr error
	}{
		{"short", good[:10], 4, ErrShortFrame},
		{"bad header", badHeader, 4, ErrBadHeader},
		{"wrong id", good, 5, ErrIDMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFeedback(tt.frame, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeFeedback_SingleBitFlip(t *testing.T) {
	good := EncodeFeedback(Feedback{ID: 1, Status: StatusRun, Torque: 1.25, Speed: -2, Position: 0.3, Temperature: 35, Force: 77})
	if _, err := DecodeFeedback(good, 1); err != nil {
		t.Fatalf("reference frame rejected: %v", err)
	}

	// header bytes select the frame type and are excluded
	for i := 2; i < FeedbackFrameSize; i++ {
		for bit := 0; bit < 8; bit++ {
			frame := append([]byte(nil), good...)
			frame[i] ^= 1 << bit
			_, err := DecodeFeedback(frame, 1)
			if !errors.Is(err, ErrCRCMismatch) {
				t.Errorf("byte %d bit %d: err = %v, want CRC mismatch", i, bit, err)
			}
		}
	}
}

func TestScanner_GarbageAndSplitReads(t *testing.T) {
	fb1 := EncodeFeedback(Feedback{ID: 1, Torque: 1})
	fb2 := EncodeFeedback(Feedback{ID: 2, Torque: 2})

	s := NewScanner()
	s.Write([]byte{0x00, 0x11, 0xFD, 0x22})
	s.Write(fb1[:7])
	if _, err := s.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("partial frame: err = %v, want ErrIncomplete", err)
	}
	s.Write(fb1[7:])
	s.Write(fb2)

	var got []uint8
	for {
		f, err := s.Next()
		if errors.Is(err, ErrIncomplete) {
			break
		}
		if err != nil {
			continue
		}
		got = append(got, f.ID)
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("scanned ids = %v, want [1 2]", got)
	}
	if s.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", s.Buffered())
	}
}

func TestScanner_CorruptFrameDoesNotHideNext(t *testing.T) {
	bad := EncodeFeedback(Feedback{ID: 3, Torque: 1})
	bad[8] ^= 0x40
	good := EncodeFeedback(Feedback{ID: 3, Torque: -1})

	s := NewScanner()
	s.Write(bad)
	s.Write(good)

	sawCRC := false
	var frames []Frame
	for {
		f, err := s.Next()
		if errors.Is(err, ErrIncomplete) {
			break
		}
		if errors.Is(err, ErrCRCMismatch) {
			sawCRC = true
			continue
		}
		if err == nil {
			frames = append(frames, f)
		}
	}
	if !sawCRC {
		t.Error("expected a CRC mismatch for the corrupted frame")
	}
	if len(frames) != 1 || frames[0].Feedback.Torque != -1 {
		t.Errorf("frames = %+v, want the single good frame", frames)
	}
}

func TestScanner_KeepsTrailingHeaderByte(t *testing.T) {
	fb := EncodeFeedback(Feedback{ID: 6})
	s := NewScanner()
	s.Write([]byte{0x55, 0x55, fb[0]})
	if _, err := s.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	if s.Buffered() != 1 {
		t.Fatalf("buffered = %d, want 1", s.Buffered())
	}
	s.Write(fb[1:])
	f, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if f.ID != 6 {
		t.Errorf("id = %d, want 6", f.ID)
	}
}

func TestSniffScanner_BothDirections(t *testing.T) {
	cmd, _ := EncodeCommand(Command{Torque: 0.25}, 1)
	fb := EncodeFeedback(Feedback{ID: 1, Status: StatusRun, Torque: 0.25})

	s := NewSniffScanner()
	s.Write(cmd)
	s.Write(fb)

	f, err := s.Next()
	if err != nil || f.Kind != KindCommand || f.Command.Torque != 0.25 {
		t.Fatalf("first frame = %+v, %v; want command", f, err)
	}
	f, err = s.Next()
	if err != nil || f.Kind != KindFeedback || f.Feedback.Torque != 0.25 {
		t.Fatalf("second frame = %+v, %v; want feedback", f, err)
	}

	// the feedback-only scanner ignores the command
	fs := NewScanner()
	fs.Write(cmd)
	if _, err := fs.Next(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("feedback scanner on command: err = %v, want ErrIncomplete", err)
	}
}

func TestValidateFeedback(t *testing.T) {
	tests := []struct {
		name string
		fb   Feedback
		want []AnomalyType
	}{
		{"healthy", Feedback{Status: StatusRun, Temperature: 40}, nil},
		{"firmware error", Feedback{Error: ErrorOverheat}, []AnomalyType{AnomalyFirmwareError}},
		{"hot", Feedback{Temperature: 95}, []AnomalyType{AnomalyOverTemperature}},
		{"bad status", Feedback{Status: 5, Error: ErrorEncoder}, []AnomalyType{AnomalyFirmwareError, AnomalyInvalidStatus}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFeedback(tt.fb)
			if len(errs) != len(tt.want) {
				t.Fatalf("got %d anomalies (%v), want %d", len(errs), errs, len(tt.want))
			}
			for i, e := range errs {
				if e.Type != tt.want[i] {
					t.Errorf("anomaly %d = %v, want %v", i, e.Type, tt.want[i])
				}
			}
		})
	}
}

func TestFormatFeedback(t *testing.T) {
	s := FormatFeedback(Feedback{Status: StatusRun, Temperature: 30, Error: ErrorOvervoltage})
	for _, want := range []string{"status=RUN", "temp=30", "err=OVERVOLTAGE"} {
		if !bytes.Contains([]byte(s), []byte(want)) {
			t.Errorf("FormatFeedback() = %q, missing %q", s, want)
		}
	}
	if got := FormatHex([]byte{0xFD, 0xEE, 0x01}); got != "FD EE 01" {
		t.Errorf("FormatHex() = %q", got)
	}
}
