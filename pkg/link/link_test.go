// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/legctl/pkg/motorwire"
)

// fakePort answers each write with the chunks returned by respond
type fakePort struct {
	respond     func(frame []byte) [][]byte
	pending     [][]byte
	readTimeout time.Duration
	writes      int
	resets      int
	shortWrite  bool
	readErr     error
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.writes++
	if p.respond != nil {
		p.pending = append(p.pending, p.respond(b)...)
	}
	if p.shortWrite {
		return len(b) - 1, nil
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.pending) == 0 {
		time.Sleep(p.readTimeout)
		return 0, nil
	}
	chunk := p.pending[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.pending[0] = chunk[n:]
	} else {
		p.pending = p.pending[1:]
	}
	return n, nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.resets++
	p.pending = nil
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

// echo answers with feedback carrying the addressed id and the commanded torque
func echo(frame []byte) [][]byte {
	cmd, id, err := motorwire.DecodeCommand(frame)
	if err != nil {
		return nil
	}
	return [][]byte{motorwire.EncodeFeedback(motorwire.Feedback{ID: id, Status: motorwire.StatusRun, Torque: cmd.Torque})}
}

func mustEncode(t *testing.T, cmd motorwire.Command, id uint8) []byte {
	t.Helper()
	frame, err := motorwire.EncodeCommand(cmd, id)
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}
	return frame
}

func TestExchange_Success(t *testing.T) {
	port := &fakePort{respond: echo}
	l := New(port)

	fb, err := l.Exchange(mustEncode(t, motorwire.Command{Torque: 1.5}, 2), 2)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if fb.ID != 2 || fb.Torque != 1.5 {
		t.Errorf("feedback = %+v", fb)
	}
	if port.resets != 1 || port.writes != 1 {
		t.Errorf("resets=%d writes=%d, want 1/1", port.resets, port.writes)
	}
	if port.readTimeout != DefaultPollSlice {
		t.Errorf("read timeout = %v, want %v", port.readTimeout, DefaultPollSlice)
	}
}

func TestExchange_Timeout(t *testing.T) {
	port := &fakePort{}
	l := New(port, WithTimeout(3*time.Millisecond))

	start := time.Now()
	_, err := l.Exchange(mustEncode(t, motorwire.Command{}, 0), 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Errorf("returned after %v, before the deadline", elapsed)
	}
}

func TestExchange_Failures(t *testing.T) {
	tests := []struct {
		name    string
		respond func([]byte) [][]byte
		wantErr error
	}{
		{
			name: "crc mismatch",
			respond: func(frame []byte) [][]byte {
				fb := motorwire.EncodeFeedback(motorwire.Feedback{ID: 1})
				fb[5] ^= 0x01
				return [][]byte{fb}
			},
			wantErr: motorwire.ErrCRCMismatch,
		},
		{
			name: "foreign actuator",
			respond: func(frame []byte) [][]byte {
				return [][]byte{motorwire.EncodeFeedback(motorwire.Feedback{ID: 2})}
			},
			wantErr: motorwire.ErrIDMismatch,
		},
		{
			name: "partial frame",
			respond: func(frame []byte) [][]byte {
				return [][]byte{motorwire.EncodeFeedback(motorwire.Feedback{ID: 1})[:9]}
			},
			wantErr: ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&fakePort{respond: tt.respond}, WithTimeout(2*time.Millisecond))
			_, err := l.Exchange(mustEncode(t, motorwire.Command{}, 1), 1)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if !IsRecoverable(err) {
				t.Errorf("IsRecoverable(%v) = false", err)
			}
		})
	}
}

func TestExchange_SkipsGarbageAndStaleFrames(t *testing.T) {
	port := &fakePort{respond: func(frame []byte) [][]byte {
		bad := motorwire.EncodeFeedback(motorwire.Feedback{ID: 3, Torque: 9})
		bad[14] ^= 0xFF
		good := motorwire.EncodeFeedback(motorwire.Feedback{ID: 3, Torque: -0.5})
		foreign := motorwire.EncodeFeedback(motorwire.Feedback{ID: 4})
		return [][]byte{
			{0x00, 0xFD, 0x13},
			foreign,
			bad,
			good[:4],
			good[4:],
		}
	}}
	l := New(port)

	fb, err := l.Exchange(mustEncode(t, motorwire.Command{}, 3), 3)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if fb.Torque != -0.5 {
		t.Errorf("torque = %v, want -0.5", fb.Torque)
	}
}

func TestExchange_FlushesStaleInput(t *testing.T) {
	port := &fakePort{respond: echo}
	// a response left over from an earlier timed-out exchange
	port.pending = [][]byte{motorwire.EncodeFeedback(motorwire.Feedback{ID: 5, Torque: 7})}
	l := New(port)

	fb, err := l.Exchange(mustEncode(t, motorwire.Command{Torque: 1}, 5), 5)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if fb.Torque != 1 {
		t.Errorf("torque = %v, want the fresh response 1", fb.Torque)
	}
}

func TestExchange_TransportErrors(t *testing.T) {
	l := New(&fakePort{shortWrite: true})
	if _, err := l.Exchange(mustEncode(t, motorwire.Command{}, 0), 0); !errors.Is(err, ErrShortWrite) {
		t.Errorf("short write: err = %v", err)
	}

	readErr := errors.New("device unplugged")
	l = New(&fakePort{readErr: readErr})
	_, err := l.Exchange(mustEncode(t, motorwire.Command{}, 0), 0)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, readErr) {
		t.Errorf("read failure: err = %v", err)
	}
	if IsRecoverable(err) {
		t.Error("transport error reported as recoverable")
	}
}
