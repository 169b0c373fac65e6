// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link performs one request/response exchange with one actuator over a
// serial channel.
package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/legctl/pkg/motorwire"
)

// Default timing for a 4 Mbaud channel
const (
	DefaultTimeout   = 5 * time.Millisecond
	DefaultPollSlice = 1 * time.Millisecond
)

// Exchange errors. ErrTimeout and the motorwire decode errors are recoverable;
// ErrTransport means the port itself failed.
var (
	ErrTimeout    = errors.New("link: exchange timeout")
	ErrShortWrite = errors.New("link: short write")
	ErrTransport  = errors.New("link: transport error")
)

// Port is the byte transport under a Link. go.bug.st/serial ports satisfy it
// directly; the WebSocket bus bridge implements it in cmd.
type Port interface {
	io.Reader
	io.Writer
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Exchanger is anything that can run one exchange. The channel loop depends on
// this rather than on *Link so tests can script responses.
type Exchanger interface {
	Exchange(frame []byte, expectedID uint8) (motorwire.Feedback, error)
}

// Link owns one Port and the receive state for it. It is not safe for concurrent
// use; each channel loop owns its own Link.
type Link struct {
	port      Port
	scanner   *motorwire.Scanner
	buf       [4 * motorwire.FeedbackFrameSize]byte
	timeout   time.Duration
	pollSlice time.Duration
	ready     bool
}

// Option configures a Link
type Option func(*Link)

// WithTimeout sets the per-exchange deadline
func WithTimeout(d time.Duration) Option {
	return func(l *Link) { l.timeout = d }
}

// WithPollSlice sets how long a single read may block
func WithPollSlice(d time.Duration) Option {
	return func(l *Link) { l.pollSlice = d }
}

// New creates a link over port
func New(port Port, opts ...Option) *Link {
	l := &Link{
		port:      port,
		scanner:   motorwire.NewScanner(),
		timeout:   DefaultTimeout,
		pollSlice: DefaultPollSlice,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Exchange flushes stale input, writes frame, then reads in poll slices until a
// valid FeedbackFrame from expectedID arrives or the timeout elapses. Malformed
// or foreign frames are skipped and scanning continues.
//
// When the deadline passes it returns ErrTimeout if nothing was received, or the
// last decode error (CRC or id mismatch) if bytes arrived but none validated.
func (l *Link) Exchange(frame []byte, expectedID uint8) (motorwire.Feedback, error) {
	if !l.ready {
		if err := l.port.SetReadTimeout(l.pollSlice); err != nil {
			return motorwire.Feedback{}, fmt.Errorf("%w: set read timeout: %w", ErrTransport, err)
		}
		l.ready = true
	}

	if err := l.port.ResetInputBuffer(); err != nil {
		return motorwire.Feedback{}, fmt.Errorf("%w: flush: %w", ErrTransport, err)
	}
	l.scanner.Reset()

	n, err := l.port.Write(frame)
	if err != nil {
		return motorwire.Feedback{}, fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	if n != len(frame) {
		return motorwire.Feedback{}, fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(frame))
	}

	deadline := time.Now().Add(l.timeout)
	received := 0
	var lastErr error

	for time.Now().Before(deadline) {
		n, err := l.port.Read(l.buf[:])
		if err != nil {
			return motorwire.Feedback{}, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		if n == 0 {
			continue
		}
		received += n
		l.scanner.Write(l.buf[:n])

		for {
			f, err := l.scanner.Next()
			if errors.Is(err, motorwire.ErrIncomplete) {
				break
			}
			if err != nil {
				lastErr = err
				continue
			}
			if f.ID != expectedID {
				lastErr = fmt.Errorf("%w: got %d, expected %d", motorwire.ErrIDMismatch, f.ID, expectedID)
				continue
			}
			return f.Feedback, nil
		}
	}

	if lastErr != nil {
		return motorwire.Feedback{}, lastErr
	}
	if received > 0 {
		return motorwire.Feedback{}, fmt.Errorf("%w: %d bytes without a complete frame", ErrTimeout, received)
	}
	return motorwire.Feedback{}, ErrTimeout
}

// IsRecoverable reports whether err is an exchange failure the caller should retry
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, motorwire.ErrCRCMismatch) ||
		errors.Is(err, motorwire.ErrIDMismatch) ||
		errors.Is(err, motorwire.ErrBadHeader) ||
		errors.Is(err, motorwire.ErrShortFrame) ||
		errors.Is(err, ErrShortWrite)
}
