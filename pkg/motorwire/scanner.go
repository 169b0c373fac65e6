// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motorwire

import (
	"errors"
	"time"
)

// ErrIncomplete is returned by Scanner.Next when the buffer holds no complete candidate frame.
var ErrIncomplete = errors.New("motorwire: incomplete frame")

// FrameKind identifies which side of the exchange produced a frame
type FrameKind int

const (
	KindFeedback FrameKind = iota
	KindCommand
)

func (k FrameKind) String() string {
	if k == KindCommand {
		return "COMMAND"
	}
	return "FEEDBACK"
}

// Frame is one validated frame pulled out of a receive buffer
type Frame struct {
	Kind      FrameKind
	ID        uint8
	Command   Command  // valid when Kind == KindCommand
	Feedback  Feedback // valid when Kind == KindFeedback
	Raw       []byte
	Timestamp time.Time
}

// Scanner extracts frames from a byte stream that may contain stale, partial or
// garbled data. A candidate that fails validation is skipped one byte at a time,
// so a bad frame never hides a good one behind it.
type Scanner struct {
	buf      []byte
	commands bool
}

// NewScanner creates a scanner that accepts FeedbackFrames only
func NewScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, 4*FeedbackFrameSize)}
}

// NewSniffScanner creates a scanner that accepts both frame types, for passive bus capture
func NewSniffScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, 4*CommandFrameSize), commands: true}
}

// Reset discards all buffered bytes
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
}

// Buffered returns the number of bytes waiting to be scanned
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Write appends received bytes. It never fails.
func (s *Scanner) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Next returns the next valid frame. ErrIncomplete means more bytes are needed;
// any other error is a rejected candidate that has already been skipped, and the
// caller may call Next again.
func (s *Scanner) Next() (Frame, error) {
	start := s.findHeader()
	if start < 0 {
		// a trailing first header byte may be completed by the next read
		if n := len(s.buf); n > 0 && s.isHeader0(s.buf[n-1]) {
			s.discard(n - 1)
		} else {
			s.buf = s.buf[:0]
		}
		return Frame{}, ErrIncomplete
	}
	s.discard(start)

	size := FeedbackFrameSize
	if s.buf[0] == CommandHeader0 {
		size = CommandFrameSize
	}
	if len(s.buf) < size {
		return Frame{}, ErrIncomplete
	}

	frame, err := s.decode(s.buf[:size])
	if err != nil {
		s.discard(1)
		return Frame{}, err
	}
	s.discard(size)
	return frame, nil
}

func (s *Scanner) decode(data []byte) (Frame, error) {
	frame := Frame{
		Raw:       append([]byte(nil), data...),
		Timestamp: time.Now(),
	}
	if data[0] == CommandHeader0 {
		cmd, id, err := DecodeCommand(data)
		if err != nil {
			return Frame{}, err
		}
		frame.Kind = KindCommand
		frame.ID = id
		frame.Command = cmd
		return frame, nil
	}

	fb, err := decodeFeedback(data)
	if err != nil {
		return Frame{}, err
	}
	frame.Kind = KindFeedback
	frame.ID = fb.ID
	frame.Feedback = fb
	return frame, nil
}

func (s *Scanner) isHeader0(b byte) bool {
	return b == FeedbackHeader0 || (s.commands && b == CommandHeader0)
}

func (s *Scanner) findHeader() int {
	for i := 0; i+1 < len(s.buf); i++ {
		if s.isHeader0(s.buf[i]) && s.buf[i+1] == FeedbackHeader1 {
			return i
		}
	}
	return -1
}

func (s *Scanner) discard(n int) {
	s.buf = append(s.buf[:0], s.buf[n:]...)
}
