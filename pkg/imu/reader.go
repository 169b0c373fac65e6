// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imu

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"
)

// DefaultMaxAge is how old the latest sample may be before Latest reports failure
const DefaultMaxAge = 20 * time.Millisecond

const maxBuffered = 512

// Source delivers the most recent attitude sample. ok is false when no fresh
// sample is available; callers count consecutive failures themselves.
type Source interface {
	Latest() (s Sample, ok bool)
}

// Reader decodes the AHRS stream from a port in the background and keeps the
// newest sample.
type Reader struct {
	port   io.Reader
	maxAge time.Duration
	log    *log.Logger
	now    func() time.Time

	buf []byte

	mu        sync.Mutex
	latest    Sample
	have      bool
	frames    uint64
	rejected  uint64
	runErr    error
	closeOnce sync.Once
}

// NewReader creates a reader over port. The port should have a short read timeout
// so Run notices cancellation.
func NewReader(port io.Reader, maxAge time.Duration, logger *log.Logger) *Reader {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Reader{
		port:   port,
		maxAge: maxAge,
		log:    logger.With("component", "imu"),
		now:    time.Now,
		buf:    make([]byte, 0, maxBuffered),
	}
}

// Run reads until ctx is cancelled or the port fails
func (r *Reader) Run(ctx context.Context) error {
	chunk := make([]byte, 128)
	for ctx.Err() == nil {
		n, err := r.port.Read(chunk)
		if n > 0 {
			r.Feed(chunk[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.mu.Lock()
			r.runErr = err
			r.mu.Unlock()
			r.log.Error("imu read failed", "err", err)
			return err
		}
	}
	return nil
}

// Feed processes received bytes
func (r *Reader) Feed(p []byte) {
	if len(r.buf)+len(p) > maxBuffered {
		// drop stale bytes, the newest data matters most
		r.buf = r.buf[:0]
	}
	r.buf = append(r.buf, p...)

	for {
		start := -1
		for i, b := range r.buf {
			if b == StartByte {
				start = i
				break
			}
		}
		if start < 0 {
			r.buf = r.buf[:0]
			return
		}
		r.buf = append(r.buf[:0], r.buf[start:]...)
		if len(r.buf) < 3 {
			return
		}
		if r.buf[2] > MaxPayload || (r.buf[1] == IDAHRS && r.buf[2] != AHRSPayload) {
			r.reject(ErrPayloadSize)
			continue
		}
		size := frameExtra + int(r.buf[2])
		if len(r.buf) < size {
			return
		}

		id, payload, err := parseFrame(r.buf[:size])
		if err != nil {
			r.reject(err)
			continue
		}
		if id == IDAHRS {
			r.store(payload)
		}
		r.buf = append(r.buf[:0], r.buf[size:]...)
	}
}

// reject drops the candidate start byte so scanning resumes just past it
func (r *Reader) reject(err error) {
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
	r.log.Debug("imu frame rejected", "err", err)
	r.buf = append(r.buf[:0], r.buf[1:]...)
}

func (r *Reader) store(payload []byte) {
	s, err := DecodeAHRS(payload)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rejected++
		return
	}
	s.ReceivedAt = r.now()
	r.latest = s
	r.have = true
	r.frames++
}

// Latest returns the newest sample if it is younger than the max age
func (r *Reader) Latest() (Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.have || r.now().Sub(r.latest.ReceivedAt) > r.maxAge {
		return r.latest, false
	}
	return r.latest, true
}

// Stats returns the number of accepted and rejected frames
func (r *Reader) Stats() (frames, rejected uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames, r.rejected
}

// Close closes the underlying port if it is closable and reports any error Run hit
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		runErr := r.runErr
		r.mu.Unlock()
		if runErr != nil && !errors.Is(runErr, io.EOF) {
			err = multierr.Append(err, runErr)
		}
		if c, ok := r.port.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	})
	return err
}
