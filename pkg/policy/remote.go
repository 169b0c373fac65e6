// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

// DefaultRemoteTimeout bounds one remote inference round trip
const DefaultRemoteTimeout = 20 * time.Millisecond

// ErrRemote is returned when the inference server reports a failure
var ErrRemote = errors.New("policy: remote inference failed")

// request is one inference call on the wire: CBOR map with integer keys
type request struct {
	Seq         uint64      `cbor:"1,keyasint"`
	Observation []float64   `cbor:"2,keyasint"`
	History     [][]float64 `cbor:"3,keyasint"`
}

type response struct {
	Seq    uint64    `cbor:"1,keyasint"`
	Action []float64 `cbor:"2,keyasint,omitempty"`
	Error  string    `cbor:"3,keyasint,omitempty"`
}

// encMode writes floats in their shortest exact form; most normalized
// observation values fit in half or single precision.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{ShortestFloat: cbor.ShortestFloat16}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Remote runs inference on a server over a WebSocket, one binary CBOR message
// per request and per reply. A connection that fails or misses a deadline is
// dropped and redialed on the next call.
type Remote struct {
	mu      sync.Mutex
	url     string
	conn    *websocket.Conn
	timeout time.Duration
	seq     uint64
}

// DialRemote connects to an inference server at url (ws:// or wss://)
func DialRemote(ctx context.Context, url string, timeout time.Duration) (*Remote, error) {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to policy server %s: %w", url, err)
	}
	return &Remote{url: url, conn: conn, timeout: timeout}, nil
}

// Infer sends one request and waits for its reply
func (r *Remote) Infer(ctx context.Context, in Input) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	action, err := r.infer(ctx, in)
	if err != nil && !errors.Is(err, ErrRemote) && !errors.Is(err, ErrBadAction) && r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return action, err
}

func (r *Remote) infer(ctx context.Context, in Input) ([]float64, error) {
	if r.conn == nil {
		dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.url, nil)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to reconnect to policy server %s: %w", r.url, err)
		}
		r.conn = conn
	}

	r.seq++
	data, err := encMode.Marshal(request{Seq: r.seq, Observation: in.Observation, History: in.History})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy request: %w", err)
	}

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := r.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return nil, fmt.Errorf("failed to send policy request: %w", err)
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	for {
		msgType, msg, err := r.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read policy reply: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var resp response
		if err := cbor.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("failed to decode policy reply: %w", err)
		}
		if resp.Seq != r.seq {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
		}
		if err := CheckAction(resp.Action); err != nil {
			return nil, err
		}
		return resp.Action, nil
	}
}

// Close closes the connection
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := r.conn.Close()
	r.conn = nil
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// Handler serves p to Remote clients over WebSocket
func Handler(p Policy, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Warn("policy upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			var in request
			var resp response
			if err := cbor.Unmarshal(msg, &in); err != nil {
				resp.Error = err.Error()
			} else {
				resp.Seq = in.Seq
				action, err := p.Infer(req.Context(), Input{Observation: in.Observation, History: in.History})
				if err != nil {
					resp.Error = err.Error()
				} else {
					resp.Action = action
				}
			}
			out, err := encMode.Marshal(resp)
			if err != nil {
				logger.Error("policy reply encode failed", "err", err)
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	})
}
