// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/Thermoquad/legctl/pkg/link"
)

// Connection is one actuator channel: a link.Port that can be closed
type Connection interface {
	link.Port
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialConnection) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection carries a channel's bytes as binary messages. A gorilla
// connection is unusable after a read deadline expires, so a background reader
// owns the socket and Read waits on its queue with the serial read timeout.
type WebSocketConnection struct {
	conn      *websocket.Conn
	msgs      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	readErr error

	buf       []byte
	bufOffset int
	timeout   time.Duration
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn: conn,
		msgs: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.msgs)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		// Only binary messages carry bus bytes
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.msgs <- data:
		case <-w.done:
			return
		}
	}
}

// Read returns buffered bytes, or waits up to the read timeout for the next
// message. A timeout returns 0 bytes and no error, like a serial port.
func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	var timer <-chan time.Time
	if w.timeout > 0 {
		t := time.NewTimer(w.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case data, ok := <-w.msgs:
		if !ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.readErr != nil {
				return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.readErr)
			}
			return 0, ErrConnectionClosed
		}
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	case <-timer:
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResetInputBuffer discards partially read and queued messages
func (w *WebSocketConnection) ResetInputBuffer() error {
	w.buf = nil
	w.bufOffset = 0
	for {
		select {
		case _, ok := <-w.msgs:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (w *WebSocketConnection) SetReadTimeout(t time.Duration) error {
	w.timeout = t
	return nil
}

func (w *WebSocketConnection) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection (8N1, raw)
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("LEGCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnections opens one connection per channel: the --url bridges when
// given, otherwise the configured serial ports. The returned descriptions are
// for display. On error every connection already opened is closed.
func OpenConnections(ports []string, baud int) ([]Connection, []string, error) {
	var (
		conns []Connection
		infos []string
	)
	fail := func(err error) ([]Connection, []string, error) {
		return nil, nil, multierr.Append(err, closeAll(conns))
	}

	if len(wsURLs) > 0 {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, nil, err
			}
		}
		for _, u := range wsURLs {
			conn, err := OpenWebSocketConnection(u, wsUsername, password, wsNoSSLVerify)
			if err != nil {
				return fail(err)
			}
			conns = append(conns, conn)
			infos = append(infos, fmt.Sprintf("WebSocket: %s", u))
		}
		return conns, infos, nil
	}

	if len(ports) == 0 {
		return nil, nil, fmt.Errorf("either --port or --url must be specified")
	}
	for _, p := range ports {
		conn, err := OpenSerialConnection(p, baud)
		if err != nil {
			return fail(err)
		}
		conns = append(conns, conn)
		infos = append(infos, fmt.Sprintf("Serial: %s @ %d baud", p, baud))
	}
	return conns, infos, nil
}

// closeAll closes every connection and aggregates the errors
func closeAll(conns []Connection) error {
	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}
