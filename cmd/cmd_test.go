// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/legctl/pkg/link"
	"github.com/Thermoquad/legctl/pkg/motorwire"
)

// fakeExchanger answers the ids in answer and times out for the rest
type fakeExchanger struct {
	answer map[uint8]bool
	err    error
	calls  int
}

func (f *fakeExchanger) Exchange(frame []byte, id uint8) (motorwire.Feedback, error) {
	f.calls++
	if f.err != nil {
		return motorwire.Feedback{}, f.err
	}
	if !f.answer[id] {
		return motorwire.Feedback{}, link.ErrTimeout
	}
	return motorwire.Feedback{ID: id, Status: motorwire.StatusRun, Temperature: 30}, nil
}

func TestProbe(t *testing.T) {
	full := &fakeExchanger{answer: map[uint8]bool{0: true, 1: true, 2: true}}
	partial := &fakeExchanger{answer: map[uint8]bool{0: true, 2: true}}
	var out bytes.Buffer

	lost, err := probe(&out, []link.Exchanger{full, partial}, []string{"a", "b"}, 3, 2)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}
	if partial.calls != 4 {
		t.Errorf("calls on partial channel = %d, want 4", partial.calls)
	}
	text := out.String()
	if !strings.Contains(text, "Channel 1 (b)") || !strings.Contains(text, "id 1: LOST") {
		t.Errorf("unexpected output:\n%s", text)
	}
}

func TestProbe_TransportErrorAborts(t *testing.T) {
	broken := &fakeExchanger{err: link.ErrTransport}
	_, err := probe(&bytes.Buffer{}, []link.Exchanger{broken}, []string{"x"}, 3, 3)
	if !errors.Is(err, link.ErrTransport) {
		t.Errorf("err = %v, want transport error", err)
	}
	if broken.calls != 1 {
		t.Errorf("calls = %d, want 1", broken.calls)
	}
}

func TestSniff(t *testing.T) {
	cmdFrame, err := motorwire.EncodeCommand(motorwire.Command{Torque: 1.5}, 2)
	if err != nil {
		t.Fatal(err)
	}
	fbFrame := motorwire.EncodeFeedback(motorwire.Feedback{ID: 2, Status: motorwire.StatusRun, Temperature: 33})

	var stream []byte
	stream = append(stream, 0x00, 0x13)
	stream = append(stream, cmdFrame...)
	corrupt := append([]byte(nil), fbFrame...)
	corrupt[5] ^= 0xFF
	stream = append(stream, corrupt...)
	stream = append(stream, fbFrame...)

	var out bytes.Buffer
	rejected, err := sniff(context.Background(), bytes.NewReader(stream), &out, true)
	if err != nil {
		t.Fatalf("sniff failed: %v", err)
	}
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}
	text := out.String()
	if strings.Count(text, "id=2") != 2 {
		t.Errorf("want two frames for id 2:\n%s", text)
	}
	if !strings.Contains(text, "tor=1.500") || !strings.Contains(text, "temp=33") {
		t.Errorf("frames not decoded:\n%s", text)
	}
}

func TestBench(t *testing.T) {
	ex := &fakeExchanger{answer: map[uint8]bool{0: true, 1: true}}
	res, err := bench(&bytes.Buffer{}, ex, 3, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("bench failed: %v", err)
	}
	if res.exchanges == 0 || res.lost == 0 || res.lost >= res.exchanges {
		t.Errorf("result = %+v", res)
	}
	if res.lossPercent() <= 0 || res.lossPercent() >= 100 {
		t.Errorf("loss = %v", res.lossPercent())
	}
}

func TestEventLog(t *testing.T) {
	e := newEventLog(3)
	e.Write([]byte("one\n"))
	e.Write([]byte("two\nthree\n"))
	e.Write([]byte("four\n"))

	got := e.Last(10)
	if strings.Join(got, ",") != "two,three,four" {
		t.Errorf("Last(10) = %v", got)
	}
	if got := e.Last(1); len(got) != 1 || got[0] != "four" {
		t.Errorf("Last(1) = %v", got)
	}
}

func TestWebSocketConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// echo binary messages, ignore text
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				conn.WriteMessage(websocket.TextMessage, []byte("noise"))
				conn.WriteMessage(websocket.BinaryMessage, data)
			}
		}
	}))
	defer srv.Close()

	conn, err := OpenWebSocketConnection("ws"+strings.TrimPrefix(srv.URL, "http"), "", "", false)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadTimeout(20 * time.Millisecond)

	// nothing queued: a timeout is an empty read, not an error
	buf := make([]byte, 4)
	if n, err := conn.Read(buf); n != 0 || err != nil {
		t.Fatalf("idle read = %d, %v", n, err)
	}

	if _, err := conn.Write([]byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 6 && time.Now().Before(deadline) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("echo = %v", got)
	}

	// reset drops partially read data
	conn.Write([]byte{9, 9, 9, 9, 9, 9})
	time.Sleep(50 * time.Millisecond)
	conn.Read(buf[:2])
	conn.ResetInputBuffer()
	if n, _ := conn.Read(buf); n != 0 {
		t.Errorf("read after reset = %d bytes", n)
	}
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	if _, err := OpenWebSocketConnection("http://example.invalid", "", "", false); err == nil {
		t.Error("expected error for http scheme")
	}
}
