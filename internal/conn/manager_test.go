// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/morganforge/chatlink/internal/events"
	"github.com/morganforge/chatlink/internal/outbox"
	"github.com/morganforge/chatlink/internal/transport"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	box, err := outbox.Open(filepath.Join(t.TempDir(), "outbox.json"))
	if err != nil {
		t.Fatalf("Open outbox failed: %v", err)
	}
	return box
}

// fastOptions keeps reconnect delays short enough for tests.
func fastOptions(url string) Options {
	return Options{
		URL:                  url,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		HandshakeTimeout:     2 * time.Second,
		SendRatePerSec:       1000,
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// echoServer upgrades every request and forwards inbound frames to frames.
// accepts counts upgrades.
func echoServer(t *testing.T, accepts *atomic.Int64, frames chan []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if accepts != nil {
			accepts.Add(1)
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if frames != nil {
				frames <- msg
			}
		}
	}))
}

func TestConnectDeliversInboundEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"event":"new_message","data":{"role":"ai","content":"hello","tokens":3}}`))
		// Hold open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	m := New(fastOptions(wsURL(server)), testOutbox(t))
	defer m.Close()

	got := make(chan events.MessageEvent, 1)
	m.Subscribe(events.EventNewMessage, func(e events.Event) {
		if msg, ok := e.(events.MessageEvent); ok {
			got <- msg
		}
	})

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Content != "hello" || msg.Tokens != 3 {
			t.Errorf("Unexpected message event: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for new_message")
	}
}

func TestConnectIdempotent(t *testing.T) {
	var accepts atomic.Int64
	server := echoServer(t, &accepts, nil)
	defer server.Close()

	m := New(fastOptions(wsURL(server)), testOutbox(t))
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	// Repeat connects must not open duplicate transports.
	for i := 0; i < 5; i++ {
		if err := m.Connect(); err != nil {
			t.Fatalf("Repeat Connect failed: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	if n := accepts.Load(); n != 1 {
		t.Errorf("Expected exactly 1 server accept, got %d", n)
	}
}

func TestSendWhileDisconnectedQueues(t *testing.T) {
	box := testOutbox(t)
	m := New(fastOptions("ws://127.0.0.1:1/ws"), box)
	defer m.Close()

	if m.Send(EventSendMessage, map[string]string{"message": "hi"}) {
		t.Error("Send should fail while disconnected")
	}

	delivered, err := m.SendOrQueue(map[string]string{"message": "hi"})
	if err != nil {
		t.Fatalf("SendOrQueue failed: %v", err)
	}
	if delivered {
		t.Error("SendOrQueue should report queued, not delivered")
	}
	if box.Size() != 1 {
		t.Errorf("Expected 1 queued message, got %d", box.Size())
	}
}

func TestOutboxDrainedInOrderOnConnect(t *testing.T) {
	frames := make(chan []byte, 16)
	server := echoServer(t, nil, frames)
	defer server.Close()

	box := testOutbox(t)
	for _, text := range []string{"first", "second", "third"} {
		if err := box.Enqueue(map[string]string{"message": text}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	m := New(fastOptions(wsURL(server)), box)
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for _, want := range []string{"first", "second", "third"} {
		select {
		case frame := <-frames:
			var env transport.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("Unmarshal frame failed: %v", err)
			}
			if env.Event != EventSendMessage {
				t.Errorf("Expected event %s, got %s", EventSendMessage, env.Event)
			}
			var payload map[string]string
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				t.Fatalf("Unmarshal payload failed: %v", err)
			}
			if payload["message"] != want {
				t.Errorf("Expected message %q, got %q", want, payload["message"])
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for queued message %q", want)
		}
	}

	waitFor(t, "empty outbox", func() bool { return box.Size() == 0 })
}

func TestBackoffExhaustionThenManualConnect(t *testing.T) {
	m := New(fastOptions("ws://127.0.0.1:1/ws"), testOutbox(t))
	defer m.Close()

	terminal := make(chan string, 1)
	m.Subscribe(events.EventConnection, func(e events.Event) {
		ce := e.(events.ConnectionEvent)
		if ce.Status == events.ConnDisconnected {
			select {
			case terminal <- ce.Detail:
			default:
			}
		}
	})

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case detail := <-terminal:
		if !strings.Contains(detail, "exhausted") {
			t.Errorf("Expected exhaustion detail, got %q", detail)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for terminal disconnect")
	}
	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected after exhaustion, got %s", m.State())
	}
	m.mu.Lock()
	spent := m.attempts
	m.mu.Unlock()
	if spent != m.opts.MaxReconnectAttempts {
		t.Errorf("Expected %d spent attempts, got %d", m.opts.MaxReconnectAttempts, spent)
	}

	// A manual reconnect on the exhausted manager must succeed once the
	// endpoint is reachable: the attempt counter starts over.
	server := echoServer(t, nil, nil)
	defer server.Close()
	m.mu.Lock()
	m.opts.URL = wsURL(server)
	m.mu.Unlock()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect after exhaustion failed: %v", err)
	}
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })
	m.mu.Lock()
	reset := m.attempts
	m.mu.Unlock()
	if reset != 0 {
		t.Errorf("Expected attempt counter reset after connect, got %d", reset)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var accepts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := accepts.Add(1)
		if n == 1 {
			// Drop the first connection immediately.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	m := New(fastOptions(wsURL(server)), testOutbox(t))
	defer m.Close()

	var reconnected atomic.Int64
	m.Subscribe(events.EventConnection, func(e events.Event) {
		if e.(events.ConnectionEvent).Status == events.ConnConnected {
			reconnected.Add(1)
		}
	})

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, "reconnect after drop", func() bool { return reconnected.Load() >= 2 })
	if m.State() != StateConnected {
		t.Errorf("Expected connected after recovery, got %s", m.State())
	}
}

func TestDisconnect(t *testing.T) {
	server := echoServer(t, nil, nil)
	defer server.Close()

	m := New(fastOptions(wsURL(server)), testOutbox(t))
	defer m.Close()

	statuses := make(chan events.ConnStatus, 8)
	m.Subscribe(events.EventConnection, func(e events.Event) {
		statuses <- e.(events.ConnectionEvent).Status
	})

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "connected state", func() bool { return m.State() == StateConnected })

	m.Disconnect()
	if m.State() != StateDisconnected {
		t.Errorf("Expected disconnected, got %s", m.State())
	}
	if m.Send(EventSendMessage, map[string]string{"message": "hi"}) {
		t.Error("Send should fail after Disconnect")
	}

	// The deliberate disconnect is reported, and no reconnect follows.
	waitFor(t, "disconnected event", func() bool {
		for {
			select {
			case s := <-statuses:
				if s == events.ConnDisconnected {
					return true
				}
			default:
				return false
			}
		}
	})
	time.Sleep(50 * time.Millisecond)
	if m.State() != StateDisconnected {
		t.Errorf("Manager reconnected after deliberate Disconnect")
	}
}

func TestConnectAfterClose(t *testing.T) {
	m := New(fastOptions("ws://127.0.0.1:1/ws"), testOutbox(t))
	m.Close()
	if err := m.Connect(); err != ErrManagerClosed {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestDecodeEvent(t *testing.T) {
	e := decodeEvent(transport.Envelope{
		Event: "new_message",
		Data:  json.RawMessage(`{"role":"ai","content":"hi","tokens":2}`),
	})
	msg, ok := e.(events.MessageEvent)
	if !ok {
		t.Fatalf("Expected MessageEvent, got %T", e)
	}
	if msg.Content != "hi" || msg.Role != "ai" {
		t.Errorf("Unexpected message event: %+v", msg)
	}

	// Unknown names pass through untouched.
	e = decodeEvent(transport.Envelope{
		Event: "typing_indicator",
		Data:  json.RawMessage(`{"active":true}`),
	})
	gen, ok := e.(events.GenericEvent)
	if !ok {
		t.Fatalf("Expected GenericEvent, got %T", e)
	}
	if gen.Name != "typing_indicator" {
		t.Errorf("Expected name typing_indicator, got %s", gen.Name)
	}
	if string(gen.Data) != `{"active":true}` {
		t.Errorf("Payload altered: %s", gen.Data)
	}

	// A malformed payload for a known name degrades to GenericEvent
	// instead of being dropped.
	e = decodeEvent(transport.Envelope{
		Event: "did_you_mean",
		Data:  json.RawMessage(`"not an object"`),
	})
	if _, ok := e.(events.GenericEvent); !ok {
		t.Errorf("Expected GenericEvent for malformed payload, got %T", e)
	}
}

func TestBackoffClamping(t *testing.T) {
	m := New(Options{
		URL:                "ws://example.invalid/ws",
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
	}, testOutbox(t))
	defer m.Close()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := m.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
