// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// wsURL converts an httptest server URL to a ws:// URL.
func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestEmitAndRead(t *testing.T) {
	// Echo server: reads one envelope, sends it back.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, msg)
	}))
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), 0)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	if err := tr.Emit("send_message", map[string]string{"message": "hi"}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	env, err := tr.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if env.Event != "send_message" {
		t.Errorf("Expected event send_message, got %s", env.Event)
	}

	var payload map[string]string
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("Unmarshal payload failed: %v", err)
	}
	if payload["message"] != "hi" {
		t.Errorf("Expected message 'hi', got %q", payload["message"])
	}
}

func TestReadSkipsMalformedFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Garbage, an envelope with no event name, then a valid envelope.
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"new_message","data":{"content":"ok"}}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), 0)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer tr.Close()

	env, err := tr.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if env.Event != "new_message" {
		t.Errorf("Expected new_message after skipping noise, got %s", env.Event)
	}
}

func TestDialFailure(t *testing.T) {
	// Nothing is listening here.
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", 500*time.Millisecond)
	if err == nil {
		t.Fatal("Expected dial error for unreachable endpoint")
	}
}

func TestEmitAfterClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	tr, err := Dial(context.Background(), wsURL(server), 0)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close is a no-op.
	if err := tr.Close(); err != nil {
		t.Errorf("Second Close should be nil, got %v", err)
	}

	if err := tr.Emit("send_message", nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
