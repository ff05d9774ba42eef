// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the persistent bidirectional channel to the
// chat server.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrClosed is returned by Emit and ReadEnvelope after Close.
var ErrClosed = errors.New("transport closed")

// Envelope is one named event on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Transport is a single established WebSocket connection carrying named
// event envelopes in both directions.
//
// ReadEnvelope must be called from a single goroutine (the manager's read
// loop). Emit is safe for concurrent use.
type Transport struct {
	conn *websocket.Conn

	// writeMu serializes writes; gorilla/websocket allows at most one
	// concurrent writer.
	writeMu sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// Dial establishes a WebSocket connection to url and returns the transport.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*Transport, error) {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial failed: %w", err)
	}

	return &Transport{conn: conn}, nil
}

// Emit marshals payload and writes it as a named event envelope.
func (t *Transport) Emit(event string, payload any) error {
	if t.isClosed() {
		return ErrClosed
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling event payload: %w", err)
		}
		data = b
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("ws write failed: %w", err)
	}
	return nil
}

// ReadEnvelope blocks until the next well-formed envelope arrives. Frames
// that do not parse as envelopes are logged and skipped; they are protocol
// noise, not connection failures. A read error means the connection is gone.
func (t *Transport) ReadEnvelope() (Envelope, error) {
	for {
		if t.isClosed() {
			return Envelope{}, ErrClosed
		}

		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if t.isClosed() {
				return Envelope{}, ErrClosed
			}
			return Envelope{}, fmt.Errorf("ws read failed: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			log.Printf("transport: skipping malformed frame (%d bytes)", len(msg))
			continue
		}
		return env, nil
	}
}

// Close sends a close frame and tears down the connection. Safe to call more
// than once.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *Transport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}
