// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conn implements the connection manager for the chatlink client.
//
// The manager maintains at most one logical persistent connection to the
// chat server, reconnects automatically with bounded exponential backoff,
// and delivers typed inbound events to subscribers.
//
// # Key Types
//
//   - Manager: Owns the transport, the reconnect loop, and the dispatcher
//   - Options: Endpoint, backoff bounds, handshake timeout, send pacing
//   - State: Disconnected, connecting, or connected
//
// # Connection Lifecycle
//
// The manager owns its transport exclusively. A transport is never reused
// across attempts; each reconnect dials a fresh one. Transport-level errors
// are reported through the synthetic "connection" event and are never
// raised to Send callers.
//
// Reconnection retries up to Options.MaxReconnectAttempts times, doubling
// the delay from ReconnectBaseDelay and clamping at ReconnectMaxDelay.
// After exhaustion the manager reports a terminal disconnect and waits for
// a manual Connect, which starts the attempt budget over.
//
// # Usage
//
//	mgr := conn.New(conn.Options{URL: "ws://localhost:5000/ws"}, box)
//	mgr.Subscribe(events.EventNewMessage, onReply)
//	if err := mgr.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	delivered, err := mgr.SendOrQueue(payload)
package conn
