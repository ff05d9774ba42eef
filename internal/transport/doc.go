// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the persistent bidirectional channel to the
// chat server.
//
// The wire protocol is one JSON envelope per WebSocket text message:
//
//	{"event": "send_message", "data": {"message": "hi"}}
//
// # Key Types
//
//   - Transport: One dialed WebSocket connection
//   - Envelope: The named-event wire frame
//
// # Single-Use Connections
//
// A Transport represents exactly one dialed connection. It is single-use:
// the connection manager creates a fresh Transport for every attempt and
// discards it on failure, so connection identity is never mutated across
// reconnects.
//
// # Usage
//
//	tr, err := transport.Dial(ctx, url, transport.DefaultHandshakeTimeout)
//	if err != nil {
//	    return err
//	}
//	defer tr.Close()
//	_ = tr.Emit("send_message", payload)
//	env, err := tr.ReadEnvelope()
package transport
