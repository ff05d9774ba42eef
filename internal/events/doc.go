// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events provides typed publish/subscribe dispatch for inbound
// protocol events.
//
// The server's protocol carries named events over the transport. The core
// events are modeled as a closed set of Go types so consumers can switch
// exhaustively; event names the client does not recognize are wrapped in
// GenericEvent and still delivered, keeping the protocol forward-compatible.
//
// # Key Types
//
//   - Dispatcher: Registers handlers and fans out published events
//   - ConnectionEvent: Connectivity transitions (connected, disconnected, error)
//   - MessageEvent: A complete assistant reply
//   - MessageErrorEvent: A failed turn
//   - SuggestionEvent: A "did you mean" correction
//   - GenericEvent: Any event name the client does not model
//
// # Usage
//
//	d := events.NewDispatcher()
//	sub := d.Subscribe(events.EventNewMessage, func(e events.Event) {
//	    msg := e.(events.MessageEvent)
//	    fmt.Println(msg.Content)
//	})
//	defer d.Unsubscribe(sub)
package events
