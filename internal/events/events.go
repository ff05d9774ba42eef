// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events provides typed publish/subscribe dispatch for inbound
// protocol events.
package events

import (
	"encoding/json"
	"sync"
)

// =============================================================================
// EVENT NAMES
// =============================================================================

// Name identifies an event on the wire.
type Name string

// Core event names produced by the server or synthesized by the connection
// manager.
const (
	// EventConnection is synthesized locally from transport-level
	// connect/disconnect/connect_error transitions.
	EventConnection Name = "connection"

	// EventNewMessage carries a complete assistant reply.
	EventNewMessage Name = "new_message"

	// EventMessageError carries a server-side failure for the current turn.
	EventMessageError Name = "message_error"

	// EventDidYouMean carries a spelling suggestion for the last user message.
	EventDidYouMean Name = "did_you_mean"
)

// =============================================================================
// CONNECTION STATUS
// =============================================================================

// ConnStatus is the status carried by a ConnectionEvent.
type ConnStatus string

const (
	// ConnConnected means the transport is established.
	ConnConnected ConnStatus = "connected"

	// ConnDisconnected means the transport is down. Detail distinguishes a
	// retrying disconnect from a terminal one.
	ConnDisconnected ConnStatus = "disconnected"

	// ConnError means a transport-level error occurred. Errors are reported
	// here, never raised to Send callers.
	ConnError ConnStatus = "error"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Event is implemented by every event delivered through the Dispatcher.
type Event interface {
	EventName() Name
}

// ConnectionEvent reports a connection status transition.
type ConnectionEvent struct {
	Status ConnStatus
	Detail string
}

// EventName implements Event.
func (ConnectionEvent) EventName() Name { return EventConnection }

// MessageEvent carries a complete assistant reply payload.
type MessageEvent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// EventName implements Event.
func (MessageEvent) EventName() Name { return EventNewMessage }

// MessageErrorEvent carries a server-reported delivery failure.
type MessageErrorEvent struct {
	Message string `json:"message"`
}

// EventName implements Event.
func (MessageErrorEvent) EventName() Name { return EventMessageError }

// SuggestionEvent carries a did-you-mean spelling suggestion.
type SuggestionEvent struct {
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
}

// EventName implements Event.
func (SuggestionEvent) EventName() Name { return EventDidYouMean }

// GenericEvent wraps an event name the client does not recognize. The payload
// is forwarded verbatim so subscribers can evolve ahead of the client.
type GenericEvent struct {
	Name Name
	Data json.RawMessage
}

// EventName implements Event.
func (e GenericEvent) EventName() Name { return e.Name }

// =============================================================================
// DISPATCHER
// =============================================================================

// Handler is a callback invoked for a published event.
type Handler func(Event)

// Subscription is the handle returned by Subscribe; pass it to Unsubscribe.
type Subscription struct {
	id   uint64
	name Name
	all  bool
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

// Dispatcher routes events to subscribers. Handlers registered for the same
// name run in subscription order, and all dispatch happens on the publishing
// goroutine: the client has a single logical control thread, so handlers see
// events in exactly the order the transport produced them.
type Dispatcher struct {
	mu      sync.Mutex
	nextID  uint64
	byName  map[Name][]handlerEntry
	generic []handlerEntry
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		byName: make(map[Name][]handlerEntry),
	}
}

// Subscribe registers a handler for one event name.
func (d *Dispatcher) Subscribe(name Name, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.byName[name] = append(d.byName[name], handlerEntry{id: d.nextID, handler: h})
	return Subscription{id: d.nextID, name: name}
}

// SubscribeAll registers a handler that receives every event, including
// events with unrecognized names. Generic subscribers run after name
// subscribers for the same event.
func (d *Dispatcher) SubscribeAll(h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.generic = append(d.generic, handlerEntry{id: d.nextID, handler: h})
	return Subscription{id: d.nextID, all: true}
}

// Unsubscribe removes a previously registered handler. Unknown handles are
// ignored.
func (d *Dispatcher) Unsubscribe(s Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.all {
		d.generic = removeEntry(d.generic, s.id)
		return
	}
	d.byName[s.name] = removeEntry(d.byName[s.name], s.id)
}

// Publish delivers an event to its name subscribers and then to generic
// subscribers, synchronously, in subscription order.
func (d *Dispatcher) Publish(e Event) {
	d.mu.Lock()
	named := append([]handlerEntry(nil), d.byName[e.EventName()]...)
	generic := append([]handlerEntry(nil), d.generic...)
	d.mu.Unlock()

	for _, entry := range named {
		entry.handler(e)
	}
	for _, entry := range generic {
		entry.handler(e)
	}
}

// SubscriberCount returns the number of handlers registered for a name.
// Useful for diagnostics and tests.
func (d *Dispatcher) SubscriberCount(name Name) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byName[name])
}

func removeEntry(entries []handlerEntry, id uint64) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}
