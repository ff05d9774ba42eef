// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/chatlink/internal/events"
)

// =============================================================================
// TEA MESSAGES
// =============================================================================

// ConnectionMsg reports a connection status change.
type ConnectionMsg struct {
	Status events.ConnStatus
	Detail string
	Queued int
}

// AssistantMsg carries a complete assistant reply.
type AssistantMsg struct {
	Content string
	Tokens  int
}

// ChatErrorMsg carries a server-side failure for the current turn. It is
// rendered as a distinct error entry, never merged into assistant content.
type ChatErrorMsg struct {
	Message string
}

// SuggestionMsg carries a did-you-mean spelling suggestion.
type SuggestionMsg struct {
	Original  string
	Suggested string
}

// StreamDeltaMsg carries batched streamed text ready for display.
type StreamDeltaMsg struct {
	Text string
}

// StreamDoneMsg marks the end of a streamed reply with its final text.
type StreamDoneMsg struct {
	FinalText string
}

// StreamErrorMsg marks a failed stream.
type StreamErrorMsg struct {
	Message string
}

// StreamTickMsg drives the batched flush of streamed deltas.
type StreamTickMsg struct {
	Time time.Time
}

// SendResultMsg reports how a send was handled.
type SendResultMsg struct {
	Delivered bool
	Err       error
}

// =============================================================================
// EVENT FORWARDING
// =============================================================================

// eventSource is the slice of the chat service the forwarder needs.
type eventSource interface {
	SubscribeAll(events.Handler) events.Subscription
	Unsubscribe(events.Subscription)
	QueuedMessages() int
}

// Forwarder bridges service events into the Bubble Tea loop. Handlers run
// on the dispatcher's goroutine; Send hands them to the program's own loop.
type Forwarder struct {
	src eventSource
	sub events.Subscription
}

// NewForwarder subscribes to all service events and forwards them to send,
// typically tea.Program.Send.
func NewForwarder(src eventSource, send func(tea.Msg)) *Forwarder {
	f := &Forwarder{src: src}
	f.sub = src.SubscribeAll(func(e events.Event) {
		if msg := toTeaMsg(e, src.QueuedMessages()); msg != nil {
			send(msg)
		}
	})
	return f
}

// Close removes the subscription.
func (f *Forwarder) Close() {
	f.src.Unsubscribe(f.sub)
}

// toTeaMsg maps a service event to its tea message. Unknown generic events
// map to nil and are not forwarded.
func toTeaMsg(e events.Event, queued int) tea.Msg {
	switch ev := e.(type) {
	case events.ConnectionEvent:
		return ConnectionMsg{Status: ev.Status, Detail: ev.Detail, Queued: queued}
	case events.MessageEvent:
		return AssistantMsg{Content: ev.Content, Tokens: ev.Tokens}
	case events.MessageErrorEvent:
		return ChatErrorMsg{Message: ev.Message}
	case events.SuggestionEvent:
		return SuggestionMsg{Original: ev.Original, Suggested: ev.Suggested}
	default:
		return nil
	}
}
