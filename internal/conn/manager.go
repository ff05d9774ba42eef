// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conn implements the connection manager for the chatlink client.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/morganforge/chatlink/internal/events"
	"github.com/morganforge/chatlink/internal/outbox"
	"github.com/morganforge/chatlink/internal/transport"
)

// EventSendMessage is the outbound event name for chat messages. Queued
// outbox payloads are re-emitted under this name when connectivity returns.
const EventSendMessage = "send_message"

// ErrManagerClosed is returned by Connect after Close.
var ErrManagerClosed = errors.New("connection manager closed")

// =============================================================================
// CONNECTION STATE
// =============================================================================

// State is the lifecycle state of the logical connection.
type State string

const (
	// StateDisconnected means no transport exists and no attempt is running.
	StateDisconnected State = "disconnected"

	// StateConnecting means a dial/backoff loop is in progress.
	StateConnecting State = "connecting"

	// StateConnected means the transport is established.
	StateConnected State = "connected"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Manager.
type Options struct {
	// URL is the server's WebSocket endpoint.
	URL string

	// MaxReconnectAttempts bounds the dial loop; after exhaustion the
	// manager reports a terminal disconnect and stops retrying until a
	// manual Connect. Zero uses DefaultMaxReconnectAttempts.
	MaxReconnectAttempts int

	// ReconnectBaseDelay is the first backoff delay (default 1s).
	ReconnectBaseDelay time.Duration

	// ReconnectMaxDelay caps the backoff (default 30s).
	ReconnectMaxDelay time.Duration

	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration

	// SendRatePerSec paces outbound emits so outbox drain bursts do not
	// flood the server (default 20/s).
	SendRatePerSec int
}

// DefaultMaxReconnectAttempts is used when Options leaves the bound unset.
const DefaultMaxReconnectAttempts = 6

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxReconnectAttempts <= 0 {
		out.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = 1 * time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	if out.ReconnectMaxDelay < out.ReconnectBaseDelay {
		out.ReconnectMaxDelay = out.ReconnectBaseDelay
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = transport.DefaultHandshakeTimeout
	}
	if out.SendRatePerSec <= 0 {
		out.SendRatePerSec = 20
	}
	return out
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager maintains the single logical connection and routes inbound events.
//
// Lifecycle: construct with New, Connect to start, Close to dispose. The
// manager is an injected dependency, not ambient state; callers hold the
// instance they were given.
type Manager struct {
	opts       Options
	dispatcher *events.Dispatcher
	box        *outbox.Outbox
	limiter    *rate.Limiter

	mu       sync.Mutex
	state    State
	tr       *transport.Transport
	attempts int
	// gen invalidates in-flight connect/read loops when the user calls
	// Disconnect, Connect, or Close. A loop that observes a stale
	// generation abandons silently.
	gen    uint64
	closed bool
}

// New creates a manager for the given endpoint. The outbox may be shared
// with callers; the manager drains it whenever connectivity returns.
func New(opts Options, box *outbox.Outbox) *Manager {
	o := opts.withDefaults()
	return &Manager{
		opts:       o,
		dispatcher: events.NewDispatcher(),
		box:        box,
		limiter:    rate.NewLimiter(rate.Limit(o.SendRatePerSec), o.SendRatePerSec),
		state:      StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a handler for one inbound event name.
func (m *Manager) Subscribe(name events.Name, h events.Handler) events.Subscription {
	return m.dispatcher.Subscribe(name, h)
}

// SubscribeAll registers a handler for every inbound event, including names
// this client does not recognize.
func (m *Manager) SubscribeAll(h events.Handler) events.Subscription {
	return m.dispatcher.SubscribeAll(h)
}

// Unsubscribe removes a handler registered with Subscribe or SubscribeAll.
func (m *Manager) Unsubscribe(s events.Subscription) {
	m.dispatcher.Unsubscribe(s)
}

// =============================================================================
// CONNECT / DISCONNECT
// =============================================================================

// Connect starts the connection loop. It is idempotent: calling it while
// connected or connecting is a no-op and never creates a duplicate
// transport. A manual Connect after a terminal disconnect resets the
// attempt counter to zero.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.attempts = 0
	m.gen++
	g := m.gen
	m.mu.Unlock()

	go m.connectLoop(g)
	return nil
}

// Disconnect closes the transport and stops any reconnect loop. The manager
// stays usable; Connect resumes it.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	wasIdle := m.state == StateDisconnected && m.tr == nil
	m.gen++
	m.state = StateDisconnected
	tr := m.tr
	m.tr = nil
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	if !wasIdle {
		m.dispatcher.Publish(events.ConnectionEvent{
			Status: events.ConnDisconnected,
			Detail: "client disconnect",
		})
	}
}

// Close disposes the manager. Further Connect calls fail.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// =============================================================================
// SEND
// =============================================================================

// Send attempts immediate delivery of a named event. It never blocks
// waiting for a connection: while disconnected it returns false right away.
// An emit failure on an established transport also returns false; the error
// surfaces as a connection event, not to the caller.
func (m *Manager) Send(event string, payload any) bool {
	m.mu.Lock()
	tr := m.tr
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || tr == nil {
		return false
	}

	if err := m.limiter.Wait(context.Background()); err != nil {
		return false
	}

	if err := tr.Emit(event, payload); err != nil {
		m.dispatcher.Publish(events.ConnectionEvent{
			Status: events.ConnError,
			Detail: fmt.Sprintf("emit failed: %v", err),
		})
		return false
	}
	return true
}

// SendOrQueue attempts immediate delivery of a chat message and falls back
// to the durable outbox. A delivery failure while connected is treated
// identically to being disconnected: queued, not dropped. Returns true when
// the message went out on the wire now, false when it was queued.
func (m *Manager) SendOrQueue(payload any) (bool, error) {
	if m.Send(EventSendMessage, payload) {
		return true, nil
	}
	if err := m.box.Enqueue(payload); err != nil {
		return false, fmt.Errorf("queueing message: %w", err)
	}
	return false, nil
}

// OutboxSize returns the number of messages awaiting redelivery.
func (m *Manager) OutboxSize() int {
	return m.box.Size()
}

// =============================================================================
// CONNECT LOOP
// =============================================================================

// connectLoop dials until connected or the attempt budget is spent. Runs on
// its own goroutine; abandons silently if the generation moves on.
func (m *Manager) connectLoop(g uint64) {
	for {
		m.mu.Lock()
		if m.gen != g || m.closed {
			m.mu.Unlock()
			return
		}
		if m.attempts >= m.opts.MaxReconnectAttempts {
			m.state = StateDisconnected
			m.mu.Unlock()
			m.dispatcher.Publish(events.ConnectionEvent{
				Status: events.ConnDisconnected,
				Detail: "reconnect attempts exhausted",
			})
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
		tr, err := transport.Dial(ctx, m.opts.URL, m.opts.HandshakeTimeout)
		cancel()

		if err == nil {
			m.mu.Lock()
			if m.gen != g || m.closed {
				m.mu.Unlock()
				tr.Close()
				return
			}
			m.tr = tr
			m.state = StateConnected
			// The attempt counter resets only here, on a successful
			// connected transition.
			m.attempts = 0
			m.mu.Unlock()

			m.dispatcher.Publish(events.ConnectionEvent{Status: events.ConnConnected})
			go m.readLoop(g, tr)
			m.drainOutbox(tr)
			return
		}

		m.dispatcher.Publish(events.ConnectionEvent{
			Status: events.ConnError,
			Detail: fmt.Sprintf("connect attempt %d failed: %v", attempt, err),
		})

		time.Sleep(m.backoff(attempt))
	}
}

// backoff returns the delay before the next attempt: base doubled per
// attempt, clamped to the configured maximum.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.opts.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.opts.ReconnectMaxDelay {
			return m.opts.ReconnectMaxDelay
		}
	}
	if delay > m.opts.ReconnectMaxDelay {
		delay = m.opts.ReconnectMaxDelay
	}
	return delay
}

// drainOutbox redelivers queued messages in enqueue order. Draining and
// fresh sends may interleave; only the relative order of drained entries is
// guaranteed.
func (m *Manager) drainOutbox(tr *transport.Transport) {
	if m.box.Size() == 0 {
		return
	}

	delivered, err := m.box.Drain(func(payload json.RawMessage) bool {
		if err := m.limiter.Wait(context.Background()); err != nil {
			return false
		}
		return tr.Emit(EventSendMessage, payload) == nil
	})
	if err != nil {
		log.Printf("conn: outbox drain interrupted after %d deliveries: %v", delivered, err)
		return
	}
	if delivered > 0 {
		log.Printf("conn: redelivered %d queued messages", delivered)
	}
}

// =============================================================================
// READ LOOP
// =============================================================================

// readLoop routes inbound envelopes until the transport fails, then starts
// the reconnect loop on the same generation.
func (m *Manager) readLoop(g uint64, tr *transport.Transport) {
	for {
		env, err := tr.ReadEnvelope()
		if err != nil {
			m.mu.Lock()
			if m.gen != g || m.closed {
				// Deliberate disconnect; nothing to report.
				m.mu.Unlock()
				return
			}
			m.tr = nil
			m.state = StateConnecting
			m.mu.Unlock()

			tr.Close()
			m.dispatcher.Publish(events.ConnectionEvent{
				Status: events.ConnError,
				Detail: fmt.Sprintf("connection lost: %v", err),
			})
			m.connectLoop(g)
			return
		}

		m.dispatcher.Publish(decodeEvent(env))
	}
}

// decodeEvent maps a wire envelope onto the typed event set. Payloads that
// fail to parse, and names this client does not recognize, are forwarded as
// GenericEvent so nothing is dropped.
func decodeEvent(env transport.Envelope) events.Event {
	switch events.Name(env.Event) {
	case "connect":
		return events.ConnectionEvent{Status: events.ConnConnected}
	case "disconnect":
		return events.ConnectionEvent{Status: events.ConnDisconnected, Detail: string(env.Data)}
	case "connect_error":
		return events.ConnectionEvent{Status: events.ConnError, Detail: string(env.Data)}
	case events.EventNewMessage:
		var e events.MessageEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			log.Printf("conn: malformed new_message payload: %v", err)
			return events.GenericEvent{Name: events.Name(env.Event), Data: env.Data}
		}
		return e
	case events.EventMessageError:
		var e events.MessageErrorEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			log.Printf("conn: malformed message_error payload: %v", err)
			return events.GenericEvent{Name: events.Name(env.Event), Data: env.Data}
		}
		return e
	case events.EventDidYouMean:
		var e events.SuggestionEvent
		if err := json.Unmarshal(env.Data, &e); err != nil {
			log.Printf("conn: malformed did_you_mean payload: %v", err)
			return events.GenericEvent{Name: events.Name(env.Event), Data: env.Data}
		}
		return e
	default:
		return events.GenericEvent{Name: events.Name(env.Event), Data: env.Data}
	}
}
