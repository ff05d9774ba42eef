// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the chat service facade for the chatlink client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/chatlink/internal/config"
	"github.com/morganforge/chatlink/internal/conn"
	"github.com/morganforge/chatlink/internal/events"
	"github.com/morganforge/chatlink/internal/storage"
	"github.com/morganforge/chatlink/internal/stream"
)

// ErrEmptyMessage is returned when SendMessage is called with only
// whitespace.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// OUTBOUND PAYLOAD
// =============================================================================

// outboundMessage is the wire shape of a user message. Conversation ID and
// model pass through to the server untouched.
type outboundMessage struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
}

// =============================================================================
// SERVICE
// =============================================================================

// Deps are the service's injected collaborators.
type Deps struct {
	Manager *conn.Manager
	Store   *storage.Store
}

// Service coordinates sends, inbound events, streaming turns, and
// conversation persistence.
type Service struct {
	cfg   *config.Config
	mgr   *conn.Manager
	store *storage.Store
	// http issues streaming reply requests. No client timeout: a reply
	// stream may legitimately stay open for a long time, and callers
	// bound the request with a context instead.
	http *http.Client

	mu             sync.Mutex
	conversationID string
	model          string
	pendingUser    *storage.Message
	// turn increments on every SendMessage. A streaming session tagged
	// with an older turn is abandoned: its remaining events are discarded
	// here, without aborting the transport read.
	turn uint64

	subs []events.Subscription
}

// New constructs a service. Run must be called before messages flow.
func New(cfg *config.Config, deps Deps) *Service {
	return &Service{
		cfg:   cfg,
		mgr:   deps.Manager,
		store: deps.Store,
		http:  &http.Client{},
		model: cfg.Chat.Model,
	}
}

// Run subscribes to inbound events and starts the connection.
func (s *Service) Run() error {
	s.subs = append(s.subs,
		s.mgr.Subscribe(events.EventNewMessage, s.onNewMessage),
		s.mgr.Subscribe(events.EventMessageError, s.onMessageError),
	)
	if err := s.mgr.Connect(); err != nil {
		return fmt.Errorf("starting connection: %w", err)
	}
	return nil
}

// Close unsubscribes and disposes the connection manager.
func (s *Service) Close() {
	for _, sub := range s.subs {
		s.mgr.Unsubscribe(sub)
	}
	s.subs = nil
	s.mgr.Close()
}

// Subscribe forwards to the connection manager's dispatcher so the UI can
// observe the same event flow.
func (s *Service) Subscribe(name events.Name, h events.Handler) events.Subscription {
	return s.mgr.Subscribe(name, h)
}

// SubscribeAll forwards to the connection manager's dispatcher.
func (s *Service) SubscribeAll(h events.Handler) events.Subscription {
	return s.mgr.SubscribeAll(h)
}

// Unsubscribe forwards to the connection manager's dispatcher.
func (s *Service) Unsubscribe(sub events.Subscription) {
	s.mgr.Unsubscribe(sub)
}

// ConnectionState reports the manager's current state.
func (s *Service) ConnectionState() conn.State {
	return s.mgr.State()
}

// QueuedMessages reports the outbox depth.
func (s *Service) QueuedMessages() int {
	return s.mgr.OutboxSize()
}

// =============================================================================
// SENDING
// =============================================================================

// prepareSend validates the text, assigns the conversation, advances the
// turn counter, and records the pending user message. It returns the wire
// payload and the turn that owns it.
func (s *Service) prepareSend(text string) (outboundMessage, uint64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return outboundMessage{}, 0, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.conversationID == "" {
		s.conversationID = uuid.NewString()
	}
	convID := s.conversationID
	model := s.model
	s.turn++
	turn := s.turn
	s.pendingUser = &storage.Message{
		ID:        uuid.NewString(),
		Role:      storage.RoleUser,
		Content:   trimmed,
		Timestamp: time.Now(),
	}
	s.mu.Unlock()

	return outboundMessage{
		Message:        trimmed,
		ConversationID: convID,
		Model:          model,
	}, turn, nil
}

// SendMessage delivers a user message now or queues it durably. It returns
// true when the message went out on the wire immediately. Any streaming
// turn still in flight is abandoned.
func (s *Service) SendMessage(text string) (bool, error) {
	payload, _, err := s.prepareSend(text)
	if err != nil {
		return false, err
	}
	return s.mgr.SendOrQueue(payload)
}

// StreamingEnabled reports whether replies should be requested over the
// streaming HTTP endpoint.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.Chat.StreamReplies
}

// StreamMessage delivers a user message to the streaming HTTP endpoint and
// feeds the chunked reply through sink, blocking until the stream ends. It
// returns true when the reply was streamed. When the request cannot be
// issued the message falls back to the durable outbox path and the return
// value reports that delivery instead.
func (s *Service) StreamMessage(ctx context.Context, text string, sink stream.Sink) (bool, error) {
	payload, turn, err := s.prepareSend(text)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Server.StreamURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		log.Printf("client: stream request failed, falling back to outbox: %v", err)
		return s.mgr.SendOrQueue(payload)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("client: stream endpoint returned %s, falling back to outbox", resp.Status)
		return s.mgr.SendOrQueue(payload)
	}

	guarded := &turnSink{svc: s, turn: turn, inner: sink}
	stream.Consume(resp.Body, guarded)
	return true, nil
}

// =============================================================================
// INBOUND EVENTS
// =============================================================================

// onNewMessage persists the completed turn: the pending user message plus
// the assistant reply.
func (s *Service) onNewMessage(e events.Event) {
	msg, ok := e.(events.MessageEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	convID := s.conversationID
	model := s.model
	pending := s.pendingUser
	s.pendingUser = nil
	s.mu.Unlock()

	var msgs []storage.Message
	if pending != nil {
		msgs = append(msgs, *pending)
	}
	msgs = append(msgs, storage.Message{
		ID:        uuid.NewString(),
		Role:      storage.RoleAssistant,
		Content:   msg.Content,
		Tokens:    msg.Tokens,
		Timestamp: time.Now(),
	})

	id, err := s.store.AppendMessages(convID, model, msgs...)
	if err != nil {
		// Persistence failure must not break the event flow; the reply
		// was already delivered to subscribers.
		log.Printf("client: persisting turn to conversation %s failed: %v", convID, err)
		return
	}
	s.mu.Lock()
	if s.conversationID == convID {
		s.conversationID = id
	}
	s.mu.Unlock()
}

// onMessageError drops the pending user message. Failed turns are never
// persisted as conversation content.
func (s *Service) onMessageError(e events.Event) {
	s.mu.Lock()
	s.pendingUser = nil
	s.mu.Unlock()
}

// =============================================================================
// STREAMING TURNS
// =============================================================================

// ConsumeStream reads a streamed reply and forwards its events to sink.
// It blocks until the stream ends. If a newer SendMessage supersedes this
// turn mid-stream, remaining events are discarded and nothing is persisted.
// On a completed stream the assembled reply is persisted alongside the
// pending user message.
func (s *Service) ConsumeStream(r io.Reader, sink stream.Sink) *stream.Session {
	s.mu.Lock()
	turn := s.turn
	s.mu.Unlock()

	guarded := &turnSink{svc: s, turn: turn, inner: sink}
	return stream.Consume(r, guarded)
}

// turnSink drops events from superseded turns and persists completed ones.
type turnSink struct {
	svc   *Service
	turn  uint64
	inner stream.Sink
}

func (t *turnSink) live() bool {
	t.svc.mu.Lock()
	defer t.svc.mu.Unlock()
	return t.svc.turn == t.turn
}

func (t *turnSink) OnDelta(text string) {
	if t.live() {
		t.inner.OnDelta(text)
	}
}

func (t *turnSink) OnDone(finalText string) {
	if !t.live() {
		return
	}
	t.svc.persistAssistant(finalText)
	t.inner.OnDone(finalText)
}

func (t *turnSink) OnError(message string) {
	if !t.live() {
		return
	}
	// Nothing is persisted for a failed stream.
	t.svc.mu.Lock()
	t.svc.pendingUser = nil
	t.svc.mu.Unlock()
	t.inner.OnError(message)
}

// persistAssistant stores a completed streamed reply with the pending user
// message.
func (s *Service) persistAssistant(content string) {
	s.mu.Lock()
	convID := s.conversationID
	model := s.model
	pending := s.pendingUser
	s.pendingUser = nil
	s.mu.Unlock()

	var msgs []storage.Message
	if pending != nil {
		msgs = append(msgs, *pending)
	}
	msgs = append(msgs, storage.Message{
		ID:        uuid.NewString(),
		Role:      storage.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	})

	id, err := s.store.AppendMessages(convID, model, msgs...)
	if err != nil {
		log.Printf("client: persisting streamed turn to conversation %s failed: %v", convID, err)
		return
	}
	s.mu.Lock()
	if s.conversationID == convID {
		s.conversationID = id
	}
	s.mu.Unlock()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ConversationID returns the active conversation's ID, empty before the
// first send.
func (s *Service) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetModel switches the model used for subsequent sends.
func (s *Service) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if model != "" {
		s.model = model
	}
}

// Model returns the model used for subsequent sends.
func (s *Service) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// NewConversation starts a fresh conversation on the next send.
func (s *Service) NewConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = ""
	s.pendingUser = nil
	s.turn++
}

// OpenConversation makes an existing conversation active.
func (s *Service) OpenConversation(id string) (*storage.Conversation, error) {
	conv, err := s.store.Load(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.conversationID = conv.ID
	if conv.Model != "" {
		s.model = conv.Model
	}
	s.pendingUser = nil
	s.turn++
	s.mu.Unlock()
	return conv, nil
}

// Conversations lists stored conversations, most recent first.
func (s *Service) Conversations() ([]storage.ConversationMeta, error) {
	return s.store.List()
}

// SearchConversations filters stored conversations by query.
func (s *Service) SearchConversations(query string) ([]storage.ConversationMeta, error) {
	return s.store.Search(query)
}

// DeleteConversation removes a stored conversation. Deleting the active
// conversation also resets it.
func (s *Service) DeleteConversation(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.conversationID == id {
		s.conversationID = ""
		s.pendingUser = nil
	}
	s.mu.Unlock()
	return nil
}

// ExportConversation renders a stored conversation as markdown.
func (s *Service) ExportConversation(id string) (string, error) {
	conv, err := s.store.Load(id)
	if err != nil {
		return "", err
	}
	return conv.ExportMarkdown(), nil
}
