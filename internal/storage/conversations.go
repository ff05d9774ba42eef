// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for the chatlink client.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/morganforge/chatlink/internal/util"
)

// Message roles as the server uses them.
const (
	RoleUser      = "user"
	RoleAssistant = "ai"
)

// =============================================================================
// TYPES
// =============================================================================

// Conversation is a persisted conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []Message `json:"messages"`
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "ai"
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// ErrConversationNotFound is returned when a conversation doesn't exist.
var ErrConversationNotFound = &StoreError{Message: "conversation not found"}

// StoreError represents a storage-related error usable with errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string { return e.Message }

// Is implements errors.Is support.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && e.Message == t.Message
}

// =============================================================================
// STORE
// =============================================================================

// Store handles conversation persistence as one JSON file per conversation.
type Store struct {
	// BaseDir is the directory holding conversation files.
	BaseDir string

	// MaxConversations limits stored conversations (0 = unlimited).
	MaxConversations int
}

// NewStore creates a conversation store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Store{
		BaseDir:          baseDir,
		MaxConversations: 100,
	}, nil
}

// =============================================================================
// SAVE / APPEND
// =============================================================================

// Save persists a conversation and returns its ID.
func (s *Store) Save(conv *Conversation) (string, error) {
	if conv.ID == "" {
		conv.ID = generateConversationID()
	}
	if conv.Title == "" {
		conv.Title = titleFrom(conv)
	}

	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(s.filePath(conv.ID), data, 0644); err != nil {
		return "", err
	}

	if s.MaxConversations > 0 {
		s.enforceLimit()
	}
	return conv.ID, nil
}

// AppendMessages appends messages to an existing conversation, creating it
// if id is empty or unknown. Returns the conversation ID.
func (s *Store) AppendMessages(id, model string, msgs ...Message) (string, error) {
	conv, err := s.Load(id)
	if err != nil {
		conv = &Conversation{ID: id, Model: model}
	}
	if conv.Model == "" {
		conv.Model = model
	}
	conv.Messages = append(conv.Messages, msgs...)
	return s.Save(conv)
}

// =============================================================================
// LOAD / LIST
// =============================================================================

// Load retrieves a conversation by ID.
func (s *Store) Load(id string) (*Conversation, error) {
	if id == "" {
		return nil, ErrConversationNotFound
	}

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// List returns all saved conversations, most recently updated first.
func (s *Store) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	var metas []ConversationMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		conv, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue // Skip corrupted files
		}

		metas = append(metas, ConversationMeta{
			ID:           conv.ID,
			Title:        conv.Title,
			Model:        conv.Model,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Messages),
			Preview:      previewFrom(conv),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Search finds conversations whose title, preview, or message content
// contains the query (case-insensitive).
func (s *Store) Search(query string) ([]ConversationMeta, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}

	query = strings.ToLower(query)
	var results []ConversationMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
			continue
		}

		conv, err := s.Load(meta.ID)
		if err != nil {
			continue
		}
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes a conversation by ID.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// enforceLimit removes the oldest conversations if over the limit.
func (s *Store) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxConversations {
		return
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.Before(metas[j].UpdatedAt)
	})
	for i := 0; i < len(metas)-s.MaxConversations; i++ {
		s.Delete(metas[i].ID)
	}
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the conversation as Markdown.
func (c *Conversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n---\n\n")

	for _, msg := range c.Messages {
		role := "**User**"
		if msg.Role == RoleAssistant {
			role = "**Assistant**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// titleFrom derives a title from the first user message.
func titleFrom(conv *Conversation) string {
	for _, msg := range conv.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			title := strings.ReplaceAll(msg.Content, "\n", " ")
			title = strings.ReplaceAll(title, "\r", "")
			return util.TruncateString(title, 50)
		}
	}
	return "New conversation"
}

func previewFrom(conv *Conversation) string {
	for _, msg := range conv.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return util.TruncateString(msg.Content, 80)
		}
	}
	return ""
}

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "conv_" + hex.EncodeToString(b)
}
