// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package outbox provides a durable FIFO queue for outbound messages that
// could not be delivered.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/morganforge/chatlink/internal/util"
)

// QueueName is the fixed name of the persisted queue slot.
const QueueName = "pending_messages"

// ErrCorrupt indicates the persisted queue file could not be parsed. The
// file is left untouched so it can be inspected; it is not silently reset.
var ErrCorrupt = errors.New("outbox file corrupt")

// =============================================================================
// TYPES
// =============================================================================

// Entry is one queued outbound message.
type Entry struct {
	// Payload is the opaque message object as handed to Enqueue.
	Payload json.RawMessage `json:"payload"`

	// EnqueuedAt records when the entry entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// queueFile is the on-disk format: a single named slot holding the ordered
// sequence of pending payloads.
type queueFile struct {
	Queue   string  `json:"queue"`
	Entries []Entry `json:"entries"`
}

// Outbox is a durable FIFO queue backed by a single JSON file.
//
// All access is synchronous; the mutex only guards against accidental
// concurrent use from tests. Concurrent processes sharing the same file are
// not supported (last writer wins).
type Outbox struct {
	path string

	mu      sync.Mutex
	entries []Entry
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// Open loads the queue persisted at path, creating an empty queue if the
// file does not exist. A file that exists but cannot be parsed returns
// ErrCorrupt rather than discarding queued messages.
func Open(path string) (*Outbox, error) {
	o := &Outbox{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return nil, fmt.Errorf("reading outbox: %w", err)
	}

	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	o.entries = file.Entries
	return o, nil
}

// =============================================================================
// QUEUE OPERATIONS
// =============================================================================

// Enqueue appends payload to the queue and persists synchronously. If
// persistence fails the in-memory queue is rolled back and the error is
// returned, so memory and disk never diverge.
func (o *Outbox) Enqueue(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = append(o.entries, Entry{
		Payload:    raw,
		EnqueuedAt: time.Now(),
	})

	if err := o.persistLocked(); err != nil {
		o.entries = o.entries[:len(o.entries)-1]
		return fmt.Errorf("persisting outbox: %w", err)
	}
	return nil
}

// Drain repeatedly takes the head of the queue and calls emit. An emit that
// returns false or panics pushes the entry back to the head and stops the
// drain. Returns the number of entries delivered.
//
// Entries are removed from the persisted sequence only after emit confirms
// them, so a crash mid-drain redelivers rather than loses.
func (o *Outbox) Drain(emit func(payload json.RawMessage) bool) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delivered := 0
	for len(o.entries) > 0 {
		head := o.entries[0]

		if !safeEmit(emit, head.Payload) {
			break
		}

		o.entries = o.entries[1:]
		delivered++

		if err := o.persistLocked(); err != nil {
			// The entry was already on the wire; the persisted file is
			// stale by one entry until the next successful persist.
			return delivered, fmt.Errorf("persisting outbox after emit: %w", err)
		}
	}
	return delivered, nil
}

// Size returns the number of pending entries.
func (o *Outbox) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// PeekAll returns a copy of the pending entries in enqueue order, for
// diagnostics and tests.
func (o *Outbox) PeekAll() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// safeEmit calls emit and converts a panic into a failed delivery so a
// misbehaving emitter cannot lose the head entry.
func safeEmit(emit func(json.RawMessage) bool, payload json.RawMessage) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("outbox: emit panicked, keeping entry queued: %v", r)
			ok = false
		}
	}()
	return emit(payload)
}

func (o *Outbox) persistLocked() error {
	data, err := json.MarshalIndent(queueFile{
		Queue:   QueueName,
		Entries: o.entries,
	}, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(o.path, data, 0644)
}
