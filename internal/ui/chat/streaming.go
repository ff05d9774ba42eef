// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches streamed deltas between the stream consumer and
// the render loop. Deltas accumulate and are flushed when either the batch
// size threshold or the frame interval is reached, keeping the viewport
// smooth without re-rendering on every delta.
//
// Thread-safety: deltas arrive on the stream goroutine while flushes happen
// in the Bubble Tea loop, so all operations lock.
type StreamingBuffer struct {
	mu         sync.Mutex
	buffer     strings.Builder
	deltaCount int
	lastFlush  time.Time

	batchSize  int
	frameEvery time.Duration
}

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
)

// NewStreamingBuffer creates a buffer with the default batch size and a
// 30fps flush cap.
func NewStreamingBuffer() *StreamingBuffer {
	return &StreamingBuffer{
		batchSize:  defaultBatchSize,
		frameEvery: time.Second / defaultMaxFPS,
		lastFlush:  time.Now(),
	}
}

// Write adds a delta to the buffer. Called from the stream goroutine.
func (sb *StreamingBuffer) Write(delta string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.WriteString(delta)
	sb.deltaCount++
}

// Flush returns accumulated content when a threshold has been reached.
// Called from the Bubble Tea loop on each stream tick.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.shouldFlushLocked() {
		return "", false
	}
	return sb.takeLocked()
}

// ForceFlush returns all buffered content regardless of thresholds. Used
// when a stream completes so no trailing deltas are lost.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.takeLocked()
}

// Reset discards buffered content. Used when a turn is abandoned.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.Reset()
	sb.deltaCount = 0
	sb.lastFlush = time.Now()
}

// Pending returns the number of deltas waiting to be flushed.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.deltaCount
}

func (sb *StreamingBuffer) shouldFlushLocked() bool {
	if sb.buffer.Len() == 0 {
		return false
	}
	if sb.deltaCount >= sb.batchSize {
		return true
	}
	return time.Since(sb.lastFlush) >= sb.frameEvery
}

func (sb *StreamingBuffer) takeLocked() (string, bool) {
	if sb.buffer.Len() == 0 {
		return "", false
	}
	content := sb.buffer.String()
	sb.buffer.Reset()
	sb.deltaCount = 0
	sb.lastFlush = time.Now()
	return content, true
}

// =============================================================================
// STREAM TICK
// =============================================================================

// streamTickCmd emits StreamTickMsg at the flush frame rate while a stream
// is live.
func streamTickCmd() tea.Cmd {
	return tea.Tick(time.Second/defaultMaxFPS, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
