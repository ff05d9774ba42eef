// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream consumes the chunked response transport and assembles
// assistant replies from content deltas.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"strings"
)

// Marker is the literal prefix every record must carry.
const Marker = "data: "

// MaxRecordSize bounds a single record. A carry buffer that grows past this
// without seeing a newline indicates a broken peer; the session errors
// rather than accumulating without bound.
const MaxRecordSize = 256 * 1024

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the lifecycle state of a stream session.
type State string

const (
	// StatePending means no delta has arrived yet (typing indicator).
	StatePending State = "pending"

	// StateStreaming means at least one delta has been delivered.
	StateStreaming State = "streaming"

	// StateDone is terminal: the reply is complete.
	StateDone State = "done"

	// StateError is terminal: the session failed.
	StateError State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// =============================================================================
// SINK
// =============================================================================

// Sink receives the typed events produced by a Session. The first OnDelta
// call is the pending-to-live transition; OnDone and OnError are mutually
// exclusive and final.
type Sink interface {
	OnDelta(text string)
	OnDone(finalText string)
	OnError(message string)
}

// =============================================================================
// RECORD BODY
// =============================================================================

// record is the union of recognized body shapes.
type record struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
	Error    *string `json:"error"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session assembles one in-flight response. It is single-use: once the
// state is terminal all further input is ignored, and a new user message
// starts a new session.
//
// Chunks are processed strictly in arrival order on the caller's goroutine;
// any fragment not ending on a record boundary is carried forward and
// prefixed to the next chunk before re-parsing, so a partial frame is never
// lost.
type Session struct {
	sink  Sink
	carry []byte
	text  strings.Builder
	state State
}

// NewSession creates a pending session delivering events to sink.
func NewSession(sink Sink) *Session {
	return &Session{
		sink:  sink,
		state: StatePending,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Text returns the content accumulated so far.
func (s *Session) Text() string { return s.text.String() }

// Feed consumes one raw transport chunk. Complete records are processed;
// the trailing partial fragment becomes the new carry buffer.
func (s *Session) Feed(chunk []byte) {
	if s.state.Terminal() {
		return
	}

	s.carry = append(s.carry, chunk...)

	for {
		idx := bytes.IndexByte(s.carry, '\n')
		if idx < 0 {
			break
		}
		line := s.carry[:idx]
		s.carry = s.carry[idx+1:]
		s.processRecord(line)
		if s.state.Terminal() {
			s.carry = nil
			return
		}
	}

	if len(s.carry) > MaxRecordSize {
		s.fail("record exceeds maximum size")
	}
}

// CloseInput signals end of input. A non-empty carry that looks like a
// complete record (marker present) is parsed best-effort. A session that is
// still not terminal afterwards ended without a completion marker and is
// failed, so the caller never waits on a reply that cannot arrive.
func (s *Session) CloseInput() {
	if s.state.Terminal() {
		return
	}

	if len(s.carry) > 0 && bytes.HasPrefix(bytes.TrimSpace(s.carry), []byte(Marker)) {
		s.processRecord(s.carry)
		s.carry = nil
	}

	if !s.state.Terminal() {
		s.fail("stream ended before completion")
	}
}

// Consume reads transport chunks from r into a new Session until the
// session reaches a terminal state or r is exhausted. Read errors other
// than EOF end the input the same way EOF does: whatever arrived is
// flushed best-effort and the session is finalized.
func Consume(r io.Reader, sink Sink) *Session {
	s := NewSession(sink)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if s.state.Terminal() {
			return s
		}
		if err != nil {
			s.CloseInput()
			return s
		}
	}
}

// =============================================================================
// RECORD PROCESSING
// =============================================================================

func (s *Session) processRecord(line []byte) {
	line = bytes.TrimRight(line, "\r")
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	// Records without the marker are protocol noise, not an error.
	if !bytes.HasPrefix(trimmed, []byte(Marker)) {
		return
	}
	body := bytes.TrimSpace(trimmed[len(Marker):])
	if len(body) == 0 {
		return
	}

	var rec record
	if err := json.Unmarshal(body, &rec); err != nil {
		log.Printf("stream: skipping malformed record: %v", err)
		return
	}

	switch {
	case rec.Error != nil:
		s.fail(*rec.Error)
	case rec.Done:
		s.state = StateDone
		s.sink.OnDone(s.text.String())
	case rec.Response != nil:
		s.delta(*rec.Response)
	default:
		// Parsed JSON that matches no recognized shape.
		log.Printf("stream: skipping record with unrecognized shape: %s", body)
	}
}

func (s *Session) delta(text string) {
	if text == "" {
		return
	}
	if s.state == StatePending {
		s.state = StateStreaming
	}
	s.text.WriteString(text)
	s.sink.OnDelta(text)
}

func (s *Session) fail(message string) {
	s.state = StateError
	s.sink.OnError(message)
}
