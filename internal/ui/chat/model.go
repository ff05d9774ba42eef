// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the terminal chat view for chatlink.
package chat

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/morganforge/chatlink/internal/events"
	"github.com/morganforge/chatlink/internal/stream"
)

// =============================================================================
// SERVICE INTERFACE
// =============================================================================

// ChatService is the slice of the chat service the view drives.
type ChatService interface {
	SendMessage(text string) (bool, error)
	StreamMessage(ctx context.Context, text string, sink stream.Sink) (bool, error)
	StreamingEnabled() bool
	QueuedMessages() int
	Model() string
	NewConversation()
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
	entryNotice
)

// entry is one transcript line group. Error entries stay distinct from
// assistant content.
type entry struct {
	kind entryKind
	text string
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	svc ChatService

	input textinput.Model
	spin  spinner.Model
	vp    viewport.Model

	renderer *glamour.TermRenderer

	entries []entry

	// Turn state. waiting covers the gap between a send and the first
	// reply byte; streaming covers a live delta stream.
	waiting   bool
	streaming bool
	streamBuf *StreamingBuffer
	liveText  string

	// Connection status line.
	connStatus events.ConnStatus
	connDetail string
	queued     int

	suggestion *SuggestionMsg

	// send posts messages into the running program's loop. Set by
	// SetProgram; streamed replies need it to report completion.
	send func(tea.Msg)

	width  int
	height int
	ready  bool
}

// New creates the chat view for the given service.
func New(svc ChatService) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Focus()
	input.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    spinnerFPS,
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		renderer = nil
	}

	return &Model{
		svc:        svc,
		input:      input,
		spin:       sp,
		renderer:   renderer,
		streamBuf:  NewStreamingBuffer(),
		connStatus: events.ConnDisconnected,
	}
}

// SetProgram wires the running program's message feed into the view.
// Until it is called, submits fall back to the fire-and-forget send path.
func (m *Model) SetProgram(send func(tea.Msg)) {
	m.send = send
}

// Sink returns a stream sink that feeds this view. Deltas batch through the
// streaming buffer; completion and failure arrive as tea messages via send.
func (m *Model) Sink(send func(tea.Msg)) stream.Sink {
	return &viewSink{buf: m.streamBuf, send: send}
}

// viewSink adapts the stream sink callbacks onto the tea loop.
type viewSink struct {
	buf  *StreamingBuffer
	send func(tea.Msg)
}

func (v *viewSink) OnDelta(text string) {
	v.buf.Write(text)
}

func (v *viewSink) OnDone(finalText string) {
	v.send(StreamDoneMsg{FinalText: finalText})
}

func (v *viewSink) OnError(message string) {
	v.send(StreamErrorMsg{Message: message})
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+n":
			m.svc.NewConversation()
			m.entries = nil
			m.liveText = ""
			m.suggestion = nil
			m.refreshViewport()
			return m, nil
		case "enter":
			return m, m.submit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case ConnectionMsg:
		m.connStatus = msg.Status
		m.connDetail = msg.Detail
		m.queued = msg.Queued
		return m, nil

	case AssistantMsg:
		m.waiting = false
		m.streaming = false
		m.appendEntry(entry{kind: entryAssistant, text: msg.Content})
		return m, nil

	case ChatErrorMsg:
		m.waiting = false
		m.streaming = false
		m.appendEntry(entry{kind: entryError, text: msg.Message})
		return m, nil

	case SuggestionMsg:
		m.suggestion = &msg
		return m, nil

	case StreamTickMsg:
		if !m.streaming {
			return m, nil
		}
		if content, ok := m.streamBuf.Flush(); ok {
			m.waiting = false
			m.liveText += content
			m.refreshViewport()
		}
		return m, streamTickCmd()

	case StreamDoneMsg:
		m.finishStream()
		m.appendEntry(entry{kind: entryAssistant, text: msg.FinalText})
		return m, nil

	case StreamErrorMsg:
		m.finishStream()
		m.appendEntry(entry{kind: entryError, text: msg.Message})
		return m, nil

	case SendResultMsg:
		if msg.Err != nil {
			m.waiting = false
			m.streaming = false
			m.appendEntry(entry{kind: entryError, text: msg.Err.Error()})
		} else if !msg.Delivered {
			m.appendEntry(entry{kind: entryNotice, text: "Offline. Message queued for delivery."})
		}
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input field's content as a user message.
func (m *Model) submit() tea.Cmd {
	text := m.input.Value()
	m.input.Reset()

	if m.send != nil && m.svc.StreamingEnabled() {
		return m.submitStreaming(text)
	}

	delivered, err := m.svc.SendMessage(text)
	if err != nil {
		// An empty message is silently ignored, matching the input guard.
		return nil
	}

	m.appendEntry(entry{kind: entryUser, text: text})
	m.suggestion = nil
	m.waiting = true
	m.streaming = true
	m.liveText = ""
	m.streamBuf.Reset()

	cmds := []tea.Cmd{m.spin.Tick, streamTickCmd()}
	if !delivered {
		cmds = append(cmds, func() tea.Msg {
			return SendResultMsg{Delivered: false}
		})
	}
	return tea.Batch(cmds...)
}

// submitStreaming requests the reply over the streaming endpoint. The
// request runs as a command so the view stays responsive; deltas arrive
// through the sink and ticks, the terminal outcome as a SendResultMsg.
func (m *Model) submitStreaming(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	m.appendEntry(entry{kind: entryUser, text: text})
	m.suggestion = nil
	m.waiting = true
	m.streaming = true
	m.liveText = ""
	m.streamBuf.Reset()

	svc := m.svc
	sink := m.Sink(m.send)
	request := func() tea.Msg {
		delivered, err := svc.StreamMessage(context.Background(), text, sink)
		return SendResultMsg{Delivered: delivered, Err: err}
	}
	return tea.Batch(m.spin.Tick, streamTickCmd(), request)
}

// finishStream folds any trailing buffered deltas into the live text and
// ends the turn.
func (m *Model) finishStream() {
	if content, ok := m.streamBuf.ForceFlush(); ok {
		m.liveText += content
	}
	m.waiting = false
	m.streaming = false
	m.liveText = ""
}

// appendEntry adds a transcript entry and scrolls to the bottom.
func (m *Model) appendEntry(e entry) {
	m.entries = append(m.entries, e)
	m.refreshViewport()
}
