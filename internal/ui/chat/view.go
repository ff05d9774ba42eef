// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/chatlink/internal/events"
	"github.com/morganforge/chatlink/internal/ui/styles"
)

const spinnerFPS = time.Second / 10

// =============================================================================
// STYLES
// =============================================================================

var (
	userLabelStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(styles.Purple).
				Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose)

	noticeStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	suggestionStyle = lipgloss.NewStyle().
			Foreground(styles.Amber).
			Italic(true)

	statusConnectedStyle = lipgloss.NewStyle().
				Foreground(styles.Emerald)

	statusDisconnectedStyle = lipgloss.NewStyle().
				Foreground(styles.Rose)

	statusReconnectingStyle = lipgloss.NewStyle().
				Foreground(styles.Amber)

	statusMetaStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "Starting chatlink..."
	}

	var b strings.Builder
	b.WriteString(m.vp.View())
	b.WriteString("\n")

	if m.suggestion != nil {
		b.WriteString(suggestionStyle.Render(
			"Did you mean: " + m.suggestion.Suggested + "?"))
		b.WriteString("\n")
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// statusLine renders connection state, model, and outbox depth.
func (m *Model) statusLine() string {
	var status string
	switch m.connStatus {
	case events.ConnConnected:
		status = statusConnectedStyle.Render("connected")
	case events.ConnError:
		status = statusReconnectingStyle.Render("reconnecting")
	default:
		status = statusDisconnectedStyle.Render("disconnected")
	}

	meta := " | " + m.svc.Model()
	if m.queued > 0 {
		meta += " | queued: " + itoa(m.queued)
	}
	return status + statusMetaStyle.Render(meta)
}

// transcript renders all entries plus the live streaming section.
func (m *Model) transcript() string {
	var b strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			b.WriteString(userLabelStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(e.text)
		case entryAssistant:
			b.WriteString(assistantLabelStyle.Render("Assistant"))
			b.WriteString("\n")
			b.WriteString(m.renderMarkdown(e.text))
		case entryError:
			b.WriteString(errorStyle.Render("Error: " + e.text))
		case entryNotice:
			b.WriteString(noticeStyle.Render(e.text))
		}
		b.WriteString("\n\n")
	}

	if m.streaming && m.liveText != "" {
		b.WriteString(assistantLabelStyle.Render("Assistant"))
		b.WriteString("\n")
		// Live deltas render raw; markdown waits for the final text.
		b.WriteString(m.liveText)
		b.WriteString("\n")
	} else if m.waiting {
		b.WriteString(m.spin.View())
		b.WriteString(" Thinking...")
		b.WriteString("\n")
	}

	return b.String()
}

// renderMarkdown renders final assistant text through glamour, falling back
// to raw text if the renderer is unavailable.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// =============================================================================
// LAYOUT
// =============================================================================

// resize fits the viewport to the window, reserving rows for the status
// line, input, and optional suggestion banner.
func (m *Model) resize() {
	const reserved = 3
	h := m.height - reserved
	if h < 3 {
		h = 3
	}

	if !m.ready {
		m.vp = viewport.New(m.width, h)
		m.ready = true
	} else {
		m.vp.Width = m.width
		m.vp.Height = h
	}
	m.input.Width = m.width - 4
	m.refreshViewport()
}

// refreshViewport re-renders the transcript and keeps the view pinned to
// the latest content.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.transcript())
	m.vp.GotoBottom()
}

// itoa avoids fmt for a hot render path.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
