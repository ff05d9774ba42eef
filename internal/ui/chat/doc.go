// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the terminal chat view for chatlink.
//
// The view renders the transcript, a streamed reply as it arrives, the
// connection status line, and the input field. It is a Bubble Tea model;
// service events reach it as typed tea messages.
//
// # Key Types
//
//   - Model: The Bubble Tea model for the chat view
//   - Forwarder: Bridges service events into the program's message loop
//   - StreamingBuffer: Batches deltas into frame-rate limited repaints
//
// # Streamed Replies
//
// Deltas do not repaint individually. They accumulate in the streaming
// buffer and fold into the live text on a tick, bounding the repaint rate
// regardless of how fast the server streams.
package chat
