// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream consumes the chunked response transport and assembles
// assistant replies from content deltas.
//
// The transport delivers raw text fragments that are not aligned with record
// boundaries. Records are newline-delimited and prefixed with the "data: "
// marker; the body is JSON with one of three recognized shapes:
//
//	{"response": "..."}  content delta
//	{"done": true}       completion
//	{"error": "..."}     failure
//
// Anything without the marker is protocol noise and is discarded. A marked
// record whose body fails to parse is logged and skipped; it never aborts
// the session.
//
// # Key Types
//
//   - Session: One in-flight reply, single-use, fed in arrival order
//   - Sink: Receives deltas, the completion, or the failure
//   - State: Pending, streaming, done, or error
//
// # Usage
//
//	session := stream.Consume(resp.Body, sink)
//	if session.State() == stream.StateDone {
//	    fmt.Println(session.Text())
//	}
package stream
