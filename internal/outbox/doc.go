// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package outbox provides a durable FIFO queue for outbound messages that
// could not be delivered.
//
// The queue is persisted as a single JSON slot on disk. Enqueue persists
// synchronously before returning, so an entry that was accepted survives an
// immediate process kill. Entries are removed only after a confirmed emit to
// the transport; draining stops at the first failed emit and pushes the
// entry back to the head, preserving order.
//
// # Key Types
//
//   - Outbox: The durable queue, one per outbox file
//   - ErrCorrupt: Returned when the on-disk state cannot be parsed
//
// # Delivery Semantics
//
// The outbox has no knowledge of message identity and never deduplicates.
// Redelivery idempotence, if required, is a server-side concern.
//
// # Usage
//
//	box, err := outbox.Open(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = box.Enqueue(payload)
//	sent, err := box.Drain(func(p json.RawMessage) bool {
//	    return emit(p)
//	})
package outbox
