// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for the chatlink client.
//
// Conversations are stored as one JSON file each under a base directory,
// written atomically with fsync so a crash never leaves a torn file.
//
// # Key Types
//
//   - Store: The conversation store rooted at a directory
//   - Conversation: Messages plus model and timestamps
//   - Message: One user or assistant message
//
// # Persistence Contract
//
// The delivery core treats this package as an external collaborator: a
// completed assistant turn is handed over here once, and a failed stream is
// never persisted as assistant content.
//
// # Usage
//
//	store, err := storage.NewStore(dir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := store.AppendMessages(convID, model, userMsg, reply)
//	conv, err := store.Load(id)
package storage
