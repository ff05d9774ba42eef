// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is the chat service facade for the chatlink client.
//
// The service owns the outbound message shape, the current conversation,
// and the persistence of completed turns. It is constructed explicitly and
// injected into the UI; there is no package-level singleton.
//
// # Key Types
//
//   - Service: Coordinates sends, inbound events, streaming, persistence
//   - Deps: The injected connection manager and conversation store
//
// # Turn Supersession
//
// Every send advances a turn counter. A streaming reply tagged with an
// older turn is abandoned: its remaining events are discarded and nothing
// is persisted, without aborting the underlying read.
//
// # Usage
//
//	svc := client.New(cfg, client.Deps{Manager: mgr, Store: store})
//	if err := svc.Run(); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	delivered, err := svc.SendMessage("hello")
package client
