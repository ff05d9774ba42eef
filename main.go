// chatlink - a terminal client for reliable real-time chat delivery.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/chatlink/internal/client"
	"github.com/morganforge/chatlink/internal/config"
	"github.com/morganforge/chatlink/internal/conn"
	"github.com/morganforge/chatlink/internal/outbox"
	"github.com/morganforge/chatlink/internal/storage"
	"github.com/morganforge/chatlink/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Printf("chatlink %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	box, err := outbox.Open(cfg.Storage.OutboxPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening outbox: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewStore(cfg.Storage.ConversationsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening conversation store: %v\n", err)
		os.Exit(1)
	}

	mgr := conn.New(conn.Options{
		URL:                  cfg.Server.URL,
		MaxReconnectAttempts: cfg.Delivery.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay(),
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay(),
		HandshakeTimeout:     cfg.HandshakeTimeout(),
		SendRatePerSec:       cfg.Delivery.SendRatePerSec,
	}, box)

	svc := client.New(cfg, client.Deps{Manager: mgr, Store: store})
	defer svc.Close()

	view := chat.New(svc)
	p := tea.NewProgram(
		view,
		tea.WithAltScreen(),
	)

	// Bridge service events into the program's loop and give the view a
	// way to post streamed-reply messages back into it.
	view.SetProgram(p.Send)
	forwarder := chat.NewForwarder(svc, p.Send)
	defer forwarder.Close()

	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting chat service: %v\n", err)
		os.Exit(1)
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running chatlink: %v\n", err)
		os.Exit(1)
	}
}
