// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatlink.
//
// Supports TOML configuration with sensible defaults, environment variable
// overrides, and validation with clamping.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: WebSocket and streaming endpoints
//   - DeliveryConfig: Reconnection bounds and send pacing
//   - StorageConfig: Outbox and conversation locations
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATLINK_*)
//   - CHATLINK_CONFIG path, or ~/.chatlink/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	url := cfg.Server.URL
//	delay := cfg.ReconnectBaseDelay()
package config
