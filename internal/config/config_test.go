// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultServerURL, cfg.Server.URL)
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Delivery.MaxReconnectAttempts)
	assert.Equal(t, 1*time.Second, cfg.ReconnectBaseDelay())
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay())
	assert.Equal(t, DefaultModel, cfg.Chat.Model)
	assert.Equal(t, DefaultStreamURL, cfg.Server.StreamURL)
	assert.True(t, cfg.Chat.StreamReplies)
	assert.NotEmpty(t, cfg.Storage.OutboxPath)
}

func TestLoadFromFileMissingYieldsDefaults(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.Server.URL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
url = "wss://chat.example.com/ws"
handshake_timeout_secs = 5

[delivery]
max_reconnect_attempts = 3
reconnect_base_delay_ms = 250
reconnect_max_delay_ms = 4000

[chat]
model = "gemini-pro"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://chat.example.com/ws", cfg.Server.URL)
	assert.Equal(t, 3, cfg.Delivery.MaxReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectBaseDelay())
	assert.Equal(t, 4*time.Second, cfg.ReconnectMaxDelay())
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout())
	assert.Equal(t, "gemini-pro", cfg.Chat.Model)
}

func TestLoadFromFileInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nbad"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATLINK_SERVER_URL", "ws://override:9000/ws")
	t.Setenv("CHATLINK_STREAM_URL", "http://override:9000/chat")
	t.Setenv("CHATLINK_MODEL", "gemini-ultra")
	t.Setenv("CHATLINK_MAX_RECONNECTS", "2")

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "ws://override:9000/ws", cfg.Server.URL)
	assert.Equal(t, "http://override:9000/chat", cfg.Server.StreamURL)
	assert.Equal(t, "gemini-ultra", cfg.Chat.Model)
	assert.Equal(t, 2, cfg.Delivery.MaxReconnectAttempts)
}

func TestValidateRejectsNonWebSocketURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.URL = "http://example.com"
	assert.Error(t, cfg.Validate())
}

func TestValidateStreamURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.StreamURL = "ws://example.com/chat"
	assert.Error(t, cfg.Validate())

	cfg.Server.StreamURL = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultStreamURL, cfg.Server.StreamURL)
}

func TestValidateClampsValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delivery.MaxReconnectAttempts = -1
	cfg.Delivery.ReconnectBaseDelayMs = 0
	cfg.Delivery.ReconnectMaxDelayMs = 1 // below base
	cfg.Chat.Model = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Delivery.MaxReconnectAttempts)
	assert.Equal(t, cfg.Delivery.ReconnectBaseDelayMs, cfg.Delivery.ReconnectMaxDelayMs)
	assert.Equal(t, DefaultModel, cfg.Chat.Model)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Server.URL = "wss://roundtrip.example/ws"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://roundtrip.example/ws", loaded.Server.URL)
}
