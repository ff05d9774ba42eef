// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatlink.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/chatlink/internal/util"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultServerURL is the chat server's WebSocket endpoint.
	DefaultServerURL = "ws://localhost:5000/ws"

	// DefaultStreamURL is the chat server's streaming HTTP endpoint.
	// Replies arrive as chunked "data: {...}" records.
	DefaultStreamURL = "http://localhost:5000/chat"

	// DefaultMaxReconnectAttempts bounds the automatic reconnect loop.
	// After exhaustion a manual connect is required to resume.
	DefaultMaxReconnectAttempts = 6

	// DefaultReconnectBaseDelay is the first backoff delay.
	DefaultReconnectBaseDelay = 1 * time.Second

	// DefaultReconnectMaxDelay caps the exponential backoff.
	DefaultReconnectMaxDelay = 30 * time.Second

	// DefaultHandshakeTimeout bounds the WebSocket opening handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultSendRate is the outbound emit budget in events per second.
	// Generous by default; it exists to pace outbox drain bursts.
	DefaultSendRate = 20

	// DefaultModel is the model selector attached to outbound messages.
	DefaultModel = "gemini-flash-latest"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatlink configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server"`

	// Delivery settings (reconnection and send pacing)
	Delivery DeliveryConfig `toml:"delivery"`

	// Storage settings (outbox and conversation persistence)
	Storage StorageConfig `toml:"storage"`

	// Chat settings
	Chat ChatConfig `toml:"chat"`
}

// ServerConfig identifies the chat server endpoint.
type ServerConfig struct {
	// URL is the WebSocket endpoint, e.g. "ws://localhost:5000/ws".
	URL string `toml:"url"`
	// StreamURL is the HTTP endpoint serving streamed replies,
	// e.g. "http://localhost:5000/chat".
	StreamURL string `toml:"stream_url"`
	// HandshakeTimeoutSecs bounds the opening handshake.
	HandshakeTimeoutSecs int `toml:"handshake_timeout_secs"`
}

// DeliveryConfig controls reconnection and outbound pacing.
type DeliveryConfig struct {
	// MaxReconnectAttempts is the number of automatic reconnect attempts
	// before the manager reports a terminal disconnect (0 uses the default).
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
	// ReconnectBaseDelayMs is the first backoff delay in milliseconds.
	ReconnectBaseDelayMs int `toml:"reconnect_base_delay_ms"`
	// ReconnectMaxDelayMs caps the backoff in milliseconds.
	ReconnectMaxDelayMs int `toml:"reconnect_max_delay_ms"`
	// SendRatePerSec is the outbound emit budget in events per second.
	SendRatePerSec int `toml:"send_rate_per_sec"`
}

// StorageConfig locates the durable client state.
type StorageConfig struct {
	// OutboxPath is the file holding the pending-message queue.
	// Default: ~/.chatlink/outbox.json
	OutboxPath string `toml:"outbox_path"`
	// ConversationsDir holds persisted conversations.
	// Default: ~/.chatlink/conversations
	ConversationsDir string `toml:"conversations_dir"`
}

// ChatConfig holds per-message metadata defaults.
type ChatConfig struct {
	// Model is the model selector passed through with each message.
	Model string `toml:"model"`
	// StreamReplies selects the streaming HTTP endpoint for replies.
	// When false the client relies on WebSocket new_message events.
	StreamReplies bool `toml:"stream_replies"`
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".chatlink")

	return &Config{
		Server: ServerConfig{
			URL:                  DefaultServerURL,
			StreamURL:            DefaultStreamURL,
			HandshakeTimeoutSecs: int(DefaultHandshakeTimeout.Seconds()),
		},
		Delivery: DeliveryConfig{
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			ReconnectBaseDelayMs: int(DefaultReconnectBaseDelay.Milliseconds()),
			ReconnectMaxDelayMs:  int(DefaultReconnectMaxDelay.Milliseconds()),
			SendRatePerSec:       DefaultSendRate,
		},
		Storage: StorageConfig{
			OutboxPath:       filepath.Join(base, "outbox.json"),
			ConversationsDir: filepath.Join(base, "conversations"),
		},
		Chat: ChatConfig{
			Model:         DefaultModel,
			StreamReplies: true,
		},
	}
}

// Load reads the configuration from the default location, applies
// environment overrides, and validates. A missing file yields defaults.
func Load() (*Config, error) {
	path := os.Getenv("CHATLINK_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg := DefaultConfig()
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		path = filepath.Join(home, ".chatlink", "config.toml")
	}
	return LoadFromFile(path)
}

// LoadFromFile reads the configuration from an explicit path, applies
// environment overrides, and validates. A missing file yields defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// applyEnv overlays CHATLINK_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("CHATLINK_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("CHATLINK_STREAM_URL"); v != "" {
		c.Server.StreamURL = v
	}
	if v := os.Getenv("CHATLINK_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("CHATLINK_OUTBOX_PATH"); v != "" {
		c.Storage.OutboxPath = v
	}
	if v := os.Getenv("CHATLINK_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Delivery.MaxReconnectAttempts = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration and clamps out-of-range values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.Server.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server url must use ws or wss scheme, got %q", c.Server.URL)
	}

	if c.Server.StreamURL == "" {
		c.Server.StreamURL = DefaultStreamURL
	}
	su, err := url.Parse(c.Server.StreamURL)
	if err != nil {
		return fmt.Errorf("invalid stream url %q: %w", c.Server.StreamURL, err)
	}
	if su.Scheme != "http" && su.Scheme != "https" {
		return fmt.Errorf("stream url must use http or https scheme, got %q", c.Server.StreamURL)
	}

	if c.Server.HandshakeTimeoutSecs <= 0 {
		c.Server.HandshakeTimeoutSecs = int(DefaultHandshakeTimeout.Seconds())
	}
	if c.Delivery.MaxReconnectAttempts <= 0 {
		c.Delivery.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Delivery.ReconnectBaseDelayMs <= 0 {
		c.Delivery.ReconnectBaseDelayMs = int(DefaultReconnectBaseDelay.Milliseconds())
	}
	if c.Delivery.ReconnectMaxDelayMs < c.Delivery.ReconnectBaseDelayMs {
		c.Delivery.ReconnectMaxDelayMs = c.Delivery.ReconnectBaseDelayMs
	}
	if c.Delivery.SendRatePerSec <= 0 {
		c.Delivery.SendRatePerSec = DefaultSendRate
	}
	if c.Chat.Model == "" {
		c.Chat.Model = DefaultModel
	}
	return nil
}

// =============================================================================
// DURATION ACCESSORS
// =============================================================================

// HandshakeTimeout returns the handshake timeout as a duration.
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Server.HandshakeTimeoutSecs) * time.Second
}

// ReconnectBaseDelay returns the first backoff delay as a duration.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Delivery.ReconnectBaseDelayMs) * time.Millisecond
}

// ReconnectMaxDelay returns the backoff cap as a duration.
func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Delivery.ReconnectMaxDelayMs) * time.Millisecond
}
