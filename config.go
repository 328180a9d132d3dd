package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all hub configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Addr       string `env:"WS_ADDR" envDefault:":3001"`
	APIKey     string `env:"WS_API_KEY,required"`
	AppBaseURL string `env:"NEXT_PUBLIC_API_URL" envDefault:"http://localhost:3000"`

	// Optional event bus. Empty disables the NATS bridge and the hub relies
	// on the HTTP notify endpoints alone.
	NATSURL string `env:"NATS_URL"`

	// Connection lifecycle
	IdleTimeout   time.Duration `env:"WS_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownGrace time.Duration `env:"WS_SHUTDOWN_GRACE" envDefault:"5s"`

	// Editing pipeline
	BatchWindow  time.Duration `env:"WS_BATCH_WINDOW" envDefault:"50ms"`
	SyncDebounce time.Duration `env:"WS_SYNC_DEBOUNCE" envDefault:"3s"`
	ZoneBuffer   float64       `env:"WS_ZONE_BUFFER" envDefault:"2.0"` // seconds

	// Per-connection frame flood limit
	FrameRate  float64 `env:"WS_FRAME_RATE" envDefault:"20"`
	FrameBurst int     `env:"WS_FRAME_BURST" envDefault:"100"`

	// Chat
	ChatWindow       time.Duration `env:"WS_CHAT_WINDOW" envDefault:"10s"`
	ChatMaxPerWindow int           `env:"WS_CHAT_MAX_PER_WINDOW" envDefault:"5"`
	ChatCooldown     time.Duration `env:"WS_CHAT_COOLDOWN" envDefault:"1s"`
	ChatMaxBytes     int           `env:"WS_CHAT_MAX_BYTES" envDefault:"200"`
	ChatHistorySize  int           `env:"WS_CHAT_HISTORY_SIZE" envDefault:"100"`

	// Vote kick
	VoteKickThreshold float64       `env:"WS_VOTE_KICK_THRESHOLD" envDefault:"0.5"`
	VoteKickDuration  time.Duration `env:"WS_VOTE_KICK_DURATION" envDefault:"30s"`

	// Upgrade rate limiting
	UpgradeIPBurst     int     `env:"WS_UPGRADE_IP_BURST" envDefault:"10"`
	UpgradeIPRate      float64 `env:"WS_UPGRADE_IP_RATE" envDefault:"1.0"`
	UpgradeGlobalBurst int     `env:"WS_UPGRADE_GLOBAL_BURST" envDefault:"300"`
	UpgradeGlobalRate  float64 `env:"WS_UPGRADE_GLOBAL_RATE" envDefault:"50"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// LoadConfig reads configuration from .env file and environment variables.
// Priority: ENV vars > .env file > defaults.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// .env is a development convenience; production supplies real env vars.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("WS_API_KEY is required")
	}
	if c.AppBaseURL == "" {
		return fmt.Errorf("NEXT_PUBLIC_API_URL is required")
	}

	if c.IdleTimeout < time.Second {
		return fmt.Errorf("WS_IDLE_TIMEOUT must be >= 1s, got %s", c.IdleTimeout)
	}
	if c.BatchWindow < 0 {
		return fmt.Errorf("WS_BATCH_WINDOW must be >= 0, got %s", c.BatchWindow)
	}
	if c.SyncDebounce < 0 {
		return fmt.Errorf("WS_SYNC_DEBOUNCE must be >= 0, got %s", c.SyncDebounce)
	}
	if c.ZoneBuffer < 0 {
		return fmt.Errorf("WS_ZONE_BUFFER must be >= 0, got %.1f", c.ZoneBuffer)
	}
	if c.VoteKickThreshold <= 0 || c.VoteKickThreshold > 1 {
		return fmt.Errorf("WS_VOTE_KICK_THRESHOLD must be in (0, 1], got %.2f", c.VoteKickThreshold)
	}
	if c.ChatMaxPerWindow < 1 {
		return fmt.Errorf("WS_CHAT_MAX_PER_WINDOW must be > 0, got %d", c.ChatMaxPerWindow)
	}
	if c.ChatHistorySize < 1 {
		return fmt.Errorf("WS_CHAT_HISTORY_SIZE must be > 0, got %d", c.ChatHistorySize)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging. The API key is
// deliberately absent.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("app_base_url", c.AppBaseURL).
		Str("nats_url", c.NATSURL).
		Dur("idle_timeout", c.IdleTimeout).
		Dur("batch_window", c.BatchWindow).
		Dur("sync_debounce", c.SyncDebounce).
		Float64("zone_buffer_sec", c.ZoneBuffer).
		Float64("frame_rate", c.FrameRate).
		Int("frame_burst", c.FrameBurst).
		Dur("chat_window", c.ChatWindow).
		Int("chat_max_per_window", c.ChatMaxPerWindow).
		Float64("vote_kick_threshold", c.VoteKickThreshold).
		Dur("vote_kick_duration", c.VoteKickDuration).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Hub configuration loaded")
}
