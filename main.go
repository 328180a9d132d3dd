package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/editmash/hub/internal/bus"
	"github.com/editmash/hub/internal/hub"
	"github.com/editmash/hub/internal/limits"
	"github.com/editmash/hub/internal/monitoring"
	"github.com/editmash/hub/internal/store"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	cfg, err := LoadConfig(nil)
	if err != nil {
		// Logger config lives in cfg; bootstrap failures use a bare one.
		bootLogger := monitoring.NewLogger(monitoring.LoggerConfig{})
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// automaxprocs already sized GOMAXPROCS to the container limit.
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")
	cfg.LogConfig(logger)

	st := store.New(cfg.AppBaseURL, cfg.APIKey, logger)

	server := hub.NewServer(hub.Config{
		Addr:   cfg.Addr,
		APIKey: cfg.APIKey,

		IdleTimeout:   cfg.IdleTimeout,
		ShutdownGrace: cfg.ShutdownGrace,

		BatchWindow:  cfg.BatchWindow,
		SyncDebounce: cfg.SyncDebounce,
		ZoneBuffer:   cfg.ZoneBuffer,

		FrameRate:  cfg.FrameRate,
		FrameBurst: cfg.FrameBurst,

		ChatWindow:       cfg.ChatWindow,
		ChatMaxPerWindow: cfg.ChatMaxPerWindow,
		ChatCooldown:     cfg.ChatCooldown,
		ChatMaxBytes:     cfg.ChatMaxBytes,
		ChatHistorySize:  cfg.ChatHistorySize,

		VoteKickThreshold: cfg.VoteKickThreshold,
		VoteKickDuration:  cfg.VoteKickDuration,

		UpgradeLimiter: limits.ConnectionRateLimiterConfig{
			IPBurst:     cfg.UpgradeIPBurst,
			IPRate:      cfg.UpgradeIPRate,
			GlobalBurst: cfg.UpgradeGlobalBurst,
			GlobalRate:  cfg.UpgradeGlobalRate,
		},
	}, st, logger)

	var bridge *bus.Bridge
	if cfg.NATSURL != "" {
		bridge, err = bus.Connect(cfg.NATSURL, server, logger)
		if err != nil {
			// The HTTP notify endpoints still work; run degraded.
			logger.Warn().Err(err).Msg("Bus bridge unavailable, relying on HTTP notifies")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	if bridge != nil {
		bridge.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly")
	}
}
