package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/kiro-gateway/internal/auth"
	"github.com/tjfontaine/kiro-gateway/internal/config"
	"github.com/tjfontaine/kiro-gateway/internal/credential"
	"github.com/tjfontaine/kiro-gateway/internal/server"
	"github.com/tjfontaine/kiro-gateway/internal/telemetry"
	"github.com/tjfontaine/kiro-gateway/internal/tokens"
	"github.com/tjfontaine/kiro-gateway/internal/upstream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracer("kiro-gateway", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	defaultMgr, err := credential.New(credential.Options{
		RefreshToken:     cfg.RefreshToken,
		ProfileArn:       cfg.ProfileArn,
		Region:           cfg.KiroRegion,
		CredsFile:        cfg.KiroCredsFile,
		RefreshThreshold: time.Duration(cfg.TokenRefreshThreshold) * time.Second,
		MaxRetries:       cfg.MaxRetries,
		BaseRetryDelay:   time.Duration(cfg.BaseRetryDelay) * time.Second,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("failed to construct default credential manager: %v", err)
	}

	cache, err := credential.NewCache(credential.DefaultCacheSize)
	if err != nil {
		log.Fatalf("failed to construct credential cache: %v", err)
	}

	authenticator := auth.New(cfg.ProxyAPIKey, defaultMgr, cache, cfg.ProfileArn, cfg.KiroRegion, cfg.KiroCredsFile)

	clientOpts := upstream.ClientOptions{
		Logger:              logger,
		FirstTokenTimeout:   time.Duration(cfg.FirstTokenTimeout) * time.Second,
		NonStreamTimeout:    time.Duration(cfg.NonStreamTimeout) * time.Second,
		StreamReadTimeout:   time.Duration(cfg.StreamReadTimeout) * time.Second,
		SlowMultiplier:      cfg.SlowModelTimeoutMultiplier,
		MaxEstablishRetries: cfg.FirstTokenMaxRetries,
	}

	srv := server.New(cfg.Port, logger, server.Options{
		Authenticator:            authenticator,
		ClientOptions:            clientOpts,
		Counter:                  tokens.NewCounter(logger),
		MaxInputTokens:           cfg.DefaultMaxInputTokens,
		ToolDescriptionMaxLength: cfg.ToolDescriptionMaxLength,
	})

	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Port))
		if err := srv.Start(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
