// ABOUTME: Main entry point for the chat gateway server
// ABOUTME: Wires config, store, hub, automation, handover and the HTTP API together

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/soukbot/chat-gateway/internal/api"
	"github.com/soukbot/chat-gateway/internal/automation"
	"github.com/soukbot/chat-gateway/internal/config"
	"github.com/soukbot/chat-gateway/internal/handover"
	"github.com/soukbot/chat-gateway/internal/hub"
	"github.com/soukbot/chat-gateway/internal/ingest"
	"github.com/soukbot/chat-gateway/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config file (YAML)")
		logLevel   = flag.String("log-level", "", "log level override (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "log format override (text, json)")
	)
	flag.Parse()

	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logger, err := setupLogger(cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	st, err := openStore(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	fanout := hub.New(logger)
	defer fanout.Close()

	var responder automation.Responder
	if cfg.Automation.APIKey != "" {
		responder = automation.NewOpenAIResponder(
			cfg.Automation.APIKey,
			cfg.Automation.Model,
			cfg.Automation.SystemPrompt,
			logger)
		logger.Info("automated replies enabled", "model", cfg.Automation.Model)
	} else {
		logger.Info("automated replies disabled: no API key configured")
	}

	router := ingest.New(st, fanout, responder, logger,
		ingest.WithAutomationTimeout(cfg.Automation.Timeout))
	handoverSvc := handover.NewService(st, logger)

	server := api.New(st, router, handoverSvc, fanout, cfg.Server.AllowedOrigins, logger,
		api.WithWidgetSettings(api.WidgetSettings{
			ReconnectInterval:   cfg.Widget.ReconnectInterval,
			ReconnectMaxRetries: cfg.Widget.ReconnectMaxRetries,
		}))

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	// Let in-flight automated replies land before the store closes.
	router.Drain()

	logger.Info("shutdown complete")
	return nil
}

// openStore selects the backend: a SQLite file when a path is
// configured, in-memory otherwise.
func openStore(cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Path == "" {
		logger.Info("using in-memory store: nothing survives restart")
		return store.NewMemoryStore(), nil
	}
	logger.Info("using sqlite store", "path", cfg.Path)
	return store.NewSQLiteStore(cfg.Path)
}

// setupLogger builds the process logger from config.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}
