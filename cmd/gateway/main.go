// Package main is the entry point for the LLM gateway server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmgateway/config"
	"llmgateway/internal/app"
	"llmgateway/internal/logging"
	"llmgateway/internal/providers"
	"llmgateway/internal/providers/anthropic"
	"llmgateway/internal/providers/gemini"
	"llmgateway/internal/providers/groq"
	"llmgateway/internal/providers/ollama"
	"llmgateway/internal/providers/openai"
	"llmgateway/internal/providers/xai"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	factory := providers.NewFactory()
	factory.Add(openai.Registration)
	factory.Add(anthropic.Registration)
	factory.Add(gemini.Registration)
	factory.Add(groq.Registration)
	factory.Add(xai.Registration)
	factory.Add(ollama.Registration)

	ctx := context.Background()
	application, err := app.New(ctx, app.Config{
		AppConfig: cfg,
		Factory:   factory,
	})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
}
