package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/application"
	gwconfig "github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/infrastructure/logger"
	"go.uber.org/zap"
)

const (
	appName    = "ngoclaw-gateway"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      "info",
		Format:     "json",
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting gateway", zap.String("name", appName), zap.String("version", appVersion))

	cfg, err := gwconfig.LoadGateway()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if leveled, lerr := logger.NewLogger(logger.Config{Level: cfg.LogLevel, Format: "json", OutputPath: "stdout"}); lerr == nil {
		log = leveled
		defer log.Sync()
	}

	app, err := application.NewGatewayApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize gateway", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start gateway", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Gateway stopped successfully")
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  gateway           Start the gateway server (default)
  gateway version   Show version
  gateway help      Show this help

Environment:
  HOST, PORT, DEFAULT_SYSTEM_PROMPT, CONTEXT_FILENAME, ENABLE_CORS,
  LOG_LEVEL, RATE_LIMIT_MAX, RATE_LIMIT_ENABLED, BACKENDS_CONFIG,
  DATABASE_PATH, ENABLE_SQLITE_LOGGING
`, appName, appVersion)
}
