package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mbi/internal/app"
	"mbi/internal/config"
)

func main() {
	cfg, err := config.Load(app.ConfigPath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	closeLog, err := app.SetupLogging(cfg)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, cleanup, err := InitializeDaemon(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize daemon: %v", err)
	}
	defer cleanup()

	if err := d.Run(ctx); err != nil {
		slog.Error("daemon error", "error", err)
		cleanup()
		os.Exit(1)
	}
	slog.Info("mbi-server stopped")
}
