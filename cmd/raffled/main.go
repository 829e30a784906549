// Package main runs the raffle daemon: the raffle engine, its VRF
// coordinator and keeper, and the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/neoraffle/internal/app"
	"github.com/R3E-Network/neoraffle/internal/config"
	"github.com/R3E-Network/neoraffle/internal/logging"
)

func main() {
	configPath := flag.String("config", envOr("RAFFLE_CONFIG", ""), "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Service, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build application")
	}
	if err := application.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start application")
	}
	logger.WithField("services", application.Services()).Info("raffle daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := application.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
	logger.Info("raffle daemon stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
