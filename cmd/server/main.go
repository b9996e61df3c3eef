// Package main is the entry point for the Perch server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perch-obs/perch/internal/api"
	"github.com/perch-obs/perch/internal/config"
	"github.com/perch-obs/perch/internal/fingerprint"
	"github.com/perch-obs/perch/internal/ingest"
	"github.com/perch-obs/perch/internal/retention"
	"github.com/perch-obs/perch/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.Open(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.StorageDSN})
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()
	logger.Info("storage ready", "kind", store.Kind(), "fullTextSearch", store.HasFullTextSearch())

	markers := fingerprint.DefaultVendorMarkers()
	if cfg.MarkersPath != "" {
		extra, err := fingerprint.LoadVendorMarkers(cfg.MarkersPath)
		if err != nil {
			return fmt.Errorf("loading vendor markers: %w", err)
		}
		markers = append(markers, extra...)
	}

	hub := api.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	ingestSvc := ingest.New(store, fingerprint.New(markers), hub, logger)

	scheduler := retention.NewScheduler(store, cfg.SpanTimeout, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(api.Options{
		Addr:        cfg.Addr,
		IngestRPS:   cfg.IngestRPS,
		IngestBurst: cfg.IngestBurst,
	}, store, ingestSvc, scheduler, hub, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
