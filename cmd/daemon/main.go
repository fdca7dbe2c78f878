// Command daemon runs the converter HTTP trigger and its background
// job queue: POST /trigger or /enqueue schedules a sync run, GET
// /health and /queue report its state.
//
// Grounded on PriFo-HttpServer's cmd/server/main.go wiring style
// (environment-driven config, signal-based graceful shutdown) applied
// to original_source/converter/daemon.py's process shape.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Open-Inflation/converter/internal/config"
	"github.com/Open-Inflation/converter/internal/httpapi"
	"github.com/Open-Inflation/converter/internal/parsers"
	"github.com/Open-Inflation/converter/internal/queue"
	"github.com/Open-Inflation/converter/internal/storageclient"
	"github.com/Open-Inflation/converter/internal/syncengine"
	"github.com/Open-Inflation/converter/internal/textnorm"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════")
	log.Println("Starting converter daemon...")

	cfg := config.Load()

	normalizer := textnorm.NewRussianNormalizer()
	registry := parsers.NewRegistry()
	if err := parsers.RegisterBuiltinHandlers(registry, normalizer); err != nil {
		log.Fatalf("failed to register parsers: %v", err)
	}

	engine := syncengine.NewEngine(registry)

	if cfg.StorageBaseURL != "" {
		storage, err := storageclient.New(cfg.StorageBaseURL, cfg.StorageAPIToken, cfg.StorageTimeout)
		if err != nil {
			log.Fatalf("failed to configure storage client: %v", err)
		}
		storage.FailOnError = cfg.StorageFailOnErr
		engine.Images = storage
	}

	jobQueue := queue.New(engine, cfg.MaxQueueSize)
	jobQueue.Start()

	server := httpapi.NewServer(jobQueue, httpapi.Defaults{
		ReceiverDSN: cfg.DefaultReceiverDB,
		CatalogDSN:  cfg.DefaultCatalogDB,
		ParserName:  cfg.DefaultParserName,
		BatchSize:   cfg.DefaultBatchSize,
		MaxBatches:  cfg.DefaultMaxBatches,
	}, cfg.AuthToken)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		slog.Info("converter daemon listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("═══════════════════════════════════════════════════════")
	slog.Info("shutdown signal received, stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	jobQueue.Stop(10 * time.Second)
	slog.Info("converter daemon stopped")
}
