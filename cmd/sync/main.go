// Command sync runs a single incremental pass from a receiver database
// into a catalog database and exits, for cron-style invocation rather
// than the always-on daemon in cmd/daemon.
//
// Grounded on original_source/converter/sync.py's CLI entrypoint,
// following PriFo-HttpServer's cmd/server/main.go for the
// log.Fatalf-on-setup-error idiom.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"github.com/Open-Inflation/converter/internal/config"
	"github.com/Open-Inflation/converter/internal/parsers"
	"github.com/Open-Inflation/converter/internal/storageclient"
	"github.com/Open-Inflation/converter/internal/syncengine"
	"github.com/Open-Inflation/converter/internal/textnorm"
)

func main() {
	cfg := config.Load()

	receiverDSN := flag.String("receiver-db", cfg.DefaultReceiverDB, "receiver database DSN")
	catalogDSN := flag.String("catalog-db", cfg.DefaultCatalogDB, "catalog database DSN")
	parserName := flag.String("parser", cfg.DefaultParserName, "parser handler name")
	batchSize := flag.Int("batch-size", cfg.DefaultBatchSize, "rows fetched per batch")
	maxBatches := flag.Int("max-batches", cfg.DefaultMaxBatches, "stop after this many batches (0 = unbounded)")
	flag.Parse()

	if *receiverDSN == "" {
		log.Fatalf("sync: -receiver-db is required")
	}
	if *catalogDSN == "" {
		log.Fatalf("sync: -catalog-db is required")
	}

	normalizer := textnorm.NewRussianNormalizer()
	registry := parsers.NewRegistry()
	if err := parsers.RegisterBuiltinHandlers(registry, normalizer); err != nil {
		log.Fatalf("sync: failed to register parsers: %v", err)
	}

	engine := syncengine.NewEngine(registry)
	if cfg.StorageBaseURL != "" {
		storage, err := storageclient.New(cfg.StorageBaseURL, cfg.StorageAPIToken, cfg.StorageTimeout)
		if err != nil {
			log.Fatalf("sync: failed to configure storage client: %v", err)
		}
		storage.FailOnError = cfg.StorageFailOnErr
		engine.Images = storage
	}

	job := syncengine.Job{
		ReceiverDSN: *receiverDSN,
		CatalogDSN:  *catalogDSN,
		ParserName:  *parserName,
		BatchSize:   *batchSize,
		MaxBatches:  *maxBatches,
	}

	slog.Info("sync: starting run", "parser", job.ParserName, "batch_size", job.BatchSize, "max_batches", job.MaxBatches)

	outcome, err := engine.Run(context.Background(), job, func(event syncengine.BatchEvent) {
		slog.Info("sync: batch processed",
			"batch", event.BatchNumber, "rows", event.BatchSize, "total_processed", event.TotalProcessed,
			"cursor_ingested_at", event.CursorIngestedAt, "cursor_product_id", event.CursorProductID)
	})
	if err != nil {
		log.Fatalf("sync: run failed: %v", err)
	}

	slog.Info("sync: done",
		"batches", outcome.Batches, "total_processed", outcome.TotalProcessed,
		"final_cursor_ingested_at", outcome.CursorIngestedAt, "final_cursor_product_id", outcome.CursorProductID)
}
