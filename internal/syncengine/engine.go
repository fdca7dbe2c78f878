// Package syncengine drives one incremental pass over a receiver
// database into a catalog database: fetch a batch past the persisted
// watermark, normalize it through the parser registry, write it
// non-destructively, advance the watermark, repeat until a batch comes
// back empty or a caller-imposed batch cap is hit.
//
// Grounded on original_source/converter/sync.py's ConverterSyncService.
package syncengine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Open-Inflation/converter/internal/catalog"
	"github.com/Open-Inflation/converter/internal/dsn"
	"github.com/Open-Inflation/converter/internal/model"
	"github.com/Open-Inflation/converter/internal/parsers"
	"github.com/Open-Inflation/converter/internal/receiver"
)

// Job describes one sync run's source, destination, and batching.
type Job struct {
	ReceiverDSN string
	CatalogDSN  string
	ParserName  string
	BatchSize   int
	MaxBatches  int
}

// BatchEvent is emitted after each processed batch for progress
// reporting (cmd/sync logs it; the daemon's queue worker passes no
// callback).
type BatchEvent struct {
	BatchNumber      int
	BatchSize        int
	TotalProcessed   int
	CursorIngestedAt string
	CursorProductID  int64
}

// Outcome summarizes a completed run.
type Outcome struct {
	Batches          int
	TotalProcessed   int
	CursorIngestedAt string
	CursorProductID  int64
}

// ImageDeleter is the subset of storageclient.Client that a sync run
// needs to reclaim images CatalogWriter found duplicated in-batch.
type ImageDeleter interface {
	DeleteImages(ctx context.Context, urls []string) error
}

// Engine opens the receiver/catalog connections named by a Job and
// drives the fetch-normalize-write-advance loop through a shared
// parser Registry. Images is optional; when set, duplicate image URLs
// CatalogWriter surfaces after each batch commit are forwarded to it.
type Engine struct {
	Registry *parsers.Registry
	Images   ImageDeleter
}

// NewEngine returns an Engine that dispatches through registry. It
// registers no handlers itself; callers register them first (e.g. with
// parsers.RegisterBuiltinHandlers).
func NewEngine(registry *parsers.Registry) *Engine {
	return &Engine{Registry: registry}
}

// Run executes one SyncJob to completion (or to its max-batches cap),
// invoking onBatch after every batch that writes successfully.
func (e *Engine) Run(ctx context.Context, job Job, onBatch func(BatchEvent)) (Outcome, error) {
	parserName := strings.ToLower(strings.TrimSpace(job.ParserName))
	if parserName == "" {
		parserName = "fixprice"
	}
	handler, err := e.Registry.Get(parserName)
	if err != nil {
		return Outcome{}, err
	}

	receiverDriver, receiverDataSource, err := dsn.Resolve(job.ReceiverDSN)
	if err != nil {
		return Outcome{}, fmt.Errorf("syncengine: resolve receiver dsn: %w", err)
	}
	receiverDB, err := sql.Open(string(receiverDriver), receiverDataSource)
	if err != nil {
		return Outcome{}, fmt.Errorf("syncengine: open receiver db: %w", err)
	}
	defer receiverDB.Close()

	catalogDriver, catalogDataSource, err := dsn.Resolve(job.CatalogDSN)
	if err != nil {
		return Outcome{}, fmt.Errorf("syncengine: resolve catalog dsn: %w", err)
	}
	catalogDB, err := sql.Open(string(catalogDriver), catalogDataSource)
	if err != nil {
		return Outcome{}, fmt.Errorf("syncengine: open catalog db: %w", err)
	}
	defer catalogDB.Close()

	reader := receiver.NewReader(receiverDB, parserName)
	writer := catalog.NewWriter(catalogDB, catalogDriver)
	if e.Images != nil {
		writer.OnDuplicateImages = func(urls []string) {
			if err := e.Images.DeleteImages(ctx, urls); err != nil {
				slog.Warn("syncengine: duplicate image cleanup failed", "error", err)
			}
		}
	}
	if err := writer.EnsureSchema(ctx); err != nil {
		return Outcome{}, err
	}

	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = 250
	}
	maxBatches := job.MaxBatches
	if maxBatches < 0 {
		maxBatches = 0
	}

	cursor, err := writer.GetReceiverCursor(ctx, parserName)
	if err != nil {
		return Outcome{}, err
	}
	watermark := cursorToWatermark(cursor)

	var batches, totalProcessed int
	var lastIngestedAt string
	var lastProductID int64

	for {
		if maxBatches > 0 && batches >= maxBatches {
			break
		}

		rawRecords, err := reader.FetchBatch(ctx, batchSize, parserName, watermark)
		if err != nil {
			return Outcome{}, err
		}
		if len(rawRecords) == 0 {
			break
		}

		normalized := make([]model.NormalizedRecord, 0, len(rawRecords))
		for _, raw := range rawRecords {
			normalized = append(normalized, handler.Handle(raw))
		}

		if _, err := writer.UpsertMany(ctx, normalized); err != nil {
			return Outcome{}, err
		}

		ingestedAt, productID := cursorFromRecords(rawRecords)
		if err := writer.SetReceiverCursor(ctx, parserName, catalog.Cursor{IngestedAt: ingestedAt, ProductID: productID}); err != nil {
			return Outcome{}, err
		}
		watermark = &receiver.Watermark{IngestedAt: ingestedAt, ProductID: productID}

		batches++
		totalProcessed += len(rawRecords)
		lastIngestedAt = ingestedAt
		lastProductID = productID

		if onBatch != nil {
			onBatch(BatchEvent{
				BatchNumber:      batches,
				BatchSize:        len(rawRecords),
				TotalProcessed:   totalProcessed,
				CursorIngestedAt: ingestedAt,
				CursorProductID:  productID,
			})
		}
	}

	return Outcome{
		Batches:          batches,
		TotalProcessed:   totalProcessed,
		CursorIngestedAt: lastIngestedAt,
		CursorProductID:  lastProductID,
	}, nil
}

func cursorToWatermark(cursor *catalog.Cursor) *receiver.Watermark {
	if cursor == nil {
		return nil
	}
	return &receiver.Watermark{IngestedAt: cursor.IngestedAt, ProductID: cursor.ProductID}
}

// cursorFromRecords derives the new high-watermark from a processed
// batch: the maximum (observed_at, receiver_product_id) pair ordered
// lexicographically on the RFC3339 timestamp, matching
// original_source/converter/sync.py's _cursor_from_records. Falls back
// to the current time with product id 0 if no record carries a usable
// timestamp (defensive only; FetchBatch never returns such a batch).
func cursorFromRecords(records []model.RawObservation) (string, int64) {
	maxIngestedAt := ""
	var maxProductID int64 = -1

	for _, record := range records {
		ingestedAt := record.ObservedAt.UTC().Format(time.RFC3339)
		productID := receiverProductID(record)

		if ingestedAt > maxIngestedAt || (ingestedAt == maxIngestedAt && productID > maxProductID) {
			maxIngestedAt = ingestedAt
			maxProductID = productID
		}
	}

	if maxIngestedAt == "" {
		return time.Now().UTC().Format(time.RFC3339), 0
	}
	return maxIngestedAt, maxProductID
}

func receiverProductID(record model.RawObservation) int64 {
	raw, ok := record.Payload["receiver_product_id"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
