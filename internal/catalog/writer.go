// Package catalog implements CatalogWriter: identity resolution,
// persistent image dedup, temporal back-fill, dimension upserts, and
// the non-destructive snapshot + current-projection write described in
// spec §4.3. Grounded on original_source/converter/adapters/catalog.py
// and catalog_mysql.py, generalized onto the richer schema in schema.go.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Open-Inflation/converter/internal/dsn"
	"github.com/Open-Inflation/converter/internal/model"
)

// Writer is the CatalogWriter: it owns a database/sql handle opened
// against the dialect dsn.Resolve selected, plus that dialect tag for
// the handful of statements whose upsert syntax differs between
// SQLite and MySQL.
type Writer struct {
	db     *sql.DB
	driver dsn.Driver

	// OnDuplicateImages, if set, is invoked after a successful commit
	// with the URLs that turned out to be duplicates of an
	// already-canonical image, so the caller can forward them to
	// StorageClient.DeleteImages. A field rather than a constructor
	// argument since SyncEngine wires in a storage client per run.
	OnDuplicateImages func(urls []string)
}

// NewWriter wraps an already-opened handle. Call EnsureSchema once
// before the first UpsertMany.
func NewWriter(db *sql.DB, driver dsn.Driver) *Writer {
	return &Writer{db: db, driver: driver}
}

// EnsureSchema creates the catalog tables and verifies the startup
// schema invariant.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, w.db, w.driver)
}

// UpsertMany runs the full per-record pipeline from spec §4.3 inside a
// single batch-atomic transaction: identity resolution, image dedup,
// back-fill, dimension upserts, category upserts, snapshot insert,
// source upsert, and current-projection merge. Returns the records as
// mutated in place (canonical id, normalized image sets, back-filled
// fields) for the caller's watermark computation.
func (w *Writer) UpsertMany(ctx context.Context, records []model.NormalizedRecord) ([]model.NormalizedRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	identities := newIdentityResolver(tx, w.driver)
	images := newImageDeduplicator(tx, w.driver)
	backfill := newBackfiller(tx)
	dimensions := newDimensionResolver(tx)
	categories := newCategoryResolver(tx)

	var toDeleteImages []string

	for i := range records {
		record := &records[i]

		if err := identities.resolve(ctx, record); err != nil {
			return nil, err
		}

		dedup, err := images.process(ctx, record.ImageURLs)
		if err != nil {
			return nil, err
		}
		record.ImageURLs = dedup.uniqueURLs
		record.DuplicateImageURLs = dedup.duplicateURLs
		record.ImageFingerprints = dedup.fingerprints
		toDeleteImages = append(toDeleteImages, dedup.toDelete...)

		if err := backfill.apply(ctx, record); err != nil {
			return nil, err
		}

		settlementID, err := dimensions.resolveSettlement(ctx, settlementInputFromRecord(*record))
		if err != nil {
			return nil, err
		}

		categoryInputs := categoriesFromRecord(*record)
		categoryIDs := make([]int64, 0, len(categoryInputs))
		for _, input := range categoryInputs {
			id, err := categories.resolve(ctx, record.ParserName, input)
			if err != nil {
				return nil, err
			}
			categoryIDs = append(categoryIDs, id)
		}
		var primaryCategoryID *int64
		if len(categoryIDs) > 0 {
			primaryCategoryID = &categoryIDs[0]
		}

		snapshotID, err := insertSnapshot(ctx, tx, *record)
		if err != nil {
			return nil, err
		}

		if err := linkSnapshotCategories(ctx, tx, snapshotID, categoryIDs); err != nil {
			return nil, err
		}

		canonicalSourceID, err := upsertSource(ctx, tx, *record, snapshotID)
		if err != nil {
			return nil, err
		}
		if canonicalSourceID != "" {
			record.CanonicalProductID = canonicalSourceID
		}

		if err := upsertCurrentProjection(ctx, tx, w.driver, *record, snapshotID, primaryCategoryID, settlementID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("catalog: commit: %w", err)
	}
	committed = true

	if len(toDeleteImages) > 0 && w.OnDuplicateImages != nil {
		w.OnDuplicateImages(toDeleteImages)
	}

	return records, nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, record model.NormalizedRecord) (int64, error) {
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return 0, fmt.Errorf("catalog: encode snapshot payload: %w", err)
	}
	imageURLsJSON, _ := json.Marshal(record.ImageURLs)
	duplicateImagesJSON, _ := json.Marshal(record.DuplicateImageURLs)
	fingerprintsJSON, _ := json.Marshal(record.ImageFingerprints)

	result, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_product_snapshots (
			parser_name, source_id, canonical_product_id,
			title_original, title_normalized, title_original_no_stopwords, title_normalized_no_stopwords,
			brand, unit, available_count, package_quantity, package_unit, plu, sku,
			category_raw, category_normalized, geo_raw, geo_normalized,
			composition_raw, composition_normalized,
			image_urls_json, duplicate_image_urls_json, image_fingerprints_json,
			raw_payload_json, observed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`,
		record.ParserName, stringOrEmpty(record.SourceID), record.CanonicalProductID,
		record.TitleOriginal, record.TitleNormalized, record.TitleOriginalNoStopwords, record.TitleNormalizedNoStopwords,
		valueOrNil(record.Brand), string(record.Unit), record.AvailableCount, record.PackageQuantity, packageUnitOrNil(record.PackageUnit),
		valueOrNil(record.PLU), valueOrNil(record.SKU),
		valueOrNil(record.CategoryRaw), valueOrNil(record.CategoryNormalized), valueOrNil(record.GeoRaw), valueOrNil(record.GeoNormalized),
		valueOrNil(record.CompositionRaw), valueOrNil(record.CompositionNormalized),
		string(imageURLsJSON), string(duplicateImagesJSON), string(fingerprintsJSON),
		string(payloadJSON), record.ObservedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("catalog: insert snapshot: %w", err)
	}
	return result.LastInsertId()
}

func linkSnapshotCategories(ctx context.Context, tx *sql.Tx, snapshotID int64, categoryIDs []int64) error {
	for i, categoryID := range categoryIDs {
		isPrimary := 0
		if i == 0 {
			isPrimary = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_product_category_links (snapshot_id, category_id, sort_order, is_primary, created_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, snapshotID, categoryID, i, isPrimary)
		if err != nil {
			return fmt.Errorf("catalog: link snapshot category: %w", err)
		}
	}
	return nil
}

// upsertSource implements §4.3 step 7: on miss, create with
// first_seen=last_seen; on hit, advance last_seen to the max observed
// time, bump the snapshot pointer, and — if the existing row already
// carries a canonical id — return it so the caller adopts it back into
// the record as a tie-breaker against identity-map churn.
func upsertSource(ctx context.Context, tx *sql.Tx, record model.NormalizedRecord, snapshotID int64) (string, error) {
	var existingCanonicalID string
	var existingLastSeen string
	err := tx.QueryRowContext(ctx,
		`SELECT canonical_product_id, last_seen_at FROM catalog_product_sources WHERE parser_name = ? AND source_id = ?`,
		record.ParserName, stringOrEmpty(record.SourceID),
	).Scan(&existingCanonicalID, &existingLastSeen)

	observedAtStr := record.ObservedAt.UTC().Format(time.RFC3339)

	if err == sql.ErrNoRows {
		_, insertErr := tx.ExecContext(ctx, `
			INSERT INTO catalog_product_sources (parser_name, source_id, canonical_product_id, first_seen_at, last_seen_at, latest_snapshot_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, record.ParserName, stringOrEmpty(record.SourceID), record.CanonicalProductID, observedAtStr, observedAtStr, snapshotID)
		if insertErr != nil {
			return "", fmt.Errorf("catalog: insert source: %w", insertErr)
		}
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: lookup source: %w", err)
	}

	newLastSeen := observedAtStr
	if existingParsed, ok := parseStoredTime(existingLastSeen); ok {
		if recordParsed, ok2 := parseStoredTime(observedAtStr); ok2 && recordParsed.Before(existingParsed) {
			newLastSeen = existingLastSeen
		}
	}

	_, updateErr := tx.ExecContext(ctx, `
		UPDATE catalog_product_sources
		SET last_seen_at = ?, latest_snapshot_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE parser_name = ? AND source_id = ?
	`, newLastSeen, snapshotID, record.ParserName, stringOrEmpty(record.SourceID))
	if updateErr != nil {
		return "", fmt.Errorf("catalog: update source: %w", updateErr)
	}

	if strings.TrimSpace(existingCanonicalID) != "" {
		return existingCanonicalID, nil
	}
	return "", nil
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func packageUnitOrNil(v *model.PackageUnit) interface{} {
	if v == nil {
		return nil
	}
	return string(*v)
}
