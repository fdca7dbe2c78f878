package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Open-Inflation/converter/internal/dsn"
	"github.com/Open-Inflation/converter/internal/model"
)

// currentRow mirrors the subset of catalog_products columns the
// non-destructive merge in upsertCurrentProjection needs to read back
// before deciding what to overwrite.
type currentRow struct {
	brand                 sql.NullString
	availableCount        sql.NullFloat64
	packageQuantity       sql.NullFloat64
	packageUnit           sql.NullString
	plu                   sql.NullString
	sku                   sql.NullString
	categoryRaw           sql.NullString
	categoryNormalized    sql.NullString
	geoRaw                sql.NullString
	geoNormalized         sql.NullString
	compositionRaw        sql.NullString
	compositionNormalized sql.NullString
	imageURLsJSON         sql.NullString
	duplicateImagesJSON   sql.NullString
	fingerprintsJSON      sql.NullString
	rawPayloadJSON        sql.NullString
	observedAt            sql.NullString
}

// upsertCurrentProjection implements spec §4.3 step 8: the
// current-state row per (parser_name, source_id) is created on first
// sight, and on every later sight is merged non-destructively rather
// than replaced outright — titles always move forward since they are
// never considered "missing", scalar fields only move forward when the
// incoming value is present, image fields only move forward when the
// incoming set is non-empty, observed_at takes the later of the two,
// and raw_payload is merged key-by-key via model.MergeOverlay so a
// narrower batch never erases fields a richer one previously captured.
// Grounded on original_source/converter/adapters/catalog.py's
// upsert_current (and catalog_mysql.py's variant), reading the prior
// row in Go rather than relying on dialect-specific COALESCE/VALUES()
// sugar so the merge policy is expressed once for both drivers.
func upsertCurrentProjection(ctx context.Context, tx *sql.Tx, driver dsn.Driver, record model.NormalizedRecord, snapshotID int64, primaryCategoryID *int64, settlementID int64) error {
	var existing currentRow
	var existingID int64
	err := tx.QueryRowContext(ctx, `
		SELECT id, brand, available_count, package_quantity, package_unit, plu, sku,
			category_raw, category_normalized, geo_raw, geo_normalized,
			composition_raw, composition_normalized,
			image_urls_json, duplicate_image_urls_json, image_fingerprints_json,
			raw_payload_json, observed_at
		FROM catalog_products WHERE parser_name = ? AND source_id = ?
	`, record.ParserName, stringOrEmpty(record.SourceID)).Scan(
		&existingID, &existing.brand, &existing.availableCount, &existing.packageQuantity, &existing.packageUnit,
		&existing.plu, &existing.sku, &existing.categoryRaw, &existing.categoryNormalized,
		&existing.geoRaw, &existing.geoNormalized, &existing.compositionRaw, &existing.compositionNormalized,
		&existing.imageURLsJSON, &existing.duplicateImagesJSON, &existing.fingerprintsJSON,
		&existing.rawPayloadJSON, &existing.observedAt,
	)

	if err == sql.ErrNoRows {
		return insertCurrentProjection(ctx, tx, record, snapshotID, primaryCategoryID, settlementID)
	}
	if err != nil {
		return fmt.Errorf("catalog: current projection lookup: %w", err)
	}

	merged := mergeCurrentProjection(existing, record)

	var existingPayload model.Value
	if existing.rawPayloadJSON.Valid {
		_ = json.Unmarshal([]byte(existing.rawPayloadJSON.String), &existingPayload)
	}
	mergedPayload := model.MergeOverlay(existingPayload, record.Payload)
	payloadJSON, err := json.Marshal(mergedPayload)
	if err != nil {
		return fmt.Errorf("catalog: encode merged payload: %w", err)
	}

	imageURLsJSON, _ := json.Marshal(merged.imageURLs)
	duplicateImagesJSON, _ := json.Marshal(merged.duplicateImageURLs)
	fingerprintsJSON, _ := json.Marshal(merged.imageFingerprints)

	_, err = tx.ExecContext(ctx, `
		UPDATE catalog_products SET
			title_original = ?, title_normalized = ?, title_original_no_stopwords = ?, title_normalized_no_stopwords = ?,
			brand = ?, unit = ?, available_count = ?, package_quantity = ?, package_unit = ?, plu = ?, sku = ?,
			category_raw = ?, category_normalized = ?, primary_category_id = ?,
			geo_raw = ?, geo_normalized = ?, settlement_id = ?,
			composition_raw = ?, composition_normalized = ?,
			image_urls_json = ?, duplicate_image_urls_json = ?, image_fingerprints_json = ?,
			raw_payload_json = ?, observed_at = ?, canonical_product_id = ?, latest_snapshot_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		record.TitleOriginal, record.TitleNormalized, record.TitleOriginalNoStopwords, record.TitleNormalizedNoStopwords,
		valueOrNil(merged.brand), string(record.Unit), merged.availableCount, merged.packageQuantity, packageUnitOrNilStr(merged.packageUnit),
		valueOrNil(merged.plu), valueOrNil(merged.sku),
		valueOrNil(merged.categoryRaw), valueOrNil(merged.categoryNormalized), categoryIDOrNil(primaryCategoryID),
		valueOrNil(merged.geoRaw), valueOrNil(merged.geoNormalized), settlementIDOrNil(settlementID),
		valueOrNil(merged.compositionRaw), valueOrNil(merged.compositionNormalized),
		string(imageURLsJSON), string(duplicateImagesJSON), string(fingerprintsJSON),
		string(payloadJSON), merged.observedAt.UTC().Format(time.RFC3339),
		record.CanonicalProductID, snapshotID,
		existingID,
	)
	if err != nil {
		return fmt.Errorf("catalog: current projection update: %w", err)
	}
	return nil
}

func insertCurrentProjection(ctx context.Context, tx *sql.Tx, record model.NormalizedRecord, snapshotID int64, primaryCategoryID *int64, settlementID int64) error {
	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("catalog: encode payload: %w", err)
	}
	imageURLsJSON, _ := json.Marshal(record.ImageURLs)
	duplicateImagesJSON, _ := json.Marshal(record.DuplicateImageURLs)
	fingerprintsJSON, _ := json.Marshal(record.ImageFingerprints)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalog_products (
			parser_name, source_id, canonical_product_id,
			title_original, title_normalized, title_original_no_stopwords, title_normalized_no_stopwords,
			brand, unit, available_count, package_quantity, package_unit, plu, sku,
			category_raw, category_normalized, primary_category_id,
			geo_raw, geo_normalized, settlement_id,
			composition_raw, composition_normalized,
			image_urls_json, duplicate_image_urls_json, image_fingerprints_json,
			raw_payload_json, observed_at, latest_snapshot_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`,
		record.ParserName, stringOrEmpty(record.SourceID), record.CanonicalProductID,
		record.TitleOriginal, record.TitleNormalized, record.TitleOriginalNoStopwords, record.TitleNormalizedNoStopwords,
		valueOrNil(record.Brand), string(record.Unit), record.AvailableCount, record.PackageQuantity, packageUnitOrNil(record.PackageUnit),
		valueOrNil(record.PLU), valueOrNil(record.SKU),
		valueOrNil(record.CategoryRaw), valueOrNil(record.CategoryNormalized), categoryIDOrNil(primaryCategoryID),
		valueOrNil(record.GeoRaw), valueOrNil(record.GeoNormalized), settlementIDOrNil(settlementID),
		valueOrNil(record.CompositionRaw), valueOrNil(record.CompositionNormalized),
		string(imageURLsJSON), string(duplicateImagesJSON), string(fingerprintsJSON),
		string(payloadJSON), record.ObservedAt.UTC().Format(time.RFC3339), snapshotID,
	)
	if err != nil {
		return fmt.Errorf("catalog: current projection insert: %w", err)
	}
	return nil
}

// mergedProjection holds the post-merge values to write back, computed
// from the existing row plus the incoming record per the field-level
// policy described on upsertCurrentProjection.
type mergedProjection struct {
	brand                 *string
	availableCount        *float64
	packageQuantity       *float64
	packageUnit           *string
	plu, sku              *string
	categoryRaw           *string
	categoryNormalized    *string
	geoRaw                *string
	geoNormalized         *string
	compositionRaw        *string
	compositionNormalized *string
	imageURLs             []string
	duplicateImageURLs    []string
	imageFingerprints     []string
	observedAt            time.Time
}

func mergeCurrentProjection(existing currentRow, record model.NormalizedRecord) mergedProjection {
	out := mergedProjection{
		brand:                 preferIncomingStr(record.Brand, existing.brand),
		availableCount:        preferIncomingFloat(record.AvailableCount, existing.availableCount),
		packageQuantity:       preferIncomingFloat(record.PackageQuantity, existing.packageQuantity),
		plu:                   preferIncomingStr(record.PLU, existing.plu),
		sku:                   preferIncomingStr(record.SKU, existing.sku),
		categoryRaw:           preferIncomingStr(record.CategoryRaw, existing.categoryRaw),
		categoryNormalized:    preferIncomingStr(record.CategoryNormalized, existing.categoryNormalized),
		geoRaw:                preferIncomingStr(record.GeoRaw, existing.geoRaw),
		geoNormalized:         preferIncomingStr(record.GeoNormalized, existing.geoNormalized),
		compositionRaw:        preferIncomingStr(record.CompositionRaw, existing.compositionRaw),
		compositionNormalized: preferIncomingStr(record.CompositionNormalized, existing.compositionNormalized),
		observedAt:            record.ObservedAt,
	}

	if record.PackageUnit != nil {
		s := string(*record.PackageUnit)
		out.packageUnit = &s
	} else if existing.packageUnit.Valid {
		out.packageUnit = &existing.packageUnit.String
	}

	if len(record.ImageURLs) > 0 {
		out.imageURLs = record.ImageURLs
	} else {
		out.imageURLs = decodeStringSlice(existing.imageURLsJSON)
	}
	if len(record.DuplicateImageURLs) > 0 {
		out.duplicateImageURLs = record.DuplicateImageURLs
	} else {
		out.duplicateImageURLs = decodeStringSlice(existing.duplicateImagesJSON)
	}
	if len(record.ImageFingerprints) > 0 {
		out.imageFingerprints = record.ImageFingerprints
	} else {
		out.imageFingerprints = decodeStringSlice(existing.fingerprintsJSON)
	}

	if existing.observedAt.Valid {
		if prior, ok := parseStoredTime(existing.observedAt.String); ok && prior.After(out.observedAt) {
			out.observedAt = prior
		}
	}

	return out
}

func preferIncomingStr(incoming *string, existing sql.NullString) *string {
	if incoming != nil && stringNonEmpty(*incoming) {
		return incoming
	}
	if existing.Valid {
		return &existing.String
	}
	return nil
}

func preferIncomingFloat(incoming *float64, existing sql.NullFloat64) *float64 {
	if incoming != nil {
		return incoming
	}
	if existing.Valid {
		return &existing.Float64
	}
	return nil
}

func stringNonEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' {
			return true
		}
	}
	return false
}

func decodeStringSlice(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func packageUnitOrNilStr(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func categoryIDOrNil(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func settlementIDOrNil(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
