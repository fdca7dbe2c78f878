// Package receiver reads raw product observations out of the upstream
// receiver database, joining products to their owning run artifact and
// at most one administrative-unit row, then resolving category titles
// and image URLs in two follow-up queries. Grounded on
// original_source/converter/adapters/receiver.py and receiver_mysql.py,
// unified here over database/sql since both the sqlite3 and
// go-sql-driver/mysql drivers accept "?" placeholders.
package receiver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Open-Inflation/converter/internal/apperrors"
	"github.com/Open-Inflation/converter/internal/model"
)

// Reader fetches batches of raw observations from the receiver store.
type Reader struct {
	db                 *sql.DB
	defaultParserName  string
}

// NewReader wraps an already-opened database/sql handle. The caller
// owns the handle's lifecycle (pool sizing, Close).
func NewReader(db *sql.DB, defaultParserName string) *Reader {
	if defaultParserName == "" {
		defaultParserName = "fixprice"
	}
	return &Reader{db: db, defaultParserName: defaultParserName}
}

// Watermark is the (ingested_at, product_id) cursor position a batch
// read resumes from.
type Watermark struct {
	IngestedAt string
	ProductID  int64
}

type receiverRow struct {
	ProductID              int64
	ArtifactID             int64
	SKU, PLU               sql.NullString
	Title                  sql.NullString
	Composition            sql.NullString
	Brand                  sql.NullString
	Unit                   sql.NullString
	AvailableCount         sql.NullFloat64
	PackageQuantity        sql.NullFloat64
	PackageUnit            sql.NullString
	CategoryUIDsJSON       sql.NullString
	MainImage              sql.NullString
	SortOrder              sql.NullInt64
	RunID                  sql.NullString
	ArtifactSource         sql.NullString
	IngestedAt             sql.NullString
	ParserName             sql.NullString
	GeoName, GeoRegion, GeoCountry sql.NullString
}

const baseQueryTemplate = `
SELECT
    p.id AS product_id,
    p.artifact_id AS artifact_id,
    p.sku AS product_sku,
    p.plu AS product_plu,
    p.title AS product_title,
    p.composition AS product_composition,
    p.brand AS product_brand,
    p.unit AS product_unit,
    p.available_count AS product_available_count,
    p.package_quantity AS product_package_quantity,
    p.package_unit AS product_package_unit,
    p.categories_uid_json AS category_uids_json,
    p.main_image AS product_main_image,
    p.sort_order AS product_sort_order,
    a.run_id AS run_id,
    a.source AS artifact_source,
    a.ingested_at AS ingested_at,
    a.parser_name AS parser_name,
    au.name AS geo_name,
    au.region AS geo_region,
    au.country AS geo_country
FROM run_artifact_products AS p
JOIN run_artifacts AS a ON a.id = p.artifact_id
LEFT JOIN run_artifact_administrative_units AS au ON au.artifact_id = a.id
%s
ORDER BY a.ingested_at ASC, p.id ASC
LIMIT ?
`

// FetchBatch implements the §4.2 contract: a single indexed read
// joining products, run artifacts, and administrative units, filtered
// by parser and strict watermark, followed by category-title and
// image sub-queries.
func (r *Reader) FetchBatch(ctx context.Context, limit int, parserName string, after *Watermark) ([]model.RawObservation, error) {
	if limit < 1 {
		limit = 1
	}

	hasParserColumn, err := r.hasColumn(ctx, "run_artifacts", "parser_name")
	if err != nil {
		return nil, err
	}
	if !hasParserColumn {
		return nil, apperrors.NewFatal(
			"receiver: unsupported schema: run_artifacts.parser_name is missing. Apply receiver manual migrations from 2026-02-26")
	}

	var whereClauses []string
	var params []interface{}

	parserFilter := strings.ToLower(strings.TrimSpace(parserName))
	if parserFilter != "" {
		whereClauses = append(whereClauses, "LOWER(a.parser_name) = ?")
		params = append(params, parserFilter)
	}

	if after != nil {
		whereClauses = append(whereClauses, "(a.ingested_at > ? OR (a.ingested_at = ? AND p.id > ?))")
		params = append(params, after.IngestedAt, after.IngestedAt, after.ProductID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	query := fmt.Sprintf(baseQueryTemplate, whereSQL)
	params = append(params, limit)

	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("receiver: fetch batch: %w", err)
	}
	defer rows.Close()

	var parsed []receiverRow
	for rows.Next() {
		var row receiverRow
		if err := rows.Scan(
			&row.ProductID, &row.ArtifactID, &row.SKU, &row.PLU, &row.Title,
			&row.Composition, &row.Brand, &row.Unit, &row.AvailableCount,
			&row.PackageQuantity, &row.PackageUnit, &row.CategoryUIDsJSON,
			&row.MainImage, &row.SortOrder, &row.RunID, &row.ArtifactSource,
			&row.IngestedAt, &row.ParserName, &row.GeoName, &row.GeoRegion, &row.GeoCountry,
		); err != nil {
			return nil, fmt.Errorf("receiver: scan row: %w", err)
		}
		parsed = append(parsed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiver: iterate rows: %w", err)
	}
	if len(parsed) == 0 {
		return nil, nil
	}

	artifactIDs := uniqueInt64s(func(yield func(int64)) {
		for _, row := range parsed {
			yield(row.ArtifactID)
		}
	})
	productIDs := uniqueInt64s(func(yield func(int64)) {
		for _, row := range parsed {
			yield(row.ProductID)
		}
	})

	categoryTitles, err := r.loadCategoryTitleLookup(ctx, artifactIDs)
	if err != nil {
		return nil, err
	}
	images, err := r.loadImageLookup(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	out := make([]model.RawObservation, 0, len(parsed))
	for _, row := range parsed {
		categoryUIDs := decodeStringList(row.CategoryUIDsJSON)
		categoryTitle := resolveCategoryTitles(categoryUIDs, categoryTitles[row.ArtifactID])
		imageURLs := images[row.ProductID]
		if len(imageURLs) == 0 && row.MainImage.Valid && strings.TrimSpace(row.MainImage.String) != "" {
			imageURLs = []string{strings.TrimSpace(row.MainImage.String)}
		}

		raw := mapRowToRawObservation(row, categoryTitle, imageURLs, r.defaultParserName)
		if parserFilter != "" && strings.ToLower(raw.ParserName) != parserFilter {
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func mapRowToRawObservation(row receiverRow, categoryTitle *string, imageURLs []string, defaultParserName string) model.RawObservation {
	parserName := defaultParserName
	if row.ParserName.Valid && strings.TrimSpace(row.ParserName.String) != "" {
		parserName = strings.TrimSpace(row.ParserName.String)
	}

	title := strings.TrimSpace(row.Title.String)
	if title == "" {
		title = "Unnamed product"
	}

	var sourceID *string
	if row.RunID.Valid {
		sourceID = stringPtr(fmt.Sprintf("receiver:%s:%d", row.RunID.String, row.ProductID))
	}

	geo := joinNonEmpty([]sql.NullString{row.GeoCountry, row.GeoRegion, row.GeoName}, ", ")

	observedAt := time.Now().UTC()
	if row.IngestedAt.Valid {
		if parsedTime, ok := parseUpstreamTime(row.IngestedAt.String); ok {
			observedAt = parsedTime
		}
	}

	unit, _ := model.ParseUnit(strings.ToUpper(strings.TrimSpace(row.Unit.String)))
	var unitPtr *model.Unit
	if unit != "" {
		unitPtr = &unit
	}
	packageUnit, _ := model.ParsePackageUnit(strings.ToUpper(strings.TrimSpace(row.PackageUnit.String)))
	var packageUnitPtr *model.PackageUnit
	if packageUnit != "" {
		packageUnitPtr = &packageUnit
	}

	payload := model.Value{
		"receiver_product_id":    row.ProductID,
		"receiver_artifact_id":   row.ArtifactID,
		"receiver_run_id":        nullableString(row.RunID),
		"receiver_source":        nullableString(row.ArtifactSource),
		"receiver_sort_order":    nullableInt64(row.SortOrder),
		"receiver_categories_uid": decodeStringList(row.CategoryUIDsJSON),
	}

	return model.RawObservation{
		ParserName:      parserName,
		Title:           title,
		SourceID:        sourceID,
		PLU:             nullableTrimmed(row.PLU),
		SKU:             nullableTrimmed(row.SKU),
		Brand:           nullableTrimmed(row.Brand),
		Unit:            unitPtr,
		AvailableCount:  nullableFloat(row.AvailableCount),
		PackageQuantity: nullableFloat(row.PackageQuantity),
		PackageUnit:     packageUnitPtr,
		Category:        categoryTitle,
		Geo:             geo,
		Composition:     nullableTrimmed(row.Composition),
		ImageURLs:       imageURLs,
		ObservedAt:      observedAt,
		Payload:         payload,
	}
}

func (r *Reader) hasColumn(ctx context.Context, table, column string) (bool, error) {
	// information_schema.columns works for MySQL; for sqlite3 it has no
	// matching rows, so fall back to PRAGMA table_info in that case.
	rows, err := r.db.QueryContext(ctx,
		`SELECT 1 FROM information_schema.columns WHERE table_name = ? AND column_name = ? LIMIT 1`,
		table, column)
	if err == nil {
		defer rows.Close()
		if rows.Next() {
			return true, nil
		}
		if rows.Err() == nil {
			// information_schema query succeeded but returned nothing; this
			// could be a genuinely missing column (MySQL) or simply that
			// information_schema isn't populated (sqlite3). Try PRAGMA next.
		}
	}

	pragmaRows, pragmaErr := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if pragmaErr != nil {
		if err != nil {
			return false, fmt.Errorf("receiver: schema check failed for %s.%s: %w", table, column, err)
		}
		return false, nil
	}
	defer pragmaRows.Close()

	cols, err := pragmaRows.Columns()
	if err != nil {
		return false, fmt.Errorf("receiver: schema check failed for %s.%s: %w", table, column, err)
	}
	nameIdx := 1
	for i, c := range cols {
		if c == "name" {
			nameIdx = i
		}
	}
	values := make([]interface{}, len(cols))
	scanTargets := make([]interface{}, len(cols))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	for pragmaRows.Next() {
		if err := pragmaRows.Scan(scanTargets...); err != nil {
			continue
		}
		if name, ok := values[nameIdx].([]byte); ok && string(name) == column {
			return true, nil
		}
		if name, ok := values[nameIdx].(string); ok && name == column {
			return true, nil
		}
	}
	return false, nil
}

func (r *Reader) loadCategoryTitleLookup(ctx context.Context, artifactIDs []int64) (map[int64]map[string]string, error) {
	out := make(map[int64]map[string]string)
	if len(artifactIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(artifactIDs)), ",")
	args := make([]interface{}, len(artifactIDs))
	for i, id := range artifactIDs {
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT artifact_id, uid, title FROM run_artifact_categories WHERE artifact_id IN (%s)`, placeholders)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("receiver: load category titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var artifactID int64
		var uid, title sql.NullString
		if err := rows.Scan(&artifactID, &uid, &title); err != nil {
			return nil, fmt.Errorf("receiver: scan category title: %w", err)
		}
		if !uid.Valid || !title.Valid || strings.TrimSpace(uid.String) == "" || strings.TrimSpace(title.String) == "" {
			continue
		}
		if out[artifactID] == nil {
			out[artifactID] = make(map[string]string)
		}
		out[artifactID][uid.String] = title.String
	}
	return out, rows.Err()
}

func (r *Reader) loadImageLookup(ctx context.Context, productIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	if len(productIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(productIDs)), ",")
	args := make([]interface{}, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT product_id, url FROM run_artifact_product_images WHERE product_id IN (%s) ORDER BY product_id ASC, sort_order ASC`, placeholders)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("receiver: load images: %w", err)
	}
	defer rows.Close()

	seen := make(map[int64]map[string]bool)
	for rows.Next() {
		var productID int64
		var url sql.NullString
		if err := rows.Scan(&productID, &url); err != nil {
			return nil, fmt.Errorf("receiver: scan image: %w", err)
		}
		trimmed := strings.TrimSpace(url.String)
		if !url.Valid || trimmed == "" {
			continue
		}
		if seen[productID] == nil {
			seen[productID] = make(map[string]bool)
		}
		if seen[productID][trimmed] {
			continue
		}
		seen[productID][trimmed] = true
		out[productID] = append(out[productID], trimmed)
	}
	return out, rows.Err()
}

func resolveCategoryTitles(uids []string, lookup map[string]string) *string {
	if len(uids) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var titles []string
	for _, uid := range uids {
		title := strings.TrimSpace(lookup[uid])
		if title == "" {
			continue
		}
		lowered := strings.ToLower(title)
		if seen[lowered] {
			continue
		}
		seen[lowered] = true
		titles = append(titles, title)
	}
	if len(titles) == 0 {
		return nil
	}
	joined := strings.Join(titles, " / ")
	return &joined
}

func decodeStringList(value sql.NullString) []string {
	if !value.Valid {
		return nil
	}
	token := strings.TrimSpace(value.String)
	if token == "" {
		return nil
	}
	if strings.HasPrefix(token, "[") {
		var parsed []interface{}
		if err := json.Unmarshal([]byte(token), &parsed); err == nil {
			out := make([]string, 0, len(parsed))
			for _, item := range parsed {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			return out
		}
		return []string{token}
	}
	parts := strings.Split(token, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func joinNonEmpty(values []sql.NullString, sep string) *string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !v.Valid {
			continue
		}
		trimmed := strings.TrimSpace(v.String)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if seen[lowered] {
			continue
		}
		seen[lowered] = true
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	joined := strings.Join(out, sep)
	return &joined
}

func parseUpstreamTime(value string) (time.Time, bool) {
	normalized := strings.ReplaceAll(value, "Z", "+00:00")
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func nullableString(v sql.NullString) interface{} {
	if !v.Valid {
		return nil
	}
	return v.String
}

func nullableInt64(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func nullableTrimmed(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	trimmed := strings.TrimSpace(v.String)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(s string) *string { return &s }

func uniqueInt64s(iterate func(yield func(int64))) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	iterate(func(v int64) {
		if v != 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
