package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Open-Inflation/converter/internal/apperrors"
	"github.com/Open-Inflation/converter/internal/dsn"
)

// EnsureSchema creates every catalog table if it does not already
// exist, then verifies the startup invariant from spec §6: a schema
// inspection verifying the presence of primary_category_id and
// settlement_id on catalog_products, fatal if either is missing.
// Grounded on original_source/converter/adapters/catalog.py's
// (and catalog_mysql.py's) table bootstrap, generalized to the richer
// catalog model this repository targets.
func EnsureSchema(ctx context.Context, db *sql.DB, driver dsn.Driver) error {
	autoIncrement := "INTEGER PRIMARY KEY AUTOINCREMENT"
	timestampDefault := "TEXT"
	if driver == dsn.DriverMySQL {
		autoIncrement = "BIGINT PRIMARY KEY AUTO_INCREMENT"
		timestampDefault = "DATETIME"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_products (
			id %s,
			parser_name VARCHAR(64) NOT NULL,
			source_id VARCHAR(255) NOT NULL,
			canonical_product_id VARCHAR(36) NOT NULL,
			title_original TEXT,
			title_normalized TEXT,
			title_original_no_stopwords TEXT,
			title_normalized_no_stopwords TEXT,
			brand TEXT,
			unit VARCHAR(8),
			available_count REAL,
			package_quantity REAL,
			package_unit VARCHAR(8),
			plu VARCHAR(128),
			sku VARCHAR(128),
			category_raw TEXT,
			category_normalized TEXT,
			primary_category_id BIGINT,
			geo_raw TEXT,
			geo_normalized TEXT,
			settlement_id BIGINT,
			composition_raw TEXT,
			composition_normalized TEXT,
			image_urls_json TEXT,
			duplicate_image_urls_json TEXT,
			image_fingerprints_json TEXT,
			raw_payload_json TEXT,
			observed_at %s,
			latest_snapshot_id BIGINT,
			created_at %s,
			updated_at %s,
			UNIQUE(parser_name, source_id)
		)`, autoIncrement, timestampDefault, timestampDefault, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_product_snapshots (
			id %s,
			parser_name VARCHAR(64) NOT NULL,
			source_id VARCHAR(255) NOT NULL,
			canonical_product_id VARCHAR(36) NOT NULL,
			title_original TEXT,
			title_normalized TEXT,
			title_original_no_stopwords TEXT,
			title_normalized_no_stopwords TEXT,
			brand TEXT,
			unit VARCHAR(8),
			available_count REAL,
			package_quantity REAL,
			package_unit VARCHAR(8),
			plu VARCHAR(128),
			sku VARCHAR(128),
			category_raw TEXT,
			category_normalized TEXT,
			geo_raw TEXT,
			geo_normalized TEXT,
			composition_raw TEXT,
			composition_normalized TEXT,
			image_urls_json TEXT,
			duplicate_image_urls_json TEXT,
			image_fingerprints_json TEXT,
			raw_payload_json TEXT,
			observed_at %s,
			created_at %s
		)`, autoIncrement, timestampDefault, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_product_sources (
			id %s,
			parser_name VARCHAR(64) NOT NULL,
			source_id VARCHAR(255) NOT NULL,
			canonical_product_id VARCHAR(36) NOT NULL,
			first_seen_at %s,
			last_seen_at %s,
			latest_snapshot_id BIGINT,
			updated_at %s,
			UNIQUE(parser_name, source_id)
		)`, autoIncrement, timestampDefault, timestampDefault, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_identity_map (
			id %s,
			parser_name VARCHAR(64) NOT NULL,
			identity_type VARCHAR(32) NOT NULL,
			identity_value VARCHAR(512) NOT NULL,
			canonical_product_id VARCHAR(36) NOT NULL,
			created_at %s,
			UNIQUE(parser_name, identity_type, identity_value)
		)`, autoIncrement, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_image_fingerprints (
			id %s,
			fingerprint VARCHAR(64) NOT NULL UNIQUE,
			canonical_url TEXT NOT NULL,
			created_at %s,
			updated_at %s
		)`, autoIncrement, timestampDefault, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_settlements (
			id %s,
			country_norm VARCHAR(255),
			region_norm VARCHAR(255),
			name_norm VARCHAR(255),
			settlement_key VARCHAR(767) NOT NULL UNIQUE,
			country_raw TEXT,
			region_raw TEXT,
			name_raw TEXT,
			created_at %s,
			updated_at %s
		)`, autoIncrement, timestampDefault, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_settlement_geodata (
			id %s,
			settlement_id BIGINT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			geodata_key VARCHAR(128) NOT NULL UNIQUE,
			created_at %s
		)`, autoIncrement, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_categories (
			id %s,
			parser_name VARCHAR(64) NOT NULL,
			category_key VARCHAR(128) NOT NULL UNIQUE,
			uid VARCHAR(255),
			title TEXT,
			parent_uid VARCHAR(255),
			depth INTEGER,
			sort_order INTEGER,
			created_at %s,
			updated_at %s
		)`, autoIncrement, timestampDefault, timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_product_category_links (
			id %s,
			snapshot_id BIGINT NOT NULL,
			category_id BIGINT NOT NULL,
			sort_order INTEGER,
			is_primary %s,
			created_at %s
		)`, autoIncrement, boolType(driver), timestampDefault),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS converter_sync_state (
			state_key VARCHAR(255) PRIMARY KEY,
			state_value TEXT NOT NULL,
			updated_at %s
		)`, timestampDefault),
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: create schema: %w", err)
		}
	}

	for _, column := range []string{"primary_category_id", "settlement_id"} {
		ok, err := hasColumn(ctx, db, driver, "catalog_products", column)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.NewFatal("catalog: required column catalog_products.%s is missing", column)
		}
	}
	return nil
}

func boolType(driver dsn.Driver) string {
	if driver == dsn.DriverMySQL {
		return "TINYINT(1) NOT NULL DEFAULT 0"
	}
	return "INTEGER NOT NULL DEFAULT 0"
}

func hasColumn(ctx context.Context, db *sql.DB, driver dsn.Driver, table, column string) (bool, error) {
	if driver == dsn.DriverMySQL {
		rows, err := db.QueryContext(ctx,
			`SELECT 1 FROM information_schema.columns WHERE table_name = ? AND column_name = ? LIMIT 1`,
			table, column)
		if err != nil {
			return false, fmt.Errorf("catalog: schema check: %w", err)
		}
		defer rows.Close()
		return rows.Next(), rows.Err()
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("catalog: schema check: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	nameIdx := indexOf(cols, "name")
	for rows.Next() {
		values := make([]interface{}, len(cols))
		targets := make([]interface{}, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			continue
		}
		if name, ok := asString(values[nameIdx]); ok && name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func indexOf(values []string, target string) int {
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return 1
}

func asString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}
