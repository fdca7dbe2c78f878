package syncengine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Open-Inflation/converter/internal/parsers"
	"github.com/Open-Inflation/converter/internal/textnorm"
)

func setupReceiverDB(t *testing.T, path string) {
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE run_artifacts (
			id INTEGER PRIMARY KEY,
			run_id TEXT,
			source TEXT,
			ingested_at TEXT,
			parser_name TEXT
		);
		CREATE TABLE run_artifact_products (
			id INTEGER PRIMARY KEY,
			artifact_id INTEGER,
			sku TEXT,
			plu TEXT,
			title TEXT,
			composition TEXT,
			brand TEXT,
			unit TEXT,
			available_count REAL,
			package_quantity REAL,
			package_unit TEXT,
			categories_uid_json TEXT,
			main_image TEXT,
			sort_order INTEGER
		);
		CREATE TABLE run_artifact_administrative_units (
			id INTEGER PRIMARY KEY,
			artifact_id INTEGER,
			name TEXT,
			region TEXT,
			country TEXT
		);
		CREATE TABLE run_artifact_categories (
			id INTEGER PRIMARY KEY,
			artifact_id INTEGER,
			uid TEXT,
			title TEXT
		);
		CREATE TABLE run_artifact_product_images (
			id INTEGER PRIMARY KEY,
			product_id INTEGER,
			url TEXT,
			sort_order INTEGER
		);

		INSERT INTO run_artifacts (id, run_id, source, ingested_at, parser_name)
		VALUES (1, 'run-1', 'fixprice-scraper', '2026-01-01T00:00:00Z', 'fixprice');

		INSERT INTO run_artifact_products
			(id, artifact_id, sku, plu, title, composition, brand, unit, available_count, package_quantity, package_unit, categories_uid_json, main_image, sort_order)
		VALUES
			(1, 1, 'SKU-1', 'PLU-1', 'Шоколад Alpen Gold 90г', NULL, 'Alpen Gold', 'PCE', 10, 90, 'KGM', NULL, 'https://cdn.example.com/images/choc.jpg', 0);
	`)
	require.NoError(t, err)
}

func setupEngineWithBuiltins(t *testing.T) *Engine {
	registry := parsers.NewRegistry()
	require.NoError(t, parsers.RegisterBuiltinHandlers(registry, textnorm.NewRussianNormalizer()))
	return NewEngine(registry)
}

func TestEngineRun_ProcessesSingleBatchAndAdvancesCursor(t *testing.T) {
	dir := t.TempDir()
	receiverPath := filepath.Join(dir, "receiver.db")
	catalogPath := filepath.Join(dir, "catalog.db")
	setupReceiverDB(t, receiverPath)

	engine := setupEngineWithBuiltins(t)

	outcome, err := engine.Run(context.Background(), Job{
		ReceiverDSN: receiverPath,
		CatalogDSN:  catalogPath,
		ParserName:  "fixprice",
		BatchSize:   10,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Batches)
	require.Equal(t, 1, outcome.TotalProcessed)
	require.NotEmpty(t, outcome.CursorIngestedAt)

	catalogDB, err := sql.Open("sqlite3", catalogPath)
	require.NoError(t, err)
	defer catalogDB.Close()

	var count int
	require.NoError(t, catalogDB.QueryRow(`SELECT COUNT(*) FROM catalog_products`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestEngineRun_SecondRunIsNoOpPastWatermark(t *testing.T) {
	dir := t.TempDir()
	receiverPath := filepath.Join(dir, "receiver.db")
	catalogPath := filepath.Join(dir, "catalog.db")
	setupReceiverDB(t, receiverPath)

	engine := setupEngineWithBuiltins(t)
	job := Job{ReceiverDSN: receiverPath, CatalogDSN: catalogPath, ParserName: "fixprice", BatchSize: 10}

	_, err := engine.Run(context.Background(), job, nil)
	require.NoError(t, err)

	outcome, err := engine.Run(context.Background(), job, nil)
	require.NoError(t, err)
	require.Equal(t, 0, outcome.Batches)
	require.Equal(t, 0, outcome.TotalProcessed)
}

func TestEngineRun_UnknownParserNameFailsFast(t *testing.T) {
	dir := t.TempDir()
	engine := setupEngineWithBuiltins(t)

	_, err := engine.Run(context.Background(), Job{
		ReceiverDSN: filepath.Join(dir, "receiver.db"),
		CatalogDSN:  filepath.Join(dir, "catalog.db"),
		ParserName:  "not-a-real-parser",
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no handler")
}

func TestEngineRun_EmitsBatchEvents(t *testing.T) {
	dir := t.TempDir()
	receiverPath := filepath.Join(dir, "receiver.db")
	catalogPath := filepath.Join(dir, "catalog.db")
	setupReceiverDB(t, receiverPath)

	engine := setupEngineWithBuiltins(t)

	var events []BatchEvent
	_, err := engine.Run(context.Background(), Job{
		ReceiverDSN: receiverPath,
		CatalogDSN:  catalogPath,
		ParserName:  "fixprice",
		BatchSize:   10,
	}, func(e BatchEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].BatchNumber)
	require.Equal(t, 1, events[0].TotalProcessed)
}
