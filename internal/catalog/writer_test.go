package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/Open-Inflation/converter/internal/dsn"
	"github.com/Open-Inflation/converter/internal/model"
)

func openTestWriter(t *testing.T) *Writer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w := NewWriter(db, dsn.DriverSQLite)
	require.NoError(t, w.EnsureSchema(context.Background()))
	return w
}

func strPtr(s string) *string    { return &s }
func floatPtr(f float64) *float64 { return &f }

func baseRecord(sourceID string, observedAt time.Time) model.NormalizedRecord {
	return model.NormalizedRecord{
		ParserName:                 "fixprice",
		TitleOriginal:              "Шоколад Alpen Gold 90г",
		TitleNormalized:            "шоколад alpen gold 90г",
		TitleOriginalNoStopwords:   "Шоколад Alpen Gold 90г",
		TitleNormalizedNoStopwords: "шоколад alpen gold",
		Brand:                      strPtr("Alpen Gold"),
		Unit:                       model.Unit("pcs"),
		PackageQuantity:            floatPtr(90),
		PackageUnit:                packageUnitPtr("g"),
		SourceID:                   strPtr(sourceID),
		CategoryRaw:                strPtr("Кондитерские изделия/Шоколад"),
		CategoryNormalized:         strPtr("кондитерский изделие шоколад"),
		ImageURLs:                  []string{"https://img.example/a.jpg"},
		ObservedAt:                 observedAt,
		Payload:                    model.Value{"receiver_product_id": float64(1)},
	}
}

func packageUnitPtr(u string) *model.PackageUnit {
	v, _ := model.ParsePackageUnit(u)
	return &v
}

func TestUpsertMany_IdentityStableAcrossBatches(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	first, err := w.UpsertMany(ctx, []model.NormalizedRecord{baseRecord("sku-1", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	require.NotEmpty(t, first[0].CanonicalProductID)

	second, err := w.UpsertMany(ctx, []model.NormalizedRecord{baseRecord("sku-1", time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))})
	require.NoError(t, err)
	require.Equal(t, first[0].CanonicalProductID, second[0].CanonicalProductID)
}

func TestUpsertMany_InBatchDuplicatesCollapseToSameIdentity(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	records := []model.NormalizedRecord{
		baseRecord("", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)),
		baseRecord("", time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)),
	}
	records[0].SourceID = nil
	records[1].SourceID = nil

	out, err := w.UpsertMany(ctx, records)
	require.NoError(t, err)
	require.NotEmpty(t, out[0].CanonicalProductID)
	require.Equal(t, out[0].CanonicalProductID, out[1].CanonicalProductID)
}

func TestUpsertMany_NonDestructiveMergeKeepsPriorFieldsOnPartialUpdate(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	first := baseRecord("sku-2", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	firstOut, err := w.UpsertMany(ctx, []model.NormalizedRecord{first})
	require.NoError(t, err)

	second := baseRecord("sku-2", time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC))
	second.Brand = nil
	second.CategoryNormalized = nil
	second.ImageURLs = nil

	out, err := w.UpsertMany(ctx, []model.NormalizedRecord{second})
	require.NoError(t, err)

	var brand, category string
	err = w.db.QueryRowContext(ctx,
		`SELECT brand, category_normalized FROM catalog_products WHERE parser_name = ? AND source_id = ?`,
		"fixprice", "sku-2",
	).Scan(&brand, &category)
	require.NoError(t, err)
	require.Equal(t, "Alpen Gold", brand)
	require.Equal(t, "кондитерский изделие шоколад", category)
	require.Equal(t, out[0].CanonicalProductID, firstOut[0].CanonicalProductID)
}

func TestUpsertMany_ImageDedupAcrossRecords(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	first := baseRecord("sku-3", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	second := baseRecord("sku-4", time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	second.ImageURLs = []string{"https://img.example/a.jpg"}

	out, err := w.UpsertMany(ctx, []model.NormalizedRecord{first, second})
	require.NoError(t, err)
	require.Equal(t, []string{"https://img.example/a.jpg"}, out[0].ImageURLs)
	require.Equal(t, []string{"https://img.example/a.jpg"}, out[1].ImageURLs)
	require.Empty(t, out[0].DuplicateImageURLs)
}

func TestUpsertMany_AppendOnlySnapshots(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := w.UpsertMany(ctx, []model.NormalizedRecord{
			baseRecord("sku-5", time.Date(2026, 1, i+1, 10, 0, 0, 0, time.UTC)),
		})
		require.NoError(t, err)
	}

	var count int
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_product_snapshots WHERE parser_name = ? AND source_id = ?`,
		"fixprice", "sku-5",
	).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestReceiverCursor_RoundTripAndGracefulDegrade(t *testing.T) {
	w := openTestWriter(t)
	ctx := context.Background()

	none, err := w.GetReceiverCursor(ctx, "fixprice")
	require.NoError(t, err)
	require.Nil(t, none)

	require.NoError(t, w.SetReceiverCursor(ctx, "fixprice", Cursor{IngestedAt: "2026-01-01T00:00:00Z", ProductID: 42}))
	got, err := w.GetReceiverCursor(ctx, "fixprice")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(42), got.ProductID)

	_, err = w.db.ExecContext(ctx,
		`UPDATE converter_sync_state SET state_value = 'not-json' WHERE state_key = ?`, cursorStateKey("fixprice"))
	require.NoError(t, err)

	degraded, err := w.GetReceiverCursor(ctx, "fixprice")
	require.NoError(t, err)
	require.Nil(t, degraded)
}
