package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Open-Inflation/converter/internal/model"
)

// backfillFields are the columns eligible for temporal nearest-neighbor
// repair, per spec §4.3 step 3.
var backfillFields = []string{
	"brand",
	"category_normalized",
	"geo_normalized",
	"composition_normalized",
	"package_quantity",
	"package_unit",
}

type backfillCandidate struct {
	observedAt time.Time
	brand      *string
	category   *string
	geo        *string
	composition *string
	packageQty *float64
	packageUnt *string
}

// backfiller implements §4.3 step 3: for each missing field, search
// prior snapshots of the same canonical id (falling back to the
// current projection) for the nearest non-missing value by
// |observed_at - target|. It also tracks records already written
// earlier in this same batch so in-batch backfill sees them too,
// mirroring the pending-row visibility required for identity and
// image dedup. Grounded on
// original_source/converter/core/services.py's NullBackfillService,
// generalized to read from the persisted snapshot/current-projection
// tables instead of an in-process history list.
type backfiller struct {
	tx      *sql.Tx
	pending map[string][]backfillCandidate
}

func newBackfiller(tx *sql.Tx) *backfiller {
	return &backfiller{tx: tx, pending: make(map[string][]backfillCandidate)}
}

func (b *backfiller) apply(ctx context.Context, record *model.NormalizedRecord) error {
	if record.CanonicalProductID == "" {
		return nil
	}

	history, err := b.history(ctx, record.CanonicalProductID)
	if err != nil {
		return err
	}

	if isMissingStr(record.Brand) {
		if v := nearestString(history, record.ObservedAt, func(c backfillCandidate) *string { return c.brand }); v != nil {
			record.Brand = v
		}
	}
	if isMissingStr(record.CategoryNormalized) {
		if v := nearestString(history, record.ObservedAt, func(c backfillCandidate) *string { return c.category }); v != nil {
			record.CategoryNormalized = v
		}
	}
	if isMissingStr(record.GeoNormalized) {
		if v := nearestString(history, record.ObservedAt, func(c backfillCandidate) *string { return c.geo }); v != nil {
			record.GeoNormalized = v
		}
	}
	if isMissingStr(record.CompositionNormalized) {
		if v := nearestString(history, record.ObservedAt, func(c backfillCandidate) *string { return c.composition }); v != nil {
			record.CompositionNormalized = v
		}
	}
	if record.PackageQuantity == nil && record.PackageUnit == nil {
		qty := nearestFloat(history, record.ObservedAt, func(c backfillCandidate) *float64 { return c.packageQty })
		unit := nearestString(history, record.ObservedAt, func(c backfillCandidate) *string { return c.packageUnt })
		if qty != nil && unit != nil {
			record.PackageQuantity = qty
			parsed, ok := model.ParsePackageUnit(*unit)
			if ok {
				record.PackageUnit = &parsed
			}
		}
	}

	b.remember(record)
	return nil
}

func (b *backfiller) remember(record *model.NormalizedRecord) {
	var packageUnit *string
	if record.PackageUnit != nil {
		s := string(*record.PackageUnit)
		packageUnit = &s
	}
	b.pending[record.CanonicalProductID] = append(b.pending[record.CanonicalProductID], backfillCandidate{
		observedAt:  record.ObservedAt,
		brand:       record.Brand,
		category:    record.CategoryNormalized,
		geo:         record.GeoNormalized,
		composition: record.CompositionNormalized,
		packageQty:  record.PackageQuantity,
		packageUnt:  packageUnit,
	})
}

func (b *backfiller) history(ctx context.Context, canonicalID string) ([]backfillCandidate, error) {
	out := append([]backfillCandidate(nil), b.pending[canonicalID]...)

	rows, err := b.tx.QueryContext(ctx, `
		SELECT observed_at, brand, category_normalized, geo_normalized, composition_normalized, package_quantity, package_unit
		FROM catalog_product_snapshots
		WHERE canonical_product_id = ?
		UNION ALL
		SELECT observed_at, brand, category_normalized, geo_normalized, composition_normalized, package_quantity, package_unit
		FROM catalog_products
		WHERE canonical_product_id = ?
	`, canonicalID, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("catalog: backfill history query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var observedAtRaw string
		var brand, category, geo, composition, packageUnit sql.NullString
		var packageQty sql.NullFloat64
		if err := rows.Scan(&observedAtRaw, &brand, &category, &geo, &composition, &packageQty, &packageUnit); err != nil {
			return nil, fmt.Errorf("catalog: backfill history scan: %w", err)
		}
		observedAt, _ := parseStoredTime(observedAtRaw)
		out = append(out, backfillCandidate{
			observedAt:  observedAt,
			brand:       nullableStringPtr(brand),
			category:    nullableStringPtr(category),
			geo:         nullableStringPtr(geo),
			composition: nullableStringPtr(composition),
			packageQty:  nullableFloatPtr(packageQty),
			packageUnt:  nullableStringPtr(packageUnit),
		})
	}
	return out, rows.Err()
}

func isMissingStr(v *string) bool {
	return v == nil || strings.TrimSpace(*v) == ""
}

func nearestString(history []backfillCandidate, target time.Time, get func(backfillCandidate) *string) *string {
	var best *string
	bestDelta := math.Inf(1)
	for _, c := range history {
		v := get(c)
		if isMissingStr(v) {
			continue
		}
		delta := math.Abs(c.observedAt.Sub(target).Seconds())
		if delta < bestDelta {
			bestDelta = delta
			best = v
		}
	}
	return best
}

func nearestFloat(history []backfillCandidate, target time.Time, get func(backfillCandidate) *float64) *float64 {
	var best *float64
	bestDelta := math.Inf(1)
	for _, c := range history {
		v := get(c)
		if v == nil {
			continue
		}
		delta := math.Abs(c.observedAt.Sub(target).Seconds())
		if delta < bestDelta {
			bestDelta = delta
			best = v
		}
	}
	return best
}

func nullableStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullableFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func parseStoredTime(value string) (time.Time, bool) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
