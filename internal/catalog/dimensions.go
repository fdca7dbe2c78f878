package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Open-Inflation/converter/internal/model"
)

// settlementInput is the raw geo breakdown a record carries, extracted
// from payload sub-records the receiver assembled (country/region/name)
// plus optional coordinates for the geodata table.
type settlementInput struct {
	Country, Region, Name *string
	Latitude, Longitude   *float64
}

type dimensionResolver struct {
	tx                 *sql.Tx
	pendingSettlements map[string]int64
	pendingGeodata     map[string]bool
}

func newDimensionResolver(tx *sql.Tx) *dimensionResolver {
	return &dimensionResolver{
		tx:                 tx,
		pendingSettlements: make(map[string]int64),
		pendingGeodata:     make(map[string]bool),
	}
}

func normKey(v *string) string {
	if v == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*v))
}

// resolveSettlement upserts the settlement row keyed by
// country_norm|region_norm|name_norm, filling missing attributes
// additively (never overwriting), then appends a geodata row if the
// record carries coordinates and that (settlement, lat, lon)
// fingerprint is new. Grounded on spec §3/§4.3 step 4; the teacher has
// no settlement-dimension analog, so this is modeled directly on the
// spec's described merge policy (additive fill, append-once geodata).
func (d *dimensionResolver) resolveSettlement(ctx context.Context, input settlementInput) (int64, error) {
	key := normKey(input.Country) + "|" + normKey(input.Region) + "|" + normKey(input.Name)
	if key == "||" {
		return 0, nil
	}

	if id, ok := d.pendingSettlements[key]; ok {
		if err := d.fillSettlementAttributes(ctx, id, input); err != nil {
			return 0, err
		}
		if err := d.appendGeodata(ctx, id, input); err != nil {
			return 0, err
		}
		return id, nil
	}

	var id int64
	err := d.tx.QueryRowContext(ctx, `SELECT id FROM catalog_settlements WHERE settlement_key = ?`, key).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		result, insertErr := d.tx.ExecContext(ctx, `
			INSERT INTO catalog_settlements (country_norm, region_norm, name_norm, settlement_key, country_raw, region_raw, name_raw, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, normKey(input.Country), normKey(input.Region), normKey(input.Name), key,
			valueOrNil(input.Country), valueOrNil(input.Region), valueOrNil(input.Name))
		if insertErr != nil {
			return 0, fmt.Errorf("catalog: settlement insert: %w", insertErr)
		}
		id, err = result.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("catalog: settlement insert id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("catalog: settlement lookup: %w", err)
	default:
		if err := d.fillSettlementAttributes(ctx, id, input); err != nil {
			return 0, err
		}
	}

	d.pendingSettlements[key] = id
	if err := d.appendGeodata(ctx, id, input); err != nil {
		return 0, err
	}
	return id, nil
}

func (d *dimensionResolver) fillSettlementAttributes(ctx context.Context, id int64, input settlementInput) error {
	_, err := d.tx.ExecContext(ctx, `
		UPDATE catalog_settlements
		SET
			country_raw = COALESCE(country_raw, ?),
			region_raw = COALESCE(region_raw, ?),
			name_raw = COALESCE(name_raw, ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, valueOrNil(input.Country), valueOrNil(input.Region), valueOrNil(input.Name), id)
	if err != nil {
		return fmt.Errorf("catalog: settlement attribute fill: %w", err)
	}
	return nil
}

func (d *dimensionResolver) appendGeodata(ctx context.Context, settlementID int64, input settlementInput) error {
	if input.Latitude == nil || input.Longitude == nil {
		return nil
	}

	fingerprintInput := fmt.Sprintf("%d|%.6f|%.6f", settlementID, *input.Latitude, *input.Longitude)
	sum := sha256.Sum256([]byte(fingerprintInput))
	key := hex.EncodeToString(sum[:])

	if d.pendingGeodata[key] {
		return nil
	}

	var exists int
	err := d.tx.QueryRowContext(ctx, `SELECT 1 FROM catalog_settlement_geodata WHERE geodata_key = ?`, key).Scan(&exists)
	if err == nil {
		d.pendingGeodata[key] = true
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("catalog: geodata lookup: %w", err)
	}

	_, err = d.tx.ExecContext(ctx, `
		INSERT INTO catalog_settlement_geodata (settlement_id, latitude, longitude, geodata_key, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, settlementID, *input.Latitude, *input.Longitude, key)
	if err != nil {
		return fmt.Errorf("catalog: geodata insert: %w", err)
	}
	d.pendingGeodata[key] = true
	return nil
}

func valueOrNil(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// settlementInputFromRecord extracts country/region/name/lat/lon out of
// the record's geo payload sub-record, if the receiver attached one.
// Plain geo_normalized strings (without structured payload) still
// resolve to a settlement keyed purely on the name component.
func settlementInputFromRecord(record model.NormalizedRecord) settlementInput {
	input := settlementInput{Name: record.GeoNormalized}

	geo, ok := record.Payload["receiver_geo"].(map[string]interface{})
	if !ok {
		return input
	}
	if country, ok := geo["country"].(string); ok && country != "" {
		c := country
		input.Country = &c
	}
	if region, ok := geo["region"].(string); ok && region != "" {
		r := region
		input.Region = &r
	}
	if name, ok := geo["name"].(string); ok && name != "" {
		n := name
		input.Name = &n
	}
	if lat, ok := geo["latitude"].(float64); ok {
		input.Latitude = &lat
	}
	if lon, ok := geo["longitude"].(float64); ok {
		input.Longitude = &lon
	}
	return input
}
