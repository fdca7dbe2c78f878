package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/Open-Inflation/converter/internal/dsn"
	"github.com/Open-Inflation/converter/internal/model"
)

type identityKey struct {
	parserName    string
	identityType  string
	identityValue string
}

// identityResolver resolves each record's canonical_product_id per
// §4.3 step 1, keeping an in-batch pending index so multiple records
// in one upsert_many call that land on the same identity (including
// the normalized-name fallback) collapse to the same id without
// needing the database transaction to echo its own uncommitted writes.
// Grounded on original_source/converter/core/services.py's
// InMemoryProductIdentityResolver, backed onto persistent storage in
// catalog_identity_map.
type identityResolver struct {
	tx      *sql.Tx
	driver  dsn.Driver
	pending map[identityKey]string
}

func newIdentityResolver(tx *sql.Tx, driver dsn.Driver) *identityResolver {
	return &identityResolver{tx: tx, driver: driver, pending: make(map[identityKey]string)}
}

func (r *identityResolver) resolve(ctx context.Context, record *model.NormalizedRecord) error {
	parserName := record.ParserName

	for _, candidate := range record.IdentityCandidates() {
		id, err := r.lookup(ctx, parserName, candidate.Type, candidate.Value)
		if err != nil {
			return err
		}
		if id != "" {
			record.CanonicalProductID = id
			return r.writeCandidates(ctx, record, id)
		}
	}

	fallbackType := "normalized_name"
	fallbackValue := record.TitleNormalizedNoStopwords
	if fallbackValue != "" {
		id, err := r.lookup(ctx, parserName, fallbackType, fallbackValue)
		if err != nil {
			return err
		}
		if id == "" {
			fallbackValue = record.TitleNormalized
			if fallbackValue != "" {
				id, err = r.lookup(ctx, parserName, fallbackType, fallbackValue)
				if err != nil {
					return err
				}
			}
		}
		if id != "" {
			record.CanonicalProductID = id
			return r.writeCandidates(ctx, record, id)
		}
	}

	id := uuid.NewString()
	record.CanonicalProductID = id
	if fallbackValue != "" {
		if err := r.put(ctx, parserName, fallbackType, fallbackValue, id); err != nil {
			return err
		}
	}
	return r.writeCandidates(ctx, record, id)
}

func (r *identityResolver) writeCandidates(ctx context.Context, record *model.NormalizedRecord, id string) error {
	for _, candidate := range record.IdentityCandidates() {
		if err := r.put(ctx, record.ParserName, candidate.Type, candidate.Value, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *identityResolver) lookup(ctx context.Context, parserName, identityType, identityValue string) (string, error) {
	key := identityKey{parserName, identityType, identityValue}
	if id, ok := r.pending[key]; ok {
		return id, nil
	}

	var id string
	err := r.tx.QueryRowContext(ctx,
		`SELECT canonical_product_id FROM catalog_identity_map WHERE parser_name = ? AND identity_type = ? AND identity_value = ?`,
		parserName, identityType, identityValue,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("catalog: identity lookup: %w", err)
	}
	r.pending[key] = id
	return id, nil
}

func (r *identityResolver) put(ctx context.Context, parserName, identityType, identityValue, canonicalID string) error {
	key := identityKey{parserName, identityType, identityValue}
	if existing, ok := r.pending[key]; ok && existing == canonicalID {
		return nil
	}
	r.pending[key] = canonicalID

	var stmt string
	if r.driver == dsn.DriverMySQL {
		stmt = `
INSERT INTO catalog_identity_map (parser_name, identity_type, identity_value, canonical_product_id, created_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON DUPLICATE KEY UPDATE canonical_product_id = VALUES(canonical_product_id)
`
		_, err := r.tx.ExecContext(ctx, stmt, parserName, identityType, identityValue, canonicalID)
		if err != nil {
			return fmt.Errorf("catalog: identity write: %w", err)
		}
		return nil
	}

	stmt = `
INSERT INTO catalog_identity_map (parser_name, identity_type, identity_value, canonical_product_id, created_at)
VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(parser_name, identity_type, identity_value)
DO UPDATE SET canonical_product_id = excluded.canonical_product_id
`
	_, err := r.tx.ExecContext(ctx, stmt, parserName, identityType, identityValue, canonicalID)
	if err != nil {
		return fmt.Errorf("catalog: identity write: %w", err)
	}
	return nil
}
