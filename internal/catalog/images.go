package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Open-Inflation/converter/internal/dsn"
)

// imageDeduplicator implements §4.3 step 2: persistent sha256(url) ->
// canonical_url fingerprinting, with an in-batch pending index for the
// same reason identityResolver keeps one. Grounded on
// original_source/converter/core/services.py's
// PersistentImageDeduplicator, backed onto catalog_image_fingerprints.
type imageDeduplicator struct {
	tx      *sql.Tx
	driver  dsn.Driver
	pending map[string]string
}

func newImageDeduplicator(tx *sql.Tx, driver dsn.Driver) *imageDeduplicator {
	return &imageDeduplicator{tx: tx, driver: driver, pending: make(map[string]string)}
}

type imageDedupResult struct {
	uniqueURLs    []string
	duplicateURLs []string
	fingerprints  []string
	toDelete      []string
}

func fingerprintURL(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])
}

func (d *imageDeduplicator) process(ctx context.Context, imageURLs []string) (imageDedupResult, error) {
	var result imageDedupResult
	seenInRecord := make(map[string]bool)

	for _, raw := range imageURLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}

		fingerprint := fingerprintURL(url)
		canonicalURL, existed, err := d.lookupOrInsert(ctx, fingerprint, url)
		if err != nil {
			return imageDedupResult{}, err
		}
		if existed && canonicalURL != url {
			result.duplicateURLs = append(result.duplicateURLs, url)
			result.toDelete = append(result.toDelete, url)
		}

		if seenInRecord[fingerprint] {
			if url != canonicalURL {
				result.duplicateURLs = append(result.duplicateURLs, url)
			}
			continue
		}
		seenInRecord[fingerprint] = true
		result.uniqueURLs = append(result.uniqueURLs, canonicalURL)
		result.fingerprints = append(result.fingerprints, fingerprint)
	}

	return result, nil
}

// lookupOrInsert returns the canonical URL for fingerprint, inserting a
// fresh row if none exists, and always bumping updated_at on a hit per
// the spec's "always bump updated_at" rule.
func (d *imageDeduplicator) lookupOrInsert(ctx context.Context, fingerprint, url string) (string, bool, error) {
	if canonical, ok := d.pending[fingerprint]; ok {
		if err := d.touch(ctx, fingerprint); err != nil {
			return "", false, err
		}
		return canonical, true, nil
	}

	var canonical string
	err := d.tx.QueryRowContext(ctx,
		`SELECT canonical_url FROM catalog_image_fingerprints WHERE fingerprint = ?`, fingerprint,
	).Scan(&canonical)
	if err == sql.ErrNoRows {
		if _, insertErr := d.tx.ExecContext(ctx,
			`INSERT INTO catalog_image_fingerprints (fingerprint, canonical_url, created_at, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			fingerprint, url,
		); insertErr != nil {
			return "", false, fmt.Errorf("catalog: image fingerprint insert: %w", insertErr)
		}
		d.pending[fingerprint] = url
		return url, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("catalog: image fingerprint lookup: %w", err)
	}

	d.pending[fingerprint] = canonical
	if err := d.touch(ctx, fingerprint); err != nil {
		return "", false, err
	}
	return canonical, true, nil
}

func (d *imageDeduplicator) touch(ctx context.Context, fingerprint string) error {
	_, err := d.tx.ExecContext(ctx,
		`UPDATE catalog_image_fingerprints SET updated_at = CURRENT_TIMESTAMP WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("catalog: image fingerprint touch: %w", err)
	}
	return nil
}
