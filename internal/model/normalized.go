package model

import (
	"strings"
	"time"
)

// NormalizedRecord is a RawObservation after a ParserHandler has run,
// still missing only the canonical_product_id (assigned by
// CatalogWriter) and the image dedup outputs (also assigned there).
type NormalizedRecord struct {
	ParserName string

	TitleOriginal             string
	TitleNormalized           string
	TitleOriginalNoStopwords  string
	TitleNormalizedNoStopwords string
	Brand                     *string

	Unit            Unit
	AvailableCount  *float64
	PackageQuantity *float64
	PackageUnit     *PackageUnit

	SourceID            *string
	PLU                 *string
	SKU                 *string
	CanonicalProductID  string

	CategoryRaw        *string
	CategoryNormalized *string

	GeoRaw        *string
	GeoNormalized *string

	CompositionRaw        *string
	CompositionNormalized *string

	ImageURLs          []string
	DuplicateImageURLs []string
	ImageFingerprints  []string

	ObservedAt time.Time
	Payload    Value
}

// IdentityCandidates returns the (plu, value), (sku, value),
// (source_id, value) candidates, in priority order, skipping any that
// are absent or whitespace-only.
func (r *NormalizedRecord) IdentityCandidates() []IdentityCandidate {
	out := make([]IdentityCandidate, 0, 3)
	add := func(kind string, value *string) {
		if value == nil {
			return
		}
		trimmed := trimToNil(*value)
		if trimmed == nil {
			return
		}
		out = append(out, IdentityCandidate{Type: kind, Value: *trimmed})
	}
	add("plu", r.PLU)
	add("sku", r.SKU)
	add("source_id", r.SourceID)
	return out
}

func trimToNil(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
