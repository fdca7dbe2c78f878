package parsers

import (
	"regexp"
	"strings"

	"github.com/Open-Inflation/converter/internal/model"
)

// TitleParser produces a TitleNormalizationResult from a raw title
// string. Each registered Handler owns exactly one TitleParser.
type TitleParser interface {
	Parse(title string) model.TitleNormalizationResult
}

// StringNormalizer turns a raw optional string field (category, geo,
// composition) into its normalized form, or nil if nothing survives.
type StringNormalizer func(value *string) *string

var spacesRe = regexp.MustCompile(`\s+`)

// DefaultNormalizeString lowercases, folds ё→е, and collapses
// whitespace, returning nil for an empty/whitespace-only result. This
// is the shared baseline every handler falls back to for geo and
// composition, and for category when the handler has no richer
// override.
func DefaultNormalizeString(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := spacesRe.ReplaceAllString(
		strings.ToLower(strings.ReplaceAll(strings.TrimSpace(*value), "ё", "е")),
		" ",
	)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

func rawString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// BaseHandler implements the shared merge logic all three parser
// handlers share (spec §4.1): title parsing dispatch, brand/unit/
// available_count precedence, the all-or-nothing package rule, and
// category/geo/composition normalization through pluggable
// StringNormalizer functions.
type BaseHandler struct {
	Name                string
	Title               TitleParser
	NormalizeCategory   StringNormalizer
	NormalizeGeo        StringNormalizer
	NormalizeComposition StringNormalizer
}

// ParserName returns the handler's registered name.
func (b *BaseHandler) ParserName() string {
	return b.Name
}

// Handle runs the full per-record normalization pipeline described in
// spec §4.1.
func (b *BaseHandler) Handle(raw model.RawObservation) model.NormalizedRecord {
	title := b.Title.Parse(raw.Title)

	brand := firstNonEmpty(title.Brand, raw.Brand)

	unit := title.Unit
	if raw.Unit != nil {
		unit = *raw.Unit
	}

	availableCount := title.AvailableCount
	if raw.AvailableCount != nil {
		availableCount = raw.AvailableCount
	}

	packageQuantity, packageUnit := applyPackageRule(raw, title)

	categoryNormalizer := b.NormalizeCategory
	if categoryNormalizer == nil {
		categoryNormalizer = DefaultNormalizeString
	}
	geoNormalizer := b.NormalizeGeo
	if geoNormalizer == nil {
		geoNormalizer = DefaultNormalizeString
	}
	compositionNormalizer := b.NormalizeComposition
	if compositionNormalizer == nil {
		compositionNormalizer = DefaultNormalizeString
	}

	return model.NormalizedRecord{
		ParserName: b.Name,

		TitleOriginal:              title.NameOriginal,
		TitleNormalized:            title.NameNormalized,
		TitleOriginalNoStopwords:   title.OriginalNameNoStopwords,
		TitleNormalizedNoStopwords: title.NormalizedNameNoStopwords,
		Brand:                      brand,

		Unit:            unit,
		AvailableCount:  availableCount,
		PackageQuantity: packageQuantity,
		PackageUnit:     packageUnit,

		SourceID: raw.SourceID,
		PLU:      raw.PLU,
		SKU:      raw.SKU,

		CategoryRaw:        rawString(raw.Category),
		CategoryNormalized: categoryNormalizer(raw.Category),

		GeoRaw:        rawString(raw.Geo),
		GeoNormalized: geoNormalizer(raw.Geo),

		CompositionRaw:        rawString(raw.Composition),
		CompositionNormalized: compositionNormalizer(raw.Composition),

		ImageURLs:  append([]string(nil), raw.ImageURLs...),
		ObservedAt: raw.ObservedAt,
		Payload:    model.CloneValue(raw.Payload).(model.Value),
	}
}

// applyPackageRule implements the all-or-nothing pair rule: if exactly
// one of (package_quantity, package_unit) is present on the raw
// observation, both are replaced by the title parser's pair (which
// itself may be both-null).
func applyPackageRule(raw model.RawObservation, title model.TitleNormalizationResult) (*float64, *model.PackageUnit) {
	quantity := raw.PackageQuantity
	unit := raw.PackageUnit

	bothNil := quantity == nil && unit == nil
	exactlyOne := (quantity == nil) != (unit == nil)

	if bothNil || exactlyOne {
		return title.PackageQuantity, title.PackageUnit
	}
	return quantity, unit
}

func firstNonEmpty(preferred, fallback *string) *string {
	if preferred != nil && strings.TrimSpace(*preferred) != "" {
		return preferred
	}
	return fallback
}
