package parsers

import (
	"strconv"
	"strings"

	"github.com/Open-Inflation/converter/internal/model"
	"github.com/Open-Inflation/converter/internal/textnorm"
)

// FixPriceTitleParser implements the FixPrice chain's title grammar:
// comma-separated name/brand, trailing weight or volume token,
// by-weight/by-volume markers overriding the unit, and a numeric
// piece-count heuristic. Grounded on
// original_source/converter/parsers/fixprice/title_parser.py.
type FixPriceTitleParser struct {
	Normalizer textnorm.Normalizer
}

func splitByCommasFixPrice(title string) []string {
	noAssort := strings.Trim(strings.TrimSpace(assortRe.ReplaceAllString(title, " ")), " ,")
	rawParts := strings.Split(noAssort, ",")
	parts := make([]string, 0, len(rawParts))
	for _, part := range rawParts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func toFloatFixPrice(value string) float64 {
	normalized := strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0
	}
	return f
}

func extractPackageFixPrice(title string) (*float64, *model.PackageUnit) {
	matches := wvlRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	match := matches[len(matches)-1]
	quantity := toFloatFixPrice(match[wvlRe.SubexpIndex("q")])
	unit := strings.ToLower(match[wvlRe.SubexpIndex("u")])

	kgm := model.PackageUnitWeight
	ltr := model.PackageUnitVolume

	switch unit {
	case "г":
		q := quantity / 1000.0
		return &q, &kgm
	case "кг":
		return &quantity, &kgm
	case "мл":
		q := quantity / 1000.0
		return &q, &ltr
	case "л", "l":
		return &quantity, &ltr
	default:
		return nil, nil
	}
}

func extractCountHeuristicFixPrice(title string) *float64 {
	scrubbed := dimCMRe.ReplaceAllString(title, " ")
	scrubbed = wvlRe.ReplaceAllString(scrubbed, " ")
	scrubbed = assortRe.ReplaceAllString(scrubbed, " ")

	matches := wholeNumRe.FindAllString(scrubbed, -1)
	if len(matches) == 0 {
		return nil
	}
	numbers := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m)
		if err == nil {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		return nil
	}

	var plausible []int
	for _, n := range numbers {
		if n >= 2 && n <= 200 {
			plausible = append(plausible, n)
		}
	}
	if len(plausible) > 0 {
		v := float64(plausible[len(plausible)-1])
		return &v
	}

	if len(numbers) == 1 && numbers[0] >= 1 && numbers[0] <= 200 {
		v := float64(numbers[0])
		return &v
	}
	return nil
}

func guessBrandFixPrice(parts []string, normalizer textnorm.Normalizer) *string {
	if len(parts) < 2 {
		return nil
	}
	candidate := parts[1]
	if dimCMRe.MatchString(candidate) || wvlRe.MatchString(candidate) || wholeNumRe.MatchString(candidate) {
		return nil
	}
	if len([]rune(normalizer.CleanText(candidate))) < 2 {
		return nil
	}
	return &candidate
}

// Parse implements TitleParser.
func (p *FixPriceTitleParser) Parse(title string) model.TitleNormalizationResult {
	raw := strings.TrimSpace(title)
	parts := splitByCommasFixPrice(raw)

	nameOriginal := raw
	if len(parts) > 0 {
		nameOriginal = parts[0]
	}
	brand := guessBrandFixPrice(parts, p.Normalizer)

	titleWithoutAssort := strings.Trim(strings.TrimSpace(assortRe.ReplaceAllString(raw, " ")), " ,")

	packageQuantity, packageUnit := extractPackageFixPrice(titleWithoutAssort)
	count := extractCountHeuristicFixPrice(titleWithoutAssort)

	var unit model.Unit
	var availableCount *float64

	switch {
	case byWeightRe.MatchString(titleWithoutAssort):
		unit = model.UnitWeight
		availableCount = nil
		packageQuantity, packageUnit = nil, nil
	case byVolumeRe.MatchString(titleWithoutAssort):
		unit = model.UnitVolume
		availableCount = nil
		packageQuantity, packageUnit = nil, nil
	default:
		unit = model.UnitPiece
		availableCount = count
	}

	nameForNormalization := nameOriginal
	if brand != nil {
		nameForNormalization = nameOriginal + " " + *brand
	}
	nameNormalized := p.Normalizer.Lemmatize(nameForNormalization)

	originalWithoutStopwords := p.Normalizer.RemoveStopwords(nameOriginal)
	normalizedWithoutStopwords := p.Normalizer.RemoveStopwords(nameNormalized)

	return model.TitleNormalizationResult{
		RawTitle:                  raw,
		NameOriginal:              nameOriginal,
		Brand:                     brand,
		NameNormalized:            nameNormalized,
		OriginalNameNoStopwords:   originalWithoutStopwords,
		NormalizedNameNoStopwords: normalizedWithoutStopwords,
		Unit:                      unit,
		AvailableCount:            availableCount,
		PackageQuantity:           packageQuantity,
		PackageUnit:               packageUnit,
	}
}

// NewFixPriceHandler builds the fixprice Handler: its title parser and
// its category/composition overrides both route through the shared
// normalizer. Grounded on
// original_source/converter/parsers/fixprice/handler.py.
func NewFixPriceHandler(normalizer textnorm.Normalizer) Handler {
	titleParser := &FixPriceTitleParser{Normalizer: normalizer}

	return &BaseHandler{
		Name:  "fixprice",
		Title: titleParser,
		NormalizeCategory: func(value *string) *string {
			base := DefaultNormalizeString(value)
			if base == nil {
				return nil
			}
			return NormalizeCategoryText(*base, normalizer)
		},
		NormalizeComposition: func(value *string) *string {
			base := DefaultNormalizeString(value)
			if base == nil {
				return nil
			}
			result := NormalizeCompositionCommaSpacing(*base)
			return &result
		},
	}
}
