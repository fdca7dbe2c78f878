package parsers

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Open-Inflation/converter/internal/model"
	"github.com/Open-Inflation/converter/internal/textnorm"
)

// ChizhikTitleParser implements the Chizhik chain's title grammar:
// strip trailing pack/weight/piece-count tokens to get the product
// name, then guess a brand from the run of uppercase/title-case/Latin
// words following the first word. Grounded on
// original_source/converter/parsers/chizhik/title_parser.py.
type ChizhikTitleParser struct {
	Normalizer textnorm.Normalizer
}

func toFloatChizhik(value string) float64 {
	return toFloatFixPrice(value)
}

func toPackageQuantityChizhik(quantityRaw, unitRaw string) (*float64, *model.PackageUnit) {
	quantity := toFloatChizhik(quantityRaw)
	unit := strings.ToLower(unitRaw)

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

func extractMultipackChizhik(title string) (*float64, *float64, *model.PackageUnit) {
	matches := multipackRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil, nil, nil
	}
	match := matches[len(matches)-1]
	countIdx := multipackRe.SubexpIndex("count")
	qIdx := multipackRe.SubexpIndex("q")
	uIdx := multipackRe.SubexpIndex("u")

	count, err := strconv.Atoi(match[countIdx])
	if err != nil {
		return nil, nil, nil
	}
	availableCount := float64(count)
	packageQuantity, packageUnit := toPackageQuantityChizhik(match[qIdx], match[uIdx])
	return &availableCount, packageQuantity, packageUnit
}

func extractPackageChizhik(title string) (*float64, *model.PackageUnit) {
	matches := packageRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	match := matches[len(matches)-1]
	qIdx := packageRe.SubexpIndex("q")
	uIdx := packageRe.SubexpIndex("u")
	return toPackageQuantityChizhik(match[qIdx], match[uIdx])
}

func extractPieceCountChizhik(title string) *float64 {
	matches := pieceCountRe.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil
	}
	match := matches[len(matches)-1]
	countIdx := pieceCountRe.SubexpIndex("count")
	count, err := strconv.Atoi(match[countIdx])
	if err != nil {
		return nil
	}
	v := float64(count)
	return &v
}

func stripPackTokensChizhik(title string) string {
	value := multipackRe.ReplaceAllString(title, " ")
	value = packageRe.ReplaceAllString(value, " ")
	value = pieceCountRe.ReplaceAllString(value, " ")
	value = strings.Trim(multiSpaceRe.ReplaceAllString(value, " "), " ,.;:-")
	if value == "" {
		return strings.TrimSpace(title)
	}
	return value
}

func isUppercaseWordChizhik(word string) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsLetter(r) {
			hasLetter = true
			if r != unicode.ToUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func isTitleCaseWordChizhik(word string) bool {
	for _, r := range word {
		if unicode.IsLetter(r) {
			return r == unicode.ToUpper(r)
		}
	}
	return false
}

func extractBrandChizhik(namePart string) *string {
	fields := strings.Fields(namePart)
	words := make([]string, 0, len(fields))
	for _, token := range fields {
		trimmed := strings.Trim(token, ".,;:()[]{}\"'«»")
		if trimmed != "" {
			words = append(words, trimmed)
		}
	}
	if len(words) < 2 {
		return nil
	}

	var candidates []string
	for _, token := range words[1:] {
		if strings.ContainsFunc(token, unicode.IsDigit) {
			break
		}
		if latinRe.MatchString(token) {
			candidates = append(candidates, token)
			continue
		}
		if isUppercaseWordChizhik(token) || isTitleCaseWordChizhik(token) {
			candidates = append(candidates, token)
			continue
		}
		break
	}

	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	result := strings.Join(candidates, " ")
	return &result
}

// Parse implements TitleParser.
func (p *ChizhikTitleParser) Parse(title string) model.TitleNormalizationResult {
	raw := strings.TrimSpace(title)
	nameOriginal := stripPackTokensChizhik(raw)
	brand := extractBrandChizhik(nameOriginal)

	availableCount, packageQuantity, packageUnit := extractMultipackChizhik(raw)
	if availableCount == nil {
		availableCount = extractPieceCountChizhik(raw)
	}
	if packageQuantity == nil && packageUnit == nil {
		packageQuantity, packageUnit = extractPackageChizhik(raw)
	}

	var unit model.Unit
	switch {
	case byWeightRe.MatchString(raw):
		unit = model.UnitWeight
		availableCount = nil
		packageQuantity, packageUnit = nil, nil
	case byVolumeRe.MatchString(raw):
		unit = model.UnitVolume
		availableCount = nil
		packageQuantity, packageUnit = nil, nil
	default:
		unit = model.UnitPiece
	}

	nameForNormalization := nameOriginal
	if brand != nil && !strings.Contains(strings.ToLower(nameOriginal), strings.ToLower(*brand)) {
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

// NewChizhikHandler builds the chizhik Handler. Grounded on
// original_source/converter/parsers/chizhik/handler.py.
func NewChizhikHandler(normalizer textnorm.Normalizer) Handler {
	return &BaseHandler{
		Name:  "chizhik",
		Title: &ChizhikTitleParser{Normalizer: normalizer},
	}
}
