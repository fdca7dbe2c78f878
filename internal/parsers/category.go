package parsers

import (
	"regexp"
	"strings"

	"github.com/Open-Inflation/converter/internal/textnorm"
)

var (
	categorySeparatorsRe = regexp.MustCompile(`[/,]+`)
	commaSpacesRe        = regexp.MustCompile(`\s*,\s*`)
)

// NormalizeCategoryText replaces FixPrice's category separators with
// spaces, then runs the result through lemmatization and stopword
// removal, falling back to the lemmatized form if stopword removal
// empties it out. Grounded on
// original_source/converter/parsers/category_normalization.py.
func NormalizeCategoryText(value string, normalizer textnorm.Normalizer) *string {
	collapsed := strings.TrimSpace(spacesRe.ReplaceAllString(categorySeparatorsRe.ReplaceAllString(value, " "), " "))
	if collapsed == "" {
		return nil
	}

	lemmatized := normalizer.Lemmatize(collapsed)
	if lemmatized == "" {
		return nil
	}

	withoutStopwords := normalizer.RemoveStopwords(lemmatized)
	if withoutStopwords == "" {
		return &lemmatized
	}
	return &withoutStopwords
}

// NormalizeCompositionCommaSpacing collapses irregular comma spacing in
// an already-cleaned composition string ("сахар ,соль" -> "сахар,
// соль"). Grounded on FixPriceHandler.normalize_composition.
func NormalizeCompositionCommaSpacing(value string) string {
	return commaSpacesRe.ReplaceAllString(value, ", ")
}
