package model

// TitleNormalizationResult is what a ParserHandler's title parser
// produces for a single raw title. BaseHandler merges it with the raw
// observation's own fields per the priority rules in the spec.
type TitleNormalizationResult struct {
	RawTitle string

	NameOriginal string
	Brand        *string

	NameNormalized string

	OriginalNameNoStopwords   string
	NormalizedNameNoStopwords string

	Unit            Unit
	AvailableCount  *float64
	PackageQuantity *float64
	PackageUnit     *PackageUnit
}
