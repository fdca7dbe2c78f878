package parsers

import "regexp"

// Shared title-parsing patterns, grounded on
// original_source/converter/parsers/fixprice/patterns.py and
// original_source/converter/parsers/chizhik/patterns.py.
//
// Go's \b only knows ASCII word characters, so word boundaries next to
// Cyrillic text are spelled out as (?:^|[^\p{L}\p{N}_]) and
// (?:[^\p{L}\p{N}_]|$); they consume the neighbouring separator.
var (
	assortRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])в\s+ассортименте(?:[^\p{L}\p{N}_]|$)`)

	dimCMRe = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*[xх×]\s*\d+(?:[.,]\d+)?(?:\s*[xх×]\s*\d+(?:[.,]\d+)?)?\s*см(?:[^\p{L}\p{N}_]|$)`)

	// wvlRe matches a single weight/volume token: <quantity> <unit>.
	wvlRe = regexp.MustCompile(`(?i)(?P<q>\d+(?:[.,]\d+)?)\s*(?P<u>г|кг|мл|л|l)(?:[^\p{L}\p{N}_]|$)`)

	byWeightRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(весов(?:ой|ая|ые)?|на\s+вес)(?:[^\p{L}\p{N}_]|$)`)
	byVolumeRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(на\s+розлив|розлив|разлив)(?:[^\p{L}\p{N}_]|$)`)

	multipackRe = regexp.MustCompile(`(?i)(?P<count>\d+)\s*[xх×]\s*(?P<q>\d+(?:[.,]\d+)?)\s*(?P<u>г|кг|мл|л|l)(?:[^\p{L}\p{N}_]|$)`)
	packageRe   = regexp.MustCompile(`(?i)(?P<q>\d+(?:[.,]\d+)?)\s*(?P<u>г|кг|мл|л|l)(?:[^\p{L}\p{N}_]|$)`)
	pieceCountRe = regexp.MustCompile(`(?i)(?P<count>\d+)\s*(?:шт|штук)(?:[^\p{L}\p{N}_]|$)`)

	multiSpaceRe = regexp.MustCompile(`\s+`)
	latinRe      = regexp.MustCompile(`(?i)[a-z]`)
	digitRe      = regexp.MustCompile(`\d`)
	wholeNumRe   = regexp.MustCompile(`\b\d+\b`)
)
