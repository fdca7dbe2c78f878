package parsers

import "github.com/Open-Inflation/converter/internal/textnorm"

// NewPerekrestokHandler builds the perekrestok Handler. Perekrestok's
// title format follows the same multipack/package/piece-count grammar
// as Chizhik, so its title parser is ChizhikTitleParser registered
// under a different name rather than a duplicate implementation.
// Grounded on original_source/converter/parsers/perekrestok/title_parser.py
// (an empty subclass of ChizhikTitleParser).
func NewPerekrestokHandler(normalizer textnorm.Normalizer) Handler {
	return &BaseHandler{
		Name:  "perekrestok",
		Title: &ChizhikTitleParser{Normalizer: normalizer},
	}
}
