package textnorm

import "regexp"

// assortRe matches the idiomatic "в ассортименте" phrase, stripped
// before stop-word tokenization so "ассортимент"/"ассорти" stopwords
// don't have to catch every inflection on their own. The boundaries are
// spelled out because Go's \b only knows ASCII word characters.
var assortRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])в\s+ассортименте(?:[^\p{L}\p{N}_]|$)`)
