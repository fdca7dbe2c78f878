// Package textnorm provides the injectable text-normalization capability
// that parser handlers call into for title/category/geo cleanup: lemma
// lookup, stop-word removal, and Cyrillic/Latin confusable cleanup.
//
// The spec treats the linguistic internals as an external, swappable
// capability and only fixes the contract: Lemmatize returns a stable
// canonical form, RemoveStopwords is idempotent, and both preserve unit
// tokens (см, мм, г, кг, л, мл, шт) verbatim. Normalizer is the
// injection point; RussianNormalizer is this module's default
// implementation, grounded on the teacher's RussianLemmatizer /
// RussianStemmer (normalization/algorithms/lemmatizer.go,
// normalization/algorithms/stemmer.go) with a Snowball stemmer fallback
// for tokens absent from the hand-built lemma dictionary.
package textnorm

import (
	"strings"
	"sync"
	"unicode"

	"github.com/kljensen/snowball/russian"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is the capability parser handlers depend on. It must be
// safe to share across goroutines: a single instance is constructed
// once (dictionary + stemmer initialization is costly) and injected
// into every ParserHandler.
type Normalizer interface {
	// CleanText lowercases, folds ё→е, strips punctuation other than
	// .,-×x, and collapses whitespace.
	CleanText(text string) string

	// Tokenize splits cleaned text into word tokens.
	Tokenize(text string) []string

	// Lemmatize returns the lemmatized form of text: unit tokens are
	// kept verbatim, everything else is looked up in the lemma
	// dictionary, falling back to a Snowball stem.
	Lemmatize(text string) string

	// RemoveStopwords strips a fixed set of connective and
	// pack/assortment stopwords from text. Idempotent: calling it
	// again on its own output returns the same string.
	RemoveStopwords(text string) string
}

// unitTokens are preserved verbatim by Lemmatize and never dropped by
// RemoveStopwords.
var unitTokens = map[string]bool{
	"см": true, "мм": true, "г": true, "кг": true,
	"л": true, "мл": true, "шт": true,
}

// stopWords is the fixed small list of connectives and pack/assortment
// words dropped by RemoveStopwords, grounded on
// original_source/converter/parsers/fixprice/patterns.py STOPWORDS.
var stopWords = map[string]bool{
	"в": true, "на": true, "для": true, "и": true, "с": true, "со": true,
	"по": true, "из": true, "к": true, "от": true, "при": true, "под": true,
	"над": true, "без": true, "про": true, "за": true, "у": true, "о": true,
	"об": true, "обо": true, "это": true, "эта": true, "этот": true, "эти": true,
	"ассортимент": true, "ассорти": true, "уп": true, "уп.": true,
	"упаковка": true, "упаковки": true,
}

// RussianNormalizer is the default Normalizer: a small hand-built lemma
// dictionary for common Russian grocery vocabulary, falling back to the
// Snowball Russian stemmer for anything the dictionary misses.
type RussianNormalizer struct {
	mu        sync.RWMutex
	cache     map[string]string
	lemmaDict map[string]string
}

// NewRussianNormalizer builds a Normalizer with its dictionary
// initialized once; the returned value is safe to share across
// goroutines.
func NewRussianNormalizer() *RussianNormalizer {
	n := &RussianNormalizer{
		cache:     make(map[string]string),
		lemmaDict: make(map[string]string),
	}
	n.initDictionary()
	return n
}

// initDictionary seeds common word -> lemma mappings for grocery
// vocabulary, following the teacher's RussianLemmatizer.initDictionary.
func (n *RussianNormalizer) initDictionary() {
	commonWords := map[string]string{
		"масла": "масло", "маслом": "масло", "масле": "масло", "маслами": "масло", "масло": "масло",
		"молока": "молоко", "молоком": "молоко", "молоке": "молоко", "молоко": "молоко",
		"хлеба": "хлеб", "хлебом": "хлеб", "хлебе": "хлеб", "хлеб": "хлеб",
		"сыра": "сыр", "сыром": "сыр", "сыре": "сыр", "сыр": "сыр",
		"яйца": "яйцо", "яйцом": "яйцо", "яйце": "яйцо", "яиц": "яйцо", "яйцо": "яйцо",
		"шоколада": "шоколад", "шоколадом": "шоколад", "шоколаде": "шоколад", "шоколад": "шоколад",
		"конфеты": "конфета", "конфет": "конфета", "конфетой": "конфета", "конфета": "конфета",
		"печенья": "печенье", "печеньем": "печенье", "печенье": "печенье",
		"чая": "чай", "чаем": "чай", "чае": "чай", "чай": "чай",
		"кофе": "кофе",
		"сока": "сок", "соком": "сок", "соке": "сок", "сок": "сок",
		"воды": "вода", "водой": "вода", "воде": "вода", "вода": "вода",
		"гелевая": "гелевый", "гелевой": "гелевый", "гелевые": "гелевый", "гелевый": "гелевый",
		"ручка": "ручка", "ручки": "ручка", "ручкой": "ручка", "ручке": "ручка",
		"травяной": "травяной", "травяная": "травяной", "травяное": "травяной",
		"молочные": "молочный", "молочная": "молочный", "молочное": "молочный", "молочного": "молочный", "молочный": "молочный",
	}
	n.lemmaDict = commonWords
}

// CleanText lowercases, folds ё→е, normalizes Unicode to NFC, strips
// diacritics and punctuation other than .,-×x, and collapses
// whitespace.
func (n *RussianNormalizer) CleanText(text string) string {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = strings.ReplaceAll(cleaned, "ё", "е")
	cleaned = nfcFold(cleaned)
	cleaned = stripQuotesAndPunct(cleaned)
	cleaned = collapseWhitespace(cleaned)
	return strings.TrimSpace(cleaned)
}

// nfcFold runs NFC normalization followed by combining-mark removal,
// the way the teacher's normalizeUnicode/removeDiacritics pair does for
// Latin diacritics, but backed by golang.org/x/text instead of a
// hand-rolled replacement table. Cyrillic letters are kept whole, so
// "й" stays "й".
func nfcFold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	var b strings.Builder
	for _, r := range norm.NFC.String(text) {
		folded, _, err := transform.String(t, string(r))
		if err != nil || unicode.Is(unicode.Cyrillic, r) {
			folded = string(r)
		}
		b.WriteString(folded)
	}
	return b.String()
}

func stripQuotesAndPunct(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r == '"' || r == '“' || r == '”' || r == '«' || r == '»':
			continue
		case r == '×':
			b.WriteRune('x')
		case r == 'х':
			// isolated Cyrillic "х" used as a multiplication sign stays,
			// real confusable folding happens at the token level in
			// foldConfusableToken.
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		case r == '.' || r == ',' || r == '-' || r == 'x':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// foldConfusableToken maps an isolated ambiguous single-letter token
// into its Cyrillic counterpart, e.g. the Latin "x" appearing on its
// own (not as part of a larger word) becomes "х": a lone "x" token such
// as the one in "10 x 1.5" is really the Cyrillic multiplication
// marker, not the Latin letter.
func foldConfusableToken(token string) string {
	if token == "x" {
		return "х"
	}
	return token
}

var tokenRunes = func(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-')
}

// Tokenize splits cleaned text on everything but letters, digits, and
// internal hyphens.
func (n *RussianNormalizer) Tokenize(text string) []string {
	cleaned := n.CleanText(text)
	fields := strings.FieldsFunc(cleaned, tokenRunes)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = foldConfusableToken(f)
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isCyrillic(token string) bool {
	for _, r := range token {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}

// Lemmatize tokenizes text and replaces each Cyrillic token with its
// dictionary lemma, falling back to a Snowball stem; unit tokens and
// non-Cyrillic tokens pass through verbatim. The result is cached per
// input string.
func (n *RussianNormalizer) Lemmatize(text string) string {
	n.mu.RLock()
	if cached, ok := n.cache[text]; ok {
		n.mu.RUnlock()
		return cached
	}
	n.mu.RUnlock()

	tokens := n.Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}

	lemmas := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if unitTokens[token] {
			lemmas = append(lemmas, token)
			continue
		}
		if !isCyrillic(token) {
			lemmas = append(lemmas, token)
			continue
		}
		if lemma, ok := n.lemmaDict[token]; ok {
			lemmas = append(lemmas, lemma)
			continue
		}
		lemmas = append(lemmas, russian.Stem(token, false))
	}

	result := strings.Join(lemmas, " ")

	n.mu.Lock()
	n.cache[text] = result
	n.mu.Unlock()

	return result
}

// RemoveStopwords tokenizes text (after stripping the "в ассортименте"
// phrase) and drops any token in the fixed stopword list, keeping unit
// tokens verbatim. Calling it on its own output is a no-op since none
// of the surviving tokens are stopwords.
func (n *RussianNormalizer) RemoveStopwords(text string) string {
	withoutAssort := assortRe.ReplaceAllString(text, " ")
	tokens := n.Tokenize(withoutAssort)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if unitTokens[token] {
			out = append(out, token)
			continue
		}
		if stopWords[token] {
			continue
		}
		out = append(out, token)
	}
	return strings.TrimSpace(strings.Join(out, " "))
}
