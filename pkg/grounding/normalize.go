package grounding

import (
	"strings"
	"unicode"
)

var honorifics = map[string]struct{}{
	"sir": {}, "maam": {}, "madam": {}, "mam": {},
	"mr": {}, "mrs": {}, "ms": {}, "miss": {}, "dr": {},
}

// NormalizeName lowercases the name, drops punctuation and honorifics and
// collapses whitespace. "Divyam Sir" and "divyam" normalize to the same key.
func NormalizeName(name string) string {
	var words []string
	for _, w := range tokenize(name) {
		if _, ok := honorifics[w]; ok {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

// tokenize splits text into lowercase words. Apostrophes are removed inside
// a word so "Ma'am" becomes "maam"; "/" joins words so "H/C" stays one token.
func tokenize(text string) []string {
	text = strings.NewReplacer("'", "", "’", "", "/", "").Replace(strings.ToLower(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
