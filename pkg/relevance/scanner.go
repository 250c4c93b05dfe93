package relevance

import (
	"strings"
	"unicode"

	"github.com/topperstoolkit/doubts/pkg/model"
)

// Field weights. Exact phrase hits on name, URL and use cases outrank purpose
// hits, which outrank loose token overlap.
const (
	weightName     = 10
	weightURL      = 10
	weightUseCase  = 6
	weightPurpose  = 4
	weightOverlap  = 1
	minTokenLength = 3
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "you": {}, "your": {}, "can": {},
	"how": {}, "what": {}, "where": {}, "who": {}, "why": {}, "when": {}, "which": {}, "with": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "from": {}, "have": {}, "has": {}, "here": {},
	"there": {}, "they": {}, "their": {}, "them": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"about": {}, "into": {}, "also": {}, "just": {}, "any": {}, "all": {}, "not": {}, "get": {},
	"does": {}, "did": {}, "our": {}, "its": {}, "topper": {}, "toppers": {}, "toolkit": {},
}

// Match is a scored catalog entry
type Match struct {
	Service *model.ServiceDescriptor
	Score   int
}

// Scanner selects the single most relevant service for a query. The catalog
// is small and static, so a linear scan is all it does.
type Scanner struct {
	catalog []*model.ServiceDescriptor
}

func New(catalog []*model.ServiceDescriptor) *Scanner {
	return &Scanner{catalog: catalog}
}

// Best returns the highest scoring service, or nil when nothing scores above
// zero. Ties go to the earliest entry in catalog order.
func (s *Scanner) Best(query string) *Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	tokens := contentTokens(q)

	var best *Match
	for _, svc := range s.catalog {
		score := Score(q, tokens, svc)
		if score > 0 && (best == nil || score > best.Score) {
			best = &Match{Service: svc, Score: score}
		}
	}
	return best
}

// Score computes the relevance of one service for a lowercased query and its
// content tokens.
func Score(query string, tokens []string, svc *model.ServiceDescriptor) int {
	score := 0
	q := phrase(query)
	meaningful := len(tokens) > 0

	if fieldHit(q, phrase(svc.Name), meaningful) {
		score += weightName
	}
	if url := normalizeURL(svc.URL); url != "" && strings.Contains(normalizeURL(query), url) {
		score += weightURL
	}
	for _, uc := range svc.KeyUseCases {
		if fieldHit(q, phrase(uc), meaningful) {
			score += weightUseCase
		}
	}
	purpose := strings.ToLower(svc.Purpose)
	if fieldHit(q, phrase(purpose), meaningful) {
		score += weightPurpose
	}

	// descriptor content against query unigrams
	fields := strings.ToLower(svc.Name + " " + strings.Join(svc.KeyUseCases, " ") + " " + purpose)
	fieldTokens := make(map[string]struct{})
	for _, t := range contentTokens(fields) {
		fieldTokens[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := fieldTokens[t]; ok {
			score += weightOverlap
		}
	}

	return score
}

// fieldHit reports a whole-word phrase hit in either direction. Both
// arguments come from phrase. The field-contains-query direction needs a
// query with at least one content token, so "the" or a word fragment never
// matches.
func fieldHit(query, field string, meaningful bool) bool {
	if strings.TrimSpace(field) == "" || strings.TrimSpace(query) == "" {
		return false
	}
	if strings.Contains(query, field) {
		return true
	}
	return meaningful && strings.Contains(field, query)
}

// phrase lowercases text into space separated words padded with a space on
// each side, so substring checks land on word boundaries.
func phrase(text string) string {
	return " " + strings.Join(words(strings.ToLower(text)), " ") + " "
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalizeURL drops the scheme and trailing slash so "topperstoolkit.netlify.app"
// matches "https://topperstoolkit.netlify.app/".
func normalizeURL(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimSuffix(s, "/")
}

func contentTokens(text string) []string {
	all := words(text)
	out := all[:0]
	for _, w := range all {
		if len(w) < minTokenLength {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}
