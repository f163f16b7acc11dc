package retrieval

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "has": true, "have": true, "had": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"its": true, "which": true, "what": true, "when": true, "where": true,
}

// words lower-cases text and splits it on anything that is not a letter or digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// contentTerms returns the distinct stemmed terms of text longer than two
// characters that are not stop words, in first-seen order.
func contentTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(text) {
		if len(w) <= 2 || stopWords[w] {
			continue
		}
		s := stem(w)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// stem strips common English plural endings.
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

// termCoverage is the fraction of query terms present in the text.
func termCoverage(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]bool)
	for _, t := range contentTerms(text) {
		present[t] = true
	}
	hits := 0
	for _, q := range queryTerms {
		if present[q] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}
