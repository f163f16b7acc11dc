package pattern

import (
	"sort"
	"strings"
	"unicode"
)

// stopWords are dropped during keyword extraction. The list mixes common
// English function words with generic transaction vocabulary that carries no
// signal about what was bought.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "into": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "with": true, "our": true, "your": true, "this": true, "that": true,

	"purchase": true, "purchases": true, "payment": true, "payments": true,
	"order": true, "orders": true, "invoice": true, "transaction": true,
	"pos": true, "debit": true, "credit": true, "card": true, "charge": true,
	"fee": true, "misc": true, "item": true, "items": true, "total": true,
	"ref": true, "txn": true, "online": true, "sale": true,
}

// corporateSuffixes are ignored when building a vendor's fuzzy keyword set.
var corporateSuffixes = map[string]bool{
	"inc": true, "corp": true, "corporation": true, "co": true, "company": true,
	"llc": true, "ltd": true, "limited": true, "plc": true, "gmbh": true,
}

// tokenize lower-cases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizeVendor returns the exact-match key for a vendor name.
func NormalizeVendor(name string) string {
	return strings.Join(tokenize(name), " ")
}

// ExtractKeywords returns the sorted, deduplicated keyword set of free text.
func ExtractKeywords(text string) []string {
	return keywordSet(tokenize(text), nil)
}

// VendorKeywords returns the fuzzy keyword set of a vendor name.
func VendorKeywords(name string) []string {
	return keywordSet(tokenize(name), corporateSuffixes)
}

func keywordSet(tokens []string, extra map[string]bool) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 2 || stopWords[tok] || extra[tok] || isNumeric(tok) || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Signature joins a keyword set into its canonical lookup key.
func Signature(keywords []string) string {
	return strings.Join(keywords, "|")
}

// ParseSignature splits and normalizes a caller-supplied signature.
func ParseSignature(sig string) []string {
	return keywordSet(strings.FieldsFunc(strings.ToLower(sig), func(r rune) bool {
		return r == '|' || unicode.IsSpace(r)
	}), nil)
}

// Overlap is the Jaccard similarity of two sorted keyword sets.
func Overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inA := make(map[string]bool, len(a))
	for _, k := range a {
		inA[k] = true
	}
	shared := 0
	union := len(a)
	for _, k := range b {
		if inA[k] {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
