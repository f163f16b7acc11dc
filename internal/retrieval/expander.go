package retrieval

import (
	"strings"
)

// MaxVariants bounds how many query variants an expansion produces.
const MaxVariants = 4

// Expander produces alternative phrasings of a query.
type Expander interface {
	Expand(query string) []string
}

// DefaultSynonyms maps tax and procurement terms to their common substitutes.
var DefaultSynonyms = map[string][]string{
	"exempt":        {"exemption", "nontaxable"},
	"exemption":     {"exempt", "exclusion"},
	"taxable":       {"subject to tax"},
	"software":      {"computer program", "digital product"},
	"saas":          {"software as a service", "cloud software"},
	"subscription":  {"license", "recurring service"},
	"license":       {"subscription"},
	"equipment":     {"machinery", "apparatus"},
	"machinery":     {"equipment"},
	"manufacturing": {"production", "fabrication"},
	"repair":        {"maintenance", "servicing"},
	"maintenance":   {"repair"},
	"service":       {"labor"},
	"consulting":    {"professional services"},
	"refund":        {"credit", "overpayment"},
	"medical":       {"health care"},
	"food":          {"grocery"},
	"meals":         {"prepared food"},
	"resale":        {"wholesale"},
	"freight":       {"shipping", "delivery"},
	"shipping":      {"freight", "delivery"},
	"hardware":      {"computer equipment"},
	"utilities":     {"electricity", "energy"},
	"rental":        {"lease"},
	"lease":         {"rental"},
}

// taxContexts are appended to a query that has no synonyms so the expansion
// still reaches rulings phrased in tax terms.
var taxContexts = []string{"sales tax", "tax exemption"}

// SynonymExpander substitutes domain synonyms one term at a time. When the
// table yields fewer than two variants it falls back to a keyword-only form,
// forms with one keyword dropped, and forms anchored in tax terminology.
type SynonymExpander struct {
	table map[string][]string
}

// NewSynonymExpander creates an expander. Entries in overrides replace the
// defaults for the same term.
func NewSynonymExpander(overrides map[string][]string) *SynonymExpander {
	table := make(map[string][]string, len(DefaultSynonyms)+len(overrides))
	for k, v := range DefaultSynonyms {
		table[k] = v
	}
	for k, v := range overrides {
		table[strings.ToLower(k)] = v
	}
	return &SynonymExpander{table: table}
}

// Expand returns up to MaxVariants distinct variants, none equal to the query.
// Any query with at least one word yields at least two.
func (x *SynonymExpander) Expand(query string) []string {
	toks := words(query)
	original := strings.Join(toks, " ")
	seen := map[string]bool{original: true}
	var variants []string

	add := func(v string) {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" || seen[v] || len(variants) >= MaxVariants {
			return
		}
		seen[v] = true
		variants = append(variants, v)
	}

	// Substitute the first synonym of each term, then later synonyms.
	for round := 0; len(variants) < MaxVariants; round++ {
		progressed := false
		for i, tok := range toks {
			syns := x.synonyms(tok)
			if round >= len(syns) {
				continue
			}
			progressed = true
			replaced := make([]string, len(toks))
			copy(replaced, toks)
			replaced[i] = syns[round]
			add(strings.Join(replaced, " "))
		}
		if !progressed {
			break
		}
	}

	if len(variants) < 2 {
		keywords := contentTerms(query)
		if len(keywords) == 0 {
			keywords = toks
		}
		if len(keywords) == 0 {
			return variants
		}
		add(strings.Join(keywords, " "))
		// Dropping a term only helps when enough remain to stay specific.
		if len(keywords) > 2 {
			for i := range keywords {
				rest := make([]string, 0, len(keywords)-1)
				rest = append(rest, keywords[:i]...)
				rest = append(rest, keywords[i+1:]...)
				add(strings.Join(rest, " "))
			}
		}
		for _, ctx := range taxContexts {
			add(strings.Join(keywords, " ") + " " + ctx)
		}
	}
	return variants
}

func (x *SynonymExpander) synonyms(tok string) []string {
	if s, ok := x.table[tok]; ok {
		return s
	}
	return x.table[stem(tok)]
}
