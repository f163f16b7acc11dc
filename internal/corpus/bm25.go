package corpus

import (
	"math"
	"strings"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var lexicalStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "with": true,
}

// terms lower-cases text, splits it on non-alphanumerics and drops stop words.
// Repeated terms are kept so term frequency survives.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !lexicalStopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

// bm25Index is an in-memory Okapi BM25 index over chunk text. It is not safe
// for concurrent use; Index guards it.
type bm25Index struct {
	freqs    map[string]map[string]int
	lengths  map[string]int
	docFreq  map[string]int
	totalLen int
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		freqs:   make(map[string]map[string]int),
		lengths: make(map[string]int),
		docFreq: make(map[string]int),
	}
}

func (b *bm25Index) add(id, text string) {
	b.remove(id)

	tf := make(map[string]int)
	toks := terms(text)
	for _, t := range toks {
		tf[t]++
	}
	for t := range tf {
		b.docFreq[t]++
	}
	b.freqs[id] = tf
	b.lengths[id] = len(toks)
	b.totalLen += len(toks)
}

func (b *bm25Index) remove(id string) {
	tf, ok := b.freqs[id]
	if !ok {
		return
	}
	for t := range tf {
		b.docFreq[t]--
		if b.docFreq[t] == 0 {
			delete(b.docFreq, t)
		}
	}
	b.totalLen -= b.lengths[id]
	delete(b.freqs, id)
	delete(b.lengths, id)
}

// score returns the BM25 score of every accepted document with at least one
// query term.
func (b *bm25Index) score(query string, accept func(id string) bool) map[string]float64 {
	n := len(b.freqs)
	if n == 0 {
		return nil
	}
	avgLen := float64(b.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	qterms := make(map[string]bool)
	for _, t := range terms(query) {
		qterms[t] = true
	}

	scores := make(map[string]float64)
	for t := range qterms {
		df := b.docFreq[t]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		for id, tf := range b.freqs {
			f := tf[t]
			if f == 0 || !accept(id) {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(b.lengths[id])/avgLen
			scores[id] += idf * float64(f) * (bm25K1 + 1) / (float64(f) + bm25K1*norm)
		}
	}
	return scores
}
