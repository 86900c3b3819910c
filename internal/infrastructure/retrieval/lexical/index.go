// Package lexical ranks tenant sections with a TF-IDF vector space over
// word unigrams and bigrams.
package lexical

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
	"github.com/kirillkom/tenant-rag/internal/core/text"
)

const maxDocumentFrequency = 0.95

type Index struct {
	sections []domain.Section
	vocab    map[string]int
	idf      []float64
	vectors  []sparseVector
}

type sparseVector map[int]float64

type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Build(_ context.Context, _ string, sections []domain.Section) (ports.RetrievalIndex, error) {
	return New(sections), nil
}

// New fits the vocabulary and section vectors once; the index is read-only
// afterwards and safe for concurrent use.
func New(sections []domain.Section) *Index {
	idx := &Index{sections: append([]domain.Section(nil), sections...)}
	if len(sections) == 0 {
		return idx
	}

	termsPerSection := make([][]string, len(sections))
	df := make(map[string]int)
	for i, s := range sections {
		terms := ngrams(s.Text)
		termsPerSection[i] = terms
		seen := make(map[string]struct{}, len(terms))
		for _, term := range terms {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	n := len(sections)
	kept := make([]string, 0, len(df))
	if n > 1 {
		limit := maxDocumentFrequency * float64(n)
		for term, count := range df {
			if float64(count) <= limit {
				kept = append(kept, term)
			}
		}
	}
	if len(kept) == 0 {
		for term := range df {
			kept = append(kept, term)
		}
	}
	sort.Strings(kept)

	idx.vocab = make(map[string]int, len(kept))
	idx.idf = make([]float64, len(kept))
	for i, term := range kept {
		idx.vocab[term] = i
		idx.idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}

	idx.vectors = make([]sparseVector, n)
	for i, terms := range termsPerSection {
		idx.vectors[i] = idx.vectorize(terms)
	}
	return idx
}

func (idx *Index) Search(_ context.Context, query string, topK int) ([]domain.Hit, error) {
	if topK <= 0 || len(idx.sections) == 0 || strings.TrimSpace(query) == "" {
		return []domain.Hit{}, nil
	}

	q := idx.vectorize(ngrams(query))
	hits := make([]domain.Hit, len(idx.sections))
	for i, s := range idx.sections {
		hits[i] = domain.Hit{Section: s, Score: domain.ClampScore(dot(q, idx.vectors[i]))}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (idx *Index) Confidence(hits []domain.Hit) float64 {
	return domain.ConfidenceFromHits(hits)
}

func (idx *Index) LookupByTitle(title string) (domain.Section, bool) {
	return lookupByTitle(idx.sections, title)
}

func (idx *Index) vectorize(terms []string) sparseVector {
	vec := make(sparseVector)
	for _, term := range terms {
		if col, ok := idx.vocab[term]; ok {
			vec[col]++
		}
	}
	norm := 0.0
	for col, tf := range vec {
		w := tf * idx.idf[col]
		vec[col] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for col := range vec {
		vec[col] /= norm
	}
	return vec
}

func dot(a, b sparseVector) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	sum := 0.0
	for col, w := range a {
		sum += w * b[col]
	}
	return sum
}

// ngrams returns the unigrams followed by the space-joined bigrams.
func ngrams(s string) []string {
	tokens := text.Tokenize(s)
	if len(tokens) < 2 {
		return tokens
	}
	out := make([]string, 0, 2*len(tokens)-1)
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

func lookupByTitle(sections []domain.Section, title string) (domain.Section, bool) {
	want := strings.ToUpper(strings.TrimSpace(title))
	if want == "" {
		return domain.Section{}, false
	}
	for _, s := range sections {
		if strings.ToUpper(strings.TrimSpace(s.Title)) == want {
			return s, true
		}
	}
	return domain.Section{}, false
}
