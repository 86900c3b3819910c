// Package semantic ranks tenant sections by embedding similarity against the
// tenant's vector collection.
package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

type Index struct {
	tenantID string
	sections []domain.Section
	byKey    map[string]domain.Section
	order    map[string]int
	embedder ports.Embedder
	vectors  ports.VectorStore
	cache    ports.EmbeddingCache
}

type Builder struct {
	embedder ports.Embedder
	vectors  ports.VectorStore
	cache    ports.EmbeddingCache
}

// NewBuilder wires the shared embedder and vector store. cache may be nil.
func NewBuilder(embedder ports.Embedder, vectors ports.VectorStore, cache ports.EmbeddingCache) *Builder {
	return &Builder{embedder: embedder, vectors: vectors, cache: cache}
}

// Build wraps the tenant collection populated by the worker. It does not
// embed the corpus itself.
func (b *Builder) Build(_ context.Context, tenantID string, sections []domain.Section) (ports.RetrievalIndex, error) {
	if b.embedder == nil || b.vectors == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "build semantic index", fmt.Errorf("embedder and vector store are required"))
	}
	idx := &Index{
		tenantID: tenantID,
		sections: append([]domain.Section(nil), sections...),
		byKey:    make(map[string]domain.Section, len(sections)),
		order:    make(map[string]int, len(sections)),
		embedder: b.embedder,
		vectors:  b.vectors,
		cache:    b.cache,
	}
	for i, s := range sections {
		key := domain.SectionPointKey(s)
		idx.byKey[key] = s
		idx.order[key] = i
	}
	return idx, nil
}

func (idx *Index) Search(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	if topK <= 0 || len(idx.sections) == 0 || strings.TrimSpace(query) == "" {
		return []domain.Hit{}, nil
	}

	vector, err := idx.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := idx.vectors.Query(ctx, idx.tenantID, vector, topK)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "query vector store", err)
	}

	hits := make([]domain.Hit, 0, len(matches))
	for _, m := range matches {
		section, ok := idx.resolve(m)
		if !ok {
			continue
		}
		hits = append(hits, domain.Hit{Section: section, Score: 1 - domain.ClampScore(m.Distance)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return idx.order[domain.SectionPointKey(hits[i].Section)] < idx.order[domain.SectionPointKey(hits[j].Section)]
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (idx *Index) Confidence(hits []domain.Hit) float64 {
	return domain.ConfidenceFromHits(hits)
}

func (idx *Index) LookupByTitle(title string) (domain.Section, bool) {
	want := strings.ToUpper(strings.TrimSpace(title))
	if want == "" {
		return domain.Section{}, false
	}
	for _, s := range idx.sections {
		if strings.ToUpper(strings.TrimSpace(s.Title)) == want {
			return s, true
		}
	}
	return domain.Section{}, false
}

// resolve maps a match back to the corpus snapshot. Points left over from a
// newer or older index generation are dropped.
func (idx *Index) resolve(m domain.VectorMatch) (domain.Section, bool) {
	key := domain.SectionPointKey(domain.Section{
		TenantID:   idx.tenantID,
		DocumentID: m.Metadata["document_id"],
		ID:         m.Metadata["section_id"],
	})
	s, ok := idx.byKey[key]
	return s, ok
}

func (idx *Index) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := cacheKey(query)
	if idx.cache != nil {
		vector, ok, err := idx.cache.GetEmbedding(ctx, key)
		if err != nil {
			slog.Warn("embedding_cache_get_failed", "tenant_id", idx.tenantID, "error", err)
		} else if ok {
			return vector, nil
		}
	}

	vector, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "embed query", err)
	}
	if idx.cache != nil {
		if err := idx.cache.SetEmbedding(ctx, key, vector); err != nil {
			slog.Warn("embedding_cache_set_failed", "tenant_id", idx.tenantID, "error", err)
		}
	}
	return vector, nil
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return hex.EncodeToString(sum[:])
}
