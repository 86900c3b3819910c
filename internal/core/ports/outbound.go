package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

// RetrievalIndex ranks the sections of one tenant corpus against a query.
type RetrievalIndex interface {
	Search(ctx context.Context, query string, topK int) ([]domain.Hit, error)
	Confidence(hits []domain.Hit) float64
	LookupByTitle(title string) (domain.Section, bool)
}

// IndexBuilder constructs the retrieval variant chosen for the deployment.
type IndexBuilder interface {
	Build(ctx context.Context, tenantID string, sections []domain.Section) (RetrievalIndex, error)
}

// DocumentStore is the read side of the tenant corpus.
type DocumentStore interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	Sections(ctx context.Context, tenantID string) ([]domain.Section, error)
}

// DocumentRepository persists tenant documents and their sections.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Document, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Document, error)
	UpdateFile(ctx context.Context, doc *domain.Document) error
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	Delete(ctx context.Context, tenantID, id string) error
	DeleteTenant(ctx context.Context, tenantID string) error
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	CountTenants(ctx context.Context) (int, error)
	ReplaceSections(ctx context.Context, tenantID, documentID string, sections []domain.Section) error
	ListSections(ctx context.Context, tenantID string) ([]domain.Section, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// MessageQueue carries tenant corpus events between api and worker.
type MessageQueue interface {
	PublishTenantEvent(ctx context.Context, event domain.TenantEvent) error
	SubscribeTenantEvents(ctx context.Context, handler func(context.Context, domain.TenantEvent) error) error
	PublishTenantIndexed(ctx context.Context, tenantID string) error
	SubscribeTenantIndexed(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// SectionSplitter segments extracted text into titled sections.
type SectionSplitter interface {
	Split(text string) []domain.Section
}

// Embedder builds vectors for sections and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache memoizes query embeddings.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, vector []float32) error
}

// VectorStore keeps one nearest-neighbour collection per tenant.
type VectorStore interface {
	Upsert(ctx context.Context, tenantID string, points []domain.VectorPoint) error
	Query(ctx context.Context, tenantID string, vector []float32, k int) ([]domain.VectorMatch, error)
	DeleteCollection(ctx context.Context, tenantID string) error
}

// GenerationBackend runs a single blocking completion.
type GenerationBackend interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// ModelCatalog reports which models the backend can serve.
type ModelCatalog interface {
	AvailableModels(ctx context.Context) ([]string, error)
}

// TenantPolicies resolves per-tenant answer shaping.
type TenantPolicies interface {
	Policy(tenantID string) domain.TenantPolicy
}

// ResolutionMetrics records answer pipeline outcomes.
type ResolutionMetrics interface {
	RecordAnswer(mode domain.Mode, rsq float64)
	RecordRoute(requested, selected domain.Tier, model string)
	RecordGenerationFallback(reason string)
	RecordCopyPaste()
	RecordEngineBuild(duration time.Duration, err error)
}
