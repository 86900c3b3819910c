package ports

import (
	"context"
	"io"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

// AnswerResolver is the inbound contract for answering a tenant-scoped question.
type AnswerResolver interface {
	Resolve(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error)
}

// TenantDocumentService manages the documents that make up a tenant corpus.
type TenantDocumentService interface {
	Upload(ctx context.Context, tenantID, filename, mimeType string, body io.Reader) (*domain.Document, error)
	Update(ctx context.Context, tenantID, documentID, filename, mimeType string, body io.Reader) (*domain.Document, error)
	Delete(ctx context.Context, tenantID, documentID string) error
	DeleteTenant(ctx context.Context, tenantID string) error
	List(ctx context.Context, tenantID string) ([]domain.Document, error)
	Get(ctx context.Context, tenantID, documentID string) (*domain.Document, error)
	CountTenants(ctx context.Context) (int, error)
}

// TenantEventProcessor is the inbound contract for asynchronous corpus rebuilds.
type TenantEventProcessor interface {
	HandleEvent(ctx context.Context, event domain.TenantEvent) error
}

// SectionLookup resolves a section of a tenant corpus by its title.
type SectionLookup interface {
	LookupSection(ctx context.Context, tenantID, title string) (domain.Section, error)
}

// ModelAdmin exposes the routed model table.
type ModelAdmin interface {
	Tiers() []domain.ModelTierConfig
	InstalledModels(ctx context.Context) ([]string, error)
	Reload() error
}
