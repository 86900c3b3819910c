package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

type SectionLookupUseCase struct {
	store    ports.DocumentStore
	registry *TenantRegistry
}

func NewSectionLookupUseCase(store ports.DocumentStore, registry *TenantRegistry) *SectionLookupUseCase {
	return &SectionLookupUseCase{store: store, registry: registry}
}

func (uc *SectionLookupUseCase) LookupSection(ctx context.Context, tenantID, title string) (domain.Section, error) {
	if strings.TrimSpace(title) == "" {
		return domain.Section{}, domain.WrapError(domain.ErrInvalidInput, "lookup section", errors.New("title is required"))
	}
	exists, err := uc.store.TenantExists(ctx, tenantID)
	if err != nil {
		return domain.Section{}, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return domain.Section{}, domain.WrapError(domain.ErrTenantNotFound, "lookup section", fmt.Errorf("tenant %q", tenantID))
	}
	engine, err := uc.registry.Get(ctx, tenantID)
	if err != nil {
		return domain.Section{}, fmt.Errorf("load tenant engine: %w", err)
	}
	section, ok := engine.Index.LookupByTitle(title)
	if !ok {
		return domain.Section{}, domain.WrapError(domain.ErrDocumentNotFound, "lookup section", fmt.Errorf("no section titled %q", title))
	}
	return section, nil
}
