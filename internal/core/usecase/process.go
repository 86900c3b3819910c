package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

const embedBatchSize = 32

// ProcessTenantUseCase turns uploaded documents into sections and rebuilds
// the tenant's semantic index from the full section set.
type ProcessTenantUseCase struct {
	repo      ports.DocumentRepository
	extractor ports.TextExtractor
	splitter  ports.SectionSplitter
	embedder  ports.Embedder
	vectorDB  ports.VectorStore
	queue     ports.MessageQueue
	onIndexed func(tenantID string, sections int)
}

// NewProcessTenantUseCase builds the processor. embedder and vectorDB may be
// nil when tenants are served by the lexical index only.
func NewProcessTenantUseCase(
	repo ports.DocumentRepository,
	extractor ports.TextExtractor,
	splitter ports.SectionSplitter,
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	queue ports.MessageQueue,
) *ProcessTenantUseCase {
	return &ProcessTenantUseCase{
		repo:      repo,
		extractor: extractor,
		splitter:  splitter,
		embedder:  embedder,
		vectorDB:  vectorDB,
		queue:     queue,
	}
}

// WithIndexObserver registers fn to be called after every index rebuild.
func (uc *ProcessTenantUseCase) WithIndexObserver(fn func(tenantID string, sections int)) *ProcessTenantUseCase {
	uc.onIndexed = fn
	return uc
}

func (uc *ProcessTenantUseCase) HandleEvent(ctx context.Context, event domain.TenantEvent) error {
	if err := ValidateTenantID(event.TenantID); err != nil {
		return err
	}
	switch event.Kind {
	case domain.EventDocumentUploaded:
		if err := uc.ProcessDocument(ctx, event.TenantID, event.DocumentID); err != nil {
			return err
		}
	case domain.EventDocumentDeleted:
	default:
		return domain.WrapError(domain.ErrInvalidInput, "handle tenant event", fmt.Errorf("unsupported kind %q", event.Kind))
	}

	if err := uc.RebuildIndex(ctx, event.TenantID); err != nil {
		return err
	}
	if uc.queue != nil {
		if err := uc.queue.PublishTenantIndexed(ctx, event.TenantID); err != nil {
			return fmt.Errorf("publish tenant indexed: %w", err)
		}
	}
	return nil
}

func (uc *ProcessTenantUseCase) ProcessDocument(ctx context.Context, tenantID, documentID string) error {
	if err := uc.markStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	sections, err := uc.processPipeline(ctx, tenantID, documentID)
	if err != nil {
		if failErr := uc.markFailed(ctx, documentID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, documentID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	slog.Info("document_processed", "tenant_id", tenantID, "document_id", documentID, "sections", len(sections))
	return nil
}

func (uc *ProcessTenantUseCase) processPipeline(ctx context.Context, tenantID, documentID string) ([]domain.Section, error) {
	doc, err := uc.repo.GetByID(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}

	text, err := uc.extractText(ctx, doc)
	if err != nil {
		return nil, err
	}

	sections := uc.splitter.Split(text)
	if len(sections) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "split document", errors.New("splitting produced zero sections"))
	}
	for i := range sections {
		sections[i].TenantID = tenantID
		sections[i].DocumentID = doc.ID
		sections[i].Position = i
	}

	if err := uc.repo.ReplaceSections(ctx, tenantID, doc.ID, sections); err != nil {
		return nil, fmt.Errorf("replace sections: %w", err)
	}
	return sections, nil
}

func (uc *ProcessTenantUseCase) extractText(ctx context.Context, doc *domain.Document) (string, error) {
	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

// RebuildIndex replaces the tenant's vector collection with one point per
// stored section. Point ids derive from tenant, document and section so a
// rebuild of the same corpus yields the same collection.
func (uc *ProcessTenantUseCase) RebuildIndex(ctx context.Context, tenantID string) error {
	if uc.vectorDB == nil || uc.embedder == nil {
		return nil
	}
	sections, err := uc.repo.ListSections(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list sections: %w", err)
	}
	if err := uc.vectorDB.DeleteCollection(ctx, tenantID); err != nil {
		return fmt.Errorf("reset tenant collection: %w", err)
	}
	if len(sections) == 0 {
		uc.observeIndexed(tenantID, 0)
		return nil
	}

	for start := 0; start < len(sections); start += embedBatchSize {
		end := min(start+embedBatchSize, len(sections))
		batch := sections[start:end]

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.Text
		}
		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed sections: %w", err)
		}
		if len(vectors) != len(batch) {
			return domain.WrapError(
				domain.ErrInvalidInput,
				"embed sections",
				fmt.Errorf("vectors/sections mismatch: %d/%d", len(vectors), len(batch)),
			)
		}

		points := make([]domain.VectorPoint, len(batch))
		for i, s := range batch {
			points[i] = domain.VectorPoint{
				ID:     domain.SectionPointKey(s),
				Vector: vectors[i],
				Text:   s.Text,
				Metadata: map[string]string{
					"section_id":  s.ID,
					"document_id": s.DocumentID,
					"title":       s.Title,
					"position":    strconv.Itoa(s.Position),
				},
			}
		}
		if err := uc.vectorDB.Upsert(ctx, tenantID, points); err != nil {
			return fmt.Errorf("upsert sections: %w", err)
		}
	}
	slog.Info("tenant_index_rebuilt", "tenant_id", tenantID, "sections", len(sections))
	uc.observeIndexed(tenantID, len(sections))
	return nil
}

func (uc *ProcessTenantUseCase) observeIndexed(tenantID string, sections int) {
	if uc.onIndexed != nil {
		uc.onIndexed(tenantID, sections)
	}
}

func (uc *ProcessTenantUseCase) markStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, documentID, status, errMessage)
}

func (uc *ProcessTenantUseCase) markFailed(ctx context.Context, documentID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, documentID, domain.StatusFailed, processErr.Error())
}
