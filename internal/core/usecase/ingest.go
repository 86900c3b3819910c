package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// EngineInvalidator drops cached per-tenant state after corpus changes.
type EngineInvalidator interface {
	Invalidate(tenantID string)
}

// TenantDocumentUseCase owns the document lifecycle of tenant corpora and
// serves as the read side the answer pipeline resolves tenants against.
type TenantDocumentUseCase struct {
	repo        ports.DocumentRepository
	storage     ports.ObjectStorage
	queue       ports.MessageQueue
	vectors     ports.VectorStore
	invalidator EngineInvalidator
}

func NewTenantDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	vectors ports.VectorStore,
	invalidator EngineInvalidator,
) *TenantDocumentUseCase {
	return &TenantDocumentUseCase{
		repo:        repo,
		storage:     storage,
		queue:       queue,
		vectors:     vectors,
		invalidator: invalidator,
	}
}

// WithInvalidator sets the cache dropped after corpus changes. The registry
// depends on this use case as its document store, so it is wired afterwards.
func (uc *TenantDocumentUseCase) WithInvalidator(invalidator EngineInvalidator) *TenantDocumentUseCase {
	uc.invalidator = invalidator
	return uc
}

func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return domain.WrapError(domain.ErrInvalidInput, "validate tenant", fmt.Errorf("invalid tenant id %q", tenantID))
	}
	return nil
}

func (uc *TenantDocumentUseCase) Upload(
	ctx context.Context,
	tenantID, filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	storageKey := documentKey(tenantID, id, filename)
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		TenantID:    tenantID,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if err := uc.publish(ctx, tenantID, doc.ID, domain.EventDocumentUploaded); err != nil {
		return nil, err
	}
	return doc, nil
}

// Update replaces the stored file of a document; its sections are rebuilt
// asynchronously and replace the previous ones wholesale.
func (uc *TenantDocumentUseCase) Update(
	ctx context.Context,
	tenantID, documentID, filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	doc, err := uc.Get(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	previousKey := doc.StoragePath
	storageKey := documentKey(tenantID, doc.ID, filename)
	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc.Filename = filename
	doc.MimeType = mimeType
	doc.StoragePath = storageKey
	doc.Status = domain.StatusUploaded
	doc.Error = ""
	doc.UpdatedAt = time.Now().UTC()
	if err := uc.repo.UpdateFile(ctx, doc); err != nil {
		return nil, fmt.Errorf("update document metadata: %w", err)
	}

	if previousKey != "" && previousKey != storageKey {
		if err := uc.storage.Delete(ctx, previousKey); err != nil {
			slog.Warn("document_file_cleanup_failed", "tenant_id", tenantID, "key", previousKey, "error", err)
		}
	}

	if err := uc.publish(ctx, tenantID, doc.ID, domain.EventDocumentUploaded); err != nil {
		return nil, err
	}
	return doc, nil
}

func (uc *TenantDocumentUseCase) Delete(ctx context.Context, tenantID, documentID string) error {
	doc, err := uc.Get(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if err := uc.repo.Delete(ctx, tenantID, doc.ID); err != nil {
		return fmt.Errorf("delete document metadata: %w", err)
	}
	if err := uc.storage.Delete(ctx, doc.StoragePath); err != nil {
		slog.Warn("document_file_cleanup_failed", "tenant_id", tenantID, "key", doc.StoragePath, "error", err)
	}
	uc.invalidate(tenantID)
	return uc.publish(ctx, tenantID, doc.ID, domain.EventDocumentDeleted)
}

// DeleteTenant removes every document, file and vector of a tenant.
func (uc *TenantDocumentUseCase) DeleteTenant(ctx context.Context, tenantID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	exists, err := uc.repo.TenantExists(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return domain.WrapError(domain.ErrTenantNotFound, "delete tenant", fmt.Errorf("tenant %q", tenantID))
	}

	if err := uc.repo.DeleteTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("delete tenant metadata: %w", err)
	}
	uc.invalidate(tenantID)

	var cleanupErrs []error
	if err := uc.storage.DeletePrefix(ctx, tenantID+"/"); err != nil {
		cleanupErrs = append(cleanupErrs, fmt.Errorf("delete tenant files: %w", err))
	}
	if uc.vectors != nil {
		if err := uc.vectors.DeleteCollection(ctx, tenantID); err != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("delete tenant vectors: %w", err))
		}
	}
	return errors.Join(cleanupErrs...)
}

func (uc *TenantDocumentUseCase) List(ctx context.Context, tenantID string) ([]domain.Document, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	docs, err := uc.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (uc *TenantDocumentUseCase) Get(ctx context.Context, tenantID, documentID string) (*domain.Document, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("document id is required"))
	}
	doc, err := uc.repo.GetByID(ctx, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *TenantDocumentUseCase) CountTenants(ctx context.Context) (int, error) {
	return uc.repo.CountTenants(ctx)
}

func (uc *TenantDocumentUseCase) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	if ValidateTenantID(tenantID) != nil {
		return false, nil
	}
	return uc.repo.TenantExists(ctx, tenantID)
}

func (uc *TenantDocumentUseCase) Sections(ctx context.Context, tenantID string) ([]domain.Section, error) {
	return uc.repo.ListSections(ctx, tenantID)
}

func (uc *TenantDocumentUseCase) publish(ctx context.Context, tenantID, documentID string, kind domain.EventKind) error {
	event := domain.TenantEvent{TenantID: tenantID, DocumentID: documentID, Kind: kind}
	if err := uc.queue.PublishTenantEvent(ctx, event); err != nil {
		return fmt.Errorf("publish tenant event: %w", err)
	}
	return nil
}

func (uc *TenantDocumentUseCase) invalidate(tenantID string) {
	if uc.invalidator != nil {
		uc.invalidator.Invalidate(tenantID)
	}
}

func documentKey(tenantID, documentID, filename string) string {
	return fmt.Sprintf("%s/%s_%s", tenantID, documentID, sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
