package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type documentRepoFake struct {
	mu          sync.Mutex
	docs        map[string]*domain.Document
	sections    map[string][]domain.Section
	statusCalls []statusCall
	createErr   error
	replaceErr  error
}

type statusCall struct {
	status domain.DocumentStatus
	errMsg string
}

func newDocumentRepoFake() *documentRepoFake {
	return &documentRepoFake{docs: map[string]*domain.Document{}, sections: map[string][]domain.Section{}}
}

func (f *documentRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *documentRepoFake) GetByID(_ context.Context, tenantID, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *documentRepoFake) ListByTenant(_ context.Context, tenantID string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, doc := range f.docs {
		if doc.TenantID == tenantID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *documentRepoFake) UpdateFile(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *documentRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		doc.Error = errMessage
	}
	return nil
}

func (f *documentRepoFake) Delete(_ context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	kept := f.sections[tenantID][:0]
	for _, s := range f.sections[tenantID] {
		if s.DocumentID != id {
			kept = append(kept, s)
		}
	}
	f.sections[tenantID] = kept
	return nil
}

func (f *documentRepoFake) DeleteTenant(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, doc := range f.docs {
		if doc.TenantID == tenantID {
			delete(f.docs, id)
		}
	}
	delete(f.sections, tenantID)
	return nil
}

func (f *documentRepoFake) TenantExists(_ context.Context, tenantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.TenantID == tenantID {
			return true, nil
		}
	}
	return false, nil
}

func (f *documentRepoFake) CountTenants(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenants := map[string]struct{}{}
	for _, doc := range f.docs {
		tenants[doc.TenantID] = struct{}{}
	}
	return len(tenants), nil
}

func (f *documentRepoFake) ReplaceSections(_ context.Context, tenantID, documentID string, sections []domain.Section) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	kept := make([]domain.Section, 0, len(f.sections[tenantID])+len(sections))
	for _, s := range f.sections[tenantID] {
		if s.DocumentID != documentID {
			kept = append(kept, s)
		}
	}
	f.sections[tenantID] = append(kept, sections...)
	if doc, ok := f.docs[documentID]; ok {
		doc.SectionCount = len(sections)
	}
	return nil
}

func (f *documentRepoFake) ListSections(_ context.Context, tenantID string) ([]domain.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Section(nil), f.sections[tenantID]...), nil
}

type storageFake struct {
	files     map[string]string
	deleted   []string
	prefixes  []string
	saveErr   error
	deleteErr error
}

func newStorageFake() *storageFake { return &storageFake{files: map[string]string{}} }

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.files[key] = string(raw)
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.files[key]
	if !ok {
		return nil, errors.New("missing file")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *storageFake) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.files, key)
	return f.deleteErr
}

func (f *storageFake) DeletePrefix(_ context.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	for key := range f.files {
		if strings.HasPrefix(key, prefix) {
			delete(f.files, key)
		}
	}
	return nil
}

type queueFake struct {
	events  []domain.TenantEvent
	indexed []string
	err     error
}

func (f *queueFake) PublishTenantEvent(_ context.Context, event domain.TenantEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *queueFake) SubscribeTenantEvents(context.Context, func(context.Context, domain.TenantEvent) error) error {
	return errors.New("not implemented")
}

func (f *queueFake) PublishTenantIndexed(_ context.Context, tenantID string) error {
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, tenantID)
	return nil
}

func (f *queueFake) SubscribeTenantIndexed(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type vectorStoreFake struct {
	points      map[string][]domain.VectorPoint
	deleted     []string
	upsertErr   error
	queryResult []domain.VectorMatch
}

func newVectorStoreFake() *vectorStoreFake {
	return &vectorStoreFake{points: map[string][]domain.VectorPoint{}}
}

func (f *vectorStoreFake) Upsert(_ context.Context, tenantID string, points []domain.VectorPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points[tenantID] = append(f.points[tenantID], points...)
	return nil
}

func (f *vectorStoreFake) Query(context.Context, string, []float32, int) ([]domain.VectorMatch, error) {
	return f.queryResult, nil
}

func (f *vectorStoreFake) DeleteCollection(_ context.Context, tenantID string) error {
	f.deleted = append(f.deleted, tenantID)
	delete(f.points, tenantID)
	return nil
}

type invalidatorFake struct {
	tenants []string
}

func (f *invalidatorFake) Invalidate(tenantID string) { f.tenants = append(f.tenants, tenantID) }

func TestTenantUploadSuccess(t *testing.T) {
	repo := newDocumentRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewTenantDocumentUseCase(repo, storage, queue, nil, nil)

	doc, err := uc.Upload(context.Background(), "acme", "report 1.txt", "text/plain", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.ID == "" || doc.TenantID != "acme" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("expected status uploaded, got %s", doc.Status)
	}
	if !strings.HasPrefix(doc.StoragePath, "acme/") || !strings.HasSuffix(doc.StoragePath, "_report_1.txt") {
		t.Fatalf("expected tenant-scoped sanitized key, got %s", doc.StoragePath)
	}
	if storage.files[doc.StoragePath] != "hello" {
		t.Fatalf("expected saved body hello, got %q", storage.files[doc.StoragePath])
	}
	if len(queue.events) != 1 || queue.events[0] != (domain.TenantEvent{TenantID: "acme", DocumentID: doc.ID, Kind: domain.EventDocumentUploaded}) {
		t.Fatalf("unexpected events %+v", queue.events)
	}
}

func TestTenantUploadRejectsInvalidTenant(t *testing.T) {
	uc := NewTenantDocumentUseCase(newDocumentRepoFake(), newStorageFake(), &queueFake{}, nil, nil)

	for _, tenant := range []string{"", "../etc", "a b", strings.Repeat("x", 65)} {
		_, err := uc.Upload(context.Background(), tenant, "a.txt", "text/plain", bytes.NewBufferString("x"))
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %q, got %v", tenant, err)
		}
	}
}

func TestTenantUploadQueueError(t *testing.T) {
	uc := NewTenantDocumentUseCase(newDocumentRepoFake(), newStorageFake(), &queueFake{err: errors.New("queue down")}, nil, nil)

	_, err := uc.Upload(context.Background(), "acme", "report.txt", "text/plain", bytes.NewBufferString("hello"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "publish tenant event") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestTenantUpdateReplacesFile(t *testing.T) {
	repo := newDocumentRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	uc := NewTenantDocumentUseCase(repo, storage, queue, nil, nil)

	doc, err := uc.Upload(context.Background(), "acme", "v1.txt", "text/plain", bytes.NewBufferString("one"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	updated, err := uc.Update(context.Background(), "acme", doc.ID, "v2.md", "text/markdown", bytes.NewBufferString("two"))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.ID != doc.ID || updated.Filename != "v2.md" || updated.Status != domain.StatusUploaded {
		t.Fatalf("unexpected updated document %+v", updated)
	}
	if _, ok := storage.files[doc.StoragePath]; ok {
		t.Fatalf("expected previous file to be removed")
	}
	if storage.files[updated.StoragePath] != "two" {
		t.Fatalf("expected new file body")
	}
	if len(queue.events) != 2 {
		t.Fatalf("expected a second upload event, got %+v", queue.events)
	}

	_, err = uc.Update(context.Background(), "other", doc.ID, "v3.txt", "text/plain", bytes.NewBufferString("x"))
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected cross-tenant update to fail with not found, got %v", err)
	}
}

func TestTenantDeleteDocument(t *testing.T) {
	repo := newDocumentRepoFake()
	storage := newStorageFake()
	queue := &queueFake{}
	invalidator := &invalidatorFake{}
	uc := NewTenantDocumentUseCase(repo, storage, queue, nil, nil).WithInvalidator(invalidator)

	doc, err := uc.Upload(context.Background(), "acme", "a.txt", "text/plain", bytes.NewBufferString("x"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if err := uc.Delete(context.Background(), "acme", doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := uc.Get(context.Background(), "acme", doc.ID); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected deleted document to be gone, got %v", err)
	}
	last := queue.events[len(queue.events)-1]
	if last.Kind != domain.EventDocumentDeleted || last.DocumentID != doc.ID {
		t.Fatalf("expected delete event, got %+v", last)
	}
	if len(invalidator.tenants) != 1 || invalidator.tenants[0] != "acme" {
		t.Fatalf("expected registry invalidation, got %v", invalidator.tenants)
	}
}

func TestTenantDeleteTenantReleasesEverything(t *testing.T) {
	repo := newDocumentRepoFake()
	storage := newStorageFake()
	vectors := newVectorStoreFake()
	invalidator := &invalidatorFake{}
	uc := NewTenantDocumentUseCase(repo, storage, &queueFake{}, vectors, invalidator)

	for _, name := range []string{"a.txt", "b.txt"} {
		if _, err := uc.Upload(context.Background(), "acme", name, "text/plain", bytes.NewBufferString(name)); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}
	if _, err := uc.Upload(context.Background(), "beta", "c.txt", "text/plain", bytes.NewBufferString("c")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if err := uc.DeleteTenant(context.Background(), "acme"); err != nil {
		t.Fatalf("DeleteTenant() error = %v", err)
	}
	if exists, _ := uc.TenantExists(context.Background(), "acme"); exists {
		t.Fatalf("expected tenant to be gone")
	}
	if exists, _ := uc.TenantExists(context.Background(), "beta"); !exists {
		t.Fatalf("expected other tenant to survive")
	}
	if len(storage.prefixes) != 1 || storage.prefixes[0] != "acme/" {
		t.Fatalf("expected tenant prefix cleanup, got %v", storage.prefixes)
	}
	if len(vectors.deleted) != 1 || vectors.deleted[0] != "acme" {
		t.Fatalf("expected vector collection cleanup, got %v", vectors.deleted)
	}
	if len(invalidator.tenants) != 1 {
		t.Fatalf("expected registry invalidation")
	}
	if count, _ := uc.CountTenants(context.Background()); count != 1 {
		t.Fatalf("expected one remaining tenant, got %d", count)
	}

	if err := uc.DeleteTenant(context.Background(), "acme"); !domain.IsKind(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected tenant not found on second delete, got %v", err)
	}
}
