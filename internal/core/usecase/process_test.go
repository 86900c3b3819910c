package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type extractorFake struct {
	text string
	err  error
}

func (f *extractorFake) Extract(context.Context, *domain.Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type splitterFake struct {
	sections []domain.Section
}

func (f *splitterFake) Split(string) []domain.Section {
	return append([]domain.Section(nil), f.sections...)
}

type embedderFake struct {
	calls int
	err   error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func seededRepo(t *testing.T) *documentRepoFake {
	t.Helper()
	repo := newDocumentRepoFake()
	if err := repo.Create(context.Background(), &domain.Document{ID: "doc-1", TenantID: "acme", Status: domain.StatusUploaded}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}

func twoSections() []domain.Section {
	return []domain.Section{
		{ID: "preise", Title: "PREISE", Text: "PREISE\nWartung kostet 80 Euro."},
		{ID: "kontakt", Title: "KONTAKT", Text: "KONTAKT\nMontag bis Freitag."},
	}
}

func TestHandleUploadedEventProcessesAndIndexes(t *testing.T) {
	repo := seededRepo(t)
	vectors := newVectorStoreFake()
	queue := &queueFake{}
	observed := map[string]int{}
	uc := NewProcessTenantUseCase(repo, &extractorFake{text: "text"}, &splitterFake{sections: twoSections()}, &embedderFake{}, vectors, queue).
		WithIndexObserver(func(tenantID string, sections int) { observed[tenantID] = sections })

	event := domain.TenantEvent{TenantID: "acme", DocumentID: "doc-1", Kind: domain.EventDocumentUploaded}
	if err := uc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if len(repo.statusCalls) != 2 || repo.statusCalls[0].status != domain.StatusProcessing || repo.statusCalls[1].status != domain.StatusReady {
		t.Fatalf("unexpected status sequence: %+v", repo.statusCalls)
	}
	stored, _ := repo.ListSections(context.Background(), "acme")
	if len(stored) != 2 || stored[1].Position != 1 || stored[0].TenantID != "acme" || stored[0].DocumentID != "doc-1" {
		t.Fatalf("unexpected stored sections: %+v", stored)
	}
	points := vectors.points["acme"]
	if len(points) != 2 || points[0].ID != "acme_doc-1_preise" || points[0].Metadata["title"] != "PREISE" {
		t.Fatalf("unexpected vector points: %+v", points)
	}
	if len(queue.indexed) != 1 || queue.indexed[0] != "acme" {
		t.Fatalf("expected tenant indexed event, got %v", queue.indexed)
	}
	if observed["acme"] != 2 {
		t.Fatalf("expected index observer to see 2 sections, got %v", observed)
	}
}

func TestHandleUploadedEventIsIdempotent(t *testing.T) {
	repo := seededRepo(t)
	vectors := newVectorStoreFake()
	uc := NewProcessTenantUseCase(repo, &extractorFake{text: "text"}, &splitterFake{sections: twoSections()}, &embedderFake{}, vectors, &queueFake{})
	event := domain.TenantEvent{TenantID: "acme", DocumentID: "doc-1", Kind: domain.EventDocumentUploaded}

	for i := 0; i < 2; i++ {
		if err := uc.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("HandleEvent() error = %v", err)
		}
	}
	stored, _ := repo.ListSections(context.Background(), "acme")
	if len(stored) != 2 {
		t.Fatalf("expected sections to be replaced, got %d", len(stored))
	}
	if len(vectors.points["acme"]) != 2 {
		t.Fatalf("expected collection to be rebuilt, got %d points", len(vectors.points["acme"]))
	}
}

func TestHandleUploadedEventMarksFailedOnExtractError(t *testing.T) {
	repo := seededRepo(t)
	queue := &queueFake{}
	uc := NewProcessTenantUseCase(repo, &extractorFake{err: errors.New("extract fail")}, &splitterFake{}, nil, nil, queue)

	err := uc.HandleEvent(context.Background(), domain.TenantEvent{TenantID: "acme", DocumentID: "doc-1", Kind: domain.EventDocumentUploaded})
	if err == nil {
		t.Fatalf("expected error")
	}
	last := repo.statusCalls[len(repo.statusCalls)-1]
	if last.status != domain.StatusFailed || !strings.Contains(last.errMsg, "extract fail") {
		t.Fatalf("expected failed status with message, got %+v", last)
	}
	if len(queue.indexed) != 0 {
		t.Fatalf("expected no indexed event on failure")
	}
}

func TestHandleUploadedEventRejectsEmptySplit(t *testing.T) {
	repo := seededRepo(t)
	uc := NewProcessTenantUseCase(repo, &extractorFake{text: "text"}, &splitterFake{}, nil, nil, nil)

	err := uc.HandleEvent(context.Background(), domain.TenantEvent{TenantID: "acme", DocumentID: "doc-1", Kind: domain.EventDocumentUploaded})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestHandleDeletedEventRebuildsFromRemainingSections(t *testing.T) {
	repo := seededRepo(t)
	vectors := newVectorStoreFake()
	embedder := &embedderFake{}
	uc := NewProcessTenantUseCase(repo, &extractorFake{text: "text"}, &splitterFake{sections: twoSections()}, embedder, vectors, &queueFake{})
	if err := uc.HandleEvent(context.Background(), domain.TenantEvent{TenantID: "acme", DocumentID: "doc-1", Kind: domain.EventDocumentUploaded}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if err := repo.Delete(context.Background(), "acme", "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := uc.HandleEvent(context.Background(), domain.TenantEvent{TenantID: "acme", DocumentID: "doc-1", Kind: domain.EventDocumentDeleted}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if _, ok := vectors.points["acme"]; ok {
		t.Fatalf("expected empty tenant collection after last document is deleted")
	}
	if embedder.calls != 1 {
		t.Fatalf("expected no embedding for an empty corpus, got %d calls", embedder.calls)
	}
}

func TestHandleEventRejectsUnknownKind(t *testing.T) {
	uc := NewProcessTenantUseCase(newDocumentRepoFake(), &extractorFake{}, &splitterFake{}, nil, nil, nil)

	err := uc.HandleEvent(context.Background(), domain.TenantEvent{TenantID: "acme", Kind: "tenant.renamed"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
