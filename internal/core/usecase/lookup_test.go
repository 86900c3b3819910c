package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

func TestLookupSectionByTitle(t *testing.T) {
	store := &storeFake{sections: defaultCorpus()}
	uc := NewSectionLookupUseCase(store, NewTenantRegistry(store, &builderFake{}, nil, nil))

	got, err := uc.LookupSection(context.Background(), "acme", " kontakt ")
	if err != nil {
		t.Fatalf("LookupSection() error = %v", err)
	}
	if got.ID != "kontakt" {
		t.Fatalf("expected kontakt section, got %+v", got)
	}

	_, err = uc.LookupSection(context.Background(), "acme", "Impressum")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = uc.LookupSection(context.Background(), "ghost", "Kontakt")
	if !domain.IsKind(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
}
