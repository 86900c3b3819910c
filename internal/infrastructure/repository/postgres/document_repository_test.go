package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &DocumentRepository{db: db}, mock, func() { _ = db.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

var documentRowColumns = []string{"id", "tenant_id", "filename", "mime_type", "storage_path", "status", "error_message", "section_count", "created_at", "updated_at"}

func TestGetByIDScopesByTenant(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, tenant_id, filename").
		WithArgs("acme", "doc-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("doc-1", "acme", "preise.txt", "text/plain", "acme/doc-1_preise.txt", "ready", "", 4, now, now))

	doc, err := repo.GetByID(context.Background(), "acme", "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.TenantID != "acme" || doc.Status != domain.StatusReady || doc.SectionCount != 4 {
		t.Fatalf("unexpected document %+v", doc)
	}
	expectationsMet(t, mock)
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, tenant_id, filename").
		WithArgs("acme", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "acme", "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", string(domain.StatusProcessing), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusProcessing, "")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestDeleteReturnsDomainNotFoundForOtherTenant(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("beta", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "beta", "doc-1"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestReplaceSectionsRunsInTransaction(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	sections := []domain.Section{
		{ID: "preise", Title: "PREISE", Text: "PREISE\n80 Euro", Position: 0},
		{ID: "kontakt", Title: "KONTAKT", Text: "KONTAKT\nTelefon", Position: 1},
	}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sections").WithArgs("acme", "doc-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO sections").WithArgs("acme", "doc-1", "preise", "PREISE", "PREISE\n80 Euro", 0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sections").WithArgs("acme", "doc-1", "kontakt", "KONTAKT", "KONTAKT\nTelefon", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET section_count").WithArgs("acme", "doc-1", 2, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.ReplaceSections(context.Background(), "acme", "doc-1", sections); err != nil {
		t.Fatalf("ReplaceSections() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestReplaceSectionsRollsBackOnInsertError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sections").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sections").WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.ReplaceSections(context.Background(), "acme", "doc-1", []domain.Section{{ID: "a", Title: "A", Text: "A\nx"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	expectationsMet(t, mock)
}

func TestListSectionsOrdersByDocumentAndPosition(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT s.section_id").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"section_id", "tenant_id", "document_id", "title", "body", "position"}).
			AddRow("preise", "acme", "doc-1", "PREISE", "PREISE\n80 Euro", 0).
			AddRow("kontakt", "acme", "doc-1", "KONTAKT", "KONTAKT\nTelefon", 1))

	sections, err := repo.ListSections(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListSections() error = %v", err)
	}
	if len(sections) != 2 || sections[1].ID != "kontakt" || sections[1].Position != 1 || sections[0].Text != "PREISE\n80 Euro" {
		t.Fatalf("unexpected sections %+v", sections)
	}
	expectationsMet(t, mock)
}

func TestTenantExistsAndCount(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT EXISTS").WithArgs("acme").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	exists, err := repo.TenantExists(context.Background(), "acme")
	if err != nil || !exists {
		t.Fatalf("TenantExists() = %v, %v", exists, err)
	}
	count, err := repo.CountTenants(context.Background())
	if err != nil || count != 3 {
		t.Fatalf("CountTenants() = %d, %v", count, err)
	}
	expectationsMet(t, mock)
}
