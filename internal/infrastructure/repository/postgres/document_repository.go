package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026021001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	section_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS sections (
	tenant_id TEXT NOT NULL,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	section_id TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (document_id, section_id)
);

CREATE INDEX IF NOT EXISTS idx_sections_tenant ON sections(tenant_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, tenant_id, filename, mime_type, storage_path, status, error_message, section_count, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		doc.ID, doc.TenantID, doc.Filename, doc.MimeType, doc.StoragePath,
		string(doc.Status), doc.Error, doc.SectionCount, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_id = $1 AND id = $2
`, tenantID, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE tenant_id = $1
ORDER BY created_at, id
`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) UpdateFile(ctx context.Context, doc *domain.Document) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET filename = $3, mime_type = $4, storage_path = $5, status = $6, error_message = $7, updated_at = $8
WHERE tenant_id = $1 AND id = $2
`, doc.TenantID, doc.ID, doc.Filename, doc.MimeType, doc.StoragePath, string(doc.Status), doc.Error, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update document file: %w", err)
	}
	return requireAffected(result, "update document file", doc.ID)
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireAffected(result, "update document status", id)
}

// Delete removes the document row; its sections go with it via cascade.
func (r *DocumentRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(result, "delete document", id)
}

func (r *DocumentRepository) DeleteTenant(ctx context.Context, tenantID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete tenant documents: %w", err)
	}
	return nil
}

func (r *DocumentRepository) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE tenant_id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant exists: %w", err)
	}
	return exists, nil
}

func (r *DocumentRepository) CountTenants(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tenant_id) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tenants: %w", err)
	}
	return count, nil
}

// ReplaceSections swaps the document's sections in one transaction so
// readers never observe a half-written document.
func (r *DocumentRepository) ReplaceSections(ctx context.Context, tenantID, documentID string, sections []domain.Section) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sections tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE tenant_id = $1 AND document_id = $2`, tenantID, documentID); err != nil {
		return fmt.Errorf("delete old sections: %w", err)
	}
	for _, s := range sections {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO sections (tenant_id, document_id, section_id, title, body, position)
VALUES ($1,$2,$3,$4,$5,$6)
`, tenantID, documentID, s.ID, s.Title, s.Text, s.Position); err != nil {
			return fmt.Errorf("insert section %s: %w", s.ID, err)
		}
	}
	result, err := tx.ExecContext(ctx, `
UPDATE documents SET section_count = $3, updated_at = $4
WHERE tenant_id = $1 AND id = $2
`, tenantID, documentID, len(sections), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update section count: %w", err)
	}
	if err := requireAffected(result, "replace sections", documentID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sections tx: %w", err)
	}
	return nil
}

// ListSections returns the tenant corpus in document upload order, then
// section position.
func (r *DocumentRepository) ListSections(ctx context.Context, tenantID string) ([]domain.Section, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT s.section_id, s.tenant_id, s.document_id, s.title, s.body, s.position
FROM sections s
JOIN documents d ON d.id = s.document_id
WHERE s.tenant_id = $1
ORDER BY d.created_at, d.id, s.position
`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Section, 0)
	for rows.Next() {
		var s domain.Section
		if err := rows.Scan(&s.ID, &s.TenantID, &s.DocumentID, &s.Title, &s.Text, &s.Position); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var status string
	err := row.Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.Filename,
		&doc.MimeType,
		&doc.StoragePath,
		&status,
		&doc.Error,
		&doc.SectionCount,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Status = domain.DocumentStatus(status)
	return doc, nil
}

func requireAffected(result sql.Result, op, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
