// Package extractor turns stored tenant documents into plain text.
package extractor

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
	"github.com/kirillkom/tenant-rag/internal/core/ports"
)

const maxDocumentBytes = 32 << 20

type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

type decodeFunc func(raw []byte) (string, error)

type Extractor struct {
	storage  ports.ObjectStorage
	decoders map[Format]decodeFunc
}

func New(storage ports.ObjectStorage) *Extractor {
	return &Extractor{
		storage: storage,
		decoders: map[Format]decodeFunc{
			FormatText: decodeText,
			FormatHTML: decodeHTML,
			FormatPDF:  decodePDF,
			FormatXLSX: decodeXLSX,
		},
	}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	format, err := DetectFormat(doc.MimeType, doc.Filename)
	if err != nil {
		return "", err
	}

	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxDocumentBytes {
		return "", domain.WrapError(domain.ErrInvalidInput, "read source document", fmt.Errorf("%s exceeds %d bytes", doc.Filename, maxDocumentBytes))
	}

	text, err := e.decoders[format](raw)
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "decode "+string(format), err)
	}
	return strings.TrimSpace(text), nil
}

// DetectFormat prefers the declared MIME type and falls back to the file
// extension when the type is missing or generic.
func DetectFormat(mimeType, filename string) (Format, error) {
	mediaType, _, _ := mime.ParseMediaType(mimeType)
	switch mediaType {
	case "text/plain", "text/markdown", "text/x-markdown", "text/csv":
		return FormatText, nil
	case "text/html", "application/xhtml+xml":
		return FormatHTML, nil
	case "application/pdf":
		return FormatPDF, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".csv", "":
		return FormatText, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".pdf":
		return FormatPDF, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", domain.WrapError(domain.ErrInvalidInput, "detect document format", fmt.Errorf("unsupported document type %q (%s)", filename, mimeType))
}
