package extractor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/tenant-rag/internal/core/domain"
)

type storageFake struct {
	files map[string][]byte
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.files[key] = raw
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := f.files[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *storageFake) Delete(context.Context, string) error       { return nil }
func (f *storageFake) DeletePrefix(context.Context, string) error { return nil }

func extract(t *testing.T, filename, mimeType string, raw []byte) (string, error) {
	t.Helper()
	storage := &storageFake{files: map[string][]byte{"acme/" + filename: raw}}
	doc := &domain.Document{TenantID: "acme", Filename: filename, MimeType: mimeType, StoragePath: "acme/" + filename}
	return New(storage).Extract(context.Background(), doc)
}

func TestExtractPlainText(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("  PREISE\nWartung 80 Euro\n")...)
	got, err := extract(t, "preise.txt", "text/plain; charset=utf-8", raw)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "PREISE\nWartung 80 Euro" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtractRejectsBinaryText(t *testing.T) {
	_, err := extract(t, "blob.txt", "", []byte{0xff, 0xfe, 0x00})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestExtractHTML(t *testing.T) {
	page := `<html><head><title>x</title><style>p{}</style></head><body>
<h2>Öffnungszeiten</h2><p>Montag bis   Freitag</p><script>alert(1)</script>
<ul><li>Samstag</li><li>Sonntag geschlossen</li></ul></body></html>`

	got, err := extract(t, "seite.html", "text/html", []byte(page))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for _, want := range []string{"## Öffnungszeiten", "Montag bis Freitag", "Samstag", "Sonntag geschlossen"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "p{}") {
		t.Fatalf("expected script and style to be dropped, got %q", got)
	}
}

func TestExtractXLSX(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	if err := book.SetCellValue("Sheet1", "A1", "Leistung"); err != nil {
		t.Fatalf("SetCellValue() error = %v", err)
	}
	_ = book.SetCellValue("Sheet1", "B1", "Preis")
	_ = book.SetCellValue("Sheet1", "A2", "Wartung")
	_ = book.SetCellValue("Sheet1", "B2", "80 Euro")
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}

	got, err := extract(t, "preise.xlsx", "", buf.Bytes())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "# Sheet1\nLeistung | Preis\nWartung | 80 Euro" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtractInvalidPDF(t *testing.T) {
	_, err := extract(t, "kaputt.pdf", "application/pdf", []byte("not a pdf"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestExtractMissingFile(t *testing.T) {
	storage := &storageFake{files: map[string][]byte{}}
	_, err := New(storage).Extract(context.Background(), &domain.Document{Filename: "a.txt", StoragePath: "acme/a.txt"})
	if err == nil || !strings.Contains(err.Error(), "open source document") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		mime     string
		filename string
		want     Format
	}{
		{"text/markdown", "readme", FormatText},
		{"application/octet-stream", "handbuch.PDF", FormatPDF},
		{"", "seite.htm", FormatHTML},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "x.bin", FormatXLSX},
		{"", "notizen", FormatText},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.mime, tc.filename)
		if err != nil || got != tc.want {
			t.Fatalf("DetectFormat(%q, %q) = %q, %v; want %q", tc.mime, tc.filename, got, err, tc.want)
		}
	}
	if _, err := DetectFormat("image/png", "foto.png"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for images, got %v", err)
	}
}
