package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/core/ports"
)

type extractorFake struct {
	ext     string
	entries []domain.KnowledgeEntry
	err     error
	calls   int
}

func (f *extractorFake) Supports(path string) bool {
	return strings.HasSuffix(path, f.ext)
}

func (f *extractorFake) Extract(context.Context, string, string) ([]domain.KnowledgeEntry, error) {
	f.calls++
	return f.entries, f.err
}

type writerFake struct {
	entries  []domain.KnowledgeEntry
	inserted int
	err      error
}

func (f *writerFake) InsertEntries(_ context.Context, entries []domain.KnowledgeEntry) (int, error) {
	f.entries = entries
	if f.err != nil {
		return 0, f.err
	}
	return f.inserted, nil
}

func TestLoadFilePicksSupportingExtractor(t *testing.T) {
	xlsxFake := &extractorFake{
		ext:     ".xlsx",
		entries: []domain.KnowledgeEntry{{ID: "e1", SourceDocument: "faq.xlsx", Content: "c"}},
	}
	pdfFake := &extractorFake{ext: ".pdf"}
	writer := &writerFake{inserted: 1}
	loader := NewLoader([]ports.SourceExtractor{xlsxFake, pdfFake}, writer, nil)

	inserted, err := loader.LoadFile(context.Background(), "docs/faq.xlsx", "aftercare")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d", inserted)
	}
	if xlsxFake.calls != 1 || pdfFake.calls != 0 {
		t.Fatalf("expected only the xlsx extractor to run, got %d/%d", xlsxFake.calls, pdfFake.calls)
	}
	if len(writer.entries) != 1 || writer.entries[0].ID != "e1" {
		t.Fatalf("extracted entries not passed to writer: %v", writer.entries)
	}
}

func TestLoadFileRejectsUnsupportedFormat(t *testing.T) {
	loader := NewLoader([]ports.SourceExtractor{&extractorFake{ext: ".xlsx"}}, &writerFake{}, nil)

	_, err := loader.LoadFile(context.Background(), "docs/notes.docx", "")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoadFileEmptyDocumentIsNoop(t *testing.T) {
	writer := &writerFake{}
	loader := NewLoader([]ports.SourceExtractor{&extractorFake{ext: ".txt"}}, writer, nil)

	inserted, err := loader.LoadFile(context.Background(), "docs/empty.txt", "")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected 0 inserted, got %d", inserted)
	}
	if writer.entries != nil {
		t.Fatalf("writer must not be called for empty extraction")
	}
}

func TestLoadFilePropagatesWriterError(t *testing.T) {
	xlsxFake := &extractorFake{
		ext:     ".xlsx",
		entries: []domain.KnowledgeEntry{{ID: "e1", Content: "c"}},
	}
	writer := &writerFake{err: errors.New("db offline")}
	loader := NewLoader([]ports.SourceExtractor{xlsxFake}, writer, nil)

	_, err := loader.LoadFile(context.Background(), "docs/faq.xlsx", "")
	if err == nil {
		t.Fatalf("expected error")
	}
}
