package pdftext

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/infrastructure/chunking"
)

// Extractor pulls plain text out of PDF handbooks and splits it into
// retrieval passages. PDF entries carry no question; only the content
// strategy can match them.
type Extractor struct {
	splitter *chunking.Splitter
}

func New(splitter *chunking.Splitter) *Extractor {
	if splitter == nil {
		splitter = chunking.NewSplitter(0, 0)
	}
	return &Extractor{splitter: splitter}
}

func (e *Extractor) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func (e *Extractor) Extract(ctx context.Context, path, category string) ([]domain.KnowledgeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(textReader)
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	return passageEntries(filepath.Base(path), category, string(raw), e.splitter), nil
}

func passageEntries(source, category, text string, splitter *chunking.Splitter) []domain.KnowledgeEntry {
	passages := splitter.Split(text)
	entries := make([]domain.KnowledgeEntry, 0, len(passages))
	for idx, passage := range passages {
		entries = append(entries, domain.KnowledgeEntry{
			ID:             uuid.NewString(),
			SourceDocument: source,
			Category:       category,
			OffsetIndex:    idx,
			Content:        passage,
		})
	}
	return entries
}
