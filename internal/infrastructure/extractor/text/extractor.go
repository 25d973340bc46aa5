package text

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/infrastructure/chunking"
)

// Extractor loads plain-text and markdown documents as retrieval passages.
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
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(ctx context.Context, path, category string) ([]domain.KnowledgeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("source document is not valid utf-8: %s", path)
	}

	source := filepath.Base(path)
	passages := e.splitter.Split(strings.TrimSpace(string(raw)))
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
	return entries, nil
}
