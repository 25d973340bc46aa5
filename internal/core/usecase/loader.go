package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/velumhealth/grounded-query/internal/core/domain"
	"github.com/velumhealth/grounded-query/internal/core/ports"
)

// Loader ingests source documents into the corpus. Extraction is format
// specific; the first extractor that supports the path wins.
type Loader struct {
	extractors []ports.SourceExtractor
	writer     ports.CorpusWriter
	logger     *slog.Logger
}

func NewLoader(extractors []ports.SourceExtractor, writer ports.CorpusWriter, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{extractors: extractors, writer: writer, logger: logger}
}

func (l *Loader) LoadFile(ctx context.Context, path, category string) (int, error) {
	extractor := l.pick(path)
	if extractor == nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "load file",
			fmt.Errorf("unsupported document format: %s", filepath.Ext(path)))
	}

	entries, err := extractor.Extract(ctx, path, category)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	if len(entries) == 0 {
		l.logger.Warn("document_produced_no_entries", "path", path)
		return 0, nil
	}

	inserted, err := l.writer.InsertEntries(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("index %s: %w", filepath.Base(path), err)
	}

	l.logger.Info("document_loaded",
		"path", path,
		"category", category,
		"extracted", len(entries),
		"inserted", inserted,
	)
	return inserted, nil
}

func (l *Loader) pick(path string) ports.SourceExtractor {
	for _, e := range l.extractors {
		if e.Supports(path) {
			return e
		}
	}
	return nil
}
