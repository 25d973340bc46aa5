package xlsx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// Extractor reads curated question/answer spreadsheets. The first sheet must
// carry a header row; question and answer columns are located by header name,
// a category column is optional and overrides the caller's category.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

func (e *Extractor) Extract(ctx context.Context, path, category string) ([]domain.KnowledgeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet has no sheets: %s", path)
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	questionCol, answerCol, categoryCol, err := locateColumns(rows[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	source := filepath.Base(path)
	entries := make([]domain.KnowledgeEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		question := strings.TrimSpace(cell(row, questionCol))
		answer := strings.TrimSpace(cell(row, answerCol))
		if question == "" || answer == "" {
			continue
		}
		rowCategory := category
		if categoryCol >= 0 {
			if c := strings.TrimSpace(cell(row, categoryCol)); c != "" {
				rowCategory = c
			}
		}
		entries = append(entries, domain.KnowledgeEntry{
			ID:             uuid.NewString(),
			SourceDocument: source,
			Category:       rowCategory,
			OffsetIndex:    len(entries),
			Question:       question,
			Answer:         answer,
			Content:        "Q: " + question + "\nA: " + answer,
		})
	}
	return entries, nil
}

func locateColumns(header []string) (question, answer, category int, err error) {
	question, answer, category = -1, -1, -1
	for idx, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "question":
			question = idx
		case "answer":
			answer = idx
		case "category":
			category = idx
		}
	}
	if question < 0 || answer < 0 {
		return 0, 0, 0, fmt.Errorf("header must contain question and answer columns")
	}
	return question, answer, category, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
