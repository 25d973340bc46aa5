package text

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/velumhealth/grounded-query/internal/infrastructure/chunking"
)

func TestSupports(t *testing.T) {
	e := New(nil)
	for _, path := range []string{"notes.txt", "guide.MD", "a/b/c.md"} {
		if !e.Supports(path) {
			t.Fatalf("expected %s to be supported", path)
		}
	}
	for _, path := range []string{"sheet.xlsx", "scan.pdf", "noext"} {
		if e.Supports(path) {
			t.Fatalf("expected %s to be unsupported", path)
		}
	}
}

func TestExtractProducesOrderedPassages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aftercare.md")
	content := strings.Repeat("Keep the wound clean and dry. ", 10)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := New(chunking.NewSplitter(80, 10))
	entries, err := e.Extract(context.Background(), path, "aftercare")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected multiple passages, got %d", len(entries))
	}
	for idx, entry := range entries {
		if entry.SourceDocument != "aftercare.md" {
			t.Fatalf("entry %d has source %q", idx, entry.SourceDocument)
		}
		if entry.Category != "aftercare" {
			t.Fatalf("entry %d has category %q", idx, entry.Category)
		}
		if entry.OffsetIndex != idx {
			t.Fatalf("entry %d has offset %d", idx, entry.OffsetIndex)
		}
		if entry.ID == "" || entry.Content == "" {
			t.Fatalf("entry %d incomplete: %+v", idx, entry)
		}
		if entry.Question != "" {
			t.Fatalf("text passages carry no question, entry %d has %q", idx, entry.Question)
		}
	}
}

func TestExtractRejectsBinaryContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x81}, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := New(nil)
	if _, err := e.Extract(context.Background(), path, ""); err == nil {
		t.Fatalf("expected error for non-utf8 content")
	}
}
