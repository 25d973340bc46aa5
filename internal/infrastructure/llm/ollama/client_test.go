package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

func TestGenerateGroundedBuildsCitationPrompt(t *testing.T) {
	var capturedModel string
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedModel, _ = payload["model"].(string)
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":"ok [Source: faq.xlsx]"}`))
	}))
	defer server.Close()

	client := New(server.URL, "grounded-model", "external-model")
	answer, err := client.GenerateGrounded(context.Background(), "how long do stitches stay in?", []domain.RetrievalCandidate{
		{
			Entry: domain.KnowledgeEntry{
				SourceDocument: "faq.xlsx",
				Category:       "aftercare",
				Content:        "stitches are removed after 10 days",
			},
			RelevanceScore: 0.99,
		},
	})
	if err != nil {
		t.Fatalf("GenerateGrounded() error = %v", err)
	}
	if answer != "ok [Source: faq.xlsx]" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if capturedModel != "grounded-model" {
		t.Fatalf("expected grounded model, got %s", capturedModel)
	}
	if !strings.Contains(capturedPrompt, "how long do stitches stay in?") ||
		!strings.Contains(capturedPrompt, "stitches are removed after 10 days") {
		t.Fatalf("prompt missing question or context: %s", capturedPrompt)
	}
	if !strings.Contains(capturedPrompt, "[Source: <name>]") {
		t.Fatalf("prompt missing citation instruction: %s", capturedPrompt)
	}
}

func TestGenerateExternalUsesExternalModelWithoutContext(t *testing.T) {
	var capturedModel string
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		capturedModel, _ = payload["model"].(string)
		capturedPrompt, _ = payload["prompt"].(string)
		_, _ = w.Write([]byte(`{"response":"general advice"}`))
	}))
	defer server.Close()

	client := New(server.URL, "grounded-model", "external-model")
	answer, err := client.GenerateExternal(context.Background(), "a question")
	if err != nil {
		t.Fatalf("GenerateExternal() error = %v", err)
	}
	if answer != "general advice" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if capturedModel != "external-model" {
		t.Fatalf("expected external model, got %s", capturedModel)
	}
	if strings.Contains(capturedPrompt, "Context:") {
		t.Fatalf("external prompt must not carry corpus context: %s", capturedPrompt)
	}
}

func TestGenerateWrapsServerErrorsAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "grounded-model", "external-model")
	_, err := client.GenerateGrounded(context.Background(), "q", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary for 502, got %v", err)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestGenerateMapsQuotaStatusToQuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exhausted", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "grounded-model", "external-model")
	_, err := client.GenerateExternal(context.Background(), "q")
	if !domain.IsKind(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for 429, got %v", err)
	}
}

func TestClassifyErrorStatuses(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, false},
		{http.StatusPaymentRequired, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		err := &HTTPStatusError{Operation: "generate", StatusCode: tc.status, Status: http.StatusText(tc.status)}
		class := ClassifyError(err)
		if class.Retryable != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, class.Retryable, tc.retryable)
		}
	}
}
