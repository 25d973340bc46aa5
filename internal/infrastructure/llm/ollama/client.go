package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// Client talks to a local Ollama server. The grounded model answers only
// from supplied corpus context; the external model answers freely and is
// only reachable after a consent event.
type Client struct {
	baseURL       string
	groundedModel string
	externalModel string
	httpClient    *http.Client
}

func New(baseURL, groundedModel, externalModel string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		groundedModel: groundedModel,
		externalModel: externalModel,
		httpClient:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *Client) GenerateGrounded(ctx context.Context, question string, candidates []domain.RetrievalCandidate) (string, error) {
	text, err := c.generateText(ctx, c.groundedModel, buildGroundedPrompt(question, candidates), "generate_grounded")
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate grounded answer", err)
	}
	return text, nil
}

func (c *Client) GenerateExternal(ctx context.Context, question string) (string, error) {
	text, err := c.generateText(ctx, c.externalModel, buildExternalPrompt(question), "generate_external")
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate external answer", err)
	}
	return text, nil
}

func (c *Client) generateText(ctx context.Context, model, prompt, operation string) (string, error) {
	reqBody := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, operation); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
