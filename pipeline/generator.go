package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGenerator renders images through an external diffusion server. The
// server takes the prompt and seed as JSON and answers with raw PNG bytes.
type HTTPGenerator struct {
	endpoint string
	http     *http.Client
}

// NewHTTPGenerator points at a generation server, e.g.
// "http://127.0.0.1:7860/generate".
func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPGenerator{
		endpoint: strings.TrimSpace(endpoint),
		http:     &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Seed   uint64 `json:"seed"`
}

// Generate submits the prompt and returns the rendered PNG.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string, seed uint64) ([]byte, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, Seed: seed})
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pipeline: generate: unexpected status %s", resp.Status)
	}
	rendered, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("pipeline: read image: %w", err)
	}
	if len(rendered) == 0 {
		return nil, fmt.Errorf("pipeline: generator returned empty image")
	}
	return rendered, nil
}
