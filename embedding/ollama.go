package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/monitor"
)

// OllamaProvider uses Ollama's native /api/embed endpoint.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaProvider accepts either the bare host or the OpenAI-compatible /v1 base.
func NewOllamaProvider(baseURL, model string, timeout time.Duration) *OllamaProvider {
	host := strings.TrimSuffix(baseURL, "/")
	host = strings.TrimSuffix(host, "/v1")
	return &OllamaProvider{
		baseURL: host,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OllamaProvider) Name() string { return KindOllama }

func (p *OllamaProvider) Embed(ctx context.Context, text string) (vec []float64, err error) {
	start := time.Now()
	defer func() { monitor.ObserveEmbedding(KindOllama, time.Since(start), err) }()

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.Upstream("embedding.ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, core.Upstream("embedding.ollama",
			fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(respBody)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, core.Upstream("embedding.ollama", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, core.Upstream("embedding.ollama", fmt.Errorf("no embeddings in response"))
	}
	return result.Embeddings[0], nil
}
