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

// SidecarProvider calls a model server exposing POST /embed.
type SidecarProvider struct {
	baseURL string
	client  *http.Client
}

type sidecarRequest struct {
	Text string `json:"text"`
}

type sidecarResponse struct {
	Vector []float64 `json:"vector"`
}

func NewSidecarProvider(baseURL string, timeout time.Duration) *SidecarProvider {
	return &SidecarProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *SidecarProvider) Name() string { return KindSidecar }

// Embed posts {"text": ...} and reads {"vector": [...]}.
func (p *SidecarProvider) Embed(ctx context.Context, text string) (vec []float64, err error) {
	start := time.Now()
	defer func() { monitor.ObserveEmbedding(KindSidecar, time.Since(start), err) }()

	body, err := json.Marshal(sidecarRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.Upstream("embedding.sidecar", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, core.Upstream("embedding.sidecar",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var result sidecarResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, core.Upstream("embedding.sidecar", fmt.Errorf("failed to decode response: %w", err))
	}
	if len(result.Vector) == 0 {
		return nil, core.Upstream("embedding.sidecar", fmt.Errorf("empty vector in response"))
	}
	return result.Vector, nil
}
