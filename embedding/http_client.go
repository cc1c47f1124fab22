package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/deepauras/auroraflow/ai/providers"
	"github.com/deepauras/auroraflow/core"
)

// HTTPClient calls an OpenAI-compatible POST {BaseURL}/embeddings
// endpoint. It reuses the ai package's BaseClient for its HTTP transport,
// retry-with-backoff, and logging conventions rather than reimplementing
// them (grounded on ai/providers/openai.Client's use of providers.BaseClient).
type HTTPClient struct {
	*providers.BaseClient
	cfg *Config
}

// NewHTTPClient constructs an HTTPClient. A nil logger uses core.NoOpLogger.
func NewHTTPClient(cfg *Config, logger core.Logger) *HTTPClient {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	base := providers.NewBaseClient(cfg.Timeout, logger)
	base.MaxRetries = cfg.MaxRetries
	return &HTTPClient{BaseClient: base, cfg: cfg}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		c.LogError("embedding", err)
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: provider returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response data")
	}
	return parsed.Data[0].Embedding, nil
}

func (c *HTTPClient) Dimensions() int {
	return c.cfg.Dims
}
