// Package embedder provides text embedding clients.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"memcore/internal/repository"
	appErrors "memcore/pkg/errors"
)

// Config configures the HTTP embedding client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ repository.Embedder = (*Client)(nil)

// NewClient creates an embedding client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dimension returns the configured embedding dimension.
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed converts texts into one vector each, all of the configured
// dimension.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, appErrors.NewInternal("failed to encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.NewInternal("failed to create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, appErrors.NewUnavailable("embedding request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErrors.NewUnavailable("failed to read embedding response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, appErrors.NewUnavailable(
			fmt.Sprintf("embedding service returned status %d", resp.StatusCode), nil)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, appErrors.NewMalformed("failed to decode embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, appErrors.NewMalformed(
			fmt.Sprintf("embedding response contained %d vectors for %d inputs", len(parsed.Data), len(texts)), nil)
	}

	vecs := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if c.cfg.Dimension > 0 && len(d.Embedding) != c.cfg.Dimension {
			return nil, appErrors.NewMalformed(
				fmt.Sprintf("embedding %d has dimension %d, expected %d", i, len(d.Embedding), c.cfg.Dimension), nil)
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
