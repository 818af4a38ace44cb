// Package llm provides the language-model collaborator used for goal
// parsing and relation classification.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "memcore/pkg/errors"
)

// Provider defines the interface for LLM providers (OpenAI, Anthropic, etc.)
type Provider interface {
	Complete(ctx context.Context, prompt string, options CompletionOptions) (string, error)
	IsAvailable() bool
}

// CompletionOptions configures LLM completion requests
type CompletionOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Format      string  `json:"format"` // "json" or "text"
}

// HTTPProviderConfig configures the remote chat-completion endpoint.
type HTTPProviderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider calls an OpenAI-compatible chat completion endpoint. A
// circuit breaker keeps a failing model service from stalling every
// caller for the full timeout.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Compile-time interface check
var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider against an OpenAI-compatible API.
func NewHTTPProvider(cfg HTTPProviderConfig, logger *zap.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.8
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// IsAvailable reports whether the breaker currently admits requests.
func (p *HTTPProvider) IsAvailable() bool {
	return p.breaker.State() != gobreaker.StateOpen
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one prompt and returns the raw model text.
func (p *HTTPProvider) Complete(ctx context.Context, prompt string, options CompletionOptions) (string, error) {
	reqBody := chatRequest{
		Model:       p.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
	}
	if options.Format == "json" {
		reqBody.ResponseFormat = &formatSpec{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", appErrors.NewInternal("failed to encode completion request", err)
	}

	result, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("model service returned status %d", resp.StatusCode)
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("model service returned no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", appErrors.NewUnavailable("language model call failed", err)
	}

	return result.(string), nil
}
