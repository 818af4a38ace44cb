// Package nli is the client for the natural-language-inference service
// that classifies candidate facts against stored facts.
package nli

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

	"memcore/internal/domain"
	"memcore/internal/repository"
	appErrors "memcore/pkg/errors"
	"memcore/pkg/observability"
)

// Config configures the NLI client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the NLI service over HTTP. A server-side failure never
// propagates as a crash: affected entries fall back to Unrelated and the
// error is returned separately for observability.
type Client struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Compile-time interface check
var _ repository.NLIClassifier = (*Client)(nil)

// NewClient creates an NLI client.
func NewClient(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nli",
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

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		metrics: metrics,
	}
}

type compareRequest struct {
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

type compareResponse struct {
	Results []string `json:"results"`
}

// CompareOneToMany classifies source against each target, returning one
// label per target in order. Empty targets return an empty result
// without a remote call. On failure every entry is the best-effort
// Unrelated fallback and the error is surfaced alongside.
func (c *Client) CompareOneToMany(ctx context.Context, source string, targets []string) ([]domain.NLILabel, error) {
	if len(targets) == 0 {
		return []domain.NLILabel{}, nil
	}

	payload, err := json.Marshal(compareRequest{Source: source, Targets: targets})
	if err != nil {
		return c.fallback(targets), appErrors.NewInternal("failed to encode compare request", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/compare", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("nli service returned status %d", resp.StatusCode)
		}

		var parsed compareResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}
		return parsed.Results, nil
	})
	if err != nil {
		c.metrics.RecordNLIFallback(len(targets))
		c.logger.Warn("nli classification failed, falling back to Unrelated",
			zap.Int("targets", len(targets)),
			zap.Error(err),
		)
		return c.fallback(targets), appErrors.NewUnavailable("nli classification failed", err)
	}

	raw := result.([]string)
	if len(raw) != len(targets) {
		c.metrics.RecordNLIFallback(len(targets))
		return c.fallback(targets), appErrors.NewMalformed(
			fmt.Sprintf("nli service returned %d results for %d targets", len(raw), len(targets)), nil)
	}

	labels := make([]domain.NLILabel, len(raw))
	fallbacks := 0
	for i, r := range raw {
		switch domain.NLILabel(r) {
		case domain.NLIDuplicate, domain.NLIContradiction, domain.NLIUnrelated:
			labels[i] = domain.NLILabel(r)
		default:
			labels[i] = domain.NLIUnrelated
			fallbacks++
		}
	}
	c.metrics.RecordNLIFallback(fallbacks)
	return labels, nil
}

func (c *Client) fallback(targets []string) []domain.NLILabel {
	labels := make([]domain.NLILabel, len(targets))
	for i := range labels {
		labels[i] = domain.NLIUnrelated
	}
	return labels
}
