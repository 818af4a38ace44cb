// Package parser turns free-text queries into structured retrieval goals
// using the language-model collaborator.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/service/llm"
	"memcore/pkg/observability"
)

// Mode selects the latency/recall trade-off for goal parsing.
type Mode string

const (
	// ModeFast issues one short prompt and accepts terse output.
	ModeFast Mode = "fast"
	// ModeFine issues a longer, more constrained prompt expected to
	// yield richer memories, keys and tags.
	ModeFine Mode = "fine"
)

// Parser parses natural-language tasks into retrieval goals. Goals are
// query-specific and cheap, so nothing is cached between calls.
type Parser struct {
	provider llm.Provider
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewParser creates a goal parser backed by the given provider.
func NewParser(provider llm.Provider, logger *zap.Logger, metrics *observability.Metrics) *Parser {
	return &Parser{
		provider: provider,
		logger:   logger,
		metrics:  metrics,
	}
}

// goalPayload is the JSON shape the model is asked to produce.
type goalPayload struct {
	Memories []string `json:"memories"`
	Keys     []string `json:"keys"`
	Tags     []string `json:"tags"`
	GoalType string   `json:"goal_type"`
}

// Parse produces a retrieval goal for the task. Malformed model output is
// retried once with a corrective instruction; if that also fails the
// caller gets the minimal fallback goal, never an error, because a search
// with the raw task text still beats failing the query.
func (p *Parser) Parse(ctx context.Context, task string, mode Mode) *domain.ParsedTaskGoal {
	prompt := fmt.Sprintf(fastPrompt, task)
	options := llm.CompletionOptions{Temperature: 0.3, MaxTokens: 200, Format: "json"}
	if mode == ModeFine {
		prompt = fmt.Sprintf(finePrompt, task)
		options = llm.CompletionOptions{Temperature: 0.5, MaxTokens: 500, Format: "json"}
	}

	response, err := p.provider.Complete(ctx, prompt, options)
	if err != nil {
		p.logger.Warn("goal parsing degraded to fallback",
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
		return domain.FallbackGoal(task)
	}

	goal, parseErr := p.parseResponse(response)
	if parseErr == nil {
		return goal
	}

	// One corrective retry, then the fallback goal.
	p.metrics.RecordRepairRetry("parse_goal")
	p.logger.Debug("goal parse output malformed, retrying once", zap.Error(parseErr))

	response, err = p.provider.Complete(ctx, prompt+repairInstruction, options)
	if err == nil {
		if goal, parseErr = p.parseResponse(response); parseErr == nil {
			return goal
		}
	}

	p.logger.Warn("goal parsing degraded to fallback",
		zap.String("mode", string(mode)),
		zap.Error(parseErr),
	)
	return domain.FallbackGoal(task)
}

// parseResponse validates the model output against the goal schema.
func (p *Parser) parseResponse(response string) (*domain.ParsedTaskGoal, error) {
	var payload goalPayload
	if err := json.Unmarshal([]byte(llm.CleanJSON(response)), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse goal JSON: %w", err)
	}
	if len(payload.Memories) == 0 && len(payload.Keys) == 0 {
		return nil, fmt.Errorf("goal JSON contained neither memories nor keys")
	}

	return &domain.ParsedTaskGoal{
		Memories: trimAll(payload.Memories),
		Keys:     trimAll(payload.Keys),
		Tags:     trimAll(payload.Tags),
		GoalType: normalizeGoalType(payload.GoalType),
	}, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeGoalType(raw string) domain.GoalType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "retrieval", "retrieve", "search":
		return domain.GoalRetrieval
	case "update", "write", "add":
		return domain.GoalUpdate
	default:
		return domain.GoalRetrieval
	}
}
