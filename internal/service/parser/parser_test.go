package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/service/llm"
	"memcore/pkg/observability"
)

func newTestParser(provider llm.Provider) *Parser {
	return NewParser(provider, zap.NewNop(), observability.NewMetrics())
}

func TestParser_FastMode(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.QueueResponse(`{
		"memories": ["user's favorite fruit"],
		"keys": ["apples"],
		"tags": ["food"],
		"goal_type": "retrieval"
	}`)

	goal := newTestParser(provider).Parse(context.Background(), "does the user like apples?", ModeFast)

	assert.Equal(t, []string{"user's favorite fruit"}, goal.Memories)
	assert.Equal(t, []string{"apples"}, goal.Keys)
	assert.Equal(t, []string{"food"}, goal.Tags)
	assert.Equal(t, domain.GoalRetrieval, goal.GoalType)
	require.Len(t, provider.Prompts(), 1)
}

func TestParser_FineModeUsesLongerPrompt(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.QueueResponse(`{"memories": ["x"], "keys": [], "tags": [], "goal_type": "retrieval"}`)

	newTestParser(provider).Parse(context.Background(), "some task", ModeFine)

	prompts := provider.Prompts()
	require.Len(t, prompts, 1)
	fast := len(fastPrompt)
	assert.Greater(t, len(prompts[0]), fast, "fine mode must issue the longer, more constrained prompt")
}

func TestParser_StripsCodeFences(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.QueueResponse("```json\n{\"memories\": [\"a\"], \"keys\": [], \"tags\": [], \"goal_type\": \"retrieval\"}\n```")

	goal := newTestParser(provider).Parse(context.Background(), "task", ModeFast)
	assert.Equal(t, []string{"a"}, goal.Memories)
}

func TestParser_RetriesOnceOnMalformedOutput(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.QueueResponse(`this is not JSON at all`)
	provider.QueueResponse(`{"memories": ["repaired"], "keys": [], "tags": [], "goal_type": "update"}`)

	goal := newTestParser(provider).Parse(context.Background(), "task", ModeFast)

	assert.Equal(t, []string{"repaired"}, goal.Memories)
	assert.Equal(t, domain.GoalUpdate, goal.GoalType)

	prompts := provider.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "valid JSON", "the retry must carry the corrective instruction")
}

func TestParser_FallsBackAfterTwoMalformedResponses(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.QueueResponse(`not json`)
	provider.QueueResponse(`still not json`)

	task := "when did Caroline join?"
	goal := newTestParser(provider).Parse(context.Background(), task, ModeFast)

	assert.Equal(t, []string{task}, goal.Memories)
	assert.Empty(t, goal.Keys)
	assert.Empty(t, goal.Tags)
	assert.Equal(t, domain.GoalRetrieval, goal.GoalType)
}

func TestParser_FallsBackOnProviderError(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.QueueError(errors.New("model service down"))

	task := "find the user's hometown"
	goal := newTestParser(provider).Parse(context.Background(), task, ModeFast)

	assert.Equal(t, []string{task}, goal.Memories)
	assert.Equal(t, domain.GoalRetrieval, goal.GoalType)
}

func TestParser_RejectsGoalWithoutMemoriesOrKeys(t *testing.T) {
	provider := llm.NewMockProvider()
	// shape is valid JSON but semantically empty, so it counts as
	// malformed and triggers the retry
	provider.QueueResponse(`{"memories": [], "keys": [], "tags": ["food"], "goal_type": "retrieval"}`)
	provider.QueueResponse(`{"memories": ["ok"], "keys": [], "tags": [], "goal_type": "retrieval"}`)

	goal := newTestParser(provider).Parse(context.Background(), "task", ModeFast)
	assert.Equal(t, []string{"ok"}, goal.Memories)
}

func TestParser_NormalizesGoalType(t *testing.T) {
	tests := []struct {
		raw  string
		want domain.GoalType
	}{
		{"retrieval", domain.GoalRetrieval},
		{"Search", domain.GoalRetrieval},
		{"update", domain.GoalUpdate},
		{"ADD", domain.GoalUpdate},
		{"gibberish", domain.GoalRetrieval},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			provider := llm.NewMockProvider()
			provider.QueueResponse(`{"memories": ["m"], "keys": [], "tags": [], "goal_type": "` + tt.raw + `"}`)
			goal := newTestParser(provider).Parse(context.Background(), "task", ModeFast)
			assert.Equal(t, tt.want, goal.GoalType)
		})
	}
}
