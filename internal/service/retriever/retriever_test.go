package retriever

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/embedder"
	"memcore/internal/repository/mocks"
	"memcore/internal/service/llm"
	"memcore/internal/service/parser"
	appErrors "memcore/pkg/errors"
	"memcore/pkg/observability"
)

const testNamespace = "tenant-1"

func newTestRetriever(store *mocks.MockStore) *Retriever {
	return NewRetriever(store, DefaultOptions(), zap.NewNop(), observability.NewMetrics())
}

func embedText(t *testing.T, fake *embedder.Fake, text string) []float32 {
	t.Helper()
	vectors, err := fake.Embed(context.Background(), []string{text})
	require.NoError(t, err)
	return vectors[0]
}

func addFact(t *testing.T, store *mocks.MockStore, fake *embedder.Fake, text string, mutate ...func(*domain.MemoryNode)) *domain.MemoryNode {
	t.Helper()
	node := domain.NewMemoryNode(text, embedText(t, fake, text), domain.LongTermMemory)
	for _, fn := range mutate {
		fn(node)
	}
	require.NoError(t, store.AddNode(context.Background(), testNamespace, node))
	return node
}

func TestRetriever_RanksByScoreDescending(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)

	addFact(t, store, fake, "User visited Paris last spring")
	addFact(t, store, fake, "User likes green tea")
	apples := addFact(t, store, fake, "User likes apples and pears")

	goal := &domain.ParsedTaskGoal{Memories: []string{"apples"}, GoalType: domain.GoalRetrieval}
	result, err := newTestRetriever(store).Retrieve(
		context.Background(), testNamespace, goal,
		embedText(t, fake, "does the user like apples"), domain.LongTermMemory, 3)
	require.NoError(t, err)
	require.NotEmpty(t, result.Nodes)
	assert.False(t, result.Degraded)

	assert.Equal(t, apples.ID, result.Nodes[0].ID)
	for i := 1; i < len(result.Nodes); i++ {
		assert.GreaterOrEqual(t,
			result.Scores[result.Nodes[i-1].ID],
			result.Scores[result.Nodes[i].ID],
			"results must be sorted by descending score")
	}
}

func TestRetriever_TieBrokenByMoreRecentUpdate(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// identical text gives identical cosine scores
	older := addFact(t, store, fake, "User plays chess on Sundays", func(n *domain.MemoryNode) {
		n.UpdatedAt = base
	})
	newer := addFact(t, store, fake, "User plays chess on Sundays", func(n *domain.MemoryNode) {
		n.UpdatedAt = base.Add(48 * time.Hour)
	})

	goal := &domain.ParsedTaskGoal{Memories: []string{"chess"}, GoalType: domain.GoalRetrieval}
	result, err := newTestRetriever(store).Retrieve(
		context.Background(), testNamespace, goal,
		embedText(t, fake, "chess"), domain.LongTermMemory, 2)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 2)

	assert.Equal(t, newer.ID, result.Nodes[0].ID)
	assert.Equal(t, older.ID, result.Nodes[1].ID)
}

func TestRetriever_KeywordBoostIsAdditive(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)

	tagged := addFact(t, store, fake, "User adopted a cat named Miso", func(n *domain.MemoryNode) {
		n.Tags = []string{"pets"}
	})
	addFact(t, store, fake, "User adopted a cat named Mochi")

	goal := &domain.ParsedTaskGoal{
		Memories: []string{"cat"},
		Tags:     []string{"pets"},
		GoalType: domain.GoalRetrieval,
	}
	result, err := newTestRetriever(store).Retrieve(
		context.Background(), testNamespace, goal,
		embedText(t, fake, "the user's cat"), domain.LongTermMemory, 2)
	require.NoError(t, err)
	require.Len(t, result.Nodes, 2)

	assert.Equal(t, tagged.ID, result.Nodes[0].ID)
	diff := result.Scores[result.Nodes[0].ID] - result.Scores[result.Nodes[1].ID]
	assert.InDelta(t, DefaultOptions().KeywordBoost, diff, 0.05,
		"a lexical match adds a fixed boost instead of multiplying the score")
}

func TestRetriever_GraphStageSurfacesLinkedNodes(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)
	ctx := context.Background()

	hub := addFact(t, store, fake, "User's trip to Kyoto", func(n *domain.MemoryNode) {
		n.Key = "kyoto-trip"
	})
	// linked node lives outside the query scope, so only the graph
	// stage can surface it
	linked := addFact(t, store, fake, "Completely different phrasing about temples and gardens", func(n *domain.MemoryNode) {
		n.MemoryType = domain.WorkingMemory
	})
	require.NoError(t, store.AddEdge(ctx, testNamespace, domain.MemoryEdge{
		SourceID:     hub.ID,
		TargetID:     linked.ID,
		RelationType: domain.RelationRelatedTo,
		Confidence:   0.9,
	}))

	goal := &domain.ParsedTaskGoal{
		Memories: []string{"kyoto"},
		Keys:     []string{"kyoto-trip"},
		GoalType: domain.GoalRetrieval,
	}
	result, err := newTestRetriever(store).Retrieve(
		ctx, testNamespace, goal,
		embedText(t, fake, "kyoto trip"), domain.LongTermMemory, 5)
	require.NoError(t, err)

	require.Contains(t, result.Scores, linked.ID, "graph stage must surface the linked node")
	assert.Equal(t, result.Scores[hub.ID]-DefaultOptions().TraversalPenalty, result.Scores[linked.ID])
}

func TestRetriever_DegradesWhenOneStageFails(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)

	addFact(t, store, fake, "User likes apples", func(n *domain.MemoryNode) {
		n.Tags = []string{"food"}
	})
	store.SetError("VectorSearch", appErrors.NewUnavailable("vector index down", nil))

	goal := &domain.ParsedTaskGoal{
		Memories: []string{"apples"},
		Tags:     []string{"food"},
		GoalType: domain.GoalRetrieval,
	}
	result, err := newTestRetriever(store).Retrieve(
		context.Background(), testNamespace, goal,
		embedText(t, fake, "apples"), domain.LongTermMemory, 5)
	require.NoError(t, err, "a surviving keyword stage keeps the call alive")

	assert.True(t, result.Degraded)
	assert.Len(t, result.Nodes, 1)
}

func TestRetriever_AllStagesFailedIsUnavailable(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)

	store.SetError("VectorSearch", appErrors.NewUnavailable("vector index down", nil))
	store.SetError("KeywordSearch", appErrors.NewUnavailable("keyword index down", nil))

	goal := &domain.ParsedTaskGoal{
		Memories: []string{"apples"},
		Keys:     []string{"apples"},
		GoalType: domain.GoalRetrieval,
	}
	_, err := newTestRetriever(store).Retrieve(
		context.Background(), testNamespace, goal,
		embedText(t, fake, "apples"), domain.LongTermMemory, 5)
	require.Error(t, err)
	assert.True(t, appErrors.IsUnavailable(err), "an outage must not read as an empty graph")
}

func TestRetriever_EmptyGraphIsNotAnError(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)

	goal := &domain.ParsedTaskGoal{Memories: []string{"anything"}, GoalType: domain.GoalRetrieval}
	result, err := newTestRetriever(store).Retrieve(
		context.Background(), testNamespace, goal,
		embedText(t, fake, "anything"), domain.LongTermMemory, 5)
	require.NoError(t, err)
	assert.Empty(t, result.Nodes)
	assert.False(t, result.Degraded)
}

// End to end through the goal parser: both support-group facts must land
// in the top 5 with the dated one at or near the top.
func TestRetriever_EndToEndWithGoalParser(t *testing.T) {
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)
	ctx := context.Background()

	joined := addFact(t, store, fake, "Caroline joined the LGBTQ support group in 2023.")
	attended := addFact(t, store, fake, "She attended the weekly LGBTQ support group meetings every Friday.")
	addFact(t, store, fake, "User prefers oat milk in coffee")
	addFact(t, store, fake, "User's car needed new brakes in January")

	provider := llm.NewMockProvider()
	provider.QueueResponse(`{
		"memories": ["Caroline going to the LGBTQ support group"],
		"keys": ["LGBTQ support group"],
		"tags": [],
		"goal_type": "retrieval"
	}`)
	p := parser.NewParser(provider, zap.NewNop(), observability.NewMetrics())

	query := "When did Caroline go to the LGBTQ support group?"
	goal := p.Parse(ctx, query, parser.ModeFast)

	result, err := newTestRetriever(store).Retrieve(
		ctx, testNamespace, goal, embedText(t, fake, query), domain.LongTermMemory, 5)
	require.NoError(t, err)

	ids := make([]string, len(result.Nodes))
	for i, n := range result.Nodes {
		ids[i] = n.ID
	}
	assert.Contains(t, ids, joined.ID)
	assert.Contains(t, ids, attended.ID)

	topTwo := ids
	if len(topTwo) > 2 {
		topTwo = topTwo[:2]
	}
	assert.Contains(t, topTwo, joined.ID, "the dated fact must rank at or near the top")
}
