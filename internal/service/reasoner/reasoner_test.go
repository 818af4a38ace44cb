package reasoner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/embedder"
	"memcore/internal/repository/mocks"
	"memcore/internal/service/llm"
	"memcore/pkg/observability"
)

const testNamespace = "tenant-1"

// scriptedProvider answers prompts through a callback so concurrent
// pairwise calls stay deterministic regardless of scheduling order.
type scriptedProvider struct {
	fn func(prompt string) (string, error)
}

func (s *scriptedProvider) Complete(_ context.Context, prompt string, _ llm.CompletionOptions) (string, error) {
	return s.fn(prompt)
}

func (s *scriptedProvider) IsAvailable() bool { return true }

func relationJSON(relation string, confidence float64) string {
	return fmt.Sprintf(`{"relation": %q, "confidence": %g}`, relation, confidence)
}

type fixture struct {
	store    *mocks.MockStore
	fake     *embedder.Fake
	reasoner *Reasoner
}

func newFixture(t *testing.T, fn func(prompt string) (string, error)) *fixture {
	t.Helper()
	store := mocks.NewMockStore()
	fake := embedder.NewFake(64)
	cfg := DefaultConfig()
	cfg.Workers = 1
	return &fixture{
		store: store,
		fake:  fake,
		reasoner: NewReasoner(store, fake, &scriptedProvider{fn: fn}, cfg,
			zap.NewNop(), observability.NewMetrics()),
	}
}

func (f *fixture) addNode(t *testing.T, text string, mutate ...func(*domain.MemoryNode)) *domain.MemoryNode {
	t.Helper()
	vectors, err := f.fake.Embed(context.Background(), []string{text})
	require.NoError(t, err)
	node := domain.NewMemoryNode(text, vectors[0], domain.LongTermMemory)
	for _, fn := range mutate {
		fn(node)
	}
	require.NoError(t, f.store.AddNode(context.Background(), testNamespace, node))
	return node
}

func TestReasoner_ClassifiesAndPersistsRelations(t *testing.T) {
	f := newFixture(t, func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "storm damaged the roof"):
			return relationJSON("CAUSES", 0.9), nil
		case strings.Contains(prompt, "roof repair bill"):
			return relationJSON("RELATED_TO", 0.7), nil
		default:
			return relationJSON("NONE", 0.9), nil
		}
	})
	ctx := context.Background()

	moment := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sameTime := func(n *domain.MemoryNode) { n.UpdatedAt = moment }
	anchor := f.addNode(t, "A storm hit the user's town in March", sameTime)
	f.addNode(t, "The storm damaged the roof of the user's house", sameTime)
	f.addNode(t, "User paid a roof repair bill in April", sameTime)
	f.addNode(t, "User likes green tea", sameTime)

	result, err := f.reasoner.ProcessNode(ctx, testNamespace, anchor, nil, 10)
	require.NoError(t, err)

	require.Len(t, result.Relations, 2)
	byType := map[domain.RelationType]int{}
	for _, edge := range result.Relations {
		assert.Equal(t, anchor.ID, edge.SourceID)
		byType[edge.RelationType]++
	}
	assert.Equal(t, 1, byType[domain.RelationCauses])
	assert.Equal(t, 1, byType[domain.RelationRelatedTo])
	assert.Zero(t, result.Failures)

	// identical timestamps must suppress sequence links
	assert.Empty(t, result.SequenceLinks)

	persisted, err := f.store.GetEdges(ctx, testNamespace, anchor.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestReasoner_DropsLowConfidenceClassifications(t *testing.T) {
	f := newFixture(t, func(prompt string) (string, error) {
		return relationJSON("CAUSES", 0.2), nil
	})

	anchor := f.addNode(t, "anchor fact about the garden")
	f.addNode(t, "neighbor fact about the garden")

	result, err := f.reasoner.ProcessNode(context.Background(), testNamespace, anchor, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Relations)
	assert.Zero(t, result.Failures)
}

func TestReasoner_InfersFromCausalChain(t *testing.T) {
	conclusion := "The user's move to Berlin led to a longer commute"
	f := newFixture(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "causal chain") {
			return fmt.Sprintf(`{"conclusion": %q, "confidence": 0.8}`, conclusion), nil
		}
		if strings.Contains(prompt, "changed jobs") {
			return relationJSON("CAUSES", 0.9), nil
		}
		return relationJSON("NONE", 0.9), nil
	})
	ctx := context.Background()

	anchor := f.addNode(t, "User moved to Berlin in January")
	changed := f.addNode(t, "User changed jobs after the move, commuting further")
	commute := f.addNode(t, "User's commute grew to ninety minutes")

	// pre-existing causal edge completes the chain
	require.NoError(t, f.store.AddEdge(ctx, testNamespace, domain.MemoryEdge{
		SourceID:     changed.ID,
		TargetID:     commute.ID,
		RelationType: domain.RelationCauses,
		Confidence:   0.7,
	}))

	result, err := f.reasoner.ProcessNode(ctx, testNamespace, anchor, nil, 10)
	require.NoError(t, err)

	require.Len(t, result.InferredNodes, 1)
	inferred := result.InferredNodes[0]
	assert.Equal(t, conclusion, inferred.Text)
	assert.InDelta(t, 0.7, inferred.Confidence, 1e-9, "chain confidence is the minimum along the chain")
	assert.Equal(t, []string{anchor.ID, changed.ID, commute.ID}, inferred.SourceNodeIDs())

	_, err = f.store.GetNode(ctx, testNamespace, inferred.ID)
	assert.NoError(t, err, "inferred node must be written through")
}

func TestReasoner_ChainBelowMinConfidenceIsSkipped(t *testing.T) {
	chainCalls := 0
	f := newFixture(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "causal chain") {
			chainCalls++
			return `{"conclusion": "anything", "confidence": 0.9}`, nil
		}
		return relationJSON("CAUSES", 0.9), nil
	})
	ctx := context.Background()

	anchor := f.addNode(t, "event one in the series")
	middle := f.addNode(t, "event two in the series")
	last := f.addNode(t, "event three in the series")

	// second hop sits below the chain confidence floor
	require.NoError(t, f.store.AddEdge(ctx, testNamespace, domain.MemoryEdge{
		SourceID:     middle.ID,
		TargetID:     last.ID,
		RelationType: domain.RelationCauses,
		Confidence:   0.3,
	}))

	result, err := f.reasoner.ProcessNode(ctx, testNamespace, anchor, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, result.InferredNodes)
	assert.Zero(t, chainCalls, "a weak link disqualifies the whole chain before any model call")
}

func TestReasoner_SequenceLinkRunsEarlierToLater(t *testing.T) {
	f := newFixture(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "Classify the relationship") {
			return relationJSON("FOLLOWS", 0.8), nil
		}
		return relationJSON("NONE", 0.9), nil
	})
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	// the anchor is the LATER event; the edge must still run earlier -> later
	anchor := f.addNode(t, "User started the new project", func(n *domain.MemoryNode) {
		n.UpdatedAt = base.Add(72 * time.Hour)
	})
	earlier := f.addNode(t, "User finished the old project", func(n *domain.MemoryNode) {
		n.UpdatedAt = base
	})

	result, err := f.reasoner.ProcessNode(ctx, testNamespace, anchor, nil, 10)
	require.NoError(t, err)

	require.Len(t, result.SequenceLinks, 1)
	link := result.SequenceLinks[0]
	assert.Equal(t, earlier.ID, link.SourceID)
	assert.Equal(t, anchor.ID, link.TargetID)
	assert.Equal(t, domain.RelationFollows, link.RelationType)

	source, err := f.store.GetNode(ctx, testNamespace, link.SourceID)
	require.NoError(t, err)
	target, err := f.store.GetNode(ctx, testNamespace, link.TargetID)
	require.NoError(t, err)
	assert.True(t, source.UpdatedAt.Before(target.UpdatedAt))
}

func TestReasoner_NoSequenceLinkWithoutModelConfirmation(t *testing.T) {
	f := newFixture(t, func(prompt string) (string, error) {
		return relationJSON("NONE", 0.9), nil
	})

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	anchor := f.addNode(t, "User bought a bicycle", func(n *domain.MemoryNode) { n.UpdatedAt = base })
	f.addNode(t, "User watched a documentary", func(n *domain.MemoryNode) {
		n.UpdatedAt = base.Add(time.Hour)
	})

	result, err := f.reasoner.ProcessNode(context.Background(), testNamespace, anchor, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, result.SequenceLinks, "timestamp order alone must not create an edge")
}

func TestReasoner_SynthesizesAggregateForTagCluster(t *testing.T) {
	summary := "User trains regularly for a marathon"
	f := newFixture(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "concern the same subject") {
			return fmt.Sprintf(`{"summary": %q, "key": "marathon training", "confidence": 0.85}`, summary), nil
		}
		return relationJSON("NONE", 0.9), nil
	})
	ctx := context.Background()

	tags := func(n *domain.MemoryNode) { n.Tags = []string{"running", "health"} }
	anchor := f.addNode(t, "User ran ten kilometers on Saturday", tags)
	member := f.addNode(t, "User signed up for the spring marathon", tags)
	f.addNode(t, "User likes green tea")

	result, err := f.reasoner.ProcessNode(ctx, testNamespace, anchor, nil, 10)
	require.NoError(t, err)

	require.Len(t, result.AggregateNodes, 1)
	aggregate := result.AggregateNodes[0]
	assert.Equal(t, summary, aggregate.Text)
	assert.Equal(t, "marathon training", aggregate.Key)
	assert.True(t, aggregate.IsAggregate())
	assert.GreaterOrEqual(t, len(aggregate.SourceNodeIDs()), 2)
	assert.ElementsMatch(t, []string{anchor.ID, member.ID}, aggregate.SourceNodeIDs())
	assert.ElementsMatch(t, []string{"health", "running"}, aggregate.Tags)

	edges, err := f.store.GetEdges(ctx, testNamespace, aggregate.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, edge := range edges {
		assert.Equal(t, domain.RelationAggregates, edge.RelationType)
	}
}

func TestReasoner_PartialFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, func(prompt string) (string, error) {
		if strings.Contains(prompt, "flaky neighbor") {
			return "", errors.New("model timeout")
		}
		if strings.Contains(prompt, "solid neighbor") {
			return relationJSON("RELATED_TO", 0.8), nil
		}
		return relationJSON("NONE", 0.9), nil
	})

	anchor := f.addNode(t, "anchor fact for the batch")
	f.addNode(t, "flaky neighbor fact")
	f.addNode(t, "solid neighbor fact")

	result, err := f.reasoner.ProcessNode(context.Background(), testNamespace, anchor, nil, 10)
	require.NoError(t, err, "one failed pair must not fail the call")
	assert.Equal(t, 1, result.Failures)
	require.Len(t, result.Relations, 1)
	assert.Equal(t, domain.RelationRelatedTo, result.Relations[0].RelationType)
}

func TestReasoner_ExcludesRequestedIDs(t *testing.T) {
	calls := 0
	f := newFixture(t, func(prompt string) (string, error) {
		calls++
		return relationJSON("NONE", 0.9), nil
	})

	anchor := f.addNode(t, "the anchor fact")
	excluded := f.addNode(t, "a neighbor to exclude")
	f.addNode(t, "a neighbor to keep")

	result, err := f.reasoner.ProcessNode(context.Background(), testNamespace, anchor, []string{excluded.ID}, 10)
	require.NoError(t, err)
	assert.Zero(t, result.Failures)
	assert.Equal(t, 1, calls, "only the non-excluded neighbor is classified")
}

func TestReasoner_NoNeighborsReturnsEmptyResult(t *testing.T) {
	f := newFixture(t, func(prompt string) (string, error) {
		t.Fatal("no model call expected without neighbors")
		return "", nil
	})

	anchor := f.addNode(t, "the only fact in the namespace")

	result, err := f.reasoner.ProcessNode(context.Background(), testNamespace, anchor, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Relations)
	assert.Empty(t, result.InferredNodes)
	assert.Empty(t, result.AggregateNodes)
	assert.Zero(t, result.Failures)
}
