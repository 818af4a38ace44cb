package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNode_Validate(t *testing.T) {
	embedding := []float32{0.1, 0.2, 0.3}

	t.Run("valid node passes", func(t *testing.T) {
		node := NewMemoryNode("User likes apples", embedding, LongTermMemory)
		assert.NoError(t, node.Validate(3))
	})

	t.Run("rejects empty text", func(t *testing.T) {
		node := NewMemoryNode("", embedding, LongTermMemory)
		assert.Error(t, node.Validate(3))
	})

	t.Run("rejects wrong embedding dimension", func(t *testing.T) {
		node := NewMemoryNode("User likes apples", embedding, LongTermMemory)
		err := node.Validate(4)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dimension")
	})

	t.Run("zero dimension skips embedding check", func(t *testing.T) {
		node := NewMemoryNode("User likes apples", nil, LongTermMemory)
		assert.NoError(t, node.Validate(0))
	})

	t.Run("rejects confidence out of range", func(t *testing.T) {
		node := NewMemoryNode("User likes apples", embedding, LongTermMemory)
		node.Confidence = 1.5
		assert.Error(t, node.Validate(3))
	})

	t.Run("merged node requires successor reference", func(t *testing.T) {
		node := NewMemoryNode("User likes apples", embedding, LongTermMemory)
		node.Status = StatusMerged
		assert.Error(t, node.Validate(3))

		node.Sources = []SourceRef{{Kind: SourceKindNode, NodeIDs: []string{"successor-id"}}}
		assert.NoError(t, node.Validate(3))
	})

	t.Run("aggregate node requires at least two sources", func(t *testing.T) {
		node := NewMemoryNode("summary of a cluster", embedding, LongTermMemory)
		node.Sources = []SourceRef{{Kind: SourceKindAggregation, NodeIDs: []string{"a"}}}
		assert.Error(t, node.Validate(3))

		node.Sources = []SourceRef{{Kind: SourceKindAggregation, NodeIDs: []string{"a", "b"}}}
		assert.NoError(t, node.Validate(3))
	})
}

func TestMemoryNode_SharedTags(t *testing.T) {
	a := NewMemoryNode("a", nil, LongTermMemory)
	a.Tags = []string{"travel", "family", "2023"}
	b := NewMemoryNode("b", nil, LongTermMemory)
	b.Tags = []string{"family", "2023", "health"}

	assert.Equal(t, 2, a.SharedTags(b))
	assert.Equal(t, 2, b.SharedTags(a))

	c := NewMemoryNode("c", nil, LongTermMemory)
	assert.Equal(t, 0, a.SharedTags(c))
}

func TestValidateFollows(t *testing.T) {
	earlier := NewMemoryNode("first event", nil, LongTermMemory)
	later := NewMemoryNode("second event", nil, LongTermMemory)
	later.UpdatedAt = earlier.UpdatedAt.Add(time.Hour)

	assert.NoError(t, ValidateFollows(earlier, later))
	assert.Error(t, ValidateFollows(later, earlier))

	// equal timestamps are not strictly ordered
	same := NewMemoryNode("same moment", nil, LongTermMemory)
	same.UpdatedAt = earlier.UpdatedAt
	assert.Error(t, ValidateFollows(earlier, same))
}

func TestMemoryEdge_Validate(t *testing.T) {
	edge := MemoryEdge{SourceID: "a", TargetID: "b", RelationType: RelationCauses, Confidence: 0.8}
	assert.NoError(t, edge.Validate())

	edge.RelationType = "LIKES"
	assert.Error(t, edge.Validate())
}
