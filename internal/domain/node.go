// Package domain defines the memory graph data model shared by every service.
package domain

import (
	"time"

	"github.com/google/uuid"

	appErrors "memcore/pkg/errors"
)

// MemoryType scopes search and lifecycle handling for a node.
type MemoryType string

const (
	WorkingMemory  MemoryType = "WorkingMemory"
	LongTermMemory MemoryType = "LongTermMemory"
	UserMemory     MemoryType = "UserMemory"
)

// NodeStatus tracks a node's lifecycle. Nodes are never silently deleted;
// superseded nodes are marked Merged and must reference their successor.
type NodeStatus string

const (
	StatusActivated NodeStatus = "activated"
	StatusArchived  NodeStatus = "archived"
	StatusMerged    NodeStatus = "merged"
)

// SourceRef is one provenance entry: either origin node ids or a raw
// source descriptor (e.g. the chat message a fact was extracted from).
type SourceRef struct {
	Kind    string   `json:"kind"` // "message", "node", "inference", "aggregation"
	NodeIDs []string `json:"node_ids,omitempty"`
	Role    string   `json:"role,omitempty"`
	Lang    string   `json:"lang,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// MemoryNode represents one stored natural-language fact with its embedding,
// topical key, tags and provenance.
type MemoryNode struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Embedding  []float32   `json:"embedding"`
	MemoryType MemoryType  `json:"memory_type"`
	Key        string      `json:"key"`
	Tags       []string    `json:"tags"`
	Confidence float64     `json:"confidence"`
	Background string      `json:"background"`
	Sources    []SourceRef `json:"sources"`
	Status     NodeStatus  `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewMemoryNode creates an activated node with a fresh id and timestamps.
func NewMemoryNode(text string, embedding []float32, memoryType MemoryType) *MemoryNode {
	now := time.Now().UTC()
	return &MemoryNode{
		ID:         uuid.New().String(),
		Text:       text,
		Embedding:  embedding,
		MemoryType: memoryType,
		Confidence: 1.0,
		Status:     StatusActivated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate checks the node against the graph invariants. dimension is the
// namespace's configured embedding length; zero skips the length check
// (used by tests that don't care about embeddings).
func (n *MemoryNode) Validate(dimension int) error {
	if n.ID == "" {
		return appErrors.NewValidation("node id cannot be empty")
	}
	if n.Text == "" {
		return appErrors.NewValidation("node text cannot be empty")
	}
	if dimension > 0 && len(n.Embedding) != dimension {
		return appErrors.NewInvariant("embedding length does not match namespace dimension")
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		return appErrors.NewValidation("confidence must be between 0.0 and 1.0")
	}
	if n.Status == StatusMerged && !n.hasSuccessorRef() {
		return appErrors.NewInvariant("merged node must reference its successor in sources")
	}
	if n.IsAggregate() && len(n.aggregateSourceIDs()) < 2 {
		return appErrors.NewInvariant("aggregate node must reference at least two source nodes")
	}
	return nil
}

// IsAggregate reports whether this node was synthesized from a cluster of
// existing nodes.
func (n *MemoryNode) IsAggregate() bool {
	for _, s := range n.Sources {
		if s.Kind == SourceKindAggregation {
			return true
		}
	}
	return false
}

// SourceNodeIDs returns every origin node id named by the provenance list,
// in order.
func (n *MemoryNode) SourceNodeIDs() []string {
	var ids []string
	for _, s := range n.Sources {
		ids = append(ids, s.NodeIDs...)
	}
	return ids
}

// SharedTags counts tags this node has in common with other.
func (n *MemoryNode) SharedTags(other *MemoryNode) int {
	seen := make(map[string]bool, len(n.Tags))
	for _, t := range n.Tags {
		seen[t] = true
	}
	count := 0
	for _, t := range other.Tags {
		if seen[t] {
			count++
		}
	}
	return count
}

// Source kinds used in SourceRef.Kind.
const (
	SourceKindMessage     = "message"
	SourceKindNode        = "node"
	SourceKindInference   = "inference"
	SourceKindAggregation = "aggregation"
)

func (n *MemoryNode) hasSuccessorRef() bool {
	for _, s := range n.Sources {
		if s.Kind == SourceKindNode && len(s.NodeIDs) > 0 {
			return true
		}
	}
	return false
}

func (n *MemoryNode) aggregateSourceIDs() []string {
	var ids []string
	for _, s := range n.Sources {
		if s.Kind == SourceKindAggregation {
			ids = append(ids, s.NodeIDs...)
		}
	}
	return ids
}
