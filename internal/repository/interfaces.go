// Package repository defines the narrow ports the core consumes: the graph
// store and the remote collaborators (embedder, language model, NLI).
package repository

import (
	"context"

	"memcore/internal/domain"
)

// ScoredNode is a node paired with the similarity score that surfaced it.
type ScoredNode struct {
	Node  *domain.MemoryNode
	Score float64
}

// Store is the narrow interface over the physical graph/vector storage
// engine. Every operation is scoped to a tenant namespace. Implementations
// must enforce that edge endpoints exist before accepting an edge.
type Store interface {
	AddNode(ctx context.Context, namespace string, node *domain.MemoryNode) error
	GetNode(ctx context.Context, namespace, id string) (*domain.MemoryNode, error)
	UpdateNode(ctx context.Context, namespace string, node *domain.MemoryNode) error
	DeleteNode(ctx context.Context, namespace, id string) error

	AddEdge(ctx context.Context, namespace string, edge domain.MemoryEdge) error
	GetEdges(ctx context.Context, namespace, nodeID string) ([]domain.MemoryEdge, error)

	// VectorSearch returns up to k nodes in scope ranked by cosine
	// similarity to the embedding.
	VectorSearch(ctx context.Context, namespace string, scope domain.MemoryType, embedding []float32, k int) ([]ScoredNode, error)

	// KeywordSearch returns nodes in scope whose key, tags or text match
	// any of the terms.
	KeywordSearch(ctx context.Context, namespace string, scope domain.MemoryType, terms []string) ([]*domain.MemoryNode, error)

	// Traverse walks outgoing edges of the given relation types up to
	// depth hops and returns the visited nodes, excluding the start node.
	Traverse(ctx context.Context, namespace, nodeID string, relationTypes []domain.RelationType, depth int) ([]*domain.MemoryNode, error)
}

// Embedder converts text into fixed-dimension vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// NLIClassifier compares one source text against many targets and returns
// one label per target, in order. Empty targets must return an empty
// result without a remote call.
type NLIClassifier interface {
	CompareOneToMany(ctx context.Context, source string, targets []string) ([]domain.NLILabel, error)
}

// EventPublisher notifies the external scheduler about committed writes so
// relation processing can run asynchronously.
type EventPublisher interface {
	NodeCommitted(ctx context.Context, namespace, nodeID string, tags []string) error
	RelationsCreated(ctx context.Context, namespace, nodeID string, edgeCount int) error
}
