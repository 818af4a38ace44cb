// Package mocks provides mock implementations of the core ports for testing.
package mocks

import (
	"context"
	"sync"

	"memcore/internal/domain"
	"memcore/internal/infrastructure/persistence/memory"
	"memcore/internal/repository"
)

// MockStore wraps the in-memory store with per-method fault injection so
// services can be tested against collaborator failures.
type MockStore struct {
	*memory.Store

	mu           sync.Mutex
	shouldFailOn map[string]error
}

// Compile-time interface check
var _ repository.Store = (*MockStore)(nil)

// NewMockStore creates a mock store with no dimension enforcement.
func NewMockStore() *MockStore {
	return &MockStore{
		Store:        memory.NewStore(0),
		shouldFailOn: make(map[string]error),
	}
}

// SetError configures the mock to return an error for a specific method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn[method] = err
}

// ClearErrors removes all configured errors.
func (m *MockStore) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOn = make(map[string]error)
}

func (m *MockStore) checkError(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldFailOn[method]
}

func (m *MockStore) AddNode(ctx context.Context, namespace string, node *domain.MemoryNode) error {
	if err := m.checkError("AddNode"); err != nil {
		return err
	}
	return m.Store.AddNode(ctx, namespace, node)
}

func (m *MockStore) GetNode(ctx context.Context, namespace, id string) (*domain.MemoryNode, error) {
	if err := m.checkError("GetNode"); err != nil {
		return nil, err
	}
	return m.Store.GetNode(ctx, namespace, id)
}

func (m *MockStore) UpdateNode(ctx context.Context, namespace string, node *domain.MemoryNode) error {
	if err := m.checkError("UpdateNode"); err != nil {
		return err
	}
	return m.Store.UpdateNode(ctx, namespace, node)
}

func (m *MockStore) DeleteNode(ctx context.Context, namespace, id string) error {
	if err := m.checkError("DeleteNode"); err != nil {
		return err
	}
	return m.Store.DeleteNode(ctx, namespace, id)
}

func (m *MockStore) AddEdge(ctx context.Context, namespace string, edge domain.MemoryEdge) error {
	if err := m.checkError("AddEdge"); err != nil {
		return err
	}
	return m.Store.AddEdge(ctx, namespace, edge)
}

func (m *MockStore) GetEdges(ctx context.Context, namespace, nodeID string) ([]domain.MemoryEdge, error) {
	if err := m.checkError("GetEdges"); err != nil {
		return nil, err
	}
	return m.Store.GetEdges(ctx, namespace, nodeID)
}

func (m *MockStore) VectorSearch(ctx context.Context, namespace string, scope domain.MemoryType, embedding []float32, k int) ([]repository.ScoredNode, error) {
	if err := m.checkError("VectorSearch"); err != nil {
		return nil, err
	}
	return m.Store.VectorSearch(ctx, namespace, scope, embedding, k)
}

func (m *MockStore) KeywordSearch(ctx context.Context, namespace string, scope domain.MemoryType, terms []string) ([]*domain.MemoryNode, error) {
	if err := m.checkError("KeywordSearch"); err != nil {
		return nil, err
	}
	return m.Store.KeywordSearch(ctx, namespace, scope, terms)
}

func (m *MockStore) Traverse(ctx context.Context, namespace, nodeID string, relationTypes []domain.RelationType, depth int) ([]*domain.MemoryNode, error) {
	if err := m.checkError("Traverse"); err != nil {
		return nil, err
	}
	return m.Store.Traverse(ctx, namespace, nodeID, relationTypes, depth)
}
