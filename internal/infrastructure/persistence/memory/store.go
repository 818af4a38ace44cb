// Package memory provides an in-process Store implementation used for
// development and as the storage backbone of the test mocks.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"memcore/internal/domain"
	"memcore/internal/repository"
	appErrors "memcore/pkg/errors"
)

// Store keeps the memory graph in maps guarded by a single RWMutex. All
// operations are namespace-scoped exactly like the remote backends.
type Store struct {
	mu sync.RWMutex

	dimension int
	nodes     map[string]map[string]*domain.MemoryNode // namespace -> nodeID -> node
	edges     map[string]map[string][]domain.MemoryEdge // namespace -> sourceID -> edges
}

// Compile-time interface check
var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store. dimension is the embedding length
// enforced on every added node; zero disables the check.
func NewStore(dimension int) *Store {
	return &Store{
		dimension: dimension,
		nodes:     make(map[string]map[string]*domain.MemoryNode),
		edges:     make(map[string]map[string][]domain.MemoryEdge),
	}
}

func (s *Store) AddNode(ctx context.Context, namespace string, node *domain.MemoryNode) error {
	if err := node.Validate(s.dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.nodes[namespace]
	if ns == nil {
		ns = make(map[string]*domain.MemoryNode)
		s.nodes[namespace] = ns
	}
	if _, exists := ns[node.ID]; exists {
		return appErrors.NewValidation("node already exists")
	}

	copied := *node
	ns[node.ID] = &copied
	return nil
}

func (s *Store) GetNode(ctx context.Context, namespace, id string) (*domain.MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[namespace][id]
	if !ok {
		return nil, appErrors.NewNotFound("node not found")
	}
	copied := *node
	return &copied, nil
}

func (s *Store) UpdateNode(ctx context.Context, namespace string, node *domain.MemoryNode) error {
	if err := node.Validate(s.dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.nodes[namespace]
	if _, ok := ns[node.ID]; !ok {
		return appErrors.NewNotFound("node not found")
	}
	copied := *node
	ns[node.ID] = &copied
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.nodes[namespace]
	if _, ok := ns[id]; !ok {
		return appErrors.NewNotFound("node not found")
	}
	delete(ns, id)
	delete(s.edges[namespace], id)
	return nil
}

func (s *Store) AddEdge(ctx context.Context, namespace string, edge domain.MemoryEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.nodes[namespace]
	source, ok := ns[edge.SourceID]
	if !ok {
		return appErrors.NewInvariant("edge source node does not exist")
	}
	target, ok := ns[edge.TargetID]
	if !ok {
		return appErrors.NewInvariant("edge target node does not exist")
	}
	if edge.RelationType == domain.RelationFollows {
		if err := domain.ValidateFollows(source, target); err != nil {
			return err
		}
	}

	bySource := s.edges[namespace]
	if bySource == nil {
		bySource = make(map[string][]domain.MemoryEdge)
		s.edges[namespace] = bySource
	}
	bySource[edge.SourceID] = append(bySource[edge.SourceID], edge)
	return nil
}

func (s *Store) GetEdges(ctx context.Context, namespace, nodeID string) ([]domain.MemoryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := s.edges[namespace][nodeID]
	out := make([]domain.MemoryEdge, len(edges))
	copy(out, edges)
	return out, nil
}

func (s *Store) VectorSearch(ctx context.Context, namespace string, scope domain.MemoryType, embedding []float32, k int) ([]repository.ScoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []repository.ScoredNode
	for _, node := range s.nodes[namespace] {
		if !inScope(node, scope) {
			continue
		}
		score := repository.CosineSimilarity(embedding, node.Embedding)
		copied := *node
		results = append(results, repository.ScoredNode{Node: &copied, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) KeywordSearch(ctx context.Context, namespace string, scope domain.MemoryType, terms []string) ([]*domain.MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*domain.MemoryNode
	for _, node := range s.nodes[namespace] {
		if !inScope(node, scope) {
			continue
		}
		if matchesAny(node, terms) {
			copied := *node
			results = append(results, &copied)
		}
	}
	return results, nil
}

func (s *Store) Traverse(ctx context.Context, namespace, nodeID string, relationTypes []domain.RelationType, depth int) ([]*domain.MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[namespace][nodeID]; !ok {
		return nil, appErrors.NewNotFound("node not found")
	}

	wanted := make(map[domain.RelationType]bool, len(relationTypes))
	for _, rt := range relationTypes {
		wanted[rt] = true
	}

	visited := map[string]bool{nodeID: true}
	frontier := []string{nodeID}
	var results []*domain.MemoryNode

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, edge := range s.edges[namespace][id] {
				if len(wanted) > 0 && !wanted[edge.RelationType] {
					continue
				}
				if visited[edge.TargetID] {
					continue
				}
				visited[edge.TargetID] = true
				if node, ok := s.nodes[namespace][edge.TargetID]; ok && node.Status == domain.StatusActivated {
					copied := *node
					results = append(results, &copied)
					next = append(next, edge.TargetID)
				}
			}
		}
		frontier = next
	}
	return results, nil
}

func inScope(node *domain.MemoryNode, scope domain.MemoryType) bool {
	if node.Status != domain.StatusActivated {
		return false
	}
	return scope == "" || node.MemoryType == scope
}

func matchesAny(node *domain.MemoryNode, terms []string) bool {
	text := strings.ToLower(node.Text)
	key := strings.ToLower(node.Key)
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if strings.Contains(text, t) || strings.Contains(key, t) || key == t {
			return true
		}
		for _, tag := range node.Tags {
			if strings.EqualFold(tag, t) {
				return true
			}
		}
	}
	return false
}
