// Package retriever executes parsed retrieval goals against the memory
// graph, fusing vector, keyword and graph-traversal signals.
package retriever

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/repository"
	appErrors "memcore/pkg/errors"
	"memcore/pkg/observability"
)

// Options tunes score fusion. The keyword boost is additive, not
// multiplicative, so a lexical match cannot drag a semantically unrelated
// node to the top on its own.
type Options struct {
	// CandidateMultiplier sizes the vector stage superset: the store is
	// asked for CandidateMultiplier*topK candidates before fusion.
	CandidateMultiplier int
	// KeywordBoost is added to the score of any candidate whose key,
	// tags or text match the goal's keys or tags.
	KeywordBoost float64
	// TraversalPenalty is subtracted from the linked node's score for
	// candidates surfaced only by graph traversal.
	TraversalPenalty float64
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		CandidateMultiplier: 3,
		KeywordBoost:        0.2,
		TraversalPenalty:    0.1,
	}
}

// Result is a ranked result list plus the degradation marker that lets
// callers tell "no matches" apart from "store partially unavailable".
type Result struct {
	Nodes    []*domain.MemoryNode
	Scores   map[string]float64
	Degraded bool
}

// Retriever executes goals against one store. It holds no locks and is
// safe for any number of concurrent callers.
type Retriever struct {
	store   repository.Store
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRetriever creates a hybrid retriever.
func NewRetriever(store repository.Store, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Retriever {
	if opts.CandidateMultiplier <= 0 {
		opts.CandidateMultiplier = 3
	}
	return &Retriever{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Retrieve returns up to topK nodes ranked by fused score, ties broken by
// more recent update time. If one search stage fails the other still
// contributes (degraded ranking); only when every stage fails does the
// call error out, so callers can distinguish an empty graph from an
// unavailable store.
func (r *Retriever) Retrieve(ctx context.Context, namespace string, goal *domain.ParsedTaskGoal, queryEmbedding []float32, scope domain.MemoryType, topK int) (*Result, error) {
	if topK <= 0 {
		topK = 10
	}

	candidates := make(map[string]*scoredCandidate)

	// Vector stage: superset of candidates with cosine scores.
	vectorHits, vectorErr := r.store.VectorSearch(ctx, namespace, scope, queryEmbedding, topK*r.opts.CandidateMultiplier)
	if vectorErr != nil {
		r.logger.Warn("vector stage unavailable, continuing with keyword stage",
			zap.String("namespace", namespace),
			zap.Error(vectorErr),
		)
	}
	for _, hit := range vectorHits {
		candidates[hit.Node.ID] = &scoredCandidate{node: hit.Node, score: hit.Score}
	}

	// Keyword stage: lexical matches contribute a fixed additive boost.
	terms := append(append([]string{}, goal.Keys...), goal.Tags...)
	var keywordHits []*domain.MemoryNode
	var keywordErr error
	if len(terms) > 0 {
		keywordHits, keywordErr = r.store.KeywordSearch(ctx, namespace, scope, terms)
		if keywordErr != nil {
			r.logger.Warn("keyword stage unavailable, continuing with vector results",
				zap.String("namespace", namespace),
				zap.Error(keywordErr),
			)
		}
		for _, node := range keywordHits {
			if existing, ok := candidates[node.ID]; ok {
				existing.score += r.opts.KeywordBoost
				continue
			}
			candidates[node.ID] = &scoredCandidate{
				node:  node,
				score: repository.CosineSimilarity(queryEmbedding, node.Embedding) + r.opts.KeywordBoost,
			}
		}
	}

	// Unavailable only when every attempted stage failed; a surviving
	// stage keeps the call alive with a degraded ranking.
	if vectorErr != nil && (len(terms) == 0 || keywordErr != nil) {
		return nil, appErrors.NewUnavailable("all retrieval stages failed", vectorErr)
	}
	degraded := vectorErr != nil || keywordErr != nil

	// Graph stage: one hop out of keyword-matched nodes when candidates
	// are sparse or the goal names explicit keys.
	if r.shouldExpand(goal, keywordHits, len(candidates), topK) {
		r.expandFromKeywordHits(ctx, namespace, keywordHits, candidates)
	}

	result := &Result{
		Scores:   make(map[string]float64, len(candidates)),
		Degraded: degraded,
	}
	if result.Degraded {
		r.metrics.RecordDegradedRetrieval()
	}

	ranked := make([]*scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].node.UpdatedAt.After(ranked[j].node.UpdatedAt)
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	for _, c := range ranked {
		result.Nodes = append(result.Nodes, c.node)
		result.Scores[c.node.ID] = c.score
	}
	return result, nil
}

type scoredCandidate struct {
	node  *domain.MemoryNode
	score float64
}

func (r *Retriever) shouldExpand(goal *domain.ParsedTaskGoal, keywordHits []*domain.MemoryNode, candidateCount, topK int) bool {
	if len(keywordHits) == 0 {
		return false
	}
	if candidateCount < topK {
		return true
	}
	return goal.GoalType == domain.GoalRetrieval && len(goal.Keys) > 0
}

// expandFromKeywordHits surfaces contextually linked nodes the vector
// stage missed, scored as the linked node minus the traversal penalty.
func (r *Retriever) expandFromKeywordHits(ctx context.Context, namespace string, keywordHits []*domain.MemoryNode, candidates map[string]*scoredCandidate) {
	relations := []domain.RelationType{domain.RelationRelatedTo, domain.RelationAggregates}

	for _, origin := range keywordHits {
		linkedScore := 0.0
		if c, ok := candidates[origin.ID]; ok {
			linkedScore = c.score
		}

		neighbors, err := r.store.Traverse(ctx, namespace, origin.ID, relations, 1)
		if err != nil {
			// Traversal is best-effort on top of an already usable
			// candidate set.
			r.logger.Debug("graph stage traversal failed",
				zap.String("namespace", namespace),
				zap.String("node_id", origin.ID),
				zap.Error(err),
			)
			continue
		}
		for _, neighbor := range neighbors {
			if _, ok := candidates[neighbor.ID]; ok {
				continue
			}
			candidates[neighbor.ID] = &scoredCandidate{
				node:  neighbor,
				score: linkedScore - r.opts.TraversalPenalty,
			}
		}
	}
}
