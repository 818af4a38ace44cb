// Package consistency gates the write path: before a candidate fact is
// committed it is normalized, compared against its nearest neighbors and
// classified as new, duplicate or contradictory.
package consistency

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/repository"
	"memcore/internal/service/retriever"
	appErrors "memcore/pkg/errors"
	"memcore/pkg/observability"
)

// Decision is the outcome of a pre-write consistency check.
type Decision string

const (
	// DecisionCommitted means the candidate was written as a new node.
	DecisionCommitted Decision = "committed"
	// DecisionSkippedDuplicate means an equivalent fact already exists;
	// nothing was written, provenance was merged into the existing node.
	DecisionSkippedDuplicate Decision = "skipped_duplicate"
	// DecisionFlagged means the candidate contradicts a stored fact. It
	// was written anyway, linked to the conflicting node for later
	// resolution, and never overwrote anything.
	DecisionFlagged Decision = "flagged"
)

// CheckResult reports what happened to a candidate write.
type CheckResult struct {
	Decision Decision
	// NodeID is the committed node's id (empty for skipped duplicates).
	NodeID string
	// ExistingID is the duplicate node's id for DecisionSkippedDuplicate.
	ExistingID string
	// ConflictingID is the contradicted node's id for DecisionFlagged.
	ConflictingID string
	// FailedOpen is set when a collaborator outage forced the commit
	// through without a completed check.
	FailedOpen bool
}

// Config tunes the checker.
type Config struct {
	// NeighborTopK is how many nearest neighbors are classified.
	NeighborTopK int
	// FailOpen commits writes when the retriever or classifier is
	// unavailable instead of blocking them. Deployments preferring
	// strict consistency over availability can disable it.
	FailOpen bool
}

// DefaultConfig returns the availability-first defaults.
func DefaultConfig() Config {
	return Config{NeighborTopK: 5, FailOpen: true}
}

// Checker performs pre-write consistency checks.
//
// Callers must serialize CheckAndCommit per namespace (one queue consumer
// per tenant); two concurrent checks for the same namespace could both
// miss each other's candidate and commit duplicates. Calls for different
// namespaces are safe to run concurrently.
type Checker struct {
	store     repository.Store
	retriever *retriever.Retriever
	embedder  repository.Embedder
	nli       repository.NLIClassifier
	publisher repository.EventPublisher // may be nil
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Metrics

	failOpenEnabled atomic.Bool
}

// NewChecker creates a pre-write consistency checker. publisher may be
// nil when no asynchronous relation processing is wanted.
func NewChecker(
	store repository.Store,
	ret *retriever.Retriever,
	embedder repository.Embedder,
	nli repository.NLIClassifier,
	publisher repository.EventPublisher,
	cfg Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Checker {
	if cfg.NeighborTopK <= 0 {
		cfg.NeighborTopK = 5
	}
	c := &Checker{
		store:     store,
		retriever: ret,
		embedder:  embedder,
		nli:       nli,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
	c.failOpenEnabled.Store(cfg.FailOpen)
	return c
}

// SetFailOpen switches the collaborator-failure policy at runtime. Used
// by configuration hot reload.
func (c *Checker) SetFailOpen(enabled bool) {
	c.failOpenEnabled.Store(enabled)
}

// CheckAndCommit normalizes the candidate's phrasing, searches the graph
// for near-duplicates and contradictions, and commits, skips or flags the
// write. On collaborator failure the checker fails open (configurable):
// blocking every write on a classifier outage is worse than occasionally
// accepting a duplicate, and a later asynchronous pass can re-check.
func (c *Checker) CheckAndCommit(ctx context.Context, candidate *domain.MemoryNode, namespace string) (*CheckResult, error) {
	started := time.Now()
	result, err := c.checkAndCommit(ctx, candidate, namespace)
	c.metrics.RecordOperation("check_and_commit", time.Since(started), err)
	return result, err
}

func (c *Checker) checkAndCommit(ctx context.Context, candidate *domain.MemoryNode, namespace string) (*CheckResult, error) {
	if candidate == nil || candidate.Text == "" {
		return nil, appErrors.NewValidation("candidate text cannot be empty")
	}

	// Perspective adjustment: stored facts use the observer's phrasing,
	// so the candidate must too, both for comparison and for storage.
	role, lang := originOf(candidate)
	adjusted := AdjustPerspective(candidate.Text, role, lang)
	candidate.Text = adjusted

	if len(candidate.Embedding) == 0 {
		vectors, err := c.embedder.Embed(ctx, []string{adjusted})
		if err != nil {
			// a node without an embedding cannot be stored, so an
			// embedder outage cannot fail open
			return nil, appErrors.Wrap(err, "failed to embed candidate text")
		}
		candidate.Embedding = vectors[0]
	}

	// Candidate retrieval, restricted to the candidate's own scope.
	goal := neighborGoal(candidate)
	neighbors, err := c.retriever.Retrieve(ctx, namespace, goal, candidate.Embedding, candidate.MemoryType, c.cfg.NeighborTopK)
	if err != nil {
		return c.failOpen(ctx, candidate, namespace, "retriever", err)
	}

	if len(neighbors.Nodes) > 0 {
		targets := make([]string, len(neighbors.Nodes))
		for i, n := range neighbors.Nodes {
			targets[i] = n.Text
		}

		labels, err := c.nli.CompareOneToMany(ctx, adjusted, targets)
		if err != nil {
			return c.failOpen(ctx, candidate, namespace, "nli", err)
		}

		for i, label := range labels {
			if label == domain.NLIDuplicate {
				return c.skipDuplicate(ctx, candidate, neighbors.Nodes[i], namespace)
			}
		}
		for i, label := range labels {
			if label == domain.NLIContradiction {
				return c.flagConflict(ctx, candidate, neighbors.Nodes[i], namespace)
			}
		}
	}

	if err := c.commit(ctx, candidate, namespace); err != nil {
		return nil, err
	}
	return &CheckResult{Decision: DecisionCommitted, NodeID: candidate.ID}, nil
}

// skipDuplicate merges the candidate's provenance into the existing node
// instead of writing a second copy. The existing text is left untouched.
func (c *Checker) skipDuplicate(ctx context.Context, candidate, existing *domain.MemoryNode, namespace string) (*CheckResult, error) {
	existing.Sources = append(existing.Sources, candidate.Sources...)
	existing.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateNode(ctx, namespace, existing); err != nil {
		c.logger.Warn("failed to merge provenance into duplicate",
			zap.String("namespace", namespace),
			zap.String("existing_id", existing.ID),
			zap.Error(err),
		)
	}

	c.logger.Info("skipped duplicate write",
		zap.String("namespace", namespace),
		zap.String("existing_id", existing.ID),
	)
	return &CheckResult{Decision: DecisionSkippedDuplicate, ExistingID: existing.ID}, nil
}

// flagConflict writes the candidate and links it to the contradicted node
// so conflict resolution can find the pair. The stored fact is never
// silently overwritten.
func (c *Checker) flagConflict(ctx context.Context, candidate, conflicting *domain.MemoryNode, namespace string) (*CheckResult, error) {
	if err := c.commit(ctx, candidate, namespace); err != nil {
		return nil, err
	}

	edge := domain.MemoryEdge{
		SourceID:     candidate.ID,
		TargetID:     conflicting.ID,
		RelationType: domain.RelationContradicts,
		Confidence:   candidate.Confidence,
	}
	if err := c.store.AddEdge(ctx, namespace, edge); err != nil {
		c.logger.Warn("failed to record contradiction edge",
			zap.String("namespace", namespace),
			zap.String("node_id", candidate.ID),
			zap.String("conflicting_id", conflicting.ID),
			zap.Error(err),
		)
	}

	c.logger.Info("flagged contradictory write",
		zap.String("namespace", namespace),
		zap.String("node_id", candidate.ID),
		zap.String("conflicting_id", conflicting.ID),
	)
	return &CheckResult{
		Decision:      DecisionFlagged,
		NodeID:        candidate.ID,
		ConflictingID: conflicting.ID,
	}, nil
}

// failOpen commits the write despite an incomplete check, or surfaces the
// outage when the namespace is configured fail-closed.
func (c *Checker) failOpen(ctx context.Context, candidate *domain.MemoryNode, namespace, collaborator string, cause error) (*CheckResult, error) {
	if !c.failOpenEnabled.Load() {
		return nil, appErrors.Wrap(cause, "consistency check unavailable and write policy is fail-closed")
	}

	c.logger.Warn("consistency check degraded, committing unchecked",
		zap.String("namespace", namespace),
		zap.String("collaborator", collaborator),
		zap.Error(cause),
	)
	c.metrics.RecordFailOpenCommit()

	if err := c.commit(ctx, candidate, namespace); err != nil {
		return nil, err
	}
	return &CheckResult{Decision: DecisionCommitted, NodeID: candidate.ID, FailedOpen: true}, nil
}

func (c *Checker) commit(ctx context.Context, candidate *domain.MemoryNode, namespace string) error {
	if err := c.store.AddNode(ctx, namespace, candidate); err != nil {
		return appErrors.Wrap(err, "failed to commit candidate node")
	}

	if c.publisher != nil {
		if err := c.publisher.NodeCommitted(ctx, namespace, candidate.ID, candidate.Tags); err != nil {
			// The write already landed; a lost event only delays
			// relation processing until the next scheduled pass.
			c.logger.Warn("failed to publish commit event",
				zap.String("namespace", namespace),
				zap.String("node_id", candidate.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// originOf extracts the declared role and language of the candidate's
// originating message, defaulting to an English user message.
func originOf(candidate *domain.MemoryNode) (role, lang string) {
	role, lang = "user", "en"
	for _, s := range candidate.Sources {
		if s.Kind == domain.SourceKindMessage {
			if s.Role != "" {
				role = s.Role
			}
			if s.Lang != "" {
				lang = s.Lang
			}
			return role, lang
		}
	}
	return role, lang
}

// neighborGoal builds the retrieval goal used to find comparison
// neighbors for a candidate.
func neighborGoal(candidate *domain.MemoryNode) *domain.ParsedTaskGoal {
	goal := &domain.ParsedTaskGoal{
		Memories: []string{candidate.Text},
		Tags:     candidate.Tags,
		GoalType: domain.GoalUpdate,
	}
	if candidate.Key != "" {
		goal.Keys = []string{candidate.Key}
	}
	return goal
}
