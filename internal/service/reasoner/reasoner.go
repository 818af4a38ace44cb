// Package reasoner links committed memories into the graph: it classifies
// pairwise relations around an anchor node, infers new facts along causal
// chains, detects chronological sequences and synthesizes aggregate nodes.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/repository"
	"memcore/internal/service/llm"
	appErrors "memcore/pkg/errors"
	"memcore/pkg/observability"
)

// Config tunes reasoning behavior.
type Config struct {
	// Workers bounds the number of concurrent language-model calls.
	Workers int
	// MinRelationConfidence drops pair classifications below this value.
	MinRelationConfidence float64
	// MinChainConfidence is the minimum confidence every edge of a
	// causal chain must carry before an inference is attempted.
	MinChainConfidence float64
	// MinSharedTags is the tag overlap required to cluster two nodes
	// that do not share a key.
	MinSharedTags int
}

// DefaultConfig returns the values used in production.
func DefaultConfig() Config {
	return Config{
		Workers:               4,
		MinRelationConfidence: 0.5,
		MinChainConfidence:    0.6,
		MinSharedTags:         2,
	}
}

// Result is the outcome of one ProcessNode call. Partial failures do not
// abort the batch; Failures counts the pairs, chains and clusters that
// could not be processed.
type Result struct {
	Relations      []domain.MemoryEdge
	InferredNodes  []*domain.MemoryNode
	SequenceLinks  []domain.MemoryEdge
	AggregateNodes []*domain.MemoryNode
	Failures       int
}

// EdgeCount returns the number of edges created by the call, including
// the implicit Aggregates edges of aggregate nodes.
func (r *Result) EdgeCount() int {
	n := len(r.Relations) + len(r.SequenceLinks)
	for _, agg := range r.AggregateNodes {
		n += len(agg.SourceNodeIDs())
	}
	return n
}

// Reasoner reads the store around an anchor node and writes through new
// edges, inferred nodes and aggregate nodes. It never mutates the text of
// an existing node.
type Reasoner struct {
	store    repository.Store
	embedder repository.Embedder
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewReasoner creates a reasoner.
func NewReasoner(
	store repository.Store,
	embedder repository.Embedder,
	provider llm.Provider,
	cfg Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Reasoner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MinSharedTags <= 0 {
		cfg.MinSharedTags = DefaultConfig().MinSharedTags
	}
	return &Reasoner{
		store:    store,
		embedder: embedder,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// pairResult is one classified (anchor, neighbor) pair.
type pairResult struct {
	neighbor   *domain.MemoryNode
	relation   domain.RelationType
	confidence float64
}

// ProcessNode links anchor into the graph. excludeIDs are skipped during
// neighbor selection; the anchor itself is always excluded. Failures on
// individual pairs, chains or clusters are counted in the result, not
// returned as errors; only a failed neighbor search fails the call.
func (r *Reasoner) ProcessNode(ctx context.Context, namespace string, anchor *domain.MemoryNode, excludeIDs []string, topK int) (*Result, error) {
	start := time.Now()
	result, err := r.processNode(ctx, namespace, anchor, excludeIDs, topK)
	r.metrics.RecordOperation("process_node", time.Since(start), err)
	return result, err
}

func (r *Reasoner) processNode(ctx context.Context, namespace string, anchor *domain.MemoryNode, excludeIDs []string, topK int) (*Result, error) {
	if anchor == nil {
		return nil, appErrors.NewValidation("anchor node is required")
	}
	if topK <= 0 {
		topK = 10
	}

	neighbors, err := r.selectNeighbors(ctx, namespace, anchor, excludeIDs, topK)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to select neighbors")
	}

	result := &Result{}
	if len(neighbors) == 0 {
		return result, nil
	}

	pairs := r.classifyPairs(ctx, anchor, neighbors, result)
	if err := ctx.Err(); err != nil {
		return nil, appErrors.NewUnavailable("relation processing canceled", err)
	}

	r.persistRelations(ctx, namespace, anchor, pairs, result)
	r.detectSequences(ctx, namespace, anchor, pairs, result)
	r.inferFromChains(ctx, namespace, anchor, neighbors, pairs, result)
	r.synthesizeAggregates(ctx, namespace, anchor, neighbors, result)

	if result.Failures > 0 {
		r.logger.Warn("relation processing completed with partial failures",
			zap.String("namespace", namespace),
			zap.String("anchor_id", anchor.ID),
			zap.Int("failures", result.Failures),
		)
	}
	return result, nil
}

func (r *Reasoner) selectNeighbors(ctx context.Context, namespace string, anchor *domain.MemoryNode, excludeIDs []string, topK int) ([]*domain.MemoryNode, error) {
	excluded := make(map[string]struct{}, len(excludeIDs)+1)
	excluded[anchor.ID] = struct{}{}
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	scored, err := r.store.VectorSearch(ctx, namespace, anchor.MemoryType, anchor.Embedding, topK+len(excluded))
	if err != nil {
		return nil, err
	}

	neighbors := make([]*domain.MemoryNode, 0, topK)
	for _, s := range scored {
		if _, skip := excluded[s.Node.ID]; skip {
			continue
		}
		neighbors = append(neighbors, s.Node)
		if len(neighbors) == topK {
			break
		}
	}
	return neighbors, nil
}

type relationReply struct {
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// classifyPairs runs one language-model call per (anchor, neighbor) pair
// with bounded parallelism. None pairs and failed pairs are dropped;
// failures are counted.
func (r *Reasoner) classifyPairs(ctx context.Context, anchor *domain.MemoryNode, neighbors []*domain.MemoryNode, result *Result) []pairResult {
	type indexed struct {
		idx  int
		pair pairResult
		ok   bool
		fail bool
	}

	jobs := make(chan int)
	out := make(chan indexed, len(neighbors))

	var wg sync.WaitGroup
	workers := r.cfg.Workers
	if workers > len(neighbors) {
		workers = len(neighbors)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					out <- indexed{idx: i, fail: true}
					continue
				}
				pair, err := r.classifyPair(ctx, anchor, neighbors[i])
				if err != nil {
					r.logger.Warn("pair classification failed",
						zap.String("anchor_id", anchor.ID),
						zap.String("neighbor_id", neighbors[i].ID),
						zap.Error(err),
					)
					out <- indexed{idx: i, fail: true}
					continue
				}
				out <- indexed{idx: i, pair: pair, ok: pair.relation != ""}
			}
		}()
	}

	go func() {
		for i := range neighbors {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	ordered := make([]indexed, 0, len(neighbors))
	for res := range out {
		ordered = append(ordered, res)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].idx < ordered[j].idx })

	pairs := make([]pairResult, 0, len(ordered))
	for _, res := range ordered {
		if res.fail {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			continue
		}
		if res.ok {
			pairs = append(pairs, res.pair)
		}
	}
	return pairs
}

// classifyPair returns a zero relation for None and for classifications
// below the confidence floor.
func (r *Reasoner) classifyPair(ctx context.Context, anchor, neighbor *domain.MemoryNode) (pairResult, error) {
	prompt := fmt.Sprintf(relationPrompt, anchor.Text, neighbor.Text)
	raw, err := r.provider.Complete(ctx, prompt, llm.CompletionOptions{
		Temperature: 0,
		MaxTokens:   128,
		Format:      "json",
	})
	if err != nil {
		return pairResult{}, err
	}

	var reply relationReply
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &reply); err != nil {
		return pairResult{}, appErrors.NewMalformed("relation classification is not valid JSON", err)
	}

	relation := domain.RelationType(strings.ToUpper(strings.TrimSpace(reply.Relation)))
	switch relation {
	case domain.RelationCauses, domain.RelationFollows, domain.RelationRelatedTo:
	case "NONE", "":
		return pairResult{neighbor: neighbor}, nil
	default:
		return pairResult{}, appErrors.NewMalformed(
			fmt.Sprintf("relation classification returned unknown type %q", reply.Relation), nil)
	}

	if reply.Confidence < r.cfg.MinRelationConfidence {
		return pairResult{neighbor: neighbor}, nil
	}
	return pairResult{neighbor: neighbor, relation: relation, confidence: clamp01(reply.Confidence)}, nil
}

// persistRelations writes Causes and RelatedTo edges from the anchor.
// Follows classifications are handled by sequence detection, which owns
// the edge direction.
func (r *Reasoner) persistRelations(ctx context.Context, namespace string, anchor *domain.MemoryNode, pairs []pairResult, result *Result) {
	for _, p := range pairs {
		if p.relation != domain.RelationCauses && p.relation != domain.RelationRelatedTo {
			continue
		}
		edge := domain.MemoryEdge{
			SourceID:     anchor.ID,
			TargetID:     p.neighbor.ID,
			RelationType: p.relation,
			Confidence:   p.confidence,
		}
		if err := r.store.AddEdge(ctx, namespace, edge); err != nil {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			r.logger.Warn("failed to persist relation edge",
				zap.String("namespace", namespace),
				zap.String("source_id", edge.SourceID),
				zap.String("target_id", edge.TargetID),
				zap.Error(err),
			)
			continue
		}
		result.Relations = append(result.Relations, edge)
	}
}

// detectSequences proposes Follows edges from earlier to later node, but
// only for pairs whose classification already indicates a temporal or
// causal association. Timestamp order alone never creates an edge.
func (r *Reasoner) detectSequences(ctx context.Context, namespace string, anchor *domain.MemoryNode, pairs []pairResult, result *Result) {
	for _, p := range pairs {
		if p.relation != domain.RelationFollows && p.relation != domain.RelationCauses {
			continue
		}
		if anchor.UpdatedAt.Equal(p.neighbor.UpdatedAt) {
			continue
		}

		earlier, later := anchor, p.neighbor
		if later.UpdatedAt.Before(earlier.UpdatedAt) {
			earlier, later = later, earlier
		}
		if err := domain.ValidateFollows(earlier, later); err != nil {
			continue
		}

		edge := domain.MemoryEdge{
			SourceID:     earlier.ID,
			TargetID:     later.ID,
			RelationType: domain.RelationFollows,
			Confidence:   p.confidence,
		}
		if err := r.store.AddEdge(ctx, namespace, edge); err != nil {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			r.logger.Warn("failed to persist sequence edge",
				zap.String("namespace", namespace),
				zap.String("source_id", edge.SourceID),
				zap.String("target_id", edge.TargetID),
				zap.Error(err),
			)
			continue
		}
		result.SequenceLinks = append(result.SequenceLinks, edge)
	}
}

type chainReply struct {
	Conclusion string  `json:"conclusion"`
	Confidence float64 `json:"confidence"`
}

// inferFromChains walks causal chains of 2 to 3 edges through the
// neighbor set, combining edges classified in this run with edges already
// persisted, and synthesizes one inferred node per sound chain.
func (r *Reasoner) inferFromChains(ctx context.Context, namespace string, anchor *domain.MemoryNode, neighbors []*domain.MemoryNode, pairs []pairResult, result *Result) {
	nodes := make(map[string]*domain.MemoryNode, len(neighbors)+1)
	nodes[anchor.ID] = anchor
	for _, n := range neighbors {
		nodes[n.ID] = n
	}

	// adjacency of Causes edges within the node set
	adjacency := make(map[string][]causalEdge)
	addEdge := func(source, target string, confidence float64) {
		if confidence < r.cfg.MinChainConfidence {
			return
		}
		for _, e := range adjacency[source] {
			if e.target == target {
				return
			}
		}
		adjacency[source] = append(adjacency[source], causalEdge{target: target, confidence: confidence})
	}

	for _, p := range pairs {
		if p.relation == domain.RelationCauses {
			addEdge(anchor.ID, p.neighbor.ID, p.confidence)
		}
	}
	for id := range nodes {
		edges, err := r.store.GetEdges(ctx, namespace, id)
		if err != nil {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			continue
		}
		for _, e := range edges {
			if e.RelationType != domain.RelationCauses || e.SourceID != id {
				continue
			}
			if _, ok := nodes[e.TargetID]; !ok {
				continue
			}
			addEdge(e.SourceID, e.TargetID, e.Confidence)
		}
	}

	chains := enumerateChains(adjacency)
	seen := make(map[string]struct{})
	for _, chain := range chains {
		if ctx.Err() != nil {
			return
		}
		sig := strings.Join(chain.nodeIDs, ">")
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}

		if err := r.inferOne(ctx, namespace, anchor, nodes, chain, result); err != nil {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			r.logger.Warn("causal chain inference failed",
				zap.String("namespace", namespace),
				zap.Strings("chain", chain.nodeIDs),
				zap.Error(err),
			)
		}
	}
}

type causalEdge struct {
	target     string
	confidence float64
}

type causalChain struct {
	nodeIDs       []string
	minConfidence float64
}

// enumerateChains returns every simple path of 2 or 3 edges.
func enumerateChains(adjacency map[string][]causalEdge) []causalChain {
	var chains []causalChain
	var walk func(path []string, minConf float64)
	walk = func(path []string, minConf float64) {
		last := path[len(path)-1]
		edges := len(path) - 1
		if edges >= 2 {
			chains = append(chains, causalChain{
				nodeIDs:       append([]string(nil), path...),
				minConfidence: minConf,
			})
		}
		if edges == 3 {
			return
		}
		for _, e := range adjacency[last] {
			cyclic := false
			for _, id := range path {
				if id == e.target {
					cyclic = true
					break
				}
			}
			if cyclic {
				continue
			}
			conf := minConf
			if e.confidence < conf {
				conf = e.confidence
			}
			walk(append(path, e.target), conf)
		}
	}
	for start := range adjacency {
		walk([]string{start}, 1)
	}
	sort.Slice(chains, func(i, j int) bool {
		return strings.Join(chains[i].nodeIDs, ">") < strings.Join(chains[j].nodeIDs, ">")
	})
	return chains
}

func (r *Reasoner) inferOne(ctx context.Context, namespace string, anchor *domain.MemoryNode, nodes map[string]*domain.MemoryNode, chain causalChain, result *Result) error {
	steps := make([]string, len(chain.nodeIDs))
	for i, id := range chain.nodeIDs {
		steps[i] = fmt.Sprintf("%d. %s", i+1, nodes[id].Text)
	}

	raw, err := r.provider.Complete(ctx, fmt.Sprintf(chainPrompt, strings.Join(steps, "\n")), llm.CompletionOptions{
		Temperature: 0,
		MaxTokens:   256,
		Format:      "json",
	})
	if err != nil {
		return err
	}

	var reply chainReply
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &reply); err != nil {
		return appErrors.NewMalformed("chain conclusion is not valid JSON", err)
	}
	conclusion := strings.TrimSpace(reply.Conclusion)
	if conclusion == "" {
		// the model judged the chain unsound; not a failure
		return nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{conclusion})
	if err != nil {
		return err
	}

	inferred := domain.NewMemoryNode(conclusion, vectors[0], anchor.MemoryType)
	inferred.Confidence = chain.minConfidence
	inferred.Background = "inference"
	inferred.Sources = []domain.SourceRef{{
		Kind:    domain.SourceKindInference,
		NodeIDs: append([]string(nil), chain.nodeIDs...),
	}}

	if err := r.store.AddNode(ctx, namespace, inferred); err != nil {
		return err
	}
	result.InferredNodes = append(result.InferredNodes, inferred)
	return nil
}

type aggregateReply struct {
	Summary    string  `json:"summary"`
	Key        string  `json:"key"`
	Confidence float64 `json:"confidence"`
}

// synthesizeAggregates clusters the anchor and its neighbors by shared
// key or tag overlap and writes one aggregate node per cluster of two or
// more members, linked to every member via Aggregates edges.
func (r *Reasoner) synthesizeAggregates(ctx context.Context, namespace string, anchor *domain.MemoryNode, neighbors []*domain.MemoryNode, result *Result) {
	members := append([]*domain.MemoryNode{anchor}, neighbors...)
	for _, cluster := range r.cluster(members) {
		if ctx.Err() != nil {
			return
		}
		if err := r.aggregateOne(ctx, namespace, anchor, cluster, result); err != nil {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			r.logger.Warn("aggregate synthesis failed",
				zap.String("namespace", namespace),
				zap.Int("cluster_size", len(cluster)),
				zap.Error(err),
			)
		}
	}
}

// cluster groups nodes by union-find: two nodes join the same cluster
// when they share a non-empty key or at least MinSharedTags tags. Only
// clusters with two or more members are returned.
func (r *Reasoner) cluster(members []*domain.MemoryNode) [][]*domain.MemoryNode {
	parent := make([]int, len(members))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) { parent[find(a)] = find(b) }

	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sameKey := members[i].Key != "" && members[i].Key == members[j].Key
			if sameKey || members[i].SharedTags(members[j]) >= r.cfg.MinSharedTags {
				union(i, j)
			}
		}
	}

	grouped := make(map[int][]*domain.MemoryNode)
	for i, m := range members {
		root := find(i)
		grouped[root] = append(grouped[root], m)
	}

	roots := make([]int, 0, len(grouped))
	for root, cluster := range grouped {
		if len(cluster) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	clusters := make([][]*domain.MemoryNode, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, grouped[root])
	}
	return clusters
}

func (r *Reasoner) aggregateOne(ctx context.Context, namespace string, anchor *domain.MemoryNode, cluster []*domain.MemoryNode, result *Result) error {
	lines := make([]string, len(cluster))
	ids := make([]string, len(cluster))
	for i, m := range cluster {
		lines[i] = "- " + m.Text
		ids[i] = m.ID
	}

	raw, err := r.provider.Complete(ctx, fmt.Sprintf(aggregatePrompt, strings.Join(lines, "\n")), llm.CompletionOptions{
		Temperature: 0,
		MaxTokens:   256,
		Format:      "json",
	})
	if err != nil {
		return err
	}

	var reply aggregateReply
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &reply); err != nil {
		return appErrors.NewMalformed("aggregate summary is not valid JSON", err)
	}
	summary := strings.TrimSpace(reply.Summary)
	if summary == "" {
		return appErrors.NewMalformed("aggregate summary is empty", nil)
	}

	vectors, err := r.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return err
	}

	aggregate := domain.NewMemoryNode(summary, vectors[0], anchor.MemoryType)
	aggregate.Key = strings.TrimSpace(reply.Key)
	aggregate.Tags = sharedClusterTags(cluster)
	aggregate.Confidence = clamp01(reply.Confidence)
	aggregate.Background = "aggregation"
	aggregate.Sources = []domain.SourceRef{{
		Kind:    domain.SourceKindAggregation,
		NodeIDs: ids,
	}}

	if err := r.store.AddNode(ctx, namespace, aggregate); err != nil {
		return err
	}

	for _, id := range ids {
		edge := domain.MemoryEdge{
			SourceID:     aggregate.ID,
			TargetID:     id,
			RelationType: domain.RelationAggregates,
			Confidence:   aggregate.Confidence,
		}
		if err := r.store.AddEdge(ctx, namespace, edge); err != nil {
			result.Failures++
			r.metrics.RecordReasonerFailure()
			r.logger.Warn("failed to persist aggregate edge",
				zap.String("namespace", namespace),
				zap.String("aggregate_id", aggregate.ID),
				zap.String("member_id", id),
				zap.Error(err),
			)
		}
	}

	result.AggregateNodes = append(result.AggregateNodes, aggregate)
	return nil
}

// sharedClusterTags returns the tags carried by every member.
func sharedClusterTags(cluster []*domain.MemoryNode) []string {
	counts := make(map[string]int)
	for _, m := range cluster {
		seen := make(map[string]struct{})
		for _, t := range m.Tags {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			counts[t]++
		}
	}
	var shared []string
	for t, n := range counts {
		if n == len(cluster) {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
