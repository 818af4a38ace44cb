package domain

// GoalType classifies the intent behind a free-text query.
type GoalType string

const (
	GoalRetrieval GoalType = "retrieval"
	GoalUpdate    GoalType = "update"
	GoalUnknown   GoalType = "unknown"
)

// ParsedTaskGoal is the structured retrieval plan derived from a query.
// Goals are produced fresh per query and never persisted.
type ParsedTaskGoal struct {
	// Memories are semantic descriptions of what to look for, used as
	// soft hints alongside the query embedding.
	Memories []string `json:"memories"`
	// Keys are keywords for exact or near-exact matching.
	Keys []string `json:"keys"`
	// Tags are categorical filters.
	Tags     []string `json:"tags"`
	GoalType GoalType `json:"goal_type"`
}

// FallbackGoal is the minimal goal used when the language model cannot
// produce a usable plan: the raw task text as the only semantic hint.
func FallbackGoal(task string) *ParsedTaskGoal {
	return &ParsedTaskGoal{
		Memories: []string{task},
		GoalType: GoalRetrieval,
	}
}
