package domain

// NLILabel is the pairwise classification of a candidate fact against a
// stored fact. It drives write decisions and is never persisted directly.
type NLILabel string

const (
	NLIDuplicate     NLILabel = "Duplicate"
	NLIContradiction NLILabel = "Contradiction"
	NLIUnrelated     NLILabel = "Unrelated"
)
