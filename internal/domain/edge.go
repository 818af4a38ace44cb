package domain

import (
	appErrors "memcore/pkg/errors"
)

// RelationType classifies a directed edge between two memory nodes.
type RelationType string

const (
	RelationCauses      RelationType = "CAUSES"
	RelationFollows     RelationType = "FOLLOWS"
	RelationRelatedTo   RelationType = "RELATED_TO"
	RelationAggregates  RelationType = "AGGREGATES"
	RelationContradicts RelationType = "CONTRADICTS"
)

// MemoryEdge is a typed, weighted relationship between two nodes.
type MemoryEdge struct {
	SourceID     string       `json:"source_id"`
	TargetID     string       `json:"target_id"`
	RelationType RelationType `json:"relation_type"`
	Confidence   float64      `json:"confidence"`
}

// Validate checks edge-local invariants. Endpoint existence is checked by
// the store at write time since only it can see the full graph.
func (e MemoryEdge) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return appErrors.NewValidation("edge endpoints cannot be empty")
	}
	if e.SourceID == e.TargetID {
		return appErrors.NewInvariant("edge cannot connect a node to itself")
	}
	switch e.RelationType {
	case RelationCauses, RelationFollows, RelationRelatedTo, RelationAggregates, RelationContradicts:
	default:
		return appErrors.NewValidation("unknown relation type")
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return appErrors.NewValidation("confidence must be between 0.0 and 1.0")
	}
	return nil
}

// ValidateFollows rejects a FOLLOWS edge whose endpoints are not strictly
// ordered in time from source (earlier) to target (later).
func ValidateFollows(source, target *MemoryNode) error {
	if !source.UpdatedAt.Before(target.UpdatedAt) {
		return appErrors.NewInvariant("FOLLOWS edge requires source updated strictly before target")
	}
	return nil
}
