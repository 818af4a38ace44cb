package http

import (
	"time"

	"memcore/internal/domain"
)

// AddMemoryRequest is the payload for committing a candidate fact.
type AddMemoryRequest struct {
	Text       string   `json:"text" validate:"required,min=1,max=8192"`
	MemoryType string   `json:"memory_type" validate:"omitempty,oneof=WorkingMemory LongTermMemory UserMemory"`
	Key        string   `json:"key" validate:"max=256"`
	Tags       []string `json:"tags" validate:"max=32,dive,min=1,max=64"`
	Role       string   `json:"role" validate:"omitempty,oneof=user assistant"`
	Lang       string   `json:"lang" validate:"omitempty,oneof=en zh"`
	Background string   `json:"background" validate:"max=1024"`
}

// AddMemoryResponse reports the consistency decision for a candidate.
type AddMemoryResponse struct {
	Decision      string `json:"decision"`
	NodeID        string `json:"node_id,omitempty"`
	ExistingID    string `json:"existing_id,omitempty"`
	ConflictingID string `json:"conflicting_id,omitempty"`
	FailedOpen    bool   `json:"failed_open,omitempty"`
}

// SearchRequest is the payload for a retrieval query.
type SearchRequest struct {
	Query string `json:"query" validate:"required,min=1,max=4096"`
	Scope string `json:"scope" validate:"omitempty,oneof=WorkingMemory LongTermMemory UserMemory"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=100"`
	Mode  string `json:"mode" validate:"omitempty,oneof=fast fine"`
}

// SearchResponse carries ranked results plus the degradation marker so
// callers can tell "no matches" from "results may be incomplete".
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
}

// SearchResult is one ranked node.
type SearchResult struct {
	Node  NodeResponse `json:"node"`
	Score float64      `json:"score"`
}

// NodeResponse is the external representation of a memory node. The
// embedding is omitted; it is an implementation detail of the store.
type NodeResponse struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	MemoryType string    `json:"memory_type"`
	Key        string    `json:"key,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProcessNodeResponse summarizes one relation-processing run.
type ProcessNodeResponse struct {
	Relations      int `json:"relations"`
	InferredNodes  int `json:"inferred_nodes"`
	SequenceLinks  int `json:"sequence_links"`
	AggregateNodes int `json:"aggregate_nodes"`
	Failures       int `json:"failures"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func toNodeResponse(node *domain.MemoryNode) NodeResponse {
	return NodeResponse{
		ID:         node.ID,
		Text:       node.Text,
		MemoryType: string(node.MemoryType),
		Key:        node.Key,
		Tags:       node.Tags,
		Confidence: node.Confidence,
		Status:     string(node.Status),
		CreatedAt:  node.CreatedAt,
		UpdatedAt:  node.UpdatedAt,
	}
}
