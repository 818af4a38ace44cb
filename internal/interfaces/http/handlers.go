// Package http exposes the memory core over a REST surface.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"memcore/internal/domain"
	"memcore/internal/repository"
	"memcore/internal/service/consistency"
	"memcore/internal/service/parser"
	"memcore/internal/service/reasoner"
	"memcore/internal/service/retriever"
	appErrors "memcore/pkg/errors"
)

// Handler serves the memory API.
type Handler struct {
	parser    *parser.Parser
	retriever *retriever.Retriever
	checker   *consistency.Checker
	reasoner  *reasoner.Reasoner
	embedder  repository.Embedder
	store     repository.Store
	validate  *validator.Validate
	logger    *zap.Logger
	topK      int
}

// NewHandler creates the API handler.
func NewHandler(
	p *parser.Parser,
	ret *retriever.Retriever,
	checker *consistency.Checker,
	reason *reasoner.Reasoner,
	embedder repository.Embedder,
	store repository.Store,
	reasonerTopK int,
	logger *zap.Logger,
) *Handler {
	if reasonerTopK <= 0 {
		reasonerTopK = 10
	}
	return &Handler{
		parser:    p,
		retriever: ret,
		checker:   checker,
		reasoner:  reason,
		embedder:  embedder,
		store:     store,
		validate:  validator.New(),
		logger:    logger,
		topK:      reasonerTopK,
	}
}

// AddMemory handles POST /v1/namespaces/{namespace}/memories.
func (h *Handler) AddMemory(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var req AddMemoryRequest
	if !h.decode(w, r, &req) {
		return
	}

	memoryType := domain.MemoryType(req.MemoryType)
	if memoryType == "" {
		memoryType = domain.LongTermMemory
	}

	candidate := domain.NewMemoryNode(req.Text, nil, memoryType)
	candidate.Key = req.Key
	candidate.Tags = req.Tags
	candidate.Background = req.Background
	candidate.Sources = []domain.SourceRef{{
		Kind: domain.SourceKindMessage,
		Role: orDefault(req.Role, "user"),
		Lang: orDefault(req.Lang, "en"),
	}}

	result, err := h.checker.CheckAndCommit(r.Context(), candidate, namespace)
	if err != nil {
		h.respondError(w, namespace, err)
		return
	}

	h.respond(w, http.StatusOK, AddMemoryResponse{
		Decision:      string(result.Decision),
		NodeID:        result.NodeID,
		ExistingID:    result.ExistingID,
		ConflictingID: result.ConflictingID,
		FailedOpen:    result.FailedOpen,
	})
}

// Search handles POST /v1/namespaces/{namespace}/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var req SearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	scope := domain.MemoryType(req.Scope)
	if scope == "" {
		scope = domain.LongTermMemory
	}
	mode := parser.ModeFast
	if req.Mode == string(parser.ModeFine) {
		mode = parser.ModeFine
	}

	goal := h.parser.Parse(r.Context(), req.Query, mode)

	vectors, err := h.embedder.Embed(r.Context(), []string{req.Query})
	if err != nil {
		h.respondError(w, namespace, err)
		return
	}

	result, err := h.retriever.Retrieve(r.Context(), namespace, goal, vectors[0], scope, req.TopK)
	if err != nil {
		h.respondError(w, namespace, err)
		return
	}

	results := make([]SearchResult, 0, len(result.Nodes))
	for _, node := range result.Nodes {
		results = append(results, SearchResult{
			Node:  toNodeResponse(node),
			Score: result.Scores[node.ID],
		})
	}
	h.respond(w, http.StatusOK, SearchResponse{Results: results, Degraded: result.Degraded})
}

// GetNode handles GET /v1/namespaces/{namespace}/nodes/{id}.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	id := chi.URLParam(r, "id")

	node, err := h.store.GetNode(r.Context(), namespace, id)
	if err != nil {
		h.respondError(w, namespace, err)
		return
	}
	h.respond(w, http.StatusOK, toNodeResponse(node))
}

// ProcessNode handles POST /v1/namespaces/{namespace}/nodes/{id}/process.
// Deployments without an event bus use it to run relation processing
// inline after a commit.
func (h *Handler) ProcessNode(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	id := chi.URLParam(r, "id")

	anchor, err := h.store.GetNode(r.Context(), namespace, id)
	if err != nil {
		h.respondError(w, namespace, err)
		return
	}

	result, err := h.reasoner.ProcessNode(r.Context(), namespace, anchor, nil, h.topK)
	if err != nil {
		h.respondError(w, namespace, err)
		return
	}

	h.respond(w, http.StatusOK, ProcessNodeResponse{
		Relations:      len(result.Relations),
		InferredNodes:  len(result.InferredNodes),
		SequenceLinks:  len(result.SequenceLinks),
		AggregateNodes: len(result.AggregateNodes),
		Failures:       result.Failures,
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		h.respond(w, http.StatusBadRequest, ErrorResponse{
			Error: "request body is not valid JSON",
			Code:  "VALIDATION",
		})
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		h.respond(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION",
		})
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, namespace string, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case appErrors.IsValidation(err):
		status, code = http.StatusBadRequest, "VALIDATION"
	case appErrors.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case appErrors.IsUnavailable(err):
		status, code = http.StatusServiceUnavailable, "UNAVAILABLE"
	case appErrors.IsInvariant(err):
		status, code = http.StatusConflict, "INVARIANT"
	case appErrors.IsMalformed(err):
		status, code = http.StatusBadGateway, "MALFORMED"
	}

	if status >= 500 {
		h.logger.Error("request failed",
			zap.String("namespace", namespace),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	h.respond(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
