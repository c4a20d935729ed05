package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-recall/memory"
)

// FactHandler serves fact ingestion: screening, storing, contradiction
// tagging, and alias registration.
type FactHandler struct {
	engine *memory.Engine
	logger *zap.Logger
}

func NewFactHandler(engine *memory.Engine, logger *zap.Logger) *FactHandler {
	return &FactHandler{engine: engine, logger: logger}
}

type storeFactRequest struct {
	ProfileID     string   `json:"profile_id" binding:"required"`
	Content       string   `json:"content" binding:"required"`
	Type          string   `json:"type"`
	Lane          string   `json:"lane"`
	Importance    float64  `json:"importance"`
	Confidence    float64  `json:"confidence"`
	Keywords      []string `json:"keywords"`
	Relationships []string `json:"relationships"`
	SourceKind    string   `json:"source_kind"`
	SourceRef     string   `json:"source_ref"`
	Protected     bool     `json:"protected"`
}

type duplicateCheckResponse struct {
	Action  string                   `json:"action"`
	Matches []duplicateMatchResponse `json:"matches"`
	FactID  string                   `json:"fact_id,omitempty"`
}

type duplicateMatchResponse struct {
	FactID     string  `json:"fact_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Store handles POST /api/v1/facts: screen then persist. A BLOCK verdict
// returns 200 with the verdict, not an error; the caller decides what to do
// with a rejected submission.
func (h *FactHandler) Store(c *gin.Context) {
	var req storeFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id and content are required")
		return
	}

	fact := &memory.Fact{
		ProfileID:     req.ProfileID,
		Content:       req.Content,
		Type:          memory.FactType(req.Type),
		Lane:          memory.Lane(req.Lane),
		Importance:    req.Importance,
		Confidence:    req.Confidence,
		Keywords:      req.Keywords,
		Relationships: req.Relationships,
		Protected:     req.Protected,
		Source:        memory.Source{Kind: req.SourceKind, Ref: req.SourceRef},
	}
	result, err := h.engine.StoreFact(c.Request.Context(), fact)
	if err != nil {
		respondWithTaxonomy(c, err, "failed to store fact", h.logger,
			zap.String("profile_id", req.ProfileID))
		return
	}

	resp := toDuplicateCheckResponse(result)
	status := http.StatusCreated
	if result.Action == memory.ActionBlock {
		status = http.StatusOK
	} else {
		resp.FactID = fact.ID
	}
	c.JSON(status, resp)
}

type checkDuplicateRequest struct {
	ProfileID string `json:"profile_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

// Check handles POST /api/v1/facts/check: screening without persistence.
func (h *FactHandler) Check(c *gin.Context) {
	var req checkDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id and content are required")
		return
	}

	result, err := h.engine.CheckDuplicate(c.Request.Context(), req.ProfileID, req.Content)
	if err != nil {
		respondWithTaxonomy(c, err, "duplicate check failed", h.logger,
			zap.String("profile_id", req.ProfileID))
		return
	}
	c.JSON(http.StatusOK, toDuplicateCheckResponse(result))
}

type disputeRequest struct {
	ProfileID string `json:"profile_id" binding:"required"`
	FactID    string `json:"fact_id" binding:"required"`
	RivalID   string `json:"rival_id"`
	Reason    string `json:"reason"`
}

type disputeResponse struct {
	FactID   string         `json:"fact_id"`
	Lane     string         `json:"lane"`
	Disputes []edgeResponse `json:"disputes"`
}

type edgeResponse struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Type   string `json:"type"`
}

// Dispute handles POST /api/v1/facts/dispute: flips the fact's lane to
// DISPUTED and records the contradiction edge.
func (h *FactHandler) Dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id and fact_id are required")
		return
	}

	edges, err := h.engine.DisputeFact(c.Request.Context(), req.ProfileID, req.FactID, req.RivalID, req.Reason)
	if err != nil {
		respondWithTaxonomy(c, err, "failed to dispute fact", h.logger,
			zap.String("fact_id", req.FactID))
		return
	}

	resp := disputeResponse{
		FactID:   req.FactID,
		Lane:     string(memory.LaneDisputed),
		Disputes: make([]edgeResponse, 0, len(edges)),
	}
	for _, edge := range edges {
		resp.Disputes = append(resp.Disputes, edgeResponse{
			FromID: edge.FromID,
			ToID:   edge.ToID,
			Type:   edge.EdgeType,
		})
	}
	c.JSON(http.StatusOK, resp)
}

type aliasRequest struct {
	ProfileID     string   `json:"profile_id" binding:"required"`
	CanonicalName string   `json:"canonical_name" binding:"required"`
	Aliases       []string `json:"aliases" binding:"required"`
}

// Alias handles POST /api/v1/entities/alias.
func (h *FactHandler) Alias(c *gin.Context) {
	var req aliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id, canonical_name, and aliases are required")
		return
	}

	if err := h.engine.RegisterAlias(c.Request.Context(), req.ProfileID, req.CanonicalName, req.Aliases); err != nil {
		respondWithTaxonomy(c, err, "failed to register alias", h.logger,
			zap.String("profile_id", req.ProfileID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"canonical_name": req.CanonicalName, "aliases": req.Aliases})
}

func toDuplicateCheckResponse(result *memory.DuplicateCheckResult) duplicateCheckResponse {
	resp := duplicateCheckResponse{
		Action:  string(result.Action),
		Matches: make([]duplicateMatchResponse, 0, len(result.Matches)),
	}
	for _, m := range result.Matches {
		resp.Matches = append(resp.Matches, duplicateMatchResponse{
			FactID:     m.FactID,
			Content:    m.Content,
			Similarity: m.Similarity,
		})
	}
	return resp
}
