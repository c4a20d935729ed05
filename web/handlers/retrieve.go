package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-recall/memory"
)

// RetrieveHandler serves the composed retrieval operation.
type RetrieveHandler struct {
	engine *memory.Engine
	logger *zap.Logger
}

func NewRetrieveHandler(engine *memory.Engine, logger *zap.Logger) *RetrieveHandler {
	return &RetrieveHandler{engine: engine, logger: logger}
}

type retrieveRequest struct {
	ProfileID      string  `json:"profile_id" binding:"required"`
	Query          string  `json:"query" binding:"required"`
	ConversationID string  `json:"conversation_id"`
	Limit          int     `json:"limit"`
	ChaosLevel     float64 `json:"chaos_level"`
	Mood           string  `json:"mood"`
	Mode           string  `json:"mode"`
}

type factResponse struct {
	ID                  string   `json:"id"`
	Content             string   `json:"content"`
	Type                string   `json:"type"`
	Lane                string   `json:"lane"`
	Importance          float64  `json:"importance"`
	Confidence          float64  `json:"confidence"`
	Keywords            []string `json:"keywords,omitempty"`
	Source              string   `json:"source,omitempty"`
	Score               float64  `json:"score"`
	ContextualRelevance float64  `json:"contextual_relevance"`
}

type entityResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EntityType   string `json:"entity_type,omitempty"`
	Description  string `json:"description,omitempty"`
	MentionCount int    `json:"mention_count"`
}

type knowledgeGapResponse struct {
	HasGap        bool     `json:"has_gap"`
	MissingTopics []string `json:"missing_topics,omitempty"`
	Coverage      float64  `json:"coverage"`
}

type retrievalStatsResponse struct {
	SemanticCandidates int      `json:"semantic_candidates"`
	KeywordCandidates  int      `json:"keyword_candidates"`
	DocumentCandidates int      `json:"document_candidates"`
	TotalCandidates    int      `json:"total_candidates"`
	Selected           int      `json:"selected"`
	Degraded           bool     `json:"degraded"`
	FailedBranches     []string `json:"failed_branches,omitempty"`
	ElapsedMs          int64    `json:"elapsed_ms"`
}

type bundleResponse struct {
	Canon        []factResponse         `json:"canon"`
	Rumors       []factResponse         `json:"rumors"`
	Disputed     []factResponse         `json:"disputed"`
	Entities     []entityResponse       `json:"entities"`
	KnowledgeGap *knowledgeGapResponse  `json:"knowledge_gap,omitempty"`
	Stats        retrievalStatsResponse `json:"stats"`
}

// Retrieve handles POST /api/v1/retrieve.
func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id and query are required")
		return
	}

	bundle, err := h.engine.Retrieve(c.Request.Context(), memory.RetrievalQuery{
		ProfileID:      req.ProfileID,
		Query:          req.Query,
		ConversationID: req.ConversationID,
		Limit:          req.Limit,
		Options: memory.RetrievalOptions{
			ChaosLevel: req.ChaosLevel,
			Mood:       req.Mood,
			Mode:       req.Mode,
		},
	})
	if err != nil {
		respondWithTaxonomy(c, err, "retrieval failed", h.logger,
			zap.String("profile_id", req.ProfileID))
		return
	}

	c.JSON(http.StatusOK, toBundleResponse(bundle))
}

func toBundleResponse(bundle *memory.Bundle) bundleResponse {
	resp := bundleResponse{
		Canon:    toFactResponses(bundle.Canon),
		Rumors:   toFactResponses(bundle.Rumors),
		Disputed: toFactResponses(bundle.Disputed),
		Entities: make([]entityResponse, 0, len(bundle.Entities)),
		Stats: retrievalStatsResponse{
			SemanticCandidates: bundle.Stats.SemanticCandidates,
			KeywordCandidates:  bundle.Stats.KeywordCandidates,
			DocumentCandidates: bundle.Stats.DocumentCandidates,
			TotalCandidates:    bundle.Stats.TotalCandidates,
			Selected:           bundle.Stats.Selected,
			Degraded:           bundle.Stats.Degraded,
			FailedBranches:     bundle.Stats.FailedBranches,
			ElapsedMs:          bundle.Stats.Elapsed.Milliseconds(),
		},
	}
	for _, ent := range bundle.Entities {
		resp.Entities = append(resp.Entities, entityResponse{
			ID:           ent.ID,
			Name:         ent.Name,
			EntityType:   ent.EntityType,
			Description:  ent.Description,
			MentionCount: ent.MentionCount,
		})
	}
	if bundle.KnowledgeGap != nil {
		resp.KnowledgeGap = &knowledgeGapResponse{
			HasGap:        bundle.KnowledgeGap.HasGap,
			MissingTopics: bundle.KnowledgeGap.MissingTopics,
			Coverage:      bundle.KnowledgeGap.Coverage,
		}
	}
	return resp
}

func toFactResponses(scored []memory.ScoredFact) []factResponse {
	out := make([]factResponse, 0, len(scored))
	for i := range scored {
		f := &scored[i].Fact
		out = append(out, factResponse{
			ID:                  f.ID,
			Content:             f.Content,
			Type:                string(f.Type),
			Lane:                string(f.Lane),
			Importance:          f.Importance,
			Confidence:          f.Confidence,
			Keywords:            f.Keywords,
			Source:              f.Source.String(),
			Score:               scored[i].Score,
			ContextualRelevance: scored[i].ContextualRelevance,
		})
	}
	return out
}

// Healthz handles GET /healthz.
func Healthz(started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		})
	}
}
