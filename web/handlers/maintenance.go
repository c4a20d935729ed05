package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"persona-recall/memory"
)

// MaintenanceHandler serves deep scans and embedding backfills for
// maintenance tooling. These routes are long-running and bound to the
// request context; a dropped connection cancels the scan.
type MaintenanceHandler struct {
	engine *memory.Engine
	logger *zap.Logger
}

func NewMaintenanceHandler(engine *memory.Engine, logger *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{engine: engine, logger: logger}
}

type deepScanRequest struct {
	ProfileID string  `json:"profile_id" binding:"required"`
	Depth     int     `json:"depth"`
	Threshold float64 `json:"threshold"`
	Apply     bool    `json:"apply"`
	TextMode  bool    `json:"text_mode"`
}

type duplicateGroupResponse struct {
	MasterID           string   `json:"master_id"`
	MasterContent      string   `json:"master_content"`
	DuplicateIDs       []string `json:"duplicate_ids"`
	MergedContent      string   `json:"merged_content"`
	CombinedImportance float64  `json:"combined_importance"`
	CombinedKeywords   []string `json:"combined_keywords,omitempty"`
}

type deepScanResponse struct {
	Groups          []duplicateGroupResponse `json:"groups"`
	TotalDuplicates int                      `json:"total_duplicates"`
	Scanned         int                      `json:"scanned"`
	Merged          int                      `json:"merged"`
	ElapsedMs       int64                    `json:"elapsed_ms"`
}

// DeepScan handles POST /api/v1/maintenance/deep-scan.
func (h *MaintenanceHandler) DeepScan(c *gin.Context) {
	var req deepScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id is required")
		return
	}

	report, err := h.engine.DeepScan(c.Request.Context(), memory.DeepScanRequest{
		ProfileID: req.ProfileID,
		Depth:     req.Depth,
		Threshold: req.Threshold,
		Apply:     req.Apply,
		TextMode:  req.TextMode,
	})
	if err != nil {
		respondWithTaxonomy(c, err, "deep scan failed", h.logger,
			zap.String("profile_id", req.ProfileID))
		return
	}

	resp := deepScanResponse{
		Groups:          make([]duplicateGroupResponse, 0, len(report.Groups)),
		TotalDuplicates: report.TotalDuplicates,
		Scanned:         report.Scanned,
		Merged:          report.Merged,
		ElapsedMs:       report.Elapsed.Milliseconds(),
	}
	for i := range report.Groups {
		g := &report.Groups[i]
		ids := make([]string, 0, len(g.Duplicates))
		for j := range g.Duplicates {
			ids = append(ids, g.Duplicates[j].ID)
		}
		resp.Groups = append(resp.Groups, duplicateGroupResponse{
			MasterID:           g.Master.ID,
			MasterContent:      g.Master.Content,
			DuplicateIDs:       ids,
			MergedContent:      g.MergedContent,
			CombinedImportance: g.CombinedImportance,
			CombinedKeywords:   g.CombinedKeywords,
		})
	}
	c.JSON(http.StatusOK, resp)
}

type backfillRequest struct {
	ProfileID string `json:"profile_id" binding:"required"`
	BatchSize int    `json:"batch_size"`
}

// Backfill handles POST /api/v1/maintenance/backfill.
func (h *MaintenanceHandler) Backfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithClientError(c, http.StatusBadRequest, "profile_id is required")
		return
	}

	updated, err := h.engine.BackfillEmbeddings(c.Request.Context(), req.ProfileID, req.BatchSize)
	if err != nil {
		respondWithTaxonomy(c, err, "embedding backfill failed", h.logger,
			zap.String("profile_id", req.ProfileID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
