package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/amirariff91/lawkita-sub001/models"
	"github.com/amirariff91/lawkita-sub001/repository"
	"github.com/amirariff91/lawkita-sub001/service"
	"github.com/amirariff91/lawkita-sub001/sources"
)

// IngestHandler handles the admin-facing pipeline endpoints
type IngestHandler struct {
	ingestService *service.IngestService
	runRepo       *repository.IngestRunRepository
	caseRepo      *repository.CaseRepository
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingestService *service.IngestService, runRepo *repository.IngestRunRepository, caseRepo *repository.CaseRepository) *IngestHandler {
	return &IngestHandler{
		ingestService: ingestService,
		runRepo:       runRepo,
		caseRepo:      caseRepo,
	}
}

// TriggerIngestRequest represents the request body for triggering a run
type TriggerIngestRequest struct {
	Source   string   `json:"source" binding:"required"`
	States   []string `json:"states"`
	MaxPages int      `json:"maxPages"`
	DryRun   bool     `json:"dryRun"`
}

// TriggerIngest handles POST /api/admin/ingest
func (h *IngestHandler) TriggerIngest(c *gin.Context) {
	var req TriggerIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	result, err := h.ingestService.Run(c.Request.Context(), service.RunRequest{
		Source:   req.Source,
		States:   req.States,
		MaxPages: req.MaxPages,
		DryRun:   req.DryRun,
	})
	if err != nil {
		status := http.StatusInternalServerError
		code := "INGEST_FAILED"
		if errors.Is(err, sources.ErrUnknownSource) {
			status = http.StatusBadRequest
			code = "UNKNOWN_SOURCE"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"processed":  result.TotalProcessed,
			"created":    result.Created,
			"updated":    result.Updated,
			"skipped":    result.Skipped,
			"errorCount": len(result.Errors),
			"durationMs": result.DurationMs,
		},
		"errors": result.Errors,
	})
}

// GetRun handles GET /api/admin/ingest/runs/:id
func (h *IngestHandler) GetRun(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid run ID format",
			},
		})
		return
	}

	run, err := h.runRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LOOKUP_FAILED",
				"message": err.Error(),
			},
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RUN_NOT_FOUND",
				"message": "Ingest run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// ListRuns handles GET /api/admin/ingest/runs
func (h *IngestHandler) ListRuns(c *gin.Context) {
	runs, err := h.runRepo.ListRecent(c.Request.Context(), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LOOKUP_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	if runs == nil {
		runs = []*models.IngestRun{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    runs,
	})
}

// ListReviewQueue handles GET /api/admin/review: the pending-review cases
// awaiting a moderator, highest confidence first.
func (h *IngestHandler) ListReviewQueue(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cases, err := h.caseRepo.ListForReview(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "LOOKUP_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	if cases == nil {
		cases = []*models.MergedCase{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cases,
	})
}
