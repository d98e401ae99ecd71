package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ap-invoice-flow/internal/models"
	"github.com/garyjia/ap-invoice-flow/internal/schema"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	runs   RunService
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(runs RunService, logger Logger) *Handlers {
	return &Handlers{
		runs:   runs,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// ResumeRequest carries a reviewer decision for a suspended run
type ResumeRequest struct {
	Action     string `json:"action" binding:"required"`
	Reason     string `json:"reason"`
	ReviewerID string `json:"reviewer_id"`
}

// CancelRequest carries the reason for abandoning a suspended run
type CancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by"`
}

// ListRunsRequest represents query parameters for listing runs
type ListRunsRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// SubmitRun handles POST /api/runs. The payload is validated against the
// invoice schema before a run is created; a schema violation creates no run.
func (h *Handlers) SubmitRun(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "failed to read request body",
		})
		return
	}

	if err := schema.ValidatePayload(raw); err != nil {
		h.logger.Error("Invalid invoice payload", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	payload, err := models.DecodeInvoicePayload(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	run, err := h.runs.Submit(c.Request.Context(), payload)
	if err != nil {
		// A halted run still exists and is returned alongside the error.
		if run != nil {
			h.logger.Error("Run halted during processing", "run_id", run.RunID, "error", err)
			c.JSON(http.StatusBadGateway, Response{
				Success: false,
				Data:    run,
				Error:   err.Error(),
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    run,
	})
}

// ResumeRun handles POST /api/runs/:id/resume
func (h *Handlers) ResumeRun(c *gin.Context) {
	runID := c.Param("id")

	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid resume request: " + err.Error(),
		})
		return
	}

	decision := models.Decision{
		Action:     req.Action,
		Reason:     req.Reason,
		ReviewerID: req.ReviewerID,
		DecidedAt:  time.Now().UTC(),
	}

	run, err := h.runs.Resume(c.Request.Context(), runID, decision)
	if err != nil {
		if run != nil {
			h.logger.Error("Run halted after resume", "run_id", runID, "error", err)
			c.JSON(http.StatusBadGateway, Response{
				Success: false,
				Data:    run,
				Error:   err.Error(),
			})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    run,
	})
}

// GetRun handles GET /api/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	run, err := h.runs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    run,
	})
}

// CancelRun handles POST /api/runs/:id/cancel
func (h *Handlers) CancelRun(c *gin.Context) {
	runID := c.Param("id")

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid cancel request: " + err.Error(),
		})
		return
	}

	run, err := h.runs.Cancel(c.Request.Context(), runID, req.Reason, req.CancelledBy)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    run,
	})
}

// ListRuns handles GET /api/runs
func (h *Handlers) ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	runs := h.runs.List(req.Limit, req.Offset)
	if runs == nil {
		runs = []*models.InvoiceRun{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    runs,
	})
}

// respondError maps service errors to HTTP status codes.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var (
		validationErr *models.ValidationError
		resumeErr     *models.InvalidResumeState
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	case errors.As(err, &resumeErr):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	case errors.Is(err, models.ErrRunNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "run not found"})
	case errors.Is(err, models.ErrRunNotRecoverable):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}
