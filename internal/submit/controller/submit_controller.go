package controller

import (
	"context"
	"strings"
	"time"

	"ojsubmit/internal/judge/model"
	"ojsubmit/internal/submit/service"
	"ojsubmit/pkg/submissionid"
	"ojsubmit/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Submitter is the submission surface used by the HTTP handlers.
type Submitter interface {
	Submit(ctx context.Context, input service.SubmitInput) (submissionid.ID, model.JudgeStatusResponse, error)
	GetStatus(ctx context.Context, rawID string) (model.JudgeStatusResponse, error)
	GetStatusBatch(ctx context.Context, rawIDs []string) ([]model.JudgeStatusResponse, []string, error)
	GetSource(ctx context.Context, rawID string) (*service.SourceView, error)
	Describe(rawID, layoutName string) (service.Identity, error)
}

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService Submitter
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService Submitter) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// RegisterRoutes mounts the submission endpoints under /api/v1/submissions.
func (h *SubmitController) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/api/v1/submissions")
	group.POST("", h.Create)
	group.POST("/batch_status", h.BatchStatus)
	group.GET("/:id", h.GetStatus)
	group.GET("/:id/source", h.GetSource)
	group.GET("/:id/identity", h.Describe)
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	submissionID, status, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:         req.ProblemID,
		ContestID:         req.ContestID,
		UserID:            req.UserID,
		LanguageID:        req.LanguageID,
		SourceCode:        req.SourceCode,
		Scene:             req.Scene,
		ExtraCompileFlags: req.ExtraCompileFlags,
		IdempotencyKey:    idempotencyKey,
		ClientIP:          c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, SubmitResponse{
		SubmissionID: submissionID.String(),
		Status:       string(status.Status),
		ReceivedAt:   status.Timestamps.ReceivedAt,
	})
}

// GetStatus returns status for one submission.
func (h *SubmitController) GetStatus(c *gin.Context) {
	status, err := h.submitService.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// BatchStatus returns statuses for multiple submissions.
func (h *SubmitController) BatchStatus(c *gin.Context) {
	var req BatchStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.SubmissionIDs) == 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	statuses, missing, err := h.submitService.GetStatusBatch(c.Request.Context(), req.SubmissionIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	response.Success(c, BatchStatusResponse{
		Items:   statuses,
		Missing: missing,
	})
}

// GetSource returns submission source code.
func (h *SubmitController) GetSource(c *gin.Context) {
	view, err := h.submitService.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	submission := view.Submission
	response.Success(c, SourceResponse{
		SubmissionID: submission.SubmissionID.String(),
		ProblemID:    submission.ProblemID,
		ContestID:    submission.ContestID,
		UserID:       submission.UserID,
		LanguageID:   submission.LanguageID,
		Scene:        submission.Scene,
		SourceCode:   view.SourceCode,
		CreatedAt:    submission.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Describe returns the decoded fields of a submission id.
func (h *SubmitController) Describe(c *gin.Context) {
	identity, err := h.submitService.Describe(c.Param("id"), c.Query("layout"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, identity)
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	ProblemID         int64    `json:"problem_id" binding:"required"`
	ContestID         *int64   `json:"contest_id"`
	UserID            string   `json:"user_id" binding:"required"`
	LanguageID        string   `json:"language_id" binding:"required"`
	SourceCode        string   `json:"source_code" binding:"required"`
	Scene             string   `json:"scene"`
	ExtraCompileFlags []string `json:"extra_compile_flags"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	ReceivedAt   int64  `json:"received_at"`
}

// BatchStatusRequest defines batch status payload.
type BatchStatusRequest struct {
	SubmissionIDs []string `json:"submission_ids" binding:"required"`
}

// BatchStatusResponse defines batch status response payload.
type BatchStatusResponse struct {
	Items   []model.JudgeStatusResponse `json:"items"`
	Missing []string                    `json:"missing"`
}

// SourceResponse defines source query response payload.
type SourceResponse struct {
	SubmissionID string  `json:"submission_id"`
	ProblemID    uint32  `json:"problem_id"`
	ContestID    *uint32 `json:"contest_id,omitempty"`
	UserID       string  `json:"user_id"`
	LanguageID   string  `json:"language_id"`
	Scene        string  `json:"scene"`
	SourceCode   string  `json:"source_code"`
	CreatedAt    string  `json:"created_at"`
}
