package controller

import (
	"context"

	"ojsubmit/internal/judge/archive"
	"ojsubmit/internal/judge/model"
	"ojsubmit/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// StatusReader serves judge status lookups.
type StatusReader interface {
	GetStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error)
	GetOutputs(ctx context.Context, submissionID string) (archive.Bundle, error)
}

// JudgeController handles judge status requests.
type JudgeController struct {
	svc StatusReader
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc StatusReader) *JudgeController {
	return &JudgeController{svc: svc}
}

// RegisterRoutes mounts the judge endpoints under /api/v1/judge.
func (h *JudgeController) RegisterRoutes(r gin.IRouter) {
	group := r.Group("/api/v1/judge")
	group.GET("/status/:id", h.GetStatus)
	group.GET("/status/:id/outputs", h.GetOutputs)
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	status, err := h.svc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// GetOutputs returns the archived raw outputs for one submission.
func (h *JudgeController) GetOutputs(c *gin.Context) {
	bundle, err := h.svc.GetOutputs(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, bundle)
}
