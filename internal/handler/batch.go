package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/pkg/response"
)

type BatchService interface {
	Start(ctx context.Context, strategy model.BatchStrategy, delay time.Duration, staleDays int) (string, error)
	Progress() (model.BatchProgress, error)
	Cancel() error
}

// BatchDefaults fill in options a start request leaves out.
type BatchDefaults struct {
	DelayMinutes int
	StaleDays    int
}

type BatchHandler struct {
	service   BatchService
	validator *validator.Validate
	defaults  BatchDefaults
}

func NewBatchHandler(svc BatchService, v *validator.Validate, defaults BatchDefaults) *BatchHandler {
	return &BatchHandler{
		service:   svc,
		validator: v,
		defaults:  defaults,
	}
}

// Start handles POST /api/batch/start
func (h *BatchHandler) Start(c *fiber.Ctx) error {
	var req model.BatchStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	delay := h.defaults.DelayMinutes
	if req.DelayMinutes != nil {
		delay = *req.DelayMinutes
	}
	staleDays := h.defaults.StaleDays
	if req.StaleDays != nil {
		staleDays = *req.StaleDays
	}

	runID, err := h.service.Start(c.Context(), req.Strategy, time.Duration(delay)*time.Minute, staleDays)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, model.BatchStartResponse{
		RunID:  runID,
		Status: model.BatchStatusRunning,
	})
}

// Progress handles GET /api/batch/progress
func (h *BatchHandler) Progress(c *fiber.Ctx) error {
	progress, err := h.service.Progress()
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, progress)
}

// Cancel handles POST /api/batch/cancel
func (h *BatchHandler) Cancel(c *fiber.Ctx) error {
	if err := h.service.Cancel(); err != nil {
		return response.FromError(c, err)
	}
	progress, err := h.service.Progress()
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, progress)
}
