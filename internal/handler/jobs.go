package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/multierr"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/internal/storage"
	"github.com/rentscope/api/pkg/response"
)

// JobService is the orchestration surface the job routes need.
type JobService interface {
	CreateJob(ctx context.Context, locationID string, platform model.Platform, kind model.JobKind, slot int) (*model.Job, error)
	RunFullAnalysis(ctx context.Context, locationID string) (*model.AnalysisSummary, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, f storage.JobFilter) ([]*model.Job, error)
	Retry(ctx context.Context, jobID string) (*model.Job, error)
}

type JobHandler struct {
	service   JobService
	validator *validator.Validate
}

func NewJobHandler(svc JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// analysisResponse adds the sub-job failures to a summary.
type analysisResponse struct {
	*model.AnalysisSummary
	Errors []string `json:"errors,omitempty"`
}

type jobListResponse struct {
	Jobs  []*model.Job `json:"jobs"`
	Count int          `json:"count"`
}

// Create handles POST /api/jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	slot := 0
	if req.Slot != nil {
		slot = *req.Slot
	}

	job, err := h.service.CreateJob(c.Context(), req.LocationID, req.Platform, req.JobKind, slot)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, job)
}

// Batch handles POST /api/jobs/batch
func (h *JobHandler) Batch(c *fiber.Ctx) error {
	var req model.AnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	summary, err := h.service.RunFullAnalysis(c.Context(), req.LocationID)
	if err != nil {
		return response.FromError(c, err)
	}

	resp := analysisResponse{AnalysisSummary: summary}
	for _, e := range multierr.Errors(summary.Err) {
		resp.Errors = append(resp.Errors, e.Error())
	}
	return response.Accepted(c, resp)
}

// Get handles GET /api/jobs/:jobId
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, job)
}

// List handles GET /api/jobs?locationId=&status=&limit=
func (h *JobHandler) List(c *fiber.Ctx) error {
	filter := storage.JobFilter{
		LocationID: c.Query("locationId"),
		Limit:      c.QueryInt("limit", 100),
	}
	if s := c.Query("status"); s != "" {
		status, err := model.ParseJobStatus(s)
		if err != nil {
			return response.FromError(c, err)
		}
		filter.Status = status
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		return response.ValidationError(c, "limit must be between 1 and 500", nil)
	}

	jobs, err := h.service.ListJobs(c.Context(), filter)
	if err != nil {
		return response.FromError(c, err)
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return response.OK(c, jobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Retry handles POST /api/jobs/:jobId/retry
func (h *JobHandler) Retry(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Retry(c.Context(), jobID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, job)
}
