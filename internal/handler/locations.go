package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/rentscope/api/internal/model"
	"github.com/rentscope/api/pkg/response"
)

type LocationService interface {
	Get(ctx context.Context, id string) (*model.Location, error)
	Upsert(ctx context.Context, loc *model.Location) error
}

// PropertyReader serves property lists, usually from the cache.
type PropertyReader interface {
	Properties(ctx context.Context, locationID string) ([]model.Property, error)
}

type LocationHandler struct {
	locations  LocationService
	properties PropertyReader
	validator  *validator.Validate
}

func NewLocationHandler(locations LocationService, properties PropertyReader, v *validator.Validate) *LocationHandler {
	return &LocationHandler{
		locations:  locations,
		properties: properties,
		validator:  v,
	}
}

type upsertLocationRequest struct {
	Name        string             `json:"name" validate:"required,max=200"`
	BoundingBox *model.BoundingBox `json:"boundingBox" validate:"omitempty"`
}

type propertyListResponse struct {
	LocationID string           `json:"locationId"`
	Properties []model.Property `json:"properties"`
	Count      int              `json:"count"`
}

// Upsert handles PUT /api/locations/:locationId
func (h *LocationHandler) Upsert(c *fiber.Ctx) error {
	var req upsertLocationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	loc := &model.Location{
		ID:          c.Params("locationId"),
		Name:        req.Name,
		BoundingBox: req.BoundingBox,
	}
	if err := h.locations.Upsert(c.Context(), loc); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, loc)
}

// Get handles GET /api/locations/:locationId
func (h *LocationHandler) Get(c *fiber.Ctx) error {
	loc, err := h.locations.Get(c.Context(), c.Params("locationId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, loc)
}

// Properties handles GET /api/locations/:locationId/properties
func (h *LocationHandler) Properties(c *fiber.Ctx) error {
	locationID := c.Params("locationId")
	if _, err := h.locations.Get(c.Context(), locationID); err != nil {
		return response.FromError(c, err)
	}

	props, err := h.properties.Properties(c.Context(), locationID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, propertyListResponse{
		LocationID: locationID,
		Properties: props,
		Count:      len(props),
	})
}
