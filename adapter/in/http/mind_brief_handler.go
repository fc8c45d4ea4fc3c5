package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailmind/core/port/out"
	"mailmind/core/service/scheduler"
	"mailmind/pkg/response"
)

// BriefHandler serves stored daily briefs and regenerates on demand.
type BriefHandler struct {
	store    out.Store
	pipeline *scheduler.Pipeline
}

func NewBriefHandler(store out.Store, pipeline *scheduler.Pipeline) *BriefHandler {
	return &BriefHandler{store: store, pipeline: pipeline}
}

func (h *BriefHandler) Register(router fiber.Router) {
	briefs := router.Group("/briefs")
	briefs.Get("/:date", h.Get)
	briefs.Post("/:date", h.Generate)
}

// Get returns the stored brief for a UTC date.
// GET /api/v1/briefs/2026-08-24
func (h *BriefHandler) Get(c *fiber.Ctx) error {
	date := c.Params("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return response.BadRequest(c, "date must be YYYY-MM-DD")
	}

	b, err := h.store.Briefs().Get(c.Context(), date)
	if err != nil {
		return response.FromError(c, err)
	}
	if b == nil {
		return response.NotFound(c, "no brief for "+date)
	}
	return response.OK(c, b)
}

// Generate (re)builds the brief for a UTC date and replaces the stored
// one.
func (h *BriefHandler) Generate(c *fiber.Ctx) error {
	date := c.Params("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return response.BadRequest(c, "date must be YYYY-MM-DD")
	}

	b, err := h.pipeline.GenerateBrief(c.Context(), date)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, b)
}
