package http

import (
	"github.com/gofiber/fiber/v2"

	"mailmind/core/domain"
	"mailmind/core/service/learning"
	"mailmind/pkg/response"
)

// FeedbackHandler records triage corrections.
type FeedbackHandler struct {
	learner *learning.FeedbackLearner
}

func NewFeedbackHandler(learner *learning.FeedbackLearner) *FeedbackHandler {
	return &FeedbackHandler{learner: learner}
}

func (h *FeedbackHandler) Register(router fiber.Router) {
	router.Post("/feedback", h.Submit)
}

type feedbackRequest struct {
	MessageID       string `json:"message_id"`
	CorrectedBucket string `json:"corrected_bucket"`
	UserNote        string `json:"user_note,omitempty"`
}

// Submit validates and records one correction; the learner folds it in
// immediately.
func (h *FeedbackHandler) Submit(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "malformed feedback body")
	}

	bucket, ok := domain.ParseBucket(req.CorrectedBucket)
	if !ok {
		return response.BadRequest(c, "unknown bucket "+req.CorrectedBucket)
	}

	f := &domain.Feedback{
		MessageID:       req.MessageID,
		CorrectedBucket: bucket,
		UserNote:        req.UserNote,
	}
	if err := h.learner.Submit(c.Context(), f); err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, f)
}
