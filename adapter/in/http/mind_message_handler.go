package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/pkg/response"
)

const maxPageSize = 200

// MessageHandler serves stored messages and their decisions.
type MessageHandler struct {
	store out.Store
}

func NewMessageHandler(store out.Store) *MessageHandler {
	return &MessageHandler{store: store}
}

func (h *MessageHandler) Register(router fiber.Router) {
	messages := router.Group("/messages")
	messages.Get("/", h.List)
	messages.Get("/:id", h.Get)
	messages.Get("/:id/decision", h.GetDecision)

	router.Get("/threads/:threadID/messages", h.ListThread)
	router.Get("/stats", h.Stats)
}

// List returns messages matching the filter query parameters.
// GET /api/v1/messages?since=...&unread=true&sender=...&q=...&category=...&limit=50&offset=0
func (h *MessageHandler) List(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	msgs, total, err := h.store.Messages().Query(c.Context(), filter)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OKWithMeta(c, msgs, &response.Meta{
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Get returns one message by internal ID.
func (h *MessageHandler) Get(c *fiber.Ctx) error {
	m, err := h.store.Messages().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if m == nil {
		return response.NotFound(c, "message not found")
	}
	return response.OK(c, m)
}

// GetDecision returns the latest decision for a message.
func (h *MessageHandler) GetDecision(c *fiber.Ctx) error {
	d, err := h.store.Decisions().Get(c.Context(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if d == nil {
		return response.NotFound(c, "no decision for message")
	}
	return response.OK(c, fiber.Map{
		"decision": d,
		"degraded": d.Degraded(),
	})
}

// ListThread returns a thread's messages in arrival order.
func (h *MessageHandler) ListThread(c *fiber.Ctx) error {
	msgs, err := h.store.Messages().ListByThread(c.Context(), c.Params("threadID"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, msgs)
}

// Stats returns storewide counters.
func (h *MessageHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.store.Stats(c.Context())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, stats)
}

func parseFilter(c *fiber.Ctx) (*out.MessageFilter, error) {
	filter := &out.MessageFilter{
		SenderContains: c.Query("sender"),
		Search:         c.Query("q"),
		Limit:          c.QueryInt("limit", 50),
		Offset:         c.QueryInt("offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > maxPageSize {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if s := c.Query("since"); s != "" {
		t, err := parseTimeParam(s)
		if err != nil {
			return nil, err
		}
		filter.Since = &t
	}
	if s := c.Query("until"); s != "" {
		t, err := parseTimeParam(s)
		if err != nil {
			return nil, err
		}
		filter.Until = &t
	}
	if s := c.Query("unread"); s != "" {
		unread := s == "true" || s == "1"
		filter.Unread = &unread
	}
	if s := c.Query("category"); s != "" {
		cat, ok := domain.ParseCategory(s)
		if !ok {
			return nil, fiber.NewError(fiber.StatusBadRequest, "unknown category "+s)
		}
		filter.Category = &cat
	}
	return filter, nil
}

// parseTimeParam accepts RFC3339 or a bare YYYY-MM-DD date.
func parseTimeParam(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
