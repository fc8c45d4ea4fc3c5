package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mailmind/core/domain"
	"mailmind/core/port/out"
	"mailmind/core/service/rules"
	"mailmind/pkg/response"
)

// RuleHandler manages user rules. Builtins are read-only and listed
// separately.
type RuleHandler struct {
	store out.Store
}

func NewRuleHandler(store out.Store) *RuleHandler {
	return &RuleHandler{store: store}
}

func (h *RuleHandler) Register(router fiber.Router) {
	r := router.Group("/rules")
	r.Get("/", h.List)
	r.Get("/builtin", h.ListBuiltin)
	r.Post("/", h.Create)
	r.Get("/:id", h.Get)
	r.Put("/:id", h.Update)
	r.Delete("/:id", h.Delete)
	r.Post("/:id/test", h.Test)
}

func (h *RuleHandler) List(c *fiber.Ctx) error {
	enabledOnly := c.QueryBool("enabled", false)
	list, err := h.store.Rules().List(c.Context(), enabledOnly)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, list)
}

func (h *RuleHandler) ListBuiltin(c *fiber.Ctx) error {
	return response.OK(c, rules.BuiltinRules())
}

func (h *RuleHandler) Get(c *fiber.Ctx) error {
	r, err := h.store.Rules().Get(c.Context(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if r == nil {
		return response.NotFound(c, "rule not found")
	}
	return response.OK(c, r)
}

func (h *RuleHandler) Create(c *fiber.Ctx) error {
	var r domain.Rule
	if err := c.BodyParser(&r); err != nil {
		return response.BadRequest(c, "malformed rule body")
	}
	if err := r.Validate(); err != nil {
		return response.BadRequest(c, err.Error())
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := h.store.Rules().Put(c.Context(), &r); err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, r)
}

func (h *RuleHandler) Update(c *fiber.Ctx) error {
	existing, err := h.store.Rules().Get(c.Context(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if existing == nil {
		return response.NotFound(c, "rule not found")
	}

	var r domain.Rule
	if err := c.BodyParser(&r); err != nil {
		return response.BadRequest(c, "malformed rule body")
	}
	if err := r.Validate(); err != nil {
		return response.BadRequest(c, err.Error())
	}
	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r.CompileError = "" // revalidated on the next engine reload

	if err := h.store.Rules().Put(c.Context(), &r); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, r)
}

func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	if err := h.store.Rules().Delete(c.Context(), c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// Test dry-runs a stored rule against a message supplied in the body.
// POST /api/v1/rules/:id/test
func (h *RuleHandler) Test(c *fiber.Ctx) error {
	r, err := h.store.Rules().Get(c.Context(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	if r == nil {
		return response.NotFound(c, "rule not found")
	}

	var m domain.Message
	if err := c.BodyParser(&m); err != nil {
		return response.BadRequest(c, "malformed message body")
	}
	m.Normalize()

	matched, err := rules.TestRule(r, &m)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"matched": matched})
}
