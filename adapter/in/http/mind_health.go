// Package http exposes the local read-mostly HTTP API over Fiber.
package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"mailmind/core/port/out"
)

// HealthHandler reports process and dependency health.
type HealthHandler struct {
	store out.Store
	redis *redis.Client
}

func NewHealthHandler(store out.Store, redis *redis.Client) *HealthHandler {
	return &HealthHandler{store: store, redis: redis}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if _, err := h.store.Stats(ctx); err != nil {
		checks["sqlite"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		checks["sqlite"] = "healthy"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := fiber.StatusOK
	if !healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"checks": checks})
}
